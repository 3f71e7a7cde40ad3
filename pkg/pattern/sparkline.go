package pattern

// Sparkline represents a word-sized trend graphic using Unicode blocks.
type Sparkline struct {
	Label  string    `json:"label"`
	Values []float64 `json:"values"`
	Min    float64   `json:"min"` // 0 = auto-detect
	Max    float64   `json:"max"` // 0 = auto-detect
	Unit   string    `json:"unit"`
}

func (s *Sparkline) Type() PatternType { return PatternTypeSparkline }

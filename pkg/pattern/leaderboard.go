package pattern

// Leaderboard represents a ranked list of items by metric.
type Leaderboard struct {
	Label      string            `json:"label"`
	MetricName string            `json:"metricName"` // e.g., "Scenarios", "Duration"
	Items      []LeaderboardItem `json:"items"`
	TotalCount int               `json:"totalCount"` // total before filtering to top N
	ShowRank   bool              `json:"showRank"`
}

// LeaderboardItem is a single ranked entry.
type LeaderboardItem struct {
	Name    string  `json:"name"`
	Metric  string  `json:"metric"` // formatted value (e.g., "2m", "12 scenarios")
	Value   float64 `json:"value"`
	Rank    int     `json:"rank"`
	Context string  `json:"context,omitempty"`
}

func (l *Leaderboard) Type() PatternType { return PatternTypeLeaderboard }

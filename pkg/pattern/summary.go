package pattern

// SummaryKind identifies what a summary describes, for renderer dispatch.
type SummaryKind string

const (
	SummaryKindModules   SummaryKind = "modules"
	SummaryKindAudit     SummaryKind = "audit"
	SummaryKindResults   SummaryKind = "results"
	SummaryKindExecution SummaryKind = "execution"
)

// Summary represents high-level metrics and counts.
type Summary struct {
	Label   string        `json:"label"`
	Kind    SummaryKind   `json:"kind"`
	Metrics []SummaryItem `json:"metrics"`
}

// SummaryItem is a single metric in a summary.
type SummaryItem struct {
	Label string `json:"label"` // e.g., "Scenarios", "Passed"
	Value string `json:"value"`
	Kind  string `json:"kind"` // "success", "error", "warning" or "info"; picks the color
}

func (s *Summary) Type() PatternType { return PatternTypeSummary }

package pattern

// Row statuses understood by the renderers.
const (
	StatusPass = "pass"
	StatusFail = "fail"
	StatusSkip = "skip"
	StatusInfo = "info"
)

// TestTable represents scenarios, modules or runs with status and timing.
type TestTable struct {
	Label   string          `json:"label"`
	Results []TestTableItem `json:"results"`
}

// TestTableItem is a single row.
type TestTableItem struct {
	Name     string `json:"name"`
	Status   string `json:"status"` // "pass", "fail", "skip", "info"
	Duration string `json:"duration,omitempty"`
	Count    int    `json:"count,omitempty"` // scenarios in a module row
	Details  string `json:"details,omitempty"`
}

func (t *TestTable) Type() PatternType { return PatternTypeTestTable }

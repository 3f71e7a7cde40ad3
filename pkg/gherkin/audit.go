package gherkin

// Untagged is a scenario that carries no priority or sanity tag.
type Untagged struct {
	File string   `json:"file"`
	Line int      `json:"line"`
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// Audit lists every scenario whose priority is None, in file order.
func Audit(features []Feature) []Untagged {
	var out []Untagged
	for _, f := range features {
		for _, s := range f.Scenarios {
			if s.Priority != PriorityNone {
				continue
			}
			out = append(out, Untagged{
				File: s.SourceFeature,
				Line: s.SourceLine,
				Name: s.Name,
				Tags: s.Tags,
			})
		}
	}
	return out
}

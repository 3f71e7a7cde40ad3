package execution

// defaultTailLines is the number of log lines kept for status snapshots.
const defaultTailLines = 50

// tailBuffer keeps the last entries of a run's output for status views.
type tailBuffer struct {
	max     int
	entries []LogEntry
}

func newTailBuffer(max int) *tailBuffer {
	if max <= 0 {
		max = 1
	}
	return &tailBuffer{max: max}
}

func (t *tailBuffer) add(e LogEntry) {
	t.entries = append(t.entries, e)
	if over := len(t.entries) - t.max; over > 0 {
		t.entries = t.entries[over:]
	}
}

// lines renders the kept entries; stderr and system lines carry their
// channel so a failed badge shows where the text came from.
func (t *tailBuffer) lines() []string {
	out := make([]string, 0, len(t.entries))
	for _, e := range t.entries {
		if e.Channel == ChannelStdout {
			out = append(out, e.Message)
			continue
		}
		out = append(out, "["+string(e.Channel)+"] "+e.Message)
	}
	return out
}

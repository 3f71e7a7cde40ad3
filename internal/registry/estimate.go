package registry

import (
	"fmt"
	"time"
)

// PerScenario is the fixed average run time assumed for one scenario.
const PerScenario = 45 * time.Second

// Estimate returns n × PerScenario.
func Estimate(n int) time.Duration {
	return time.Duration(n) * PerScenario
}

// FormatEstimate renders d as "{h}h {m}m", "{m}m" or "{s}s" depending on
// magnitude. Remainders below the shown unit are truncated.
func FormatEstimate(d time.Duration) string {
	total := int(d / time.Second)
	hours := total / 3600
	minutes := (total % 3600) / 60
	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm", minutes)
	default:
		return fmt.Sprintf("%ds", total)
	}
}

// Package render provides output renderers for cukedash's CLI patterns.
package render

import "github.com/dkoosis/cukedash/pkg/pattern"

// Renderer converts patterns to formatted output.
type Renderer interface {
	Render(patterns []pattern.Pattern) string
}

// Output formats accepted by Select.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Select picks a renderer: JSON when asked for, styled terminal output on
// a TTY, plain text otherwise. noColor keeps the terminal layout but drops
// colors.
func Select(format string, isTTY, noColor bool, width int) Renderer {
	switch {
	case format == FormatJSON:
		return NewJSON()
	case !isTTY:
		return NewPlain()
	case noColor:
		return NewTerminal(MonoTheme(), width)
	default:
		return NewTerminal(DefaultTheme(), width)
	}
}

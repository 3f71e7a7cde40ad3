package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/dkoosis/cukedash/pkg/pattern"
	"github.com/dkoosis/cukedash/pkg/render"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // command succeeded
	ExitFailure      = 1 // run failed, untagged scenarios found
	ExitCommandError = 2 // bad flags, unreadable config or files
)

// ExitError carries an exit code out of a command. An empty Message means
// the command already reported the failure and nothing more is printed.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// renderer picks the output renderer for w.
func (o *RootOptions) renderer(w io.Writer) render.Renderer {
	tty, width := terminal(w)
	return render.Select(o.Format, tty, noColor(), width)
}

func (o *RootOptions) writePatterns(w io.Writer, patterns ...pattern.Pattern) error {
	_, err := io.WriteString(w, o.renderer(w).Render(patterns))
	return err
}

// writeValue prints v as JSON in json mode and through text otherwise.
func (o *RootOptions) writeValue(w io.Writer, v any, text string) error {
	if o.Format == render.FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, text)
	return err
}

func terminal(w io.Writer) (bool, int) {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return false, 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return true, 80
	}
	return true, width
}

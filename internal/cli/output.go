package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dvloznov/offline-ledger/internal/domain"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation failed
	ExitCommandError = 2 // Bad arguments, unreadable config or storage
)

// ExitError is an error with a specific exit code.
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

// printer writes command results as text or JSON.
type printer struct {
	format string
	w      io.Writer
}

func newPrinter(opts *RootOptions, w io.Writer) *printer {
	return &printer{format: opts.Format, w: w}
}

// value prints any result. Text output is compact JSON on one line.
func (p *printer) value(v any) error {
	enc := json.NewEncoder(p.w)
	if p.format == "json" {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// records prints a record list: one "id<TAB>record" line each as text, an
// array as JSON.
func (p *printer) records(recs []domain.Record) error {
	if p.format == "json" {
		if recs == nil {
			recs = []domain.Record{}
		}
		return p.value(recs)
	}
	for _, rec := range recs {
		id, _ := rec.ID()
		b, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		fmt.Fprintf(p.w, "%s\t%s\n", id, b)
	}
	return nil
}

// message prints a human line in text mode and {"status": ...} in JSON mode.
func (p *printer) message(status, text string, fields map[string]any) error {
	if p.format == "json" {
		out := map[string]any{"status": status}
		for k, v := range fields {
			out[k] = v
		}
		return p.value(out)
	}
	_, err := fmt.Fprintln(p.w, text)
	return err
}

// parseObject decodes a JSON object argument. "-" reads standard input and
// "@path" reads a file.
func parseObject(arg string, stdin io.Reader) (map[string]any, error) {
	var data []byte
	switch {
	case arg == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, err
		}
		data = b
	case strings.HasPrefix(arg, "@"):
		b, err := os.ReadFile(arg[1:])
		if err != nil {
			return nil, err
		}
		data = b
	default:
		data = []byte(arg)
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("expected a JSON object: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("expected a JSON object, got null")
	}
	return out, nil
}

package diag

import (
	"errors"
	"fmt"
	"strings"
)

type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}

// Codes the front ends attach to diagnostics.
const (
	CodeRead    = "read"
	CodeCompile = "compile"
	CodeRuntime = "runtime"
)

type Range struct {
	Line   int // 1-based
	Col    int // 1-based
	Length int // best-effort; can be 1 if unknown
}

func (r Range) String() string {
	return fmt.Sprintf("%d:%d", r.Line, r.Col)
}

type Diagnostic struct {
	Code     string
	Message  string
	Severity Severity
	Range    Range
}

func (d Diagnostic) Format(path string) string {
	if d.Code != "" {
		return fmt.Sprintf("%s:%d:%d: %s %s: %s", path, d.Range.Line, d.Range.Col, d.Severity.String(), d.Code, d.Message)
	}
	return fmt.Sprintf("%s:%d:%d: %s: %s", path, d.Range.Line, d.Range.Col, d.Severity.String(), d.Message)
}

// Diagnoser is implemented by errors that know where in the source they
// happened.
type Diagnoser interface {
	Diagnostic() Diagnostic
}

// List is a batch of diagnostics usable as an error.
type List []Diagnostic

func (l List) Error() string {
	msgs := make([]string, len(l))
	for i, d := range l {
		msgs[i] = fmt.Sprintf("%s: %s", d.Range, d.Message)
	}
	return strings.Join(msgs, "; ")
}

// FromError turns err into diagnostics. Errors without a position are
// reported at 1:1 under code.
func FromError(err error, code string) []Diagnostic {
	if err == nil {
		return nil
	}
	var list List
	if errors.As(err, &list) {
		return list
	}
	var d Diagnoser
	if errors.As(err, &d) {
		return []Diagnostic{d.Diagnostic()}
	}
	return []Diagnostic{{
		Code:     code,
		Message:  err.Error(),
		Severity: SeverityError,
		Range:    Range{Line: 1, Col: 1, Length: 1},
	}}
}

// Package expect reads the outcome directives at the top of a tiny test
// file and checks a run against them.
//
//	; expect: ok
//	; expect: error contains "division by zero"
//	; expect: stdout "3\n"
package expect

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Outcome int

const (
	OK Outcome = iota
	Error
	ErrorContains
)

type StdoutMode int

const (
	StdoutNone StdoutMode = iota
	StdoutExact
	StdoutContains
	StdoutFile
)

type Stdout struct {
	Mode  StdoutMode
	Value string
}

type Expectation struct {
	Outcome   Outcome
	Substring string
	Stdout    Stdout

	hasOutcome bool
}

// ParseFile reads the directives of the file at path.
func ParseFile(path string) (*Expectation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	exp, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", path, err)
	}
	return exp, nil
}

// Parse reads directives from the leading comment block. The first line
// that is neither blank nor a comment ends the block.
func Parse(r io.Reader) (*Expectation, error) {
	exp := &Expectation{}
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, ";") {
			break
		}
		comment := strings.TrimSpace(strings.TrimLeft(line, ";"))
		if !strings.HasPrefix(strings.ToLower(comment), "expect:") {
			continue
		}
		if err := exp.directive(strings.TrimSpace(comment[len("expect:"):])); err != nil {
			return nil, fmt.Errorf("%d: %w", lineNo, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return exp, nil
}

func (exp *Expectation) directive(body string) error {
	lower := strings.ToLower(body)
	switch {
	case lower == "ok":
		return exp.setOutcome(OK, "")
	case lower == "error":
		return exp.setOutcome(Error, "")
	case strings.HasPrefix(lower, "error contains"):
		sub, err := parseQuoted(body[len("error contains"):])
		if err != nil {
			return err
		}
		return exp.setOutcome(ErrorContains, sub)
	case strings.HasPrefix(lower, "stdout file"):
		return exp.setStdout(StdoutFile, body[len("stdout file"):])
	case strings.HasPrefix(lower, "stdout contains"):
		return exp.setStdout(StdoutContains, body[len("stdout contains"):])
	case strings.HasPrefix(lower, "stdout"):
		return exp.setStdout(StdoutExact, body[len("stdout"):])
	}
	return fmt.Errorf("invalid expect directive %q", body)
}

func (exp *Expectation) setOutcome(o Outcome, sub string) error {
	if exp.hasOutcome {
		return fmt.Errorf("multiple outcome expect directives")
	}
	exp.hasOutcome = true
	exp.Outcome = o
	exp.Substring = sub
	return nil
}

func (exp *Expectation) setStdout(mode StdoutMode, rest string) error {
	if exp.Stdout.Mode != StdoutNone {
		return fmt.Errorf("multiple stdout expect directives")
	}
	val, err := parseQuoted(rest)
	if err != nil {
		return err
	}
	exp.Stdout = Stdout{Mode: mode, Value: val}
	return nil
}

func parseQuoted(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw[0] != '"' {
		return "", fmt.Errorf("expected quoted string")
	}
	return strconv.Unquote(raw)
}

// Check compares a run's error and output with exp. A non-empty reason
// means the run did not match; baseDir resolves stdout files.
func (exp *Expectation) Check(runErr error, stdout, baseDir string) (string, error) {
	switch exp.Outcome {
	case OK:
		if runErr != nil {
			return "expected ok, got error: " + runErr.Error(), nil
		}
	case Error, ErrorContains:
		if runErr == nil {
			return "expected error, got ok", nil
		}
		if exp.Outcome == ErrorContains && !strings.Contains(runErr.Error(), exp.Substring) {
			return fmt.Sprintf("error mismatch: expected to contain %q, got %q", exp.Substring, runErr.Error()), nil
		}
	}
	return matchStdout(stdout, exp.Stdout, baseDir)
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

func matchStdout(got string, exp Stdout, baseDir string) (string, error) {
	got = normalizeNewlines(got)
	switch exp.Mode {
	case StdoutExact:
		if want := normalizeNewlines(exp.Value); got != want {
			return fmt.Sprintf("stdout mismatch: expected %q, got %q", want, got), nil
		}
	case StdoutContains:
		if want := normalizeNewlines(exp.Value); !strings.Contains(got, want) {
			return fmt.Sprintf("stdout mismatch: expected to contain %q, got %q", want, got), nil
		}
	case StdoutFile:
		path := exp.Value
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		if want := normalizeNewlines(string(b)); got != want {
			return fmt.Sprintf("stdout mismatch: expected file %q to match, got %q", exp.Value, got), nil
		}
	}
	return "", nil
}

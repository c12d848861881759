package tiny

import (
	"fmt"
	"strconv"
	"strings"

	"vmkit/internal/diag"
)

// ReadError is a syntax error at a source position.
type ReadError struct {
	Pos diag.Range
	Msg string
}

func (e *ReadError) Error() string { return fmt.Sprintf("%s: %s", e.Pos, e.Msg) }

func (e *ReadError) Diagnostic() diag.Diagnostic {
	return diag.Diagnostic{Code: diag.CodeRead, Message: e.Msg, Severity: diag.SeverityError, Range: e.Pos}
}

type reader struct {
	input string

	position     int  // current position in input (points to current char)
	readPosition int  // current reading position in input (after current char)
	ch           byte // current char under examination

	line int // 1-based
	col  int // 1-based column of current char
}

// Parse reads every top-level form in src. Reading stops at the first
// syntax error, which is returned as a ReadError.
func Parse(src string) (*Program, error) {
	r := &reader{input: src, line: 1}
	r.readChar()

	prog := &Program{}
	for {
		r.skipAtmosphere()
		if r.ch == 0 {
			return prog, nil
		}
		n, err := r.form()
		if err != nil {
			return prog, err
		}
		prog.Forms = append(prog.Forms, n)
	}
}

func (r *reader) readChar() {
	if r.ch == '\n' {
		r.line++
		r.col = 0
	}
	if r.readPosition >= len(r.input) {
		r.ch = 0
	} else {
		r.ch = r.input[r.readPosition]
	}
	r.position = r.readPosition
	r.readPosition++
	r.col++
}

func (r *reader) peekChar() byte {
	if r.readPosition >= len(r.input) {
		return 0
	}
	return r.input[r.readPosition]
}

// skipAtmosphere skips whitespace and ; comments.
func (r *reader) skipAtmosphere() {
	for {
		switch r.ch {
		case ' ', '\t', '\r', '\n', ',':
			r.readChar()
		case ';':
			for r.ch != '\n' && r.ch != 0 {
				r.readChar()
			}
		default:
			return
		}
	}
}

func (r *reader) here() diag.Range {
	return diag.Range{Line: r.line, Col: r.col, Length: 1}
}

func (r *reader) errorf(pos diag.Range, format string, args ...any) error {
	return &ReadError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func (r *reader) form() (Node, error) {
	start := r.here()
	switch r.ch {
	case '(':
		items, err := r.sequence(')')
		if err != nil {
			return nil, err
		}
		return &List{Pos: start, Items: items}, nil
	case '[':
		items, err := r.sequence(']')
		if err != nil {
			return nil, err
		}
		return &ArrayLiteral{Pos: start, Items: items}, nil
	case '{':
		items, err := r.sequence('}')
		if err != nil {
			return nil, err
		}
		return &HashLiteral{Pos: start, Items: items}, nil
	case ')', ']', '}':
		return nil, r.errorf(start, "unexpected %q", r.ch)
	case '"':
		return r.str()
	}
	return r.atom()
}

// sequence reads forms up to the closing delimiter.
func (r *reader) sequence(closer byte) ([]Node, error) {
	open := r.here()
	opener := r.ch
	r.readChar()

	items := []Node{}
	for {
		r.skipAtmosphere()
		switch r.ch {
		case 0:
			return nil, r.errorf(open, "unterminated %q", opener)
		case closer:
			r.readChar()
			return items, nil
		}
		n, err := r.form()
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
}

func (r *reader) str() (Node, error) {
	start := r.here()
	begin := r.position
	r.readChar()

	var sb strings.Builder
	for r.ch != '"' {
		switch r.ch {
		case 0:
			return nil, r.errorf(start, "unterminated string")
		case '\\':
			r.readChar()
			switch r.ch {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '"', '\\':
				sb.WriteByte(r.ch)
			default:
				return nil, r.errorf(r.here(), "unknown escape \\%c", r.ch)
			}
		default:
			sb.WriteByte(r.ch)
		}
		r.readChar()
	}
	r.readChar()
	start.Length = r.position - begin
	return &StringLiteral{Pos: start, Value: sb.String()}, nil
}

func isDelimiter(ch byte) bool {
	switch ch {
	case 0, ' ', '\t', '\r', '\n', ',', ';', '(', ')', '[', ']', '{', '}', '"':
		return true
	}
	return false
}

func isDigit(ch byte) bool { return '0' <= ch && ch <= '9' }

func (r *reader) atom() (Node, error) {
	start := r.here()
	begin := r.position
	numeric := isDigit(r.ch) || (r.ch == '-' && isDigit(r.peekChar()))
	for !isDelimiter(r.ch) {
		r.readChar()
	}
	text := r.input[begin:r.position]
	start.Length = len(text)

	if numeric {
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, r.errorf(start, "invalid integer %q", text)
		}
		return &IntegerLiteral{Pos: start, Value: v}, nil
	}
	return &Symbol{Pos: start, Name: text}, nil
}

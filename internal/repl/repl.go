package repl

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"vmkit/internal/compiler"
	"vmkit/internal/object"
	"vmkit/internal/tiny"
	"vmkit/internal/vm"
)

const (
	prompt1 = "vmkit> "
	prompt2 = "....> "
)

// Options configures a session. Interactive turns on the banner and
// prompts; Disassemble prints each input's instructions before running it.
type Options struct {
	Interactive bool
	Disassemble bool
	VM          vm.Config
}

// Session is the state kept between inputs: the symbol table, the
// constant pool and the globals.
type Session struct {
	ops       *tiny.Ops
	symbols   *compiler.SymbolTable
	constants []object.Object
	globals   []object.Object
	cfg       vm.Config
}

func NewSession(out io.Writer, cfg vm.Config) *Session {
	symbols := compiler.NewSymbolTable()
	tiny.DefineBuiltins(symbols)
	size := cfg.GlobalsSize
	if size <= 0 {
		size = vm.GlobalsSize
	}
	return &Session{
		ops:     tiny.New(out),
		symbols: symbols,
		globals: make([]object.Object, size),
		cfg:     cfg,
	}
}

// Eval compiles and runs src against the session state. The result is the
// last popped value, or nil when src had no forms.
func (s *Session) Eval(src string) (object.Object, *compiler.Bytecode, error) {
	prog, err := tiny.Parse(src)
	if err != nil {
		return nil, nil, err
	}
	if len(prog.Forms) == 0 {
		return nil, nil, nil
	}

	c := compiler.NewWithState(s.symbols, s.constants)
	if err := tiny.Compile(c, prog); err != nil {
		return nil, nil, err
	}
	// Keep the pool even if the run fails: definitions that did compile
	// may already have been assigned.
	s.constants = c.Constants()

	bc := c.Bytecode()
	m := vm.NewWithConfig(bc, s.ops, s.cfg)
	m.SetGlobals(s.globals)
	if err := m.Run(); err != nil {
		return nil, bc, err
	}
	return m.LastPoppedStackElem(), bc, nil
}

func Start(in io.Reader, out io.Writer, opts Options) {
	scanner := bufio.NewScanner(in)
	session := NewSession(out, opts.VM)

	if opts.Interactive {
		fmt.Fprint(out, "vmkit tiny REPL (Ctrl+D to exit)\n")
	}

	var buf strings.Builder
	var bal balance

	for {
		if opts.Interactive {
			if buf.Len() == 0 {
				fmt.Fprint(out, prompt1)
			} else {
				fmt.Fprint(out, prompt2)
			}
		}

		if !scanner.Scan() {
			if opts.Interactive {
				fmt.Fprint(out, "\n")
			}
			return
		}

		line := scanner.Text()
		trim := strings.TrimSpace(line)

		// allow quick exit
		if buf.Len() == 0 && (trim == "exit" || trim == "quit") {
			return
		}

		buf.WriteString(line)
		buf.WriteString("\n")

		bal.update(line)
		if !bal.complete() {
			continue
		}

		src := buf.String()
		buf.Reset()
		bal = balance{}

		result, bc, err := session.Eval(src)
		if opts.Disassemble && bc != nil {
			fmt.Fprint(out, bc.Instructions.String())
		}
		if err != nil {
			fmt.Fprintln(out, err)
			continue
		}
		if result != nil {
			fmt.Fprintln(out, result.Inspect())
		}
	}
}

// balance tracks open delimiters across lines so a form can span them.
type balance struct {
	depth    int
	inString bool
	escaped  bool
}

func (b *balance) complete() bool {
	return b.depth <= 0 && !b.inString
}

func (b *balance) update(line string) {
	for i := 0; i < len(line); i++ {
		ch := line[i]

		if b.inString {
			if b.escaped {
				b.escaped = false
				continue
			}
			if ch == '\\' {
				b.escaped = true
				continue
			}
			if ch == '"' {
				b.inString = false
			}
			continue
		}

		switch ch {
		case ';':
			return
		case '"':
			b.inString = true
		case '(', '[', '{':
			b.depth++
		case ')', ']', '}':
			if b.depth > 0 {
				b.depth--
			}
		}
	}
}

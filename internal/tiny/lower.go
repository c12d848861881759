package tiny

import (
	"errors"
	"fmt"

	"vmkit/internal/code"
	"vmkit/internal/compiler"
	"vmkit/internal/diag"
)

var (
	ErrSyntax        = errors.New("invalid form")
	ErrTooManyLocals = errors.New("too many locals")
)

// CompileError ties a lowering failure to the form that caused it.
type CompileError struct {
	Pos diag.Range
	Err error
}

func (e *CompileError) Error() string { return fmt.Sprintf("%s: %v", e.Pos, e.Err) }
func (e *CompileError) Unwrap() error { return e.Err }

func (e *CompileError) Diagnostic() diag.Diagnostic {
	return diag.Diagnostic{Code: diag.CodeCompile, Message: e.Err.Error(), Severity: diag.SeverityError, Range: e.Pos}
}

func syntaxError(n Node, format string, args ...any) error {
	return &CompileError{Pos: n.Range(), Err: fmt.Errorf("%w: %s", ErrSyntax, fmt.Sprintf(format, args...))}
}

// NewCompiler returns a compiler whose global table knows the builtins.
func NewCompiler() *compiler.Compiler {
	st := compiler.NewSymbolTable()
	DefineBuiltins(st)
	return compiler.NewWithState(st, nil)
}

// Observer is told how every symbol in the source resolved, definitions
// included. Editors use it to describe names.
type Observer func(n *Symbol, sym compiler.Symbol)

type lowerer struct {
	c       *compiler.Compiler
	observe Observer
}

func (l *lowerer) resolved(n *Symbol, sym compiler.Symbol) {
	if l.observe != nil {
		l.observe(n, sym)
	}
}

// Compile lowers prog into c. Every top-level form is an expression whose
// value is popped, so the VM's last popped value is the last form's.
func Compile(c *compiler.Compiler, prog *Program) error {
	return CompileObserved(c, prog, nil)
}

// CompileObserved is Compile reporting each symbol resolution to observe.
func CompileObserved(c *compiler.Compiler, prog *Program, observe Observer) error {
	l := &lowerer{c: c, observe: observe}
	for _, form := range prog.Forms {
		if err := l.compileNode(form); err != nil {
			return err
		}
		c.Emit(code.OpPop)
	}
	return nil
}

var binaryOps = map[string]code.Opcode{
	"+":  code.OpAdd,
	"-":  code.OpSub,
	"*":  code.OpMul,
	"/":  code.OpDiv,
	"=":  code.OpEqual,
	"!=": code.OpNotEqual,
	">":  code.OpGreaterThan,
	">=": code.OpGreaterEqual,
}

// swapped comparisons compile with their operands reversed.
var swappedOps = map[string]code.Opcode{
	"<":  code.OpGreaterThan,
	"<=": code.OpGreaterEqual,
}

// maxLocals is the number of slots a one-byte local index can address.
const maxLocals = 256

// compileNode lowers node and attributes any operand overflow it caused to
// node's range.
func (l *lowerer) compileNode(node Node) error {
	if err := l.compileForm(node); err != nil {
		return err
	}
	if err := l.c.Err(); err != nil {
		return &CompileError{Pos: node.Range(), Err: err}
	}
	return nil
}

func (l *lowerer) compileForm(node Node) error {
	switch n := node.(type) {
	case *IntegerLiteral:
		l.c.Emit(code.OpConstant, l.c.AddConstant(&Integer{Value: n.Value}))
	case *StringLiteral:
		l.c.Emit(code.OpConstant, l.c.AddConstant(&String{Value: n.Value}))
	case *Symbol:
		return l.compileSymbol(n)
	case *ArrayLiteral:
		if err := l.compileAll(n.Items); err != nil {
			return err
		}
		l.c.Emit(code.OpArray, len(n.Items))
	case *HashLiteral:
		if len(n.Items)%2 != 0 {
			return syntaxError(n, "hash literal has a key without a value")
		}
		if err := l.compileAll(n.Items); err != nil {
			return err
		}
		l.c.Emit(code.OpHash, len(n.Items))
	case *List:
		return l.compileList(n)
	default:
		return syntaxError(node, "unexpected %T", node)
	}
	return nil
}

func (l *lowerer) compileAll(nodes []Node) error {
	for _, n := range nodes {
		if err := l.compileNode(n); err != nil {
			return err
		}
	}
	return nil
}

func (l *lowerer) compileSymbol(n *Symbol) error {
	switch n.Name {
	case "true":
		l.c.Emit(code.OpTrue)
		return nil
	case "false":
		l.c.Emit(code.OpFalse)
		return nil
	case "null":
		l.c.Emit(code.OpNull)
		return nil
	}
	sym, err := l.c.Resolve(n.Name)
	if err != nil {
		return &CompileError{Pos: n.Pos, Err: err}
	}
	l.resolved(n, sym)
	l.c.LoadSymbol(sym)
	return nil
}

func (l *lowerer) compileList(n *List) error {
	if len(n.Items) == 0 {
		return syntaxError(n, "empty list")
	}
	args := n.Items[1:]

	if head := n.Head(); head != nil {
		switch head.Name {
		case "def":
			return l.compileDef(n)
		case "fn":
			return l.compileFn(n, "")
		case "if":
			return l.compileIf(n)
		case "do":
			return l.compileBody(args)
		case "get":
			if len(args) != 2 {
				return syntaxError(n, "get takes a collection and a key")
			}
			if err := l.compileAll(args); err != nil {
				return err
			}
			l.c.Emit(code.OpIndex)
			return nil
		case "not":
			if len(args) != 1 {
				return syntaxError(n, "not takes one operand")
			}
			if err := l.compileNode(args[0]); err != nil {
				return err
			}
			l.c.Emit(code.OpBang)
			return nil
		case "-":
			if len(args) == 1 {
				if err := l.compileNode(args[0]); err != nil {
					return err
				}
				l.c.Emit(code.OpMinus)
				return nil
			}
		}
		if op, ok := binaryOps[head.Name]; ok {
			return l.compileOperator(n, op, args)
		}
		if op, ok := swappedOps[head.Name]; ok {
			if len(args) != 2 {
				return syntaxError(n, "%s takes two operands", head.Name)
			}
			return l.compileOperator(n, op, []Node{args[1], args[0]})
		}
	}

	if err := l.compileNode(n.Items[0]); err != nil {
		return err
	}
	if err := l.compileAll(args); err != nil {
		return err
	}
	if len(args) > 255 {
		return syntaxError(n, "too many arguments (%d)", len(args))
	}
	l.c.Emit(code.OpCall, len(args))
	return nil
}

// compileOperator folds arithmetic left to right; comparisons take exactly
// two operands.
func (l *lowerer) compileOperator(n *List, op code.Opcode, args []Node) error {
	arithmetic := op == code.OpAdd || op == code.OpSub || op == code.OpMul || op == code.OpDiv
	if len(args) < 2 || (!arithmetic && len(args) != 2) {
		return syntaxError(n, "%s takes two operands", n.Items[0])
	}
	if err := l.compileNode(args[0]); err != nil {
		return err
	}
	for _, a := range args[1:] {
		if err := l.compileNode(a); err != nil {
			return err
		}
		l.c.Emit(op)
	}
	return nil
}

// compileDef binds a name in the current scope. The symbol exists before
// the value is compiled so global functions can refer to themselves.
func (l *lowerer) compileDef(n *List) error {
	if len(n.Items) != 3 {
		return syntaxError(n, "def takes a name and a value")
	}
	name, ok := n.Items[1].(*Symbol)
	if !ok {
		return syntaxError(n.Items[1], "def name must be a symbol")
	}
	sym := l.c.SymbolTable().Define(name.Name)
	l.resolved(name, sym)

	value := n.Items[2]
	if fn, ok := value.(*List); ok && fn.Head() != nil && fn.Head().Name == "fn" {
		if err := l.compileFn(fn, name.Name); err != nil {
			return err
		}
	} else if err := l.compileNode(value); err != nil {
		return err
	}
	if err := l.c.StoreSymbol(sym); err != nil {
		return &CompileError{Pos: name.Pos, Err: err}
	}
	l.c.LoadSymbol(sym)
	return nil
}

// compileFn handles (fn name? [params] body...). defName names anonymous
// functions bound by def.
func (l *lowerer) compileFn(n *List, defName string) error {
	rest := n.Items[1:]
	name := defName
	var nameNode *Symbol
	if len(rest) > 0 {
		if sym, ok := rest[0].(*Symbol); ok {
			name = sym.Name
			nameNode = sym
			rest = rest[1:]
		}
	}
	if len(rest) == 0 {
		return syntaxError(n, "fn needs a parameter vector")
	}
	params, ok := rest[0].(*ArrayLiteral)
	if !ok {
		return syntaxError(rest[0], "fn parameters must be a vector of symbols")
	}
	body := rest[1:]

	l.c.EnterScope()
	if name != "" {
		self := l.c.SymbolTable().DefineFunctionName(name)
		if nameNode != nil {
			l.resolved(nameNode, self)
		}
	}
	for _, p := range params.Items {
		sym, ok := p.(*Symbol)
		if !ok {
			l.c.LeaveScope()
			return syntaxError(p, "parameter must be a symbol")
		}
		l.resolved(sym, l.c.SymbolTable().Define(sym.Name))
	}

	if err := l.compileBody(body); err != nil {
		l.c.LeaveScope()
		return err
	}
	l.c.Emit(code.OpPop)
	l.c.ReplaceLastPopWithReturn()

	ins, symbols := l.c.LeaveFunctionScope()
	if symbols.NumDefinitions() > maxLocals {
		return &CompileError{Pos: n.Range(), Err: fmt.Errorf("%w: function %s", ErrTooManyLocals, fnLabel(name))}
	}
	for _, free := range symbols.FreeSymbols {
		l.c.LoadSymbol(free)
	}
	fn := &CompiledFunction{
		Ins:        ins,
		Locals:     symbols.NumDefinitions(),
		Parameters: len(params.Items),
		FnName:     name,
	}
	l.c.Emit(code.OpClosure, l.c.AddConstant(fn), len(symbols.FreeSymbols))
	return nil
}

func fnLabel(name string) string {
	if name == "" {
		return "<anonymous>"
	}
	return name
}

func (l *lowerer) compileIf(n *List) error {
	if len(n.Items) != 3 && len(n.Items) != 4 {
		return syntaxError(n, "if takes a condition, a consequence and an optional alternative")
	}
	if err := l.compileNode(n.Items[1]); err != nil {
		return err
	}
	jumpNotTruthyPos := l.c.Emit(code.OpJumpNotTruthy, 9999)

	if err := l.compileNode(n.Items[2]); err != nil {
		return err
	}
	jumpPos := l.c.Emit(code.OpJump, 9999)
	l.c.ChangeOperand(jumpNotTruthyPos, len(l.c.CurrentInstructions()))

	if len(n.Items) == 4 {
		if err := l.compileNode(n.Items[3]); err != nil {
			return err
		}
	} else {
		l.c.Emit(code.OpNull)
	}
	l.c.ChangeOperand(jumpPos, len(l.c.CurrentInstructions()))
	return nil
}

// compileBody leaves the value of the last form, or null when empty.
func (l *lowerer) compileBody(forms []Node) error {
	if len(forms) == 0 {
		l.c.Emit(code.OpNull)
		return nil
	}
	for i, f := range forms {
		if err := l.compileNode(f); err != nil {
			return err
		}
		if i < len(forms)-1 {
			l.c.Emit(code.OpPop)
		}
	}
	return nil
}

// CompileString parses src and lowers it into c.
func CompileString(c *compiler.Compiler, src string) error {
	prog, err := Parse(src)
	if err != nil {
		return err
	}
	return Compile(c, prog)
}

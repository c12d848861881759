package compiler

import (
	"errors"
	"testing"

	"vmkit/internal/code"
	"vmkit/internal/object"
)

type testInt int64

func (testInt) Type() object.Type { return "INTEGER" }
func (i testInt) Inspect() string { return "int" }

func concat(ins ...code.Instructions) code.Instructions {
	out := code.Instructions{}
	for _, i := range ins {
		out = append(out, i...)
	}
	return out
}

func TestCompilerScopes(t *testing.T) {
	compiler := New()
	if compiler.ScopeDepth() != 0 {
		t.Errorf("scopeIndex wrong. got=%d, want=%d", compiler.ScopeDepth(), 0)
	}
	globalSymbolTable := compiler.SymbolTable()

	compiler.Emit(code.OpMul)

	compiler.EnterScope()
	if compiler.ScopeDepth() != 1 {
		t.Errorf("scopeIndex wrong. got=%d, want=%d", compiler.ScopeDepth(), 1)
	}
	if len(compiler.CurrentInstructions()) != 0 {
		t.Errorf("new scope should start empty, got %d bytes", len(compiler.CurrentInstructions()))
	}

	compiler.Emit(code.OpSub)

	if len(compiler.CurrentInstructions()) != 1 {
		t.Errorf("instructions length wrong. got=%d", len(compiler.CurrentInstructions()))
	}

	last, ok := compiler.LastInstruction()
	if !ok || last.Opcode != code.OpSub {
		t.Errorf("lastInstruction.Opcode wrong. got=%d, want=%d", last.Opcode, code.OpSub)
	}

	if compiler.SymbolTable().Outer != globalSymbolTable {
		t.Errorf("compiler did not enclose symbolTable")
	}

	compiler.LeaveScope()
	if compiler.ScopeDepth() != 0 {
		t.Errorf("scopeIndex wrong. got=%d, want=%d", compiler.ScopeDepth(), 0)
	}

	if compiler.SymbolTable() != globalSymbolTable {
		t.Errorf("compiler did not restore global symbol table")
	}
	if compiler.SymbolTable().Outer != nil {
		t.Errorf("compiler modified global symbol table incorrectly")
	}

	compiler.Emit(code.OpAdd)

	if len(compiler.CurrentInstructions()) != 2 {
		t.Errorf("instructions length wrong. got=%d", len(compiler.CurrentInstructions()))
	}

	last, _ = compiler.LastInstruction()
	if last.Opcode != code.OpAdd {
		t.Errorf("lastInstruction.Opcode wrong. got=%d, want=%d", last.Opcode, code.OpAdd)
	}

	previous := compiler.scopes[compiler.scopeIndex].prevInstruction
	if previous == nil || previous.Opcode != code.OpMul {
		t.Errorf("previousInstruction.Opcode wrong. got=%v, want=%d", previous, code.OpMul)
	}
}

func TestNestedScopesRestoreTables(t *testing.T) {
	c := New()
	global := c.SymbolTable()
	c.EnterScope()
	first := c.SymbolTable()
	c.EnterScope()
	if c.SymbolTable().Outer != first || first.Outer != global {
		t.Fatal("scope chain not linked")
	}
	_, inner := c.LeaveFunctionScope()
	if inner.Outer != first {
		t.Fatal("LeaveFunctionScope returned the wrong table")
	}
	if c.SymbolTable() != first || c.ScopeDepth() != 1 {
		t.Fatal("first scope not restored")
	}
	c.LeaveScope()
	if c.SymbolTable() != global || c.SymbolTable().Outer != nil {
		t.Fatal("global table not restored")
	}
}

func TestLeaveScopeWithoutEnterPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	New().LeaveScope()
}

func TestEmitReturnsPositions(t *testing.T) {
	c := New()
	positions := []int{
		c.Emit(code.OpConstant, 1),
		c.Emit(code.OpPop),
		c.Emit(code.OpClosure, 2, 0),
		c.Emit(code.OpTrue),
	}
	expected := []int{0, 3, 4, 8}
	for i, p := range positions {
		if p != expected[i] {
			t.Fatalf("position %d wrong. want=%d, got=%d", i, expected[i], p)
		}
	}
}

func TestLastInstructionOnEmptyScope(t *testing.T) {
	c := New()
	if c.LastInstructionIs(code.OpConstant) {
		t.Fatal("empty scope must not report OpConstant (opcode 0) as last")
	}
	if _, ok := c.LastInstruction(); ok {
		t.Fatal("empty scope has no last instruction")
	}
}

func TestAddConstantDoesNotDeduplicate(t *testing.T) {
	c := New()
	a := c.AddConstant(testInt(1))
	b := c.AddConstant(testInt(1))
	if a != 0 || b != 1 {
		t.Fatalf("expected indices 0 and 1, got %d and %d", a, b)
	}
	if len(c.Bytecode().Constants) != 2 {
		t.Fatalf("expected 2 constants")
	}
}

func TestRemoveLastPopAndReturnRewrite(t *testing.T) {
	c := New()
	c.Emit(code.OpConstant, 0)
	c.Emit(code.OpPop)
	c.RemoveLastPop()
	if !c.LastInstructionIs(code.OpConstant) {
		t.Fatal("expected OpConstant to be last after removing pop")
	}
	if got := c.CurrentInstructions(); string(got) != string(code.Make(code.OpConstant, 0)) {
		t.Fatalf("wrong instructions: %v", got)
	}
	// a second removal is a no-op because the last instruction is no longer a pop
	c.RemoveLastPop()
	if len(c.CurrentInstructions()) != 3 {
		t.Fatal("RemoveLastPop removed a non-pop instruction")
	}

	c.Emit(code.OpPop)
	c.ReplaceLastPopWithReturn()
	want := concat(code.Make(code.OpConstant, 0), code.Make(code.OpReturnValue))
	if string(c.CurrentInstructions()) != string(want) {
		t.Fatalf("wrong instructions.\nwant=%q\ngot=%q", want.String(), c.CurrentInstructions().String())
	}
	if !c.LastInstructionIs(code.OpReturnValue) {
		t.Fatal("last instruction not updated")
	}
}

func TestChangeOperand(t *testing.T) {
	c := New()
	jump := c.Emit(code.OpJumpNotTruthy, 9999)
	c.Emit(code.OpTrue)
	c.ChangeOperand(jump, len(c.CurrentInstructions()))
	want := concat(code.Make(code.OpJumpNotTruthy, 4), code.Make(code.OpTrue))
	if string(c.CurrentInstructions()) != string(want) {
		t.Fatalf("wrong instructions.\nwant=%q\ngot=%q", want.String(), c.CurrentInstructions().String())
	}
}

func TestLoadAndStoreSymbols(t *testing.T) {
	c := New()
	g := c.SymbolTable().Define("g")
	c.SymbolTable().DefineBuiltin("len", 3)
	c.EnterScope()
	c.SymbolTable().DefineFunctionName("self")
	l := c.SymbolTable().Define("l")

	for _, name := range []string{"g", "len", "l", "self"} {
		sym, err := c.Resolve(name)
		if err != nil {
			t.Fatalf("resolve %s: %v", name, err)
		}
		c.LoadSymbol(sym)
	}
	if err := c.StoreSymbol(l); err != nil {
		t.Fatalf("store local: %v", err)
	}
	if err := c.StoreSymbol(g); err != nil {
		t.Fatalf("store global: %v", err)
	}
	if err := c.StoreSymbol(Symbol{Name: "len", Scope: BuiltinScope}); err == nil {
		t.Fatal("assigning to a builtin should fail")
	}

	want := concat(
		code.Make(code.OpGetGlobal, 0),
		code.Make(code.OpGetBuiltin, 3),
		code.Make(code.OpGetLocal, 0),
		code.Make(code.OpCurrentClosure),
		code.Make(code.OpSetLocal, 0),
		code.Make(code.OpSetGlobal, 0),
	)
	if string(c.CurrentInstructions()) != string(want) {
		t.Fatalf("wrong instructions.\nwant=%q\ngot=%q", want.String(), c.CurrentInstructions().String())
	}

	_, err := c.Resolve("missing")
	var undef *UndefinedError
	if !errors.As(err, &undef) || undef.Name != "missing" {
		t.Fatalf("expected UndefinedError, got %v", err)
	}
}

func TestNewWithStateKeepsPool(t *testing.T) {
	symbols := NewSymbolTable()
	symbols.Define("x")
	constants := []object.Object{testInt(1)}

	c := NewWithState(symbols, constants)
	idx := c.AddConstant(testInt(2))
	if idx != 1 {
		t.Fatalf("new constant should follow the existing pool, got index %d", idx)
	}
	if sym, _ := c.SymbolTable().Resolve("x"); sym.Index != 0 || sym.Scope != GlobalScope {
		t.Fatalf("existing global lost: %+v", sym)
	}
}

func TestBytecodeUsesRootScope(t *testing.T) {
	c := New()
	c.Emit(code.OpTrue)
	c.EnterScope()
	c.Emit(code.OpFalse)
	bc := c.Bytecode()
	if string(bc.Instructions) != string(code.Make(code.OpTrue)) {
		t.Fatalf("bytecode should hold the top-level instructions, got %q", bc.Instructions.String())
	}
}

func TestEmitUnknownOpcodePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	New().Emit(code.Opcode(250))
}

func TestUseCatalog(t *testing.T) {
	const opNop code.Opcode = 240
	cat, err := code.Standard().Extend(map[code.Opcode]*code.Definition{opNop: {Name: "OpNop"}})
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	c := New()
	c.UseCatalog(cat)
	c.Emit(opNop)
	if got := cat.Disassemble(c.CurrentInstructions()); got != "0000 OpNop\n" {
		t.Fatalf("got %q", got)
	}
}

func TestOperandOverflowIsRecorded(t *testing.T) {
	c := New()
	c.Emit(code.OpConstant, 0xFFFF)
	c.Emit(code.OpGetLocal, 0xFF)
	if err := c.Err(); err != nil {
		t.Fatalf("operands at their width limit reported %v", err)
	}

	pos := c.Emit(code.OpGetLocal, 256)
	c.Emit(code.OpConstant, 0x10000)
	var rangeErr *code.OperandRangeError
	if !errors.As(c.Err(), &rangeErr) {
		t.Fatalf("expected OperandRangeError, got %v", c.Err())
	}
	if rangeErr.Name != "OpGetLocal" || rangeErr.Value != 256 {
		t.Fatalf("Err should keep the first overflow, got %+v", rangeErr)
	}
	if pos != 5 || len(c.CurrentInstructions()) != 10 {
		t.Fatalf("overflowing instructions must keep their width, got pos=%d len=%d", pos, len(c.CurrentInstructions()))
	}
}

func TestChangeOperandOverflow(t *testing.T) {
	c := New()
	jump := c.Emit(code.OpJump, 9999)
	c.ChangeOperand(jump, 0x10000)
	var rangeErr *code.OperandRangeError
	if !errors.As(c.Err(), &rangeErr) || rangeErr.Name != "OpJump" {
		t.Fatalf("expected OpJump range error, got %v", c.Err())
	}
}

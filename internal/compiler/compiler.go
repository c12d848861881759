package compiler

import (
	"errors"
	"fmt"

	"vmkit/internal/bytecode"
	"vmkit/internal/code"
	"vmkit/internal/object"
)

// Bytecode is what a compilation unit produces.
type Bytecode = bytecode.Program

type EmittedInstruction struct {
	Opcode   code.Opcode
	Position int
}

// CompilationScope is one function body under construction.
type CompilationScope struct {
	instructions code.Instructions
	// nil until something has been emitted
	lastInstruction *EmittedInstruction
	prevInstruction *EmittedInstruction
	symbols         *SymbolTable
}

// Compiler owns the emission primitives front ends drive while walking
// their AST. It never inspects AST nodes itself.
type Compiler struct {
	constants  []object.Object
	scopes     []CompilationScope
	scopeIndex int
	catalog    *code.Catalog
	// first operand that did not fit its width
	err error
}

func New() *Compiler {
	return NewWithState(NewSymbolTable(), []object.Object{})
}

// NewWithState continues compiling against a symbol table and constant pool
// kept from an earlier run, as an interactive session does.
func NewWithState(symbols *SymbolTable, constants []object.Object) *Compiler {
	if symbols == nil {
		symbols = NewSymbolTable()
	}
	mainScope := CompilationScope{
		instructions: code.Instructions{},
		symbols:      symbols,
	}
	return &Compiler{
		constants:  constants,
		scopes:     []CompilationScope{mainScope},
		scopeIndex: 0,
		catalog:    code.Standard(),
	}
}

// UseCatalog switches the catalog Emit encodes against, for front ends that
// extend the standard opcode set.
func (c *Compiler) UseCatalog(cat *code.Catalog) {
	c.catalog = cat
}

func (c *Compiler) Catalog() *code.Catalog { return c.catalog }

func (c *Compiler) scope() *CompilationScope {
	return &c.scopes[c.scopeIndex]
}

func (c *Compiler) CurrentInstructions() code.Instructions {
	return c.scope().instructions
}

func (c *Compiler) SymbolTable() *SymbolTable {
	return c.scope().symbols
}

// ScopeDepth is 0 for the top-level program and grows by one per enclosing
// function body.
func (c *Compiler) ScopeDepth() int {
	return c.scopeIndex
}

func (c *Compiler) Constants() []object.Object {
	return c.constants
}

// Emit appends an instruction to the current scope and returns its position.
// The opcode must exist in the compiler's catalog. An operand too large for
// its width is recorded for Err and the truncated instruction is emitted so
// positions stay consistent.
func (c *Compiler) Emit(op code.Opcode, operands ...int) int {
	ins := c.encode(op, operands...)
	scope := c.scope()
	pos := len(scope.instructions)
	scope.instructions = append(scope.instructions, ins...)

	scope.prevInstruction = scope.lastInstruction
	scope.lastInstruction = &EmittedInstruction{Opcode: op, Position: pos}

	return pos
}

// AddConstant appends obj to the pool. Equal constants are not shared.
func (c *Compiler) AddConstant(obj object.Object) int {
	c.constants = append(c.constants, obj)
	return len(c.constants) - 1
}

func (c *Compiler) encode(op code.Opcode, operands ...int) code.Instructions {
	ins, err := c.catalog.EncodeChecked(op, operands...)
	var rangeErr *code.OperandRangeError
	if errors.As(err, &rangeErr) {
		if c.err == nil {
			c.err = rangeErr
		}
		ins, err = c.catalog.Encode(op, operands...)
	}
	if err != nil {
		panic(err)
	}
	return ins
}

// Err returns the first *code.OperandRangeError hit by Emit or
// ChangeOperand. Bytecode from a compiler with a non-nil Err is wrong and
// must not be run.
func (c *Compiler) Err() error {
	return c.err
}

func (c *Compiler) LastInstruction() (EmittedInstruction, bool) {
	last := c.scope().lastInstruction
	if last == nil {
		return EmittedInstruction{}, false
	}
	return *last, true
}

func (c *Compiler) LastInstructionIs(op code.Opcode) bool {
	last := c.scope().lastInstruction
	return last != nil && last.Opcode == op
}

// RemoveLastPop drops a trailing OpPop so the value stays on the stack.
func (c *Compiler) RemoveLastPop() {
	scope := c.scope()
	if scope.lastInstruction == nil || scope.lastInstruction.Opcode != code.OpPop {
		return
	}
	scope.instructions = scope.instructions[:scope.lastInstruction.Position]
	scope.lastInstruction = scope.prevInstruction
	scope.prevInstruction = nil
}

// ReplaceLastPopWithReturn turns the value of a function body's final
// expression statement into its return value.
func (c *Compiler) ReplaceLastPopWithReturn() {
	last := c.scope().lastInstruction
	if last == nil || last.Opcode != code.OpPop {
		return
	}
	c.replaceInstruction(last.Position, code.Make(code.OpReturnValue))
	last.Opcode = code.OpReturnValue
}

func (c *Compiler) replaceInstruction(pos int, newInstruction []byte) {
	ins := c.scope().instructions
	for i := 0; i < len(newInstruction); i++ {
		ins[pos+i] = newInstruction[i]
	}
}

// ChangeOperand rewrites the operand of the instruction at pos, used to
// back-patch forward jumps.
func (c *Compiler) ChangeOperand(pos int, operand int) {
	op := code.Opcode(c.scope().instructions[pos])
	c.replaceInstruction(pos, c.encode(op, operand))
}

// EnterScope starts a function body with its own instructions and a symbol
// table enclosed by the current one.
func (c *Compiler) EnterScope() {
	scope := CompilationScope{
		instructions: code.Instructions{},
		symbols:      NewEnclosedSymbolTable(c.SymbolTable()),
	}
	c.scopes = append(c.scopes, scope)
	c.scopeIndex++
}

// LeaveScope pops the current function body and returns its instructions.
func (c *Compiler) LeaveScope() code.Instructions {
	if c.scopeIndex == 0 {
		panic("compiler: LeaveScope without matching EnterScope")
	}
	instructions := c.CurrentInstructions()

	c.scopes = c.scopes[:len(c.scopes)-1]
	c.scopeIndex--

	return instructions
}

// LeaveFunctionScope is LeaveScope that also hands back the closed body's
// symbol table, for callers that need its local count or free symbols.
func (c *Compiler) LeaveFunctionScope() (code.Instructions, *SymbolTable) {
	symbols := c.SymbolTable()
	return c.LeaveScope(), symbols
}

// LoadSymbol emits the instruction that pushes sym's value.
func (c *Compiler) LoadSymbol(sym Symbol) {
	switch sym.Scope {
	case GlobalScope:
		c.Emit(code.OpGetGlobal, sym.Index)
	case LocalScope:
		c.Emit(code.OpGetLocal, sym.Index)
	case BuiltinScope:
		c.Emit(code.OpGetBuiltin, sym.Index)
	case FreeScope:
		c.Emit(code.OpGetFree, sym.Index)
	case FunctionScope:
		c.Emit(code.OpCurrentClosure)
	default:
		panic(fmt.Sprintf("compiler: unknown symbol scope %q", sym.Scope))
	}
}

// StoreSymbol emits the instruction that pops into sym's slot.
func (c *Compiler) StoreSymbol(sym Symbol) error {
	switch sym.Scope {
	case GlobalScope:
		c.Emit(code.OpSetGlobal, sym.Index)
	case LocalScope:
		c.Emit(code.OpSetLocal, sym.Index)
	default:
		return fmt.Errorf("cannot assign to %s symbol %q", sym.Scope, sym.Name)
	}
	return nil
}

func (c *Compiler) Bytecode() *Bytecode {
	return &Bytecode{
		Instructions: c.scopes[0].instructions,
		Constants:    c.constants,
	}
}

// UndefinedError is the compile error for a name no scope defines.
type UndefinedError struct {
	Name string
}

func (e *UndefinedError) Error() string {
	return fmt.Sprintf("undefined variable %s", e.Name)
}

// Resolve is SymbolTable.Resolve on the current scope with a typed miss.
func (c *Compiler) Resolve(name string) (Symbol, error) {
	sym, ok := c.SymbolTable().Resolve(name)
	if !ok {
		return Symbol{}, &UndefinedError{Name: name}
	}
	return sym, nil
}

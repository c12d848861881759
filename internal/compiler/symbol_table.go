package compiler

type SymbolScope string

const (
	GlobalScope   SymbolScope = "GLOBAL"
	LocalScope    SymbolScope = "LOCAL"
	BuiltinScope  SymbolScope = "BUILTIN"
	FreeScope     SymbolScope = "FREE"
	FunctionScope SymbolScope = "FUNCTION"
)

type Symbol struct {
	Name  string
	Scope SymbolScope
	Index int
}

// SymbolTable resolves names for one function body. Inner tables point at
// their Outer; an outer table never knows its children.
type SymbolTable struct {
	Outer *SymbolTable

	store          map[string]Symbol
	numDefinitions int

	// FreeSymbols holds the original symbols captured from enclosing
	// functions, in the order they were first resolved.
	FreeSymbols []Symbol
}

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{store: map[string]Symbol{}}
}

func NewEnclosedSymbolTable(outer *SymbolTable) *SymbolTable {
	st := NewSymbolTable()
	st.Outer = outer
	return st
}

// Define binds name to the next slot of this table: a global slot when the
// table has no outer, a local slot otherwise.
func (st *SymbolTable) Define(name string) Symbol {
	scope := GlobalScope
	if st.Outer != nil {
		scope = LocalScope
	}
	sym := Symbol{Name: name, Scope: scope, Index: st.numDefinitions}
	st.store[name] = sym
	st.numDefinitions++
	return sym
}

// DefineBuiltin registers a builtin at an index chosen by the front end.
func (st *SymbolTable) DefineBuiltin(name string, index int) Symbol {
	sym := Symbol{Name: name, Scope: BuiltinScope, Index: index}
	st.store[name] = sym
	return sym
}

// DefineFunctionName lets a function body refer to its own closure.
func (st *SymbolTable) DefineFunctionName(name string) Symbol {
	sym := Symbol{Name: name, Scope: FunctionScope, Index: 0}
	st.store[name] = sym
	return sym
}

func (st *SymbolTable) defineFree(original Symbol) Symbol {
	st.FreeSymbols = append(st.FreeSymbols, original)
	sym := Symbol{Name: original.Name, Index: len(st.FreeSymbols) - 1, Scope: FreeScope}
	st.store[original.Name] = sym
	return sym
}

// Resolve looks name up through the outer chain. Globals and builtins come
// back unchanged; anything else found in an enclosing function is promoted
// to a free symbol of this table.
func (st *SymbolTable) Resolve(name string) (Symbol, bool) {
	if sym, ok := st.store[name]; ok {
		return sym, true
	}
	if st.Outer == nil {
		return Symbol{}, false
	}

	outerSym, ok := st.Outer.Resolve(name)
	if !ok {
		return Symbol{}, false
	}

	if outerSym.Scope == GlobalScope || outerSym.Scope == BuiltinScope {
		return outerSym, true
	}

	return st.defineFree(outerSym), true
}

// NumDefinitions is the number of slots Define handed out; for a function
// body this is its local count.
func (st *SymbolTable) NumDefinitions() int {
	return st.numDefinitions
}

// Equal compares the name bindings and the outer chain. Free-variable
// bookkeeping is ignored.
func (st *SymbolTable) Equal(other *SymbolTable) bool {
	if st == nil || other == nil {
		return st == other
	}
	if len(st.store) != len(other.store) {
		return false
	}
	for name, sym := range st.store {
		if o, ok := other.store[name]; !ok || o != sym {
			return false
		}
	}
	return st.Outer.Equal(other.Outer)
}

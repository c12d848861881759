// Package tiny is a small s-expression language built on the vmkit core. It
// is the reference implementation of object.Operations.
package tiny

import (
	"bytes"
	"strconv"
	"strings"

	"vmkit/internal/code"
	"vmkit/internal/object"
)

const (
	INTEGER_OBJ           object.Type = "INTEGER"
	STRING_OBJ            object.Type = "STRING"
	BOOLEAN_OBJ           object.Type = "BOOLEAN"
	NULL_OBJ              object.Type = "NULL"
	ARRAY_OBJ             object.Type = "ARRAY"
	HASH_OBJ              object.Type = "HASH"
	COMPILED_FUNCTION_OBJ object.Type = "COMPILED_FUNCTION"
	BUILTIN_OBJ           object.Type = "BUILTIN"
)

var (
	True  = &Boolean{Value: true}
	False = &Boolean{Value: false}
	Null  = &NullValue{}
)

type Integer struct{ Value int64 }

func (*Integer) Type() object.Type { return INTEGER_OBJ }
func (i *Integer) Inspect() string { return strconv.FormatInt(i.Value, 10) }

type String struct{ Value string }

func (*String) Type() object.Type { return STRING_OBJ }
func (s *String) Inspect() string { return strconv.Quote(s.Value) }

type Boolean struct{ Value bool }

func (*Boolean) Type() object.Type { return BOOLEAN_OBJ }
func (b *Boolean) Inspect() string {
	if b.Value {
		return "true"
	}
	return "false"
}

type NullValue struct{}

func (*NullValue) Type() object.Type { return NULL_OBJ }
func (*NullValue) Inspect() string   { return "null" }

type Array struct{ Elements []object.Object }

func (*Array) Type() object.Type { return ARRAY_OBJ }
func (a *Array) Inspect() string {
	parts := make([]string, len(a.Elements))
	for i, e := range a.Elements {
		parts[i] = e.Inspect()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

type HashPair struct {
	Key   object.Object
	Value object.Object
}

// Hash keeps insertion order so Inspect is deterministic.
type Hash struct {
	Pairs map[HashKey]HashPair
	order []HashKey
}

func NewHash() *Hash {
	return &Hash{Pairs: map[HashKey]HashPair{}}
}

func (h *Hash) Set(key object.Object, value object.Object) bool {
	hk, ok := HashKeyOf(key)
	if !ok {
		return false
	}
	if _, exists := h.Pairs[hk]; !exists {
		h.order = append(h.order, hk)
	}
	h.Pairs[hk] = HashPair{Key: key, Value: value}
	return true
}

func (h *Hash) Get(key object.Object) (object.Object, bool, bool) {
	hk, ok := HashKeyOf(key)
	if !ok {
		return nil, false, false
	}
	pair, found := h.Pairs[hk]
	return pair.Value, found, true
}

func (*Hash) Type() object.Type { return HASH_OBJ }
func (h *Hash) Inspect() string {
	var out bytes.Buffer
	out.WriteString("{")
	for i, hk := range h.order {
		if i > 0 {
			out.WriteString(" ")
		}
		pair := h.Pairs[hk]
		out.WriteString(pair.Key.Inspect())
		out.WriteString(" ")
		out.WriteString(pair.Value.Inspect())
	}
	out.WriteString("}")
	return out.String()
}

type CompiledFunction struct {
	Ins        code.Instructions
	Locals     int
	Parameters int
	FnName     string
}

func (*CompiledFunction) Type() object.Type { return COMPILED_FUNCTION_OBJ }
func (f *CompiledFunction) Inspect() string {
	if f.FnName != "" {
		return "fn " + f.FnName
	}
	return "fn"
}

func (f *CompiledFunction) Instructions() code.Instructions { return f.Ins }
func (f *CompiledFunction) NumLocals() int                  { return f.Locals }
func (f *CompiledFunction) NumParameters() int              { return f.Parameters }
func (f *CompiledFunction) Name() string                    { return f.FnName }

type BuiltinFunction func(o *Ops, args ...object.Object) (object.Object, error)

type Builtin struct {
	Name string
	Fn   BuiltinFunction
}

func (*Builtin) Type() object.Type { return BUILTIN_OBJ }
func (b *Builtin) Inspect() string { return "builtin " + b.Name }

func nativeBool(b bool) *Boolean {
	if b {
		return True
	}
	return False
}

// Package object defines what the VM knows about values: almost nothing.
// Every value-shaped decision goes through an Operations implementation
// supplied by the front end.
package object

import (
	"errors"
	"fmt"
	"strings"

	"vmkit/internal/code"
)

type Type string

const CLOSURE_OBJ Type = "CLOSURE"

// Object is the opaque base type of every VM value.
type Object interface {
	Type() Type
	Inspect() string
}

// FunctionDefinition is the compiled-function capability the VM needs to
// build and invoke closures.
type FunctionDefinition interface {
	Instructions() code.Instructions
	NumLocals() int
	NumParameters() int
}

// Closure pairs compiled code with the values it captured, in capture order.
type Closure struct {
	Fn   FunctionDefinition
	Free []Object
}

func (*Closure) Type() Type { return CLOSURE_OBJ }
func (c *Closure) Inspect() string {
	if obj, ok := c.Fn.(Object); ok {
		return fmt.Sprintf("closure[%s]", obj.Inspect())
	}
	return fmt.Sprintf("closure[%p]", c)
}

var ErrUnsupportedOperator = errors.New("unsupported operator")

// UnsupportedOperator builds the error Operations implementations return for
// opcodes they do not evaluate.
func UnsupportedOperator(op code.Opcode, operands ...Object) error {
	name := fmt.Sprintf("opcode %d", op)
	if def, ok := code.Lookup(op); ok {
		name = def.Name
	}
	types := make([]string, len(operands))
	for i, o := range operands {
		types[i] = string(o.Type())
	}
	return fmt.Errorf("%w: %s (%s)", ErrUnsupportedOperator, name, strings.Join(types, ", "))
}

// ConstantCodec converts constants to and from their self-describing binary
// form. Tags must be unique per value shape within one front end.
type ConstantCodec interface {
	Signature() uint32
	EncodeConstant(obj Object) (tag uint32, payload []byte, err error)
	DecodeConstant(tag uint32, payload []byte) (Object, error)
}

// Operations is the contract a front end implements so one VM can run it.
type Operations interface {
	ConstantCodec

	Null() Object
	Bool(b bool) Object
	IsTruthy(obj Object) bool

	BinaryOp(op code.Opcode, left, right Object) (Object, error)
	UnaryOp(op code.Opcode, operand Object) (Object, error)

	NewArray(elems []Object) (Object, error)
	// NewHash receives keys and values interleaved: k0, v0, k1, v1, ...
	NewHash(pairs []Object) (Object, error)
	Index(collection, key Object) (Object, error)

	// Function reports whether a constant is compiled code.
	Function(obj Object) (FunctionDefinition, bool)

	Builtin(index int) (Object, bool)
	// CallBuiltin invokes fn when it is a builtin. handled is false for
	// anything else, letting the VM report it as not callable.
	CallBuiltin(fn Object, args []Object) (result Object, handled bool, err error)
}

package vm

import (
	"errors"
	"fmt"

	"vmkit/internal/code"
)

var (
	ErrStackOverflow    = errors.New("stack overflow")
	ErrStackUnderflow   = errors.New("stack underflow")
	ErrFrameOverflow    = errors.New("max call depth exceeded")
	ErrConstantIndex    = errors.New("constant index out of range")
	ErrGlobalIndex      = errors.New("global index out of range")
	ErrUndefinedGlobal  = errors.New("global read before assignment")
	ErrLocalIndex       = errors.New("local index out of range")
	ErrFreeIndex        = errors.New("free variable index out of range")
	ErrUnknownBuiltin   = errors.New("unknown builtin")
	ErrNotFunction      = errors.New("constant is not a compiled function")
	ErrNotCallable      = errors.New("calling non-function")
	ErrArity            = errors.New("wrong number of arguments")
	ErrReturnOutsideFn  = errors.New("return outside of function")
	ErrClosureOutsideFn = errors.New("current closure outside of function")
	ErrUnexpectedEnd    = errors.New("unexpected end of function instructions")
	ErrInvalidOperation = errors.New("operation produced no value")
)

// RuntimeError is what Run returns for any fatal condition. Err carries the
// cause, including errors from the front end's Operations unchanged.
type RuntimeError struct {
	Op    code.Opcode
	IP    int
	Depth int
	Err   error
}

func (e *RuntimeError) Error() string {
	name := fmt.Sprintf("opcode %d", e.Op)
	if def, ok := code.Lookup(e.Op); ok {
		name = def.Name
	}
	if e.Depth > 0 {
		return fmt.Sprintf("vm error: %s at %04d (call depth %d): %v", name, e.IP, e.Depth, e.Err)
	}
	return fmt.Sprintf("vm error: %s at %04d: %v", name, e.IP, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

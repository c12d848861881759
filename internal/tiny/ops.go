package tiny

import (
	"errors"
	"fmt"
	"io"
	"os"

	"vmkit/internal/code"
	"vmkit/internal/object"
)

var (
	ErrDivisionByZero = errors.New("division by zero")
	ErrUnhashable     = errors.New("unusable as hash key")
	ErrNotIndexable   = errors.New("index operator not supported")
)

// Ops evaluates tiny values for the VM.
type Ops struct {
	out io.Writer
}

// New returns Ops whose puts builtin writes to out (stdout when nil).
func New(out io.Writer) *Ops {
	if out == nil {
		out = os.Stdout
	}
	return &Ops{out: out}
}

var _ object.Operations = (*Ops)(nil)

func (*Ops) Null() object.Object       { return Null }
func (*Ops) Bool(b bool) object.Object { return nativeBool(b) }
func (*Ops) IsTruthy(o object.Object) bool {
	switch o := o.(type) {
	case *Boolean:
		return o.Value
	case *NullValue:
		return false
	default:
		return true
	}
}

func (o *Ops) BinaryOp(op code.Opcode, left, right object.Object) (object.Object, error) {
	switch l := left.(type) {
	case *Integer:
		if r, ok := right.(*Integer); ok {
			return integerOp(op, l.Value, r.Value)
		}
	case *String:
		if r, ok := right.(*String); ok {
			return stringOp(op, l.Value, r.Value)
		}
	}

	switch op {
	case code.OpEqual:
		return nativeBool(equal(left, right)), nil
	case code.OpNotEqual:
		return nativeBool(!equal(left, right)), nil
	}
	return nil, object.UnsupportedOperator(op, left, right)
}

func integerOp(op code.Opcode, l, r int64) (object.Object, error) {
	switch op {
	case code.OpAdd:
		return &Integer{Value: l + r}, nil
	case code.OpSub:
		return &Integer{Value: l - r}, nil
	case code.OpMul:
		return &Integer{Value: l * r}, nil
	case code.OpDiv:
		if r == 0 {
			return nil, ErrDivisionByZero
		}
		return &Integer{Value: l / r}, nil
	case code.OpEqual:
		return nativeBool(l == r), nil
	case code.OpNotEqual:
		return nativeBool(l != r), nil
	case code.OpGreaterThan:
		return nativeBool(l > r), nil
	case code.OpGreaterEqual:
		return nativeBool(l >= r), nil
	}
	return nil, object.UnsupportedOperator(op, &Integer{Value: l}, &Integer{Value: r})
}

func stringOp(op code.Opcode, l, r string) (object.Object, error) {
	switch op {
	case code.OpAdd:
		return &String{Value: l + r}, nil
	case code.OpEqual:
		return nativeBool(l == r), nil
	case code.OpNotEqual:
		return nativeBool(l != r), nil
	case code.OpGreaterThan:
		return nativeBool(l > r), nil
	case code.OpGreaterEqual:
		return nativeBool(l >= r), nil
	}
	return nil, object.UnsupportedOperator(op, &String{Value: l}, &String{Value: r})
}

// equal is value equality for scalars and identity for everything else.
func equal(left, right object.Object) bool {
	switch l := left.(type) {
	case *Boolean:
		r, ok := right.(*Boolean)
		return ok && l.Value == r.Value
	case *NullValue:
		_, ok := right.(*NullValue)
		return ok
	case *Integer:
		r, ok := right.(*Integer)
		return ok && l.Value == r.Value
	case *String:
		r, ok := right.(*String)
		return ok && l.Value == r.Value
	}
	return left == right
}

func (*Ops) UnaryOp(op code.Opcode, operand object.Object) (object.Object, error) {
	switch op {
	case code.OpMinus:
		if i, ok := operand.(*Integer); ok {
			return &Integer{Value: -i.Value}, nil
		}
	case code.OpBang:
		switch operand {
		case True:
			return False, nil
		case False, Null:
			return True, nil
		default:
			return False, nil
		}
	}
	return nil, object.UnsupportedOperator(op, operand)
}

func (*Ops) NewArray(elems []object.Object) (object.Object, error) {
	return &Array{Elements: elems}, nil
}

func (*Ops) NewHash(pairs []object.Object) (object.Object, error) {
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("hash literal needs key/value pairs, got %d values", len(pairs))
	}
	h := NewHash()
	for i := 0; i < len(pairs); i += 2 {
		if !h.Set(pairs[i], pairs[i+1]) {
			return nil, fmt.Errorf("%w: %s", ErrUnhashable, pairs[i].Type())
		}
	}
	return h, nil
}

func (*Ops) Index(collection, key object.Object) (object.Object, error) {
	switch c := collection.(type) {
	case *Array:
		i, ok := key.(*Integer)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%s]", ErrNotIndexable, c.Type(), key.Type())
		}
		if i.Value < 0 || i.Value >= int64(len(c.Elements)) {
			return Null, nil
		}
		return c.Elements[i.Value], nil
	case *Hash:
		v, found, hashable := c.Get(key)
		if !hashable {
			return nil, fmt.Errorf("%w: %s", ErrUnhashable, key.Type())
		}
		if !found {
			return Null, nil
		}
		return v, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotIndexable, collection.Type())
}

func (*Ops) Function(obj object.Object) (object.FunctionDefinition, bool) {
	fn, ok := obj.(*CompiledFunction)
	return fn, ok
}

func (*Ops) Builtin(index int) (object.Object, bool) {
	if index < 0 || index >= len(Builtins) {
		return nil, false
	}
	return Builtins[index], true
}

func (o *Ops) CallBuiltin(fn object.Object, args []object.Object) (object.Object, bool, error) {
	b, ok := fn.(*Builtin)
	if !ok {
		return nil, false, nil
	}
	res, err := b.Fn(o, args...)
	if err != nil {
		return nil, true, fmt.Errorf("%s: %w", b.Name, err)
	}
	if res == nil {
		res = Null
	}
	return res, true, nil
}

package tiny

import (
	"errors"
	"fmt"

	"vmkit/internal/compiler"
	"vmkit/internal/object"
)

var ErrBuiltinArgs = errors.New("bad builtin arguments")

// Builtins is indexed by the OpGetBuiltin operand, so order is part of the
// compiled format.
var Builtins = []*Builtin{
	{Name: "len", Fn: builtinLen},
	{Name: "puts", Fn: builtinPuts},
	{Name: "first", Fn: builtinFirst},
	{Name: "last", Fn: builtinLast},
	{Name: "rest", Fn: builtinRest},
	{Name: "push", Fn: builtinPush},
}

// DefineBuiltins registers every builtin in st at its fixed index.
func DefineBuiltins(st *compiler.SymbolTable) {
	for i, b := range Builtins {
		st.DefineBuiltin(b.Name, i)
	}
}

func wantArgs(args []object.Object, n int) error {
	if len(args) != n {
		return fmt.Errorf("%w: want=%d, got=%d", ErrBuiltinArgs, n, len(args))
	}
	return nil
}

func arrayArg(args []object.Object) (*Array, error) {
	if err := wantArgs(args, 1); err != nil {
		return nil, err
	}
	arr, ok := args[0].(*Array)
	if !ok {
		return nil, fmt.Errorf("%w: expected ARRAY, got %s", ErrBuiltinArgs, args[0].Type())
	}
	return arr, nil
}

func builtinLen(_ *Ops, args ...object.Object) (object.Object, error) {
	if err := wantArgs(args, 1); err != nil {
		return nil, err
	}
	switch arg := args[0].(type) {
	case *String:
		return &Integer{Value: int64(len(arg.Value))}, nil
	case *Array:
		return &Integer{Value: int64(len(arg.Elements))}, nil
	case *Hash:
		return &Integer{Value: int64(len(arg.Pairs))}, nil
	}
	return nil, fmt.Errorf("%w: %s has no length", ErrBuiltinArgs, args[0].Type())
}

func builtinPuts(o *Ops, args ...object.Object) (object.Object, error) {
	for _, a := range args {
		s, ok := a.(*String)
		text := a.Inspect()
		if ok {
			text = s.Value
		}
		if _, err := fmt.Fprintln(o.out, text); err != nil {
			return nil, err
		}
	}
	return Null, nil
}

func builtinFirst(_ *Ops, args ...object.Object) (object.Object, error) {
	arr, err := arrayArg(args)
	if err != nil {
		return nil, err
	}
	if len(arr.Elements) == 0 {
		return Null, nil
	}
	return arr.Elements[0], nil
}

func builtinLast(_ *Ops, args ...object.Object) (object.Object, error) {
	arr, err := arrayArg(args)
	if err != nil {
		return nil, err
	}
	if len(arr.Elements) == 0 {
		return Null, nil
	}
	return arr.Elements[len(arr.Elements)-1], nil
}

func builtinRest(_ *Ops, args ...object.Object) (object.Object, error) {
	arr, err := arrayArg(args)
	if err != nil {
		return nil, err
	}
	if len(arr.Elements) == 0 {
		return Null, nil
	}
	rest := make([]object.Object, len(arr.Elements)-1)
	copy(rest, arr.Elements[1:])
	return &Array{Elements: rest}, nil
}

func builtinPush(_ *Ops, args ...object.Object) (object.Object, error) {
	if err := wantArgs(args, 2); err != nil {
		return nil, err
	}
	arr, ok := args[0].(*Array)
	if !ok {
		return nil, fmt.Errorf("%w: expected ARRAY, got %s", ErrBuiltinArgs, args[0].Type())
	}
	out := make([]object.Object, len(arr.Elements), len(arr.Elements)+1)
	copy(out, arr.Elements)
	return &Array{Elements: append(out, args[1])}, nil
}

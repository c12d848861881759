package vm

import (
	"bytes"
	"errors"
	"testing"

	"vmkit/internal/bytecode"
	"vmkit/internal/code"
	"vmkit/internal/compiler"
	"vmkit/internal/limits"
	"vmkit/internal/object"
	"vmkit/internal/tiny"
)

type vmTestCase struct {
	input    string
	expected string
}

func compileTiny(t *testing.T, input string) *compiler.Bytecode {
	t.Helper()
	c := tiny.NewCompiler()
	if err := tiny.CompileString(c, input); err != nil {
		t.Fatalf("%q: compile error: %v", input, err)
	}
	return c.Bytecode()
}

func runVmTests(t *testing.T, tests []vmTestCase) {
	t.Helper()

	for _, tt := range tests {
		bc := compileTiny(t, tt.input)
		m := New(bc, tiny.New(nil))
		if err := m.Run(); err != nil {
			t.Fatalf("%q: vm error: %s", tt.input, err)
		}
		got := m.LastPoppedStackElem()
		if got == nil {
			t.Fatalf("%q: nothing popped", tt.input)
		}
		if got.Inspect() != tt.expected {
			t.Errorf("%q: got %s, want %s", tt.input, got.Inspect(), tt.expected)
		}
		if m.StackTop() != nil {
			t.Errorf("%q: stack not empty, top=%s", tt.input, m.StackTop().Inspect())
		}
	}
}

func TestAddTwoConstants(t *testing.T) {
	bc := &compiler.Bytecode{
		Instructions: concat(
			code.Make(code.OpConstant, 0),
			code.Make(code.OpConstant, 1),
			code.Make(code.OpAdd),
			code.Make(code.OpPop),
		),
		Constants: []object.Object{&tiny.Integer{Value: 2}, &tiny.Integer{Value: 3}},
	}
	m := New(bc, tiny.New(nil))
	if err := m.Run(); err != nil {
		t.Fatalf("vm error: %v", err)
	}
	got, ok := m.LastPoppedStackElem().(*tiny.Integer)
	if !ok || got.Value != 5 {
		t.Fatalf("last popped = %v, want 5", m.LastPoppedStackElem())
	}
}

func concat(ins ...code.Instructions) code.Instructions {
	out := code.Instructions{}
	for _, i := range ins {
		out = append(out, i...)
	}
	return out
}

func TestArithmeticAndComparison(t *testing.T) {
	runVmTests(t, []vmTestCase{
		{"(+ 1 2)", "3"},
		{"(- 10 2 3)", "5"},
		{"(- 5)", "-5"},
		{"(* 2 (+ 1 2))", "6"},
		{"(/ 9 2)", "4"},
		{"(< 1 2)", "true"},
		{"(<= 3 2)", "false"},
		{"(= \"a\" \"a\")", "true"},
		{"(!= 1 2)", "true"},
		{"(not 0)", "false"},
		{"(not null)", "true"},
		{`(+ "a" "b")`, `"ab"`},
	})
}

func TestConditionals(t *testing.T) {
	runVmTests(t, []vmTestCase{
		{"(if (> 1 2) 10 20)", "20"},
		{"(if true 10 20)", "10"},
		{"(if false 1)", "null"},
		{"(if null 1 2)", "2"},
		{"(if 0 1 2)", "1"},
	})
}

func TestGlobals(t *testing.T) {
	runVmTests(t, []vmTestCase{
		{"(def x 5) (* x 2)", "10"},
		{"(def x 1) (def y (+ x 1)) (+ x y)", "3"},
		{"(def x 1) (def x 2) x", "2"},
	})
}

func TestCollectionsAndBuiltins(t *testing.T) {
	runVmTests(t, []vmTestCase{
		{"[1 (+ 1 1) 3]", "[1 2 3]"},
		{"(get [1 2 3] 1)", "2"},
		{"(get [1] 5)", "null"},
		{`(get {"a" 1 "b" 2} "b")`, "2"},
		{`{"k" [true]}`, `{"k" [true]}`},
		{`(len "abcd")`, "4"},
		{"(first (rest [1 2 3]))", "2"},
		{"(len (push [1] 2))", "2"},
		{"(last [])", "null"},
	})
}

func TestFunctions(t *testing.T) {
	runVmTests(t, []vmTestCase{
		{"(def add (fn [a b] (+ a b))) (add 2 3)", "5"},
		{"((fn []))", "null"},
		{"((fn [] 1 2))", "2"},
		{"(def one (fn [] 1)) (def two (fn [] (+ (one) 1))) (two)", "2"},
		{"(def f (fn [a] (do (def b (* a 2)) (+ a b)))) (f 3)", "9"},
		{"(def g 10) (def f (fn [a] (+ a g))) (f 1)", "11"},
		{"(def twice (fn [f x] (f (f x)))) (twice (fn [x] (* x 3)) 2)", "18"},
		{"(def getlen (fn [] len)) ((getlen) [1 2])", "2"},
	})
}

func TestClosures(t *testing.T) {
	runVmTests(t, []vmTestCase{
		{"(def adder (fn [a] (fn [b] (+ a b)))) ((adder 3) 4)", "7"},
		{
			"(def f (fn [a b] (fn [c] (fn [d] (+ a b c d))))) (((f 1 2) 3) 4)",
			"10",
		},
		{
			"(def f (fn [a] (do (def b 2) (fn [] (fn [] (* a b)))))) (((f 5)))",
			"10",
		},
	})
}

func TestRecursion(t *testing.T) {
	runVmTests(t, []vmTestCase{
		{
			"(def fib (fn [n] (if (< n 2) n (+ (fib (- n 1)) (fib (- n 2)))))) (fib 15)",
			"610",
		},
		{
			`(def wrapper (fn []
			   (do
			     (def countdown (fn [n] (if (= n 0) 0 (countdown (- n 1)))))
			     (countdown 5))))
			 (wrapper)`,
			"0",
		},
	})
}

func TestPutsOutput(t *testing.T) {
	var out bytes.Buffer
	m := New(compileTiny(t, `(puts "hello" 42)`), tiny.New(&out))
	if err := m.Run(); err != nil {
		t.Fatalf("vm error: %v", err)
	}
	if out.String() != "hello\n42\n" {
		t.Errorf("output %q", out.String())
	}
	if m.LastPoppedStackElem() != tiny.Null {
		t.Errorf("puts returned %s", m.LastPoppedStackElem().Inspect())
	}
}

func TestRuntimeErrors(t *testing.T) {
	tests := []struct {
		input string
		want  error
	}{
		{`(+ 1 "a")`, object.ErrUnsupportedOperator},
		{"(- true)", object.ErrUnsupportedOperator},
		{"(/ 1 0)", tiny.ErrDivisionByZero},
		{"(1 2)", ErrNotCallable},
		{"((fn [a] a))", ErrArity},
		{"((fn [] 1) 2)", ErrArity},
		{"(len 1 2)", tiny.ErrBuiltinArgs},
		{"(get 1 1)", tiny.ErrNotIndexable},
		{"{[1] 2}", tiny.ErrUnhashable},
		{"(def f (fn [] (f))) (f)", ErrFrameOverflow},
	}

	for _, tt := range tests {
		m := New(compileTiny(t, tt.input), tiny.New(nil))
		err := m.Run()
		if err == nil {
			t.Fatalf("%q: expected error", tt.input)
		}
		if !errors.Is(err, tt.want) {
			t.Errorf("%q: got %v, want %v", tt.input, err, tt.want)
		}
		var rerr *RuntimeError
		if !errors.As(err, &rerr) {
			t.Errorf("%q: error is %T, want *RuntimeError", tt.input, err)
		}
	}
}

func TestMalformedBytecode(t *testing.T) {
	tests := []struct {
		name string
		ins  code.Instructions
		cfg  Config
		want error
	}{
		{"underflow", code.Make(code.OpPop), Config{}, ErrStackUnderflow},
		{"binary underflow", concat(code.Make(code.OpTrue), code.Make(code.OpAdd)), Config{}, ErrStackUnderflow},
		{"constant index", code.Make(code.OpConstant, 5), Config{}, ErrConstantIndex},
		{"global capacity", concat(code.Make(code.OpTrue), code.Make(code.OpSetGlobal, 5)), Config{GlobalsSize: 2}, ErrGlobalIndex},
		{"unset global", code.Make(code.OpGetGlobal, 0), Config{}, ErrUndefinedGlobal},
		{"truncated operand", code.Instructions{byte(code.OpConstant), 0}, Config{}, code.ErrShortRead},
		{"return at top level", code.Make(code.OpReturn), Config{}, ErrReturnOutsideFn},
		{"stack overflow", concat(code.Make(code.OpTrue), code.Make(code.OpTrue), code.Make(code.OpTrue)), Config{StackSize: 2}, ErrStackOverflow},
		{"unknown builtin", code.Make(code.OpGetBuiltin, 200), Config{}, ErrUnknownBuiltin},
		{"free at top level", code.Make(code.OpGetFree, 0), Config{}, ErrFreeIndex},
		{"current closure at top level", code.Make(code.OpCurrentClosure), Config{}, ErrClosureOutsideFn},
		{"closure over non-function", code.Make(code.OpClosure, 0, 0), Config{}, ErrNotFunction},
	}

	for _, tt := range tests {
		bc := &compiler.Bytecode{Instructions: tt.ins}
		if tt.name == "closure over non-function" {
			bc.Constants = []object.Object{&tiny.Integer{Value: 1}}
		}
		err := NewWithConfig(bc, tiny.New(nil), tt.cfg).Run()
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: got %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestUnknownOpcode(t *testing.T) {
	err := New(&compiler.Bytecode{Instructions: code.Instructions{250}}, tiny.New(nil)).Run()
	var uerr *code.UnknownOpcodeError
	if !errors.As(err, &uerr) || uerr.Op != 250 {
		t.Fatalf("got %v, want unknown opcode 250", err)
	}
}

func TestFunctionWithoutReturn(t *testing.T) {
	fn := &tiny.CompiledFunction{Ins: code.Make(code.OpTrue), Locals: 0}
	bc := &compiler.Bytecode{
		Instructions: concat(
			code.Make(code.OpClosure, 0, 0),
			code.Make(code.OpCall, 0),
			code.Make(code.OpPop),
		),
		Constants: []object.Object{fn},
	}
	err := New(bc, tiny.New(nil)).Run()
	if !errors.Is(err, ErrUnexpectedEnd) {
		t.Fatalf("got %v, want ErrUnexpectedEnd", err)
	}
	var rerr *RuntimeError
	if !errors.As(err, &rerr) || rerr.Depth != 1 {
		t.Errorf("wrong depth in %v", err)
	}
}

func TestRuntimeErrorMessage(t *testing.T) {
	err := New(&compiler.Bytecode{Instructions: code.Make(code.OpPop)}, tiny.New(nil)).Run()
	if err == nil || err.Error() != "vm error: OpPop at 0000: stack underflow" {
		t.Fatalf("wrong message %v", err)
	}
}

func TestStepBudget(t *testing.T) {
	bc := compileTiny(t, "(def fib (fn [n] (if (< n 2) n (+ (fib (- n 1)) (fib (- n 2)))))) (fib 20)")

	m := NewWithConfig(bc, tiny.New(nil), Config{MaxSteps: 100})
	err := m.Run()
	var exceeded *limits.ExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("got %v, want step budget error", err)
	}
	if exceeded.Limit != 100 {
		t.Errorf("wrong limit %d", exceeded.Limit)
	}

	m = New(compileTiny(t, "(+ 1 2)"), tiny.New(nil))
	m.SetMaxSteps(4)
	if err := m.Run(); err != nil {
		t.Fatalf("exact budget: %v", err)
	}
}

func TestGlobalsPersistAcrossRuns(t *testing.T) {
	ops := tiny.New(nil)

	first := tiny.NewCompiler()
	if err := tiny.CompileString(first, "(def x 10) (def inc (fn [n] (+ n 1)))"); err != nil {
		t.Fatal(err)
	}
	m := New(first.Bytecode(), ops)
	if err := m.Run(); err != nil {
		t.Fatal(err)
	}

	second := compiler.NewWithState(first.SymbolTable(), first.Constants())
	if err := tiny.CompileString(second, "(inc x)"); err != nil {
		t.Fatal(err)
	}
	m2 := NewWithGlobalsStore(second.Bytecode(), ops, m.Globals())
	if err := m2.Run(); err != nil {
		t.Fatal(err)
	}
	if got := m2.LastPoppedStackElem().Inspect(); got != "11" {
		t.Errorf("got %s, want 11", got)
	}
}

func TestRunDecodedProgram(t *testing.T) {
	ops := tiny.New(nil)
	bc := compileTiny(t, "(def adder (fn [a] (fn [b] (+ a b)))) ((adder 40) 2)")

	data, err := bytecode.Marshal(bc, ops)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	prog, _, err := bytecode.Unmarshal(data, ops, bytecode.Options{Catalog: code.Standard()})
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	m := New(prog, ops)
	if err := m.Run(); err != nil {
		t.Fatalf("vm error: %v", err)
	}
	if got := m.LastPoppedStackElem().Inspect(); got != "42" {
		t.Errorf("got %s, want 42", got)
	}
}

func TestMaxFrames(t *testing.T) {
	bc := compileTiny(t, "(def down (fn [n] (if (= n 0) 0 (down (- n 1))))) (down 20)")

	m := New(bc, tiny.New(nil))
	m.SetMaxFrames(10)
	if err := m.Run(); !errors.Is(err, ErrFrameOverflow) {
		t.Fatalf("got %v, want ErrFrameOverflow", err)
	}

	m = NewWithConfig(bc, tiny.New(nil), Config{MaxFrames: 30})
	if err := m.Run(); err != nil {
		t.Fatalf("vm error: %v", err)
	}
}

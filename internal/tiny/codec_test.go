package tiny

import (
	"bytes"
	"errors"
	"testing"

	"vmkit/internal/bytecode"
	"vmkit/internal/code"
	"vmkit/internal/object"
)

func TestConstantRoundTrip(t *testing.T) {
	ops := New(nil)
	fn := &CompiledFunction{
		Ins:        code.Make(code.OpReturn),
		Locals:     2,
		Parameters: 1,
		FnName:     "f",
	}

	for _, obj := range []object.Object{
		&Integer{Value: -12345678901},
		&String{Value: "héllo"},
		&String{Value: ""},
		fn,
	} {
		tag, payload, err := ops.EncodeConstant(obj)
		if err != nil {
			t.Fatalf("encode %s: %v", obj.Inspect(), err)
		}
		back, err := ops.DecodeConstant(tag, payload)
		if err != nil {
			t.Fatalf("decode %s: %v", obj.Inspect(), err)
		}
		if back.Type() != obj.Type() || back.Inspect() != obj.Inspect() {
			t.Errorf("round trip: got %s, want %s", back.Inspect(), obj.Inspect())
		}
	}

	_, payload, _ := ops.EncodeConstant(fn)
	back, _ := ops.DecodeConstant(TagFunction, payload)
	got := back.(*CompiledFunction)
	if !bytes.Equal(got.Ins, fn.Ins) || got.Locals != 2 || got.Parameters != 1 {
		t.Errorf("function fields lost: %+v", got)
	}
}

func TestIntegerPayload(t *testing.T) {
	tag, payload, err := New(nil).EncodeConstant(&Integer{Value: 258})
	if err != nil {
		t.Fatal(err)
	}
	if tag != TagInteger {
		t.Errorf("wrong tag %s", bytecode.FormatTag(tag))
	}
	if !bytes.Equal(payload, []byte{0, 0, 0, 0, 0, 0, 1, 2}) {
		t.Errorf("wrong payload % x", payload)
	}
}

func TestConstantCodecErrors(t *testing.T) {
	ops := New(nil)

	if _, _, err := ops.EncodeConstant(True); !errors.Is(err, ErrUnencodable) {
		t.Errorf("boolean constant: got %v", err)
	}
	if _, err := ops.DecodeConstant(bytecode.Tag("ZZZ"), nil); !errors.Is(err, ErrUnknownTag) {
		t.Errorf("unknown tag: got %v", err)
	}
	if _, err := ops.DecodeConstant(TagInteger, []byte{1, 2}); err == nil {
		t.Errorf("short integer accepted")
	}
	if _, err := ops.DecodeConstant(TagFunction, []byte{0xff}); err == nil {
		t.Errorf("garbage function accepted")
	}
}

func TestProgramFileRoundTrip(t *testing.T) {
	c := NewCompiler()
	if err := CompileString(c, `(def greet (fn [n] (+ "hi " n))) (greet "there")`); err != nil {
		t.Fatalf("compile: %v", err)
	}
	ops := New(nil)

	data, err := bytecode.Marshal(c.Bytecode(), ops)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	prog, hdr, err := bytecode.Unmarshal(data, ops, bytecode.Options{Catalog: code.Standard()})
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if hdr.Signature != Signature {
		t.Errorf("wrong signature %s", bytecode.FormatTag(hdr.Signature))
	}
	if !bytes.Equal(prog.Instructions, c.Bytecode().Instructions) {
		t.Errorf("instructions changed")
	}
	if len(prog.Constants) != len(c.Constants()) {
		t.Fatalf("constant count %d, want %d", len(prog.Constants), len(c.Constants()))
	}

	again, err := bytecode.Marshal(prog, ops)
	if err != nil {
		t.Fatalf("re-marshal: %v", err)
	}
	if !bytes.Equal(again, data) {
		t.Errorf("re-encoding is not byte-identical")
	}
}

package tiny

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"vmkit/internal/bytecode"
	"vmkit/internal/object"
)

var (
	Signature = bytecode.Tag("TNY1")

	TagInteger  = bytecode.Tag("INT")
	TagString   = bytecode.Tag("STR")
	TagFunction = bytecode.Tag("FUN")
)

var (
	ErrUnencodable = errors.New("constant has no binary form")
	ErrUnknownTag  = errors.New("unknown constant tag")
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("tiny: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type functionPayload struct {
	Name          string `cbor:"1,keyasint,omitempty"`
	Instructions  []byte `cbor:"2,keyasint"`
	NumLocals     int    `cbor:"3,keyasint"`
	NumParameters int    `cbor:"4,keyasint"`
}

func (*Ops) Signature() uint32 { return Signature }

func (*Ops) EncodeConstant(obj object.Object) (uint32, []byte, error) {
	switch o := obj.(type) {
	case *Integer:
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(o.Value))
		return TagInteger, buf[:], nil
	case *String:
		return TagString, []byte(o.Value), nil
	case *CompiledFunction:
		data, err := cborEncMode.Marshal(functionPayload{
			Name:          o.FnName,
			Instructions:  o.Ins,
			NumLocals:     o.Locals,
			NumParameters: o.Parameters,
		})
		if err != nil {
			return 0, nil, fmt.Errorf("tiny: marshal function: %w", err)
		}
		return TagFunction, data, nil
	}
	return 0, nil, fmt.Errorf("%w: %s", ErrUnencodable, obj.Type())
}

func (*Ops) DecodeConstant(tag uint32, payload []byte) (object.Object, error) {
	switch tag {
	case TagInteger:
		if len(payload) != 8 {
			return nil, fmt.Errorf("tiny: integer payload is %d bytes, want 8", len(payload))
		}
		return &Integer{Value: int64(binary.BigEndian.Uint64(payload))}, nil
	case TagString:
		return &String{Value: string(payload)}, nil
	case TagFunction:
		var p functionPayload
		if err := cbor.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("tiny: unmarshal function: %w", err)
		}
		if p.NumLocals < p.NumParameters {
			return nil, fmt.Errorf("tiny: function %q has %d locals for %d parameters", p.Name, p.NumLocals, p.NumParameters)
		}
		return &CompiledFunction{
			Ins:        p.Instructions,
			Locals:     p.NumLocals,
			Parameters: p.NumParameters,
			FnName:     p.Name,
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTag, bytecode.FormatTag(tag))
}

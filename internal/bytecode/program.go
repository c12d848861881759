package bytecode

import (
	"encoding/binary"
	"fmt"

	"vmkit/internal/code"
	"vmkit/internal/object"
)

// Program is one compilation unit: the top-level instructions and the
// constant pool they index into.
type Program struct {
	Instructions code.Instructions
	Constants    []object.Object
}

// constantHeaderSize is tag(4) + payload size(4).
const constantHeaderSize = 8

// ConstantError reports a constant that could not be encoded or decoded.
type ConstantError struct {
	Index int
	Tag   uint32
	Err   error
}

func (e *ConstantError) Error() string {
	return fmt.Sprintf("constant %d (tag %s): %v", e.Index, FormatTag(e.Tag), e.Err)
}

func (e *ConstantError) Unwrap() error { return e.Err }

// FormatTag renders a tag as its four ASCII bytes when printable.
func FormatTag(tag uint32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], tag)
	for _, c := range b {
		if c != 0 && (c < 0x20 || c > 0x7e) {
			return fmt.Sprintf("0x%08x", tag)
		}
	}
	out := make([]byte, 0, 4)
	for _, c := range b {
		if c != 0 {
			out = append(out, c)
		}
	}
	return string(out)
}

// Tag packs up to four ASCII bytes into a constant tag or signature.
func Tag(s string) uint32 {
	var b [4]byte
	copy(b[:], s)
	return binary.BigEndian.Uint32(b[:])
}

// AppendConstant appends one self-encoded constant to dst.
func AppendConstant(dst []byte, tag uint32, payload []byte) []byte {
	var hdr [constantHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], tag)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(payload)))
	dst = append(dst, hdr[:]...)
	return append(dst, payload...)
}

// EncodeConstants flattens the constant pool through codec.
func (p *Program) EncodeConstants(codec object.ConstantCodec) ([]byte, error) {
	var out []byte
	for i, c := range p.Constants {
		tag, payload, err := codec.EncodeConstant(c)
		if err != nil {
			return nil, &ConstantError{Index: i, Tag: tag, Err: err}
		}
		out = AppendConstant(out, tag, payload)
	}
	return out, nil
}

// DecodeConstants reads constants until data is exhausted, dispatching each
// tag to codec.
func DecodeConstants(data []byte, codec object.ConstantCodec) ([]object.Object, error) {
	var out []object.Object
	for off := 0; off < len(data); {
		idx := len(out)
		if len(data)-off < constantHeaderSize {
			return nil, &ConstantError{Index: idx, Err: fmt.Errorf("%w: constant header", ErrTruncated)}
		}
		tag := binary.BigEndian.Uint32(data[off:])
		size := binary.BigEndian.Uint32(data[off+4:])
		off += constantHeaderSize
		if uint64(size) > uint64(len(data)-off) {
			return nil, &ConstantError{Index: idx, Tag: tag, Err: fmt.Errorf("%w: payload of %d bytes, %d left", ErrTruncated, size, len(data)-off)}
		}
		obj, err := codec.DecodeConstant(tag, data[off:off+int(size)])
		if err != nil {
			return nil, &ConstantError{Index: idx, Tag: tag, Err: err}
		}
		out = append(out, obj)
		off += int(size)
	}
	return out, nil
}

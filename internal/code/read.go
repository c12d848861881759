package code

import (
	"errors"
	"fmt"
)

var (
	ErrShortRead = errors.New("read past end of instructions")
	ErrBadWidth  = errors.New("operand width must be 1..4")
)

// ReadInt folds width bytes starting at start, most significant first, into a
// 32-bit signed accumulator.
func ReadInt(ins []byte, width, start int) (int32, error) {
	if width < 1 || width > 4 {
		return 0, fmt.Errorf("%w: %d", ErrBadWidth, width)
	}
	if start < 0 || start+width > len(ins) {
		return 0, fmt.Errorf("%w: need %d bytes at %d, have %d", ErrShortRead, width, start, len(ins))
	}
	var acc int32
	for _, b := range ins[start : start+width] {
		acc = acc<<8 | int32(b)
	}
	return acc, nil
}

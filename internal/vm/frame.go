package vm

import (
	"vmkit/internal/code"
	"vmkit/internal/object"
)

type Frame struct {
	cl          *object.Closure
	ip          int
	basePointer int
}

func NewFrame(cl *object.Closure, basePointer int) *Frame {
	return &Frame{cl: cl, ip: -1, basePointer: basePointer}
}

func (f *Frame) Instructions() code.Instructions { return f.cl.Fn.Instructions() }

// mainFunction wraps top-level instructions so the program runs in a frame
// like any other function.
type mainFunction struct {
	ins code.Instructions
}

func (m *mainFunction) Instructions() code.Instructions { return m.ins }
func (*mainFunction) NumLocals() int                    { return 0 }
func (*mainFunction) NumParameters() int                { return 0 }

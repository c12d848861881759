package vm

import (
	"fmt"

	"github.com/tliron/commonlog"

	"vmkit/internal/code"
	"vmkit/internal/compiler"
	"vmkit/internal/limits"
	"vmkit/internal/object"
)

const StackSize = 2048
const GlobalsSize = 65536
const MaxFrames = 1024

var log = commonlog.GetLogger("vmkit.vm")

// Config sizes the VM. Zero fields take the package defaults; MaxSteps of
// zero means no instruction budget.
type Config struct {
	StackSize   int
	GlobalsSize int
	MaxFrames   int
	MaxSteps    int64
}

func (c Config) withDefaults() Config {
	if c.StackSize <= 0 {
		c.StackSize = StackSize
	}
	if c.GlobalsSize <= 0 {
		c.GlobalsSize = GlobalsSize
	}
	if c.MaxFrames <= 0 {
		c.MaxFrames = MaxFrames
	}
	return c
}

// VM executes one Bytecode against a stack. It knows nothing about values;
// ops decides everything value-shaped.
type VM struct {
	ops object.Operations

	constants []object.Object

	stack []object.Object
	sp    int // next free slot; top of stack is stack[sp-1]

	globals    []object.Object
	lastPopped object.Object

	frames      []*Frame
	framesIndex int

	steps *limits.Budget
}

func New(bc *compiler.Bytecode, ops object.Operations) *VM {
	return NewWithConfig(bc, ops, Config{})
}

func NewWithConfig(bc *compiler.Bytecode, ops object.Operations, cfg Config) *VM {
	cfg = cfg.withDefaults()

	mainCl := &object.Closure{Fn: &mainFunction{ins: bc.Instructions}}
	frames := make([]*Frame, cfg.MaxFrames)
	frames[0] = NewFrame(mainCl, 0)

	m := &VM{
		ops:         ops,
		constants:   bc.Constants,
		stack:       make([]object.Object, cfg.StackSize),
		globals:     make([]object.Object, cfg.GlobalsSize),
		sp:          0,
		frames:      frames,
		framesIndex: 1,
	}
	m.SetMaxSteps(cfg.MaxSteps)
	return m
}

// NewWithGlobalsStore runs bc against globals kept from an earlier run.
func NewWithGlobalsStore(bc *compiler.Bytecode, ops object.Operations, globals []object.Object) *VM {
	m := New(bc, ops)
	m.SetGlobals(globals)
	return m
}

func (m *VM) SetGlobals(globals []object.Object) {
	if globals != nil {
		m.globals = globals
	}
}

// SetMaxSteps installs an instruction budget; zero removes it.
func (m *VM) SetMaxSteps(max int64) {
	if max <= 0 {
		m.steps = nil
		return
	}
	m.steps = limits.NewBudget("instruction", max)
}

// SetMaxFrames caps call depth. It must be called before Run.
func (m *VM) SetMaxFrames(max int) {
	if max <= 0 {
		max = MaxFrames
	}
	frames := make([]*Frame, max)
	copy(frames, m.frames[:m.framesIndex])
	m.frames = frames
}

func (m *VM) Globals() []object.Object   { return m.globals }
func (m *VM) Constants() []object.Object { return m.constants }

func (m *VM) LastPoppedStackElem() object.Object {
	return m.lastPopped
}

// StackTop is the value on top of the stack, or nil when it is empty.
func (m *VM) StackTop() object.Object {
	if m.sp == 0 {
		return nil
	}
	return m.stack[m.sp-1]
}

func (m *VM) currentFrame() *Frame {
	return m.frames[m.framesIndex-1]
}

func (m *VM) pushFrame(f *Frame) error {
	if m.framesIndex >= len(m.frames) {
		return ErrFrameOverflow
	}
	m.frames[m.framesIndex] = f
	m.framesIndex++
	return nil
}

func (m *VM) popFrame() *Frame {
	m.framesIndex--
	f := m.frames[m.framesIndex]
	m.frames[m.framesIndex] = nil
	return f
}

func (m *VM) push(o object.Object) error {
	if o == nil {
		return ErrInvalidOperation
	}
	if m.sp >= len(m.stack) {
		return ErrStackOverflow
	}
	m.stack[m.sp] = o
	m.sp++
	return nil
}

// need checks that n values sit above the current frame's locals.
func (m *VM) need(n int) error {
	floor := 0
	if m.framesIndex > 1 {
		f := m.currentFrame()
		floor = f.basePointer + f.cl.Fn.NumLocals()
	}
	if m.sp-n < floor {
		return ErrStackUnderflow
	}
	return nil
}

func (m *VM) pop() object.Object {
	m.sp--
	o := m.stack[m.sp]
	m.stack[m.sp] = nil
	return o
}

func operand(ins code.Instructions, at, width int) (int, error) {
	v, err := code.ReadInt(ins, width, at)
	if err != nil {
		return 0, err
	}
	return int(uint32(v) & (1<<(8*uint(width)) - 1)), nil
}

// Run executes until the top-level instructions are exhausted or an
// instruction fails. A failure aborts the whole program.
func (m *VM) Run() error {
	log.Debugf("run: %d instruction bytes, %d constants", len(m.currentFrame().Instructions()), len(m.constants))
	for {
		frame := m.currentFrame()
		ins := frame.Instructions()
		if frame.ip+1 >= len(ins) {
			if m.framesIndex > 1 {
				return m.fail(code.OpReturn, frame.ip, ErrUnexpectedEnd)
			}
			return nil
		}
		frame.ip++
		ip := frame.ip
		op := code.Opcode(ins[ip])

		if err := m.steps.Charge(1); err != nil {
			return m.fail(op, ip, err)
		}
		if err := m.exec(op, frame, ins); err != nil {
			return m.fail(op, ip, err)
		}
	}
}

func (m *VM) fail(op code.Opcode, ip int, err error) error {
	rerr := &RuntimeError{Op: op, IP: ip, Depth: m.framesIndex - 1, Err: err}
	log.Debugf("%s", rerr)
	return rerr
}

func (m *VM) exec(op code.Opcode, frame *Frame, ins code.Instructions) error {
	switch op {
	case code.OpConstant:
		idx, err := operand(ins, frame.ip+1, 2)
		if err != nil {
			return err
		}
		frame.ip += 2
		if idx >= len(m.constants) {
			return fmt.Errorf("%w: %d (pool has %d)", ErrConstantIndex, idx, len(m.constants))
		}
		return m.push(m.constants[idx])

	case code.OpPop:
		if err := m.need(1); err != nil {
			return err
		}
		m.lastPopped = m.pop()
		return nil

	case code.OpAdd, code.OpSub, code.OpMul, code.OpDiv,
		code.OpEqual, code.OpNotEqual, code.OpGreaterThan, code.OpGreaterEqual:
		return m.execBinaryOp(op)

	case code.OpMinus, code.OpBang:
		if err := m.need(1); err != nil {
			return err
		}
		right := m.pop()
		res, err := m.ops.UnaryOp(op, right)
		if err != nil {
			return err
		}
		return m.push(res)

	case code.OpTrue:
		return m.push(m.ops.Bool(true))

	case code.OpFalse:
		return m.push(m.ops.Bool(false))

	case code.OpNull:
		return m.push(m.ops.Null())

	case code.OpJump:
		pos, err := operand(ins, frame.ip+1, 2)
		if err != nil {
			return err
		}
		frame.ip = pos - 1
		return nil

	case code.OpJumpNotTruthy:
		pos, err := operand(ins, frame.ip+1, 2)
		if err != nil {
			return err
		}
		frame.ip += 2
		if err := m.need(1); err != nil {
			return err
		}
		if !m.ops.IsTruthy(m.pop()) {
			frame.ip = pos - 1
		}
		return nil

	case code.OpSetGlobal:
		idx, err := operand(ins, frame.ip+1, 2)
		if err != nil {
			return err
		}
		frame.ip += 2
		if idx >= len(m.globals) {
			return fmt.Errorf("%w: %d (capacity %d)", ErrGlobalIndex, idx, len(m.globals))
		}
		if err := m.need(1); err != nil {
			return err
		}
		m.globals[idx] = m.pop()
		return nil

	case code.OpGetGlobal:
		idx, err := operand(ins, frame.ip+1, 2)
		if err != nil {
			return err
		}
		frame.ip += 2
		if idx >= len(m.globals) {
			return fmt.Errorf("%w: %d (capacity %d)", ErrGlobalIndex, idx, len(m.globals))
		}
		val := m.globals[idx]
		if val == nil {
			return fmt.Errorf("%w: %d", ErrUndefinedGlobal, idx)
		}
		return m.push(val)

	case code.OpSetLocal:
		idx, err := operand(ins, frame.ip+1, 1)
		if err != nil {
			return err
		}
		frame.ip += 1
		if idx >= frame.cl.Fn.NumLocals() {
			return fmt.Errorf("%w: %d", ErrLocalIndex, idx)
		}
		if err := m.need(1); err != nil {
			return err
		}
		m.stack[frame.basePointer+idx] = m.pop()
		return nil

	case code.OpGetLocal:
		idx, err := operand(ins, frame.ip+1, 1)
		if err != nil {
			return err
		}
		frame.ip += 1
		if idx >= frame.cl.Fn.NumLocals() {
			return fmt.Errorf("%w: %d", ErrLocalIndex, idx)
		}
		val := m.stack[frame.basePointer+idx]
		if val == nil {
			val = m.ops.Null()
		}
		return m.push(val)

	case code.OpGetBuiltin:
		idx, err := operand(ins, frame.ip+1, 1)
		if err != nil {
			return err
		}
		frame.ip += 1
		b, ok := m.ops.Builtin(idx)
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownBuiltin, idx)
		}
		return m.push(b)

	case code.OpArray:
		n, err := operand(ins, frame.ip+1, 2)
		if err != nil {
			return err
		}
		frame.ip += 2
		elems, err := m.popN(n)
		if err != nil {
			return err
		}
		arr, err := m.ops.NewArray(elems)
		if err != nil {
			return err
		}
		return m.push(arr)

	case code.OpHash:
		n, err := operand(ins, frame.ip+1, 2)
		if err != nil {
			return err
		}
		frame.ip += 2
		pairs, err := m.popN(n)
		if err != nil {
			return err
		}
		hash, err := m.ops.NewHash(pairs)
		if err != nil {
			return err
		}
		return m.push(hash)

	case code.OpIndex:
		if err := m.need(2); err != nil {
			return err
		}
		index := m.pop()
		left := m.pop()
		res, err := m.ops.Index(left, index)
		if err != nil {
			return err
		}
		return m.push(res)

	case code.OpCall:
		numArgs, err := operand(ins, frame.ip+1, 1)
		if err != nil {
			return err
		}
		frame.ip += 1
		return m.executeCall(numArgs)

	case code.OpReturnValue:
		if m.framesIndex == 1 {
			return ErrReturnOutsideFn
		}
		if err := m.need(1); err != nil {
			return err
		}
		ret := m.pop()
		m.returnFrame()
		return m.push(ret)

	case code.OpReturn:
		if m.framesIndex == 1 {
			return ErrReturnOutsideFn
		}
		m.returnFrame()
		return m.push(m.ops.Null())

	case code.OpClosure:
		constIndex, err := operand(ins, frame.ip+1, 2)
		if err != nil {
			return err
		}
		numFree, err := operand(ins, frame.ip+3, 1)
		if err != nil {
			return err
		}
		frame.ip += 3
		return m.pushClosure(constIndex, numFree)

	case code.OpGetFree:
		idx, err := operand(ins, frame.ip+1, 1)
		if err != nil {
			return err
		}
		frame.ip += 1
		free := frame.cl.Free
		if idx >= len(free) {
			return fmt.Errorf("%w: %d", ErrFreeIndex, idx)
		}
		return m.push(free[idx])

	case code.OpCurrentClosure:
		if m.framesIndex == 1 {
			return ErrClosureOutsideFn
		}
		return m.push(frame.cl)

	default:
		return &code.UnknownOpcodeError{Op: op}
	}
}

func (m *VM) execBinaryOp(op code.Opcode) error {
	if err := m.need(2); err != nil {
		return err
	}
	right := m.pop()
	left := m.pop()

	res, err := m.ops.BinaryOp(op, left, right)
	if err != nil {
		return err
	}
	return m.push(res)
}

// popN removes the top n values and returns them bottom-first.
func (m *VM) popN(n int) ([]object.Object, error) {
	if err := m.need(n); err != nil {
		return nil, err
	}
	out := make([]object.Object, n)
	copy(out, m.stack[m.sp-n:m.sp])
	for i := m.sp - n; i < m.sp; i++ {
		m.stack[i] = nil
	}
	m.sp -= n
	return out, nil
}

func (m *VM) executeCall(numArgs int) error {
	if err := m.need(numArgs + 1); err != nil {
		return err
	}
	callee := m.stack[m.sp-1-numArgs]

	if cl, ok := callee.(*object.Closure); ok {
		return m.callClosure(cl, numArgs)
	}

	args := make([]object.Object, numArgs)
	copy(args, m.stack[m.sp-numArgs:m.sp])
	res, handled, err := m.ops.CallBuiltin(callee, args)
	if !handled {
		return fmt.Errorf("%w: %s", ErrNotCallable, callee.Type())
	}
	if err != nil {
		return err
	}
	if _, err := m.popN(numArgs + 1); err != nil {
		return err
	}
	return m.push(res)
}

func (m *VM) callClosure(cl *object.Closure, numArgs int) error {
	fn := cl.Fn
	if numArgs != fn.NumParameters() {
		return fmt.Errorf("%w: want=%d, got=%d", ErrArity, fn.NumParameters(), numArgs)
	}

	basePointer := m.sp - numArgs
	top := basePointer + fn.NumLocals()
	if top > len(m.stack) {
		return ErrStackOverflow
	}
	if err := m.pushFrame(NewFrame(cl, basePointer)); err != nil {
		return err
	}
	for i := m.sp; i < top; i++ {
		m.stack[i] = nil
	}
	m.sp = top
	return nil
}

// returnFrame discards the callee's frame, its locals and the callee itself.
func (m *VM) returnFrame() {
	f := m.popFrame()
	for i := f.basePointer - 1; i < m.sp; i++ {
		m.stack[i] = nil
	}
	m.sp = f.basePointer - 1
}

func (m *VM) pushClosure(constIndex, numFree int) error {
	if constIndex >= len(m.constants) {
		return fmt.Errorf("%w: %d (pool has %d)", ErrConstantIndex, constIndex, len(m.constants))
	}
	fn, ok := m.ops.Function(m.constants[constIndex])
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFunction, m.constants[constIndex].Type())
	}
	free, err := m.popN(numFree)
	if err != nil {
		return err
	}
	return m.push(&object.Closure{Fn: fn, Free: free})
}

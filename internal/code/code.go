package code

import (
	"encoding/binary"
	"fmt"
	"sort"
)

type Opcode byte

const (
	OpConstant Opcode = iota // push constants[operand]
	OpPop

	OpAdd
	OpSub
	OpMul
	OpDiv

	OpTrue
	OpFalse

	OpEqual
	OpNotEqual
	OpGreaterThan
	OpGreaterEqual

	// Entries below are the standard front-end extension of the base catalog.

	OpMinus
	OpBang

	OpJumpNotTruthy // operand: jump address
	OpJump          // operand: jump address

	OpNull

	OpGetGlobal
	OpSetGlobal
	OpGetLocal
	OpSetLocal
	OpGetBuiltin // operand: builtin index (1 byte)

	OpCall
	OpReturnValue
	OpReturn

	OpClosure // operands: constIndex (2 bytes), freeCount (1 byte)
	OpGetFree
	OpCurrentClosure

	OpArray // operand: elementCount (2 bytes)
	OpHash  // operand: key+value count (2 bytes)
	OpIndex
)

type Instructions []byte

type Definition struct {
	Name          string
	OperandWidths []int
	// Signed marks operands read as two's complement. A nil slice means all unsigned.
	Signed []bool
}

// Width returns the encoded size of an instruction, opcode byte included.
func (d *Definition) Width() int {
	n := 1
	for _, w := range d.OperandWidths {
		n += w
	}
	return n
}

func (d *Definition) signed(i int) bool {
	return i < len(d.Signed) && d.Signed[i]
}

// Catalog maps opcodes to their definitions. A Catalog is never mutated after
// construction; Extend returns a new one.
type Catalog struct {
	defs map[Opcode]*Definition
}

func NewCatalog(entries map[Opcode]*Definition) (*Catalog, error) {
	c := &Catalog{defs: make(map[Opcode]*Definition, len(entries))}
	for op, def := range entries {
		if err := validateDefinition(op, def); err != nil {
			return nil, err
		}
		c.defs[op] = def
	}
	return c, nil
}

func validateDefinition(op Opcode, def *Definition) error {
	if def == nil || def.Name == "" {
		return fmt.Errorf("opcode %d: definition needs a name", op)
	}
	for _, w := range def.OperandWidths {
		switch w {
		case 1, 2, 4:
		default:
			return fmt.Errorf("%s: unsupported operand width %d", def.Name, w)
		}
	}
	if len(def.Signed) > len(def.OperandWidths) {
		return fmt.Errorf("%s: more signed flags than operands", def.Name)
	}
	return nil
}

// Extend composes a new catalog holding c's entries plus entries. Redefining an
// opcode already present in c is an error.
func (c *Catalog) Extend(entries map[Opcode]*Definition) (*Catalog, error) {
	out := &Catalog{defs: make(map[Opcode]*Definition, len(c.defs)+len(entries))}
	for op, def := range c.defs {
		out.defs[op] = def
	}
	for op, def := range entries {
		if prev, ok := out.defs[op]; ok {
			return nil, fmt.Errorf("opcode %d already defined as %s", op, prev.Name)
		}
		if err := validateDefinition(op, def); err != nil {
			return nil, err
		}
		out.defs[op] = def
	}
	return out, nil
}

func (c *Catalog) Lookup(op Opcode) (*Definition, bool) {
	def, ok := c.defs[op]
	return def, ok
}

// Opcodes lists the catalog's opcodes in ascending order.
func (c *Catalog) Opcodes() []Opcode {
	ops := make([]Opcode, 0, len(c.defs))
	for op := range c.defs {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}

// ByName finds an opcode by its human name.
func (c *Catalog) ByName(name string) (Opcode, bool) {
	for op, def := range c.defs {
		if def.Name == name {
			return op, true
		}
	}
	return 0, false
}

func baseEntries() map[Opcode]*Definition {
	return map[Opcode]*Definition{
		OpConstant:     {Name: "OpConstant", OperandWidths: []int{2}},
		OpPop:          {Name: "OpPop"},
		OpAdd:          {Name: "OpAdd"},
		OpSub:          {Name: "OpSub"},
		OpMul:          {Name: "OpMul"},
		OpDiv:          {Name: "OpDiv"},
		OpTrue:         {Name: "OpTrue"},
		OpFalse:        {Name: "OpFalse"},
		OpEqual:        {Name: "OpEqual"},
		OpNotEqual:     {Name: "OpNotEqual"},
		OpGreaterThan:  {Name: "OpGreaterThan"},
		OpGreaterEqual: {Name: "OpGreaterEqual"},
	}
}

func standardEntries() map[Opcode]*Definition {
	return map[Opcode]*Definition{
		OpMinus:          {Name: "OpMinus"},
		OpBang:           {Name: "OpBang"},
		OpJumpNotTruthy:  {Name: "OpJumpNotTruthy", OperandWidths: []int{2}},
		OpJump:           {Name: "OpJump", OperandWidths: []int{2}},
		OpNull:           {Name: "OpNull"},
		OpGetGlobal:      {Name: "OpGetGlobal", OperandWidths: []int{2}},
		OpSetGlobal:      {Name: "OpSetGlobal", OperandWidths: []int{2}},
		OpGetLocal:       {Name: "OpGetLocal", OperandWidths: []int{1}},
		OpSetLocal:       {Name: "OpSetLocal", OperandWidths: []int{1}},
		OpGetBuiltin:     {Name: "OpGetBuiltin", OperandWidths: []int{1}},
		OpCall:           {Name: "OpCall", OperandWidths: []int{1}},
		OpReturnValue:    {Name: "OpReturnValue"},
		OpReturn:         {Name: "OpReturn"},
		OpClosure:        {Name: "OpClosure", OperandWidths: []int{2, 1}},
		OpGetFree:        {Name: "OpGetFree", OperandWidths: []int{1}},
		OpCurrentClosure: {Name: "OpCurrentClosure"},
		OpArray:          {Name: "OpArray", OperandWidths: []int{2}},
		OpHash:           {Name: "OpHash", OperandWidths: []int{2}},
		OpIndex:          {Name: "OpIndex"},
	}
}

var (
	base     = mustCatalog(NewCatalog(baseEntries()))
	standard = mustCatalog(base.Extend(standardEntries()))
)

func mustCatalog(c *Catalog, err error) *Catalog {
	if err != nil {
		panic(err)
	}
	return c
}

// Base is the minimal catalog every front end shares.
func Base() *Catalog { return base }

// Standard is Base extended with jumps, variables, calls, closures and
// collections. The package-level helpers use it.
func Standard() *Catalog { return standard }

func Lookup(op Opcode) (*Definition, bool) {
	return standard.Lookup(op)
}

type UnknownOpcodeError struct {
	Op Opcode
}

func (e *UnknownOpcodeError) Error() string {
	return fmt.Sprintf("unknown opcode %d", e.Op)
}

type OperandCountError struct {
	Name string
	Want int
	Got  int
}

func (e *OperandCountError) Error() string {
	return fmt.Sprintf("%s: expected %d operands, got %d", e.Name, e.Want, e.Got)
}

// OperandRangeError reports an operand that does not fit its declared width.
type OperandRangeError struct {
	Name  string
	Index int
	Width int
	Value int
}

func (e *OperandRangeError) Error() string {
	return fmt.Sprintf("%s: operand %d value %d does not fit a %d-byte operand", e.Name, e.Index, e.Value, e.Width)
}

// operandRange is the inclusive range an operand of width w can hold.
func operandRange(w int, signed bool) (int64, int64) {
	if signed {
		half := int64(1) << (8*uint(w) - 1)
		return -half, half - 1
	}
	return 0, int64(mask(w))
}

// EncodeChecked is Encode that refuses operands outside their declared
// width instead of truncating them.
func (c *Catalog) EncodeChecked(op Opcode, operands ...int) (Instructions, error) {
	if def, ok := c.defs[op]; ok && len(operands) == len(def.OperandWidths) {
		for i, o := range operands {
			w := def.OperandWidths[i]
			lo, hi := operandRange(w, def.signed(i))
			if v := int64(o); v < lo || v > hi {
				return nil, &OperandRangeError{Name: def.Name, Index: i, Width: w, Value: o}
			}
		}
	}
	return c.Encode(op, operands...)
}

// Encode builds one instruction. Each operand is truncated to its declared
// width by keeping the low-order bytes.
func (c *Catalog) Encode(op Opcode, operands ...int) (Instructions, error) {
	def, ok := c.defs[op]
	if !ok {
		return nil, &UnknownOpcodeError{Op: op}
	}
	if len(operands) != len(def.OperandWidths) {
		return nil, &OperandCountError{Name: def.Name, Want: len(def.OperandWidths), Got: len(operands)}
	}

	ins := make([]byte, def.Width())
	ins[0] = byte(op)

	offset := 1
	for i, o := range operands {
		w := def.OperandWidths[i]
		switch w {
		case 1:
			ins[offset] = byte(o)
		case 2:
			binary.BigEndian.PutUint16(ins[offset:], uint16(o))
		case 4:
			binary.BigEndian.PutUint32(ins[offset:], uint32(o))
		}
		offset += w
	}
	return ins, nil
}

func Encode(op Opcode, operands ...int) (Instructions, error) {
	return standard.Encode(op, operands...)
}

// Make is Encode for opcodes fixed at compile time; a bad opcode or operand
// count is a programming error and panics.
func Make(op Opcode, operands ...int) Instructions {
	ins, err := standard.Encode(op, operands...)
	if err != nil {
		panic(err)
	}
	return ins
}

// ReadOperands decodes the operands declared by def from the front of ins.
// Decoding stops at the first operand that does not fit, so a short result
// means the instruction is truncated.
func ReadOperands(def *Definition, ins Instructions) ([]int, int) {
	operands := make([]int, 0, len(def.OperandWidths))
	offset := 0

	for i, w := range def.OperandWidths {
		v, err := ReadInt(ins, w, offset)
		if err != nil {
			break
		}
		if def.signed(i) {
			operands = append(operands, int(signExtend(v, w)))
		} else {
			operands = append(operands, int(uint32(v)&mask(w)))
		}
		offset += w
	}
	return operands, offset
}

func mask(width int) uint32 {
	if width >= 4 {
		return 0xFFFFFFFF
	}
	return 1<<(8*uint(width)) - 1
}

func signExtend(v int32, width int) int32 {
	shift := uint(32 - 8*width)
	return v << shift >> shift
}

func ReadUint16(ins Instructions) uint16 {
	return binary.BigEndian.Uint16(ins)
}

func ReadUint8(ins Instructions) uint8 {
	return uint8(ins[0])
}

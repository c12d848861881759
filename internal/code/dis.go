package code

import (
	"bytes"
	"fmt"
)

// Disassemble renders ins one instruction per line. Unknown opcodes and
// truncated operands produce an inline ERROR line and decoding resumes at the
// next byte.
func (c *Catalog) Disassemble(ins Instructions) string {
	var out bytes.Buffer

	i := 0
	for i < len(ins) {
		op := Opcode(ins[i])
		def, ok := c.Lookup(op)
		if !ok {
			fmt.Fprintf(&out, "%04d ERROR: unknown opcode %d\n", i, op)
			i++
			continue
		}

		operands, read := ReadOperands(def, ins[i+1:])
		if len(operands) != len(def.OperandWidths) {
			fmt.Fprintf(&out, "%04d ERROR: truncated operands for %s\n", i, def.Name)
			i++
			continue
		}

		fmt.Fprintf(&out, "%04d %s", i, def.Name)
		for _, o := range operands {
			fmt.Fprintf(&out, " %d", o)
		}
		out.WriteByte('\n')

		i += 1 + read
	}

	return out.String()
}

func (ins Instructions) String() string {
	return standard.Disassemble(ins)
}

// Walk calls fn for every well-formed instruction in ins and stops at the
// first malformed one, returning its error.
func (c *Catalog) Walk(ins Instructions, fn func(pos int, op Opcode, operands []int) error) error {
	i := 0
	for i < len(ins) {
		op := Opcode(ins[i])
		def, ok := c.Lookup(op)
		if !ok {
			return fmt.Errorf("at %04d: %w", i, &UnknownOpcodeError{Op: op})
		}
		operands, read := ReadOperands(def, ins[i+1:])
		if len(operands) != len(def.OperandWidths) {
			return fmt.Errorf("at %04d: %s: %w", i, def.Name, ErrShortRead)
		}
		if err := fn(i, op, operands); err != nil {
			return err
		}
		i += 1 + read
	}
	return nil
}

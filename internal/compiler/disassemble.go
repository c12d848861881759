package compiler

import (
	"fmt"
	"strings"

	"vmkit/internal/code"
	"vmkit/internal/object"
)

type namedFunction interface {
	Name() string
}

// FormatConstants lists the constant pool. Compiled functions (anything the
// front end reports as a function) are followed by their disassembly.
func FormatConstants(constants []object.Object, ops interface {
	Function(object.Object) (object.FunctionDefinition, bool)
}, cat *code.Catalog) string {
	var b strings.Builder
	b.WriteString("== constants ==\n")
	for i, c := range constants {
		fn, isFn := ops.Function(c)
		if !isFn {
			fmt.Fprintf(&b, "%04d %s %s\n", i, c.Type(), c.Inspect())
			continue
		}
		name := "<anon>"
		if n, ok := fn.(namedFunction); ok && n.Name() != "" {
			name = n.Name()
		}
		ins := fn.Instructions()
		fmt.Fprintf(&b, "%04d %s %s (locals=%d params=%d ins=%dB)\n",
			i, c.Type(), name, fn.NumLocals(), fn.NumParameters(), len(ins))
		for _, line := range strings.Split(strings.TrimRight(cat.Disassemble(ins), "\n"), "\n") {
			if line == "" {
				continue
			}
			fmt.Fprintf(&b, "     | %s\n", line)
		}
	}
	return b.String()
}

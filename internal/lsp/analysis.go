package lsp

import (
	"fmt"
	"strings"

	"github.com/tliron/commonlog"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"vmkit/internal/compiler"
	"vmkit/internal/diag"
	"vmkit/internal/tiny"
)

var log = commonlog.GetLogger("vmkit.lsp")

// Occurrence is one symbol in the source and what the compiler bound it to.
type Occurrence struct {
	Node   *tiny.Symbol
	Symbol compiler.Symbol
}

type Analysis struct {
	Program     *tiny.Program
	Diagnostics []diag.Diagnostic
	Occurrences []Occurrence
	// Instructions is the compiled top level, empty when compilation failed.
	Instructions string
}

// Analyze reads and compiles text the way the CLI would, recording how each
// name resolved. Resolutions made before an error are kept.
func Analyze(text string) *Analysis {
	an := &Analysis{}
	prog, err := tiny.Parse(text)
	an.Program = prog
	if err != nil {
		an.Diagnostics = diag.FromError(err, diag.CodeRead)
		return an
	}

	c := tiny.NewCompiler()
	err = tiny.CompileObserved(c, prog, func(n *tiny.Symbol, sym compiler.Symbol) {
		an.Occurrences = append(an.Occurrences, Occurrence{Node: n, Symbol: sym})
	})
	if err != nil {
		an.Diagnostics = diag.FromError(err, diag.CodeCompile)
		log.Debugf("compile failed: %s", err)
		return an
	}
	an.Instructions = c.Bytecode().Instructions.String()
	return an
}

var specialForms = map[string]string{
	"def": "(def name value)\n\nBinds name in the current scope and yields the value.",
	"fn":  "(fn name? [params] body...)\n\nA closure. The last body form is the return value.",
	"if":  "(if cond then else?)\n\nElse defaults to null.",
	"do":  "(do forms...)\n\nEvaluates forms in order and yields the last.",
	"get": "(get collection key)\n\nIndexes an array or hash; missing entries are null.",
	"not": "(not x)\n\nTrue when x is false or null.",
}

var builtinDocs = map[string]string{
	"len":   "(len x)\n\nLength of a string, array or hash.",
	"puts":  "(puts values...)\n\nPrints each value on its own line and yields null.",
	"first": "(first array)",
	"last":  "(last array)",
	"rest":  "(rest array)\n\nA new array without the first element.",
	"push":  "(push array value)\n\nA new array with value appended.",
}

func scopeLabel(s compiler.SymbolScope) string {
	switch s {
	case compiler.GlobalScope:
		return "global"
	case compiler.LocalScope:
		return "local"
	case compiler.BuiltinScope:
		return "builtin"
	case compiler.FreeScope:
		return "captured"
	case compiler.FunctionScope:
		return "enclosing function"
	}
	return strings.ToLower(string(s))
}

// symbolAt finds the symbol node under p.
func symbolAt(nodes []tiny.Node, p Pos) *tiny.Symbol {
	for _, n := range nodes {
		switch n := n.(type) {
		case *tiny.Symbol:
			if within(p, n.Pos) {
				return n
			}
		case *tiny.List:
			if s := symbolAt(n.Items, p); s != nil {
				return s
			}
		case *tiny.ArrayLiteral:
			if s := symbolAt(n.Items, p); s != nil {
				return s
			}
		case *tiny.HashLiteral:
			if s := symbolAt(n.Items, p); s != nil {
				return s
			}
		}
	}
	return nil
}

// HoverText describes the symbol under p, or "" when there is none.
func (an *Analysis) HoverText(p Pos) (string, *tiny.Symbol) {
	if an.Program == nil {
		return "", nil
	}
	node := symbolAt(an.Program.Forms, p)
	if node == nil {
		return "", nil
	}

	for _, occ := range an.Occurrences {
		if occ.Node != node {
			continue
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "`%s`: %s", node.Name, scopeLabel(occ.Symbol.Scope))
		if occ.Symbol.Scope != compiler.FunctionScope {
			fmt.Fprintf(&sb, " #%d", occ.Symbol.Index)
		}
		if doc, ok := builtinDocs[node.Name]; ok && occ.Symbol.Scope == compiler.BuiltinScope {
			sb.WriteString("\n\n```\n" + doc + "\n```")
		}
		return sb.String(), node
	}

	if doc, ok := specialForms[node.Name]; ok {
		return "```\n" + doc + "\n```", node
	}
	return "", nil
}

func HoverAt(doc *Document, pos protocol.Position) *protocol.Hover {
	p, ok := positionToByte(doc.Text, pos)
	if !ok {
		return nil
	}
	text, node := doc.Analysis.HoverText(p)
	if text == "" {
		return nil
	}
	rng := toLspRange(doc.Text, node.Pos)
	return &protocol.Hover{
		Contents: protocol.MarkupContent{Kind: protocol.MarkupKindMarkdown, Value: text},
		Range:    &rng,
	}
}

// Diagnostics are the document's diagnostics in LSP form.
func (doc *Document) Diagnostics() []protocol.Diagnostic {
	return ToLspDiagnostics(doc.Text, doc.Analysis.Diagnostics)
}

package lsp

import (
	protocol "github.com/tliron/glsp/protocol_3_16"

	"vmkit/internal/compiler"
	"vmkit/internal/diag"
	"vmkit/internal/tiny"
)

// semantic token type indices (must match Legend order)
const (
	ttKeyword = iota
	ttString
	ttNumber
	ttOperator
	ttFunction
	ttVariable
	ttParameter
)

const (
	modDecl           = 1 << 0
	modDefaultLibrary = 1 << 1
)

var Legend = protocol.SemanticTokensLegend{
	TokenTypes: []string{
		string(protocol.SemanticTokenTypeKeyword),
		string(protocol.SemanticTokenTypeString),
		string(protocol.SemanticTokenTypeNumber),
		string(protocol.SemanticTokenTypeOperator),
		string(protocol.SemanticTokenTypeFunction),
		string(protocol.SemanticTokenTypeVariable),
		string(protocol.SemanticTokenTypeParameter),
	},
	TokenModifiers: []string{
		string(protocol.SemanticTokenModifierDeclaration),
		string(protocol.SemanticTokenModifierDefaultLibrary),
	},
}

// SemTok is one token in UTF-16 LSP coordinates.
type SemTok struct {
	Line   uint32
	Char   uint32
	Length uint32
	Type   int
	Mods   int
}

var operators = map[string]bool{
	"+": true, "-": true, "*": true, "/": true,
	"=": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
}

var constants = map[string]bool{"true": true, "false": true, "null": true}

type semWalker struct {
	text     string
	resolved map[*tiny.Symbol]compiler.Symbol
	toks     []SemTok
}

// SemanticTokens classifies the document's symbols and literals. Nothing
// after a read error is classified.
func SemanticTokens(doc *Document) *protocol.SemanticTokens {
	an := doc.Analysis
	if an == nil || an.Program == nil {
		return &protocol.SemanticTokens{Data: []uint32{}}
	}
	w := &semWalker{text: doc.Text, resolved: make(map[*tiny.Symbol]compiler.Symbol, len(an.Occurrences))}
	for _, occ := range an.Occurrences {
		w.resolved[occ.Node] = occ.Symbol
	}
	w.nodes(an.Program.Forms)
	return &protocol.SemanticTokens{Data: EncodeSemanticTokens(w.toks)}
}

func (w *semWalker) add(r diag.Range, typ, mods int) {
	rng := toLspRange(w.text, r)
	w.toks = append(w.toks, SemTok{
		Line:   rng.Start.Line,
		Char:   rng.Start.Character,
		Length: rng.End.Character - rng.Start.Character,
		Type:   typ,
		Mods:   mods,
	})
}

func (w *semWalker) nodes(ns []tiny.Node) {
	for _, n := range ns {
		w.node(n)
	}
}

func (w *semWalker) node(n tiny.Node) {
	switch n := n.(type) {
	case *tiny.IntegerLiteral:
		w.add(n.Pos, ttNumber, 0)
	case *tiny.StringLiteral:
		w.add(n.Pos, ttString, 0)
	case *tiny.Symbol:
		w.symbol(n, 0)
	case *tiny.ArrayLiteral:
		w.nodes(n.Items)
	case *tiny.HashLiteral:
		w.nodes(n.Items)
	case *tiny.List:
		w.list(n)
	}
}

func (w *semWalker) symbol(n *tiny.Symbol, mods int) {
	if constants[n.Name] {
		w.add(n.Pos, ttKeyword, 0)
		return
	}
	sym, ok := w.resolved[n]
	if !ok {
		return
	}
	switch sym.Scope {
	case compiler.BuiltinScope:
		w.add(n.Pos, ttFunction, mods|modDefaultLibrary)
	case compiler.FunctionScope:
		w.add(n.Pos, ttFunction, mods)
	default:
		w.add(n.Pos, ttVariable, mods)
	}
}

func (w *semWalker) list(n *tiny.List) {
	head := n.Head()
	if head == nil {
		w.nodes(n.Items)
		return
	}
	if _, bound := w.resolved[head]; !bound {
		if _, ok := specialForms[head.Name]; ok {
			w.add(head.Pos, ttKeyword, 0)
			w.special(head.Name, n.Items[1:])
			return
		}
		if operators[head.Name] {
			w.add(head.Pos, ttOperator, 0)
			w.nodes(n.Items[1:])
			return
		}
	}
	w.nodes(n.Items)
}

// special marks the names a form declares, then walks the rest.
func (w *semWalker) special(form string, args []tiny.Node) {
	switch form {
	case "def":
		if len(args) > 0 {
			if name, ok := args[0].(*tiny.Symbol); ok {
				if len(args) > 1 && isFnForm(args[1]) {
					w.add(name.Pos, ttFunction, modDecl)
				} else {
					w.symbol(name, modDecl)
				}
				args = args[1:]
			}
		}
	case "fn":
		if len(args) > 0 {
			if name, ok := args[0].(*tiny.Symbol); ok {
				w.add(name.Pos, ttFunction, modDecl)
				args = args[1:]
			}
		}
		if len(args) > 0 {
			if params, ok := args[0].(*tiny.ArrayLiteral); ok {
				for _, p := range params.Items {
					if s, ok := p.(*tiny.Symbol); ok {
						w.add(s.Pos, ttParameter, modDecl)
					}
				}
				args = args[1:]
			}
		}
	}
	w.nodes(args)
}

func isFnForm(n tiny.Node) bool {
	l, ok := n.(*tiny.List)
	return ok && l.Head() != nil && l.Head().Name == "fn"
}

package tiny

import (
	"strconv"
	"strings"

	"vmkit/internal/diag"
)

// Node is one form produced by the reader.
type Node interface {
	Range() diag.Range
	String() string
}

type Program struct {
	Forms []Node
}

func (p *Program) String() string {
	parts := make([]string, len(p.Forms))
	for i, f := range p.Forms {
		parts[i] = f.String()
	}
	return strings.Join(parts, "\n")
}

type IntegerLiteral struct {
	Pos   diag.Range
	Value int64
}

func (n *IntegerLiteral) Range() diag.Range { return n.Pos }
func (n *IntegerLiteral) String() string    { return strconv.FormatInt(n.Value, 10) }

type StringLiteral struct {
	Pos   diag.Range
	Value string
}

func (n *StringLiteral) Range() diag.Range { return n.Pos }
func (n *StringLiteral) String() string    { return strconv.Quote(n.Value) }

type Symbol struct {
	Pos  diag.Range
	Name string
}

func (n *Symbol) Range() diag.Range { return n.Pos }
func (n *Symbol) String() string    { return n.Name }

// List is a parenthesized form: a call or a special form.
type List struct {
	Pos   diag.Range
	Items []Node
}

func (n *List) Range() diag.Range { return n.Pos }
func (n *List) String() string    { return "(" + joinNodes(n.Items) + ")" }

// Head is the symbol in call position, or nil.
func (n *List) Head() *Symbol {
	if len(n.Items) == 0 {
		return nil
	}
	sym, _ := n.Items[0].(*Symbol)
	return sym
}

type ArrayLiteral struct {
	Pos   diag.Range
	Items []Node
}

func (n *ArrayLiteral) Range() diag.Range { return n.Pos }
func (n *ArrayLiteral) String() string    { return "[" + joinNodes(n.Items) + "]" }

// HashLiteral holds keys and values interleaved, as written.
type HashLiteral struct {
	Pos   diag.Range
	Items []Node
}

func (n *HashLiteral) Range() diag.Range { return n.Pos }
func (n *HashLiteral) String() string    { return "{" + joinNodes(n.Items) + "}" }

func joinNodes(nodes []Node) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = n.String()
	}
	return strings.Join(parts, " ")
}

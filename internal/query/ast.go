// Package query parses the boolean search syntax into an expression tree and
// compiles it to bleve queries.
//
//	кот пёс               either term (adjacent terms are alternatives)
//	кот AND пёс           both terms
//	кот AND NOT пёс       first but not second
//	(кот OR пёс) AND слон grouping
//	"серый кот"           phrase
//	title:кот             term restricted to one text field
//	node_id:10            numeric equality; node_id:>=10, post_date:<5 for ranges
package query

import (
	"fmt"
	"strings"
)

// Node is a parsed query expression.
type Node interface {
	String() string
}

// Term matches analysed text. An empty Field means every searchable field.
type Term struct {
	Field  string
	Text   string
	Phrase bool
}

func (t *Term) String() string {
	text := t.Text
	if t.Phrase {
		text = fmt.Sprintf("%q", t.Text)
	}
	if t.Field == "" {
		return text
	}
	return t.Field + ":" + text
}

// Compare is a numeric comparison operator.
type Compare string

const (
	CompareEQ Compare = "="
	CompareGT Compare = ">"
	CompareGE Compare = ">="
	CompareLT Compare = "<"
	CompareLE Compare = "<="
)

// Range filters a numeric field.
type Range struct {
	Field string
	Op    Compare
	Value int64
}

func (r *Range) String() string {
	return fmt.Sprintf("%s:%s%d", r.Field, r.Op, r.Value)
}

// And requires every child.
type And struct {
	Children []Node
}

func (a *And) String() string { return group("AND", a.Children) }

// Or requires at least one child.
type Or struct {
	Children []Node
}

func (o *Or) String() string { return group("OR", o.Children) }

// Not excludes its child.
type Not struct {
	Child Node
}

func (n *Not) String() string { return "(NOT " + n.Child.String() + ")" }

func group(op string, children []Node) string {
	parts := make([]string, len(children))
	for i, c := range children {
		parts[i] = c.String()
	}
	return "(" + op + " " + strings.Join(parts, " ") + ")"
}

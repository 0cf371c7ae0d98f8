package query

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/tsearch/internal/schema"
	"github.com/hyperjump/tsearch/internal/textpipe"
)

// Parser turns query text into bleve queries over the registry's fields.
type Parser struct {
	reg *schema.Registry
}

// NewParser returns a parser for reg.
func NewParser(reg *schema.Registry) *Parser {
	return &Parser{reg: reg}
}

// Parse parses raw query text into an expression tree. Words and phrases
// pass through the pipeline's Normalize; numeric field values do not, so a
// leading minus sign survives.
func (p *Parser) Parse(input string) (Node, error) {
	toks, err := lex(input)
	if err != nil {
		return nil, err
	}
	if toks, err = p.normalize(toks); err != nil {
		return nil, err
	}
	if toks[0].kind == tokEOF {
		return nil, &SyntaxError{Pos: 0, Msg: "empty query"}
	}
	st := &state{toks: toks, reg: p.reg}
	n, err := st.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := st.peek(); tok.kind != tokEOF {
		return nil, &SyntaxError{Pos: tok.pos, Msg: "unexpected " + tok.describe()}
	}
	return n, nil
}

// Build parses input and compiles the result.
func (p *Parser) Build(input string) (blevequery.Query, error) {
	n, err := p.Parse(input)
	if err != nil {
		return nil, err
	}
	return p.Compile(n), nil
}

// normalize applies the substitutions token by token. A word the
// substitutions split is lexed again in place.
func (p *Parser) normalize(toks []token) ([]token, error) {
	pl := p.reg.Pipeline()
	if pl == nil {
		return toks, nil
	}
	out := make([]token, 0, len(toks))
	for _, t := range toks {
		switch {
		case t.kind == tokQuoted:
			t.text = pl.Normalize(t.text)
		case t.kind == tokWord && !p.numericField(t.text):
			norm := pl.Normalize(t.text)
			if norm == t.text {
				break
			}
			sub, err := lex(norm)
			if err != nil {
				var se *SyntaxError
				if errors.As(err, &se) {
					se.Pos += t.pos
				}
				return nil, err
			}
			for _, st := range sub[:len(sub)-1] {
				st.pos += t.pos
				out = append(out, st)
			}
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// numericField reports whether word is field:value on a numeric field.
func (p *Parser) numericField(word string) bool {
	i := strings.IndexByte(word, ':')
	if i <= 0 {
		return false
	}
	f, ok := p.reg.Field(word[:i])
	return ok && f.Kind == schema.KindNumeric
}

type state struct {
	toks []token
	pos  int
	reg  *schema.Registry
}

func (s *state) peek() token { return s.toks[s.pos] }

func (s *state) next() token {
	t := s.toks[s.pos]
	if t.kind != tokEOF {
		s.pos++
	}
	return t
}

func startsOperand(k tokenKind) bool {
	return k == tokWord || k == tokQuoted || k == tokLParen || k == tokNot
}

// parseOr: and (("OR" | adjacency) and)*
func (s *state) parseOr() (Node, error) {
	first, err := s.parseAnd()
	if err != nil {
		return nil, err
	}
	children := []Node{first}
	for {
		tok := s.peek()
		if tok.kind == tokOr {
			s.next()
		} else if !startsOperand(tok.kind) {
			break
		}
		n, err := s.parseAnd()
		if err != nil {
			return nil, err
		}
		children = append(children, n)
	}
	if len(children) == 1 {
		return first, nil
	}
	return &Or{Children: children}, nil
}

// parseAnd: unary ("AND" unary)*
func (s *state) parseAnd() (Node, error) {
	first, err := s.parseUnary()
	if err != nil {
		return nil, err
	}
	children := []Node{first}
	for s.peek().kind == tokAnd {
		s.next()
		n, err := s.parseUnary()
		if err != nil {
			return nil, err
		}
		children = append(children, n)
	}
	if len(children) == 1 {
		return first, nil
	}
	return &And{Children: children}, nil
}

func (s *state) parseUnary() (Node, error) {
	if s.peek().kind == tokNot {
		s.next()
		child, err := s.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Not{Child: child}, nil
	}
	return s.parsePrimary()
}

func (s *state) parsePrimary() (Node, error) {
	tok := s.next()
	switch tok.kind {
	case tokLParen:
		n, err := s.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := s.next(); closing.kind != tokRParen {
			return nil, &SyntaxError{Pos: closing.pos, Msg: "expected \")\", got " + closing.describe()}
		}
		return n, nil
	case tokQuoted:
		if strings.TrimSpace(tok.text) == "" {
			return nil, &SyntaxError{Pos: tok.pos, Msg: "empty phrase"}
		}
		return &Term{Text: tok.text, Phrase: true}, nil
	case tokWord:
		return s.parseWord(tok)
	}
	return nil, &SyntaxError{Pos: tok.pos, Msg: "unexpected " + tok.describe()}
}

func (s *state) parseWord(tok token) (Node, error) {
	i := strings.IndexByte(tok.text, ':')
	if i <= 0 {
		return &Term{Text: tok.text}, nil
	}
	name, value := tok.text[:i], tok.text[i+1:]
	field, ok := s.reg.Field(name)
	if !ok {
		return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("unknown field %q", name)}
	}

	phrase := false
	if value == "" && field.Kind == schema.KindNumeric {
		return nil, &SyntaxError{Pos: tok.pos + i + 1, Msg: fmt.Sprintf("field %q needs a value right after the colon", name)}
	}
	if value == "" {
		v := s.peek()
		if v.kind != tokWord && v.kind != tokQuoted {
			return nil, &SyntaxError{Pos: v.pos, Msg: fmt.Sprintf("missing value for field %q", name)}
		}
		s.next()
		value, phrase = v.text, v.kind == tokQuoted
	}

	if field.Kind == schema.KindNumeric {
		if phrase {
			return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("field %q is numeric", name)}
		}
		return parseRange(name, value, tok.pos)
	}
	return &Term{Field: name, Text: value, Phrase: phrase}, nil
}

func parseRange(field, value string, pos int) (Node, error) {
	op := CompareEQ
	for _, candidate := range []Compare{CompareGE, CompareLE, CompareGT, CompareLT, CompareEQ} {
		if strings.HasPrefix(value, string(candidate)) {
			op = candidate
			value = value[len(candidate):]
			break
		}
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, &SyntaxError{Pos: pos, Msg: fmt.Sprintf("field %q needs an integer, got %q", field, value)}
	}
	return &Range{Field: field, Op: op, Value: n}, nil
}

// Compile converts an expression tree to a bleve query. Text terms are
// analysed with the shared pipeline analyzer.
func (p *Parser) Compile(n Node) blevequery.Query {
	switch n := n.(type) {
	case *Term:
		fields := []string{n.Field}
		if n.Field == "" {
			fields = p.reg.SearchableFields()
		}
		qs := make([]blevequery.Query, len(fields))
		for i, f := range fields {
			qs[i] = textQuery(f, n.Text, n.Phrase)
		}
		if len(qs) == 1 {
			return qs[0]
		}
		return bleve.NewDisjunctionQuery(qs...)

	case *Range:
		return rangeQuery(n)

	case *Or:
		qs := make([]blevequery.Query, len(n.Children))
		for i, c := range n.Children {
			qs[i] = p.Compile(c)
		}
		return bleve.NewDisjunctionQuery(qs...)

	case *And:
		var must, mustNot []blevequery.Query
		for _, c := range n.Children {
			if neg, ok := c.(*Not); ok {
				mustNot = append(mustNot, p.Compile(neg.Child))
			} else {
				must = append(must, p.Compile(c))
			}
		}
		if len(mustNot) == 0 {
			return bleve.NewConjunctionQuery(must...)
		}
		if len(must) == 0 {
			must = []blevequery.Query{bleve.NewMatchAllQuery()}
		}
		return blevequery.NewBooleanQuery(must, nil, mustNot)

	case *Not:
		return blevequery.NewBooleanQuery(
			[]blevequery.Query{bleve.NewMatchAllQuery()}, nil,
			[]blevequery.Query{p.Compile(n.Child)})
	}
	return bleve.NewMatchNoneQuery()
}

func textQuery(field, text string, phrase bool) blevequery.Query {
	if phrase {
		q := bleve.NewMatchPhraseQuery(text)
		q.SetField(field)
		q.Analyzer = textpipe.AnalyzerName
		return q
	}
	q := bleve.NewMatchQuery(text)
	q.SetField(field)
	q.Analyzer = textpipe.AnalyzerName
	return q
}

func rangeQuery(r *Range) blevequery.Query {
	v := float64(r.Value)
	yes, no := true, false
	var q *blevequery.NumericRangeQuery
	switch r.Op {
	case CompareGT:
		q = bleve.NewNumericRangeInclusiveQuery(&v, nil, &no, nil)
	case CompareGE:
		q = bleve.NewNumericRangeInclusiveQuery(&v, nil, &yes, nil)
	case CompareLT:
		q = bleve.NewNumericRangeInclusiveQuery(nil, &v, nil, &no)
	case CompareLE:
		q = bleve.NewNumericRangeInclusiveQuery(nil, &v, nil, &yes)
	default:
		q = bleve.NewNumericRangeInclusiveQuery(&v, &v, &yes, &yes)
	}
	q.SetField(r.Field)
	return q
}

// Package querylang parses the structured search syntax and compiles it
// to a full-text query plus an engine filter expression.
//
// Syntax: bare terms, "quoted phrases", field:value filters, AND / OR /
// NOT (uppercase) and parentheses. Lowercase and/or/not are ordinary
// terms so natural-language text passes through untouched.
package querylang

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/avolkov/docvault/internal/core/domain"
)

// Compiled is what the search facade hands to the full-text engine.
type Compiled struct {
	Query  string
	Filter string
}

// filterableFields are the fields declared filterable on the index.
var filterableFields = map[string]bool{
	"mime_type": true,
	"tags":      true,
	"filename":  true,
}

// Parse compiles a structured query. Negation is only defined for field
// filters; NOT on free text has no engine representation and is rejected.
func Parse(input string) (Compiled, error) {
	tokens, err := tokenize(input)
	if err != nil {
		return Compiled{}, domain.WrapError(domain.ErrInvalidInput, "parse query", err)
	}
	if len(tokens) == 0 {
		return Compiled{}, domain.WrapError(domain.ErrInvalidInput, "parse query", fmt.Errorf("empty query"))
	}

	p := &parser{tokens: tokens}
	node, err := p.parseOr()
	if err != nil {
		return Compiled{}, domain.WrapError(domain.ErrInvalidInput, "parse query", err)
	}
	if p.pos != len(p.tokens) {
		return Compiled{}, domain.WrapError(domain.ErrInvalidInput, "parse query", fmt.Errorf("unexpected token %q", p.tokens[p.pos].value))
	}

	compiled, err := compile(node)
	if err != nil {
		return Compiled{}, domain.WrapError(domain.ErrInvalidInput, "compile query", err)
	}
	return compiled, nil
}

// IsStructured reports whether the input uses any structured syntax. The
// facade uses this to pick between the parser and the natural-language
// path.
func IsStructured(input string) bool {
	if strings.ContainsAny(input, `"():`) {
		return true
	}
	for _, word := range strings.Fields(input) {
		if word == "AND" || word == "OR" || word == "NOT" {
			return true
		}
	}
	return false
}

type tokenKind int

const (
	tokenTerm tokenKind = iota
	tokenPhrase
	tokenFilter
	tokenAnd
	tokenOr
	tokenNot
	tokenLParen
	tokenRParen
)

type token struct {
	kind  tokenKind
	value string
	field string
}

func tokenize(input string) ([]token, error) {
	var tokens []token
	runes := []rune(input)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, token{kind: tokenLParen, value: "("})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokenRParen, value: ")"})
			i++
		case r == '"':
			value, next, err := readQuoted(runes, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokenPhrase, value: value})
			i = next
		default:
			start := i
			for i < len(runes) && !unicode.IsSpace(runes[i]) && runes[i] != '(' && runes[i] != ')' && runes[i] != '"' && runes[i] != ':' {
				i++
			}
			word := string(runes[start:i])
			if i < len(runes) && runes[i] == ':' {
				i++
				var value string
				if i < len(runes) && runes[i] == '"' {
					quoted, next, err := readQuoted(runes, i)
					if err != nil {
						return nil, err
					}
					value = quoted
					i = next
				} else {
					valueStart := i
					for i < len(runes) && !unicode.IsSpace(runes[i]) && runes[i] != '(' && runes[i] != ')' {
						i++
					}
					value = string(runes[valueStart:i])
				}
				if word == "" || value == "" {
					return nil, fmt.Errorf("malformed field filter near %q", word+":"+value)
				}
				tokens = append(tokens, token{kind: tokenFilter, field: word, value: value})
				continue
			}

			switch word {
			case "AND":
				tokens = append(tokens, token{kind: tokenAnd, value: word})
			case "OR":
				tokens = append(tokens, token{kind: tokenOr, value: word})
			case "NOT":
				tokens = append(tokens, token{kind: tokenNot, value: word})
			default:
				tokens = append(tokens, token{kind: tokenTerm, value: word})
			}
		}
	}
	return tokens, nil
}

func readQuoted(runes []rune, start int) (string, int, error) {
	i := start + 1
	from := i
	for i < len(runes) && runes[i] != '"' {
		i++
	}
	if i >= len(runes) {
		return "", 0, fmt.Errorf("unterminated phrase")
	}
	return string(runes[from:i]), i + 1, nil
}

type nodeKind int

const (
	nodeTerm nodeKind = iota
	nodePhrase
	nodeFilter
	nodeAnd
	nodeOr
	nodeNot
)

type node struct {
	kind        nodeKind
	value       string
	field       string
	left, right *node
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.tokens) {
		return token{}, false
	}
	return p.tokens[p.pos], true
}

func (p *parser) parseOr() (*node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.kind != tokenOr {
			return left, nil
		}
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &node{kind: nodeOr, left: left, right: right}
	}
}

// parseAnd also treats plain adjacency as conjunction, so
// `report mime_type:application/pdf` needs no explicit AND.
func (p *parser) parseAnd() (*node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.kind == tokenOr || tok.kind == tokenRParen {
			return left, nil
		}
		if tok.kind == tokenAnd {
			p.pos++
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &node{kind: nodeAnd, left: left, right: right}
	}
}

func (p *parser) parseUnary() (*node, error) {
	tok, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("unexpected end of query")
	}
	if tok.kind == tokenNot {
		p.pos++
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &node{kind: nodeNot, left: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (*node, error) {
	tok, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("unexpected end of query")
	}
	switch tok.kind {
	case tokenLParen:
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		closing, ok := p.peek()
		if !ok || closing.kind != tokenRParen {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return inner, nil
	case tokenTerm:
		p.pos++
		return &node{kind: nodeTerm, value: tok.value}, nil
	case tokenPhrase:
		p.pos++
		return &node{kind: nodePhrase, value: tok.value}, nil
	case tokenFilter:
		p.pos++
		if !filterableFields[tok.field] {
			return nil, fmt.Errorf("unknown filter field %q", tok.field)
		}
		return &node{kind: nodeFilter, field: tok.field, value: tok.value}, nil
	default:
		return nil, fmt.Errorf("unexpected token %q", tok.value)
	}
}

type compiled struct {
	terms  []string
	filter string
}

func compile(n *node) (Compiled, error) {
	c, err := compileNode(n)
	if err != nil {
		return Compiled{}, err
	}
	return Compiled{
		Query:  strings.Join(c.terms, " "),
		Filter: c.filter,
	}, nil
}

func compileNode(n *node) (compiled, error) {
	switch n.kind {
	case nodeTerm:
		return compiled{terms: []string{n.value}}, nil
	case nodePhrase:
		return compiled{terms: []string{`"` + n.value + `"`}}, nil
	case nodeFilter:
		return compiled{filter: fmt.Sprintf("%s = %q", n.field, n.value)}, nil
	case nodeNot:
		inner, err := compileNode(n.left)
		if err != nil {
			return compiled{}, err
		}
		if len(inner.terms) > 0 || inner.filter == "" {
			return compiled{}, fmt.Errorf("NOT requires a field filter operand")
		}
		return compiled{filter: "NOT " + parenthesize(inner.filter)}, nil
	case nodeAnd:
		return compileBinary(n, "AND")
	case nodeOr:
		left, err := compileNode(n.left)
		if err != nil {
			return compiled{}, err
		}
		right, err := compileNode(n.right)
		if err != nil {
			return compiled{}, err
		}
		// OR over free text degrades to the engine's bag-of-words
		// relevance; OR mixing text with a filter has no engine
		// representation.
		switch {
		case left.filter == "" && right.filter == "":
			return compiled{terms: append(left.terms, right.terms...)}, nil
		case len(left.terms) == 0 && len(right.terms) == 0:
			return compiled{filter: parenthesize(left.filter) + " OR " + parenthesize(right.filter)}, nil
		default:
			return compiled{}, fmt.Errorf("OR cannot combine free text with field filters")
		}
	default:
		return compiled{}, fmt.Errorf("unknown query node")
	}
}

func compileBinary(n *node, op string) (compiled, error) {
	left, err := compileNode(n.left)
	if err != nil {
		return compiled{}, err
	}
	right, err := compileNode(n.right)
	if err != nil {
		return compiled{}, err
	}

	out := compiled{terms: append(left.terms, right.terms...)}
	switch {
	case left.filter != "" && right.filter != "":
		out.filter = parenthesize(left.filter) + " " + op + " " + parenthesize(right.filter)
	case left.filter != "":
		out.filter = left.filter
	case right.filter != "":
		out.filter = right.filter
	}
	return out, nil
}

func parenthesize(filter string) string {
	if strings.ContainsAny(filter, " ") && (strings.Contains(filter, " OR ") || strings.Contains(filter, " AND ")) {
		return "(" + filter + ")"
	}
	return filter
}

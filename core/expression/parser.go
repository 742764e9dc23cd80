package expression

import (
	"fmt"
	"strings"

	perrors "printshop/internal/errors"
)

const (
	// MaxFormulaLength bounds admin-authored formula size in bytes.
	MaxFormulaLength = 512

	// MaxDepth bounds nesting of parentheses, unary operators and calls.
	MaxDepth = 32
)

// Formula is a parsed formula. It is immutable and safe for concurrent use.
type Formula struct {
	source string
	root   node
	vars   []string
}

// Parse compiles a formula into an evaluable tree.
func Parse(src string) (*Formula, error) {
	if len(src) > MaxFormulaLength {
		return nil, perrors.InvalidFormula(MaxFormulaLength, fmt.Sprintf("formula exceeds %d bytes", MaxFormulaLength))
	}
	if strings.TrimSpace(src) == "" {
		return nil, perrors.InvalidFormula(0, "empty formula")
	}

	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens, seen: make(map[string]bool)}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokenEOF {
		return nil, perrors.InvalidFormula(tok.pos, fmt.Sprintf("unexpected %s", describe(tok)))
	}

	return &Formula{source: src, root: root, vars: p.vars}, nil
}

// Source returns the formula text as authored
func (f *Formula) Source() string {
	return f.source
}

// Variables returns the variable names referenced by the formula in order of first use
func (f *Formula) Variables() []string {
	out := make([]string, len(f.vars))
	copy(out, f.vars)
	return out
}

type parser struct {
	tokens []token
	pos    int
	depth  int
	vars   []string
	seen   map[string]bool
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokenEOF {
		p.pos++
	}
	return tok
}

func (p *parser) enter(pos int) error {
	p.depth++
	if p.depth > MaxDepth {
		return perrors.InvalidFormula(pos, fmt.Sprintf("nesting deeper than %d", MaxDepth))
	}
	return nil
}

func (p *parser) leave() {
	p.depth--
}

// expr := term (("+"|"-") term)*
func (p *parser) parseExpr() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokenPlus && tok.kind != tokenMinus {
			return left, nil
		}
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: tok.kind, left: left, right: right, pos: tok.pos}
	}
}

// term := unary (("*"|"/") unary)*
func (p *parser) parseTerm() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokenStar && tok.kind != tokenSlash {
			return left, nil
		}
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: tok.kind, left: left, right: right, pos: tok.pos}
	}
}

// unary := ("+"|"-") unary | primary
func (p *parser) parseUnary() (node, error) {
	tok := p.peek()
	if tok.kind != tokenPlus && tok.kind != tokenMinus {
		return p.parsePrimary()
	}
	p.next()
	if err := p.enter(tok.pos); err != nil {
		return nil, err
	}
	defer p.leave()

	operand, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if tok.kind == tokenPlus {
		return operand, nil
	}
	return &negateNode{operand: operand}, nil
}

// primary := number | ident | ident "(" args ")" | "(" expr ")"
func (p *parser) parsePrimary() (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokenNumber:
		return &numberNode{value: tok.value}, nil

	case tokenIdent:
		if p.peek().kind == tokenLParen {
			return p.parseCall(tok)
		}
		if !p.seen[tok.text] {
			p.seen[tok.text] = true
			p.vars = append(p.vars, tok.text)
		}
		return &variableNode{name: tok.text, pos: tok.pos}, nil

	case tokenLParen:
		if err := p.enter(tok.pos); err != nil {
			return nil, err
		}
		defer p.leave()

		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokenRParen {
			return nil, perrors.InvalidFormula(closing.pos, fmt.Sprintf("expected ')' but found %s", describe(closing)))
		}
		return inner, nil

	default:
		return nil, perrors.InvalidFormula(tok.pos, fmt.Sprintf("unexpected %s", describe(tok)))
	}
}

func (p *parser) parseCall(name token) (node, error) {
	fn, ok := functions[strings.ToLower(name.text)]
	if !ok {
		return nil, perrors.InvalidFormula(name.pos, fmt.Sprintf("unknown function %q", name.text))
	}
	if err := p.enter(name.pos); err != nil {
		return nil, err
	}
	defer p.leave()

	p.next() // (
	var args []node
	if p.peek().kind != tokenRParen {
		for {
			arg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().kind != tokenComma {
				break
			}
			p.next()
		}
	}
	if closing := p.next(); closing.kind != tokenRParen {
		return nil, perrors.InvalidFormula(closing.pos, fmt.Sprintf("expected ')' but found %s", describe(closing)))
	}

	if len(args) < fn.minArgs || (fn.maxArgs >= 0 && len(args) > fn.maxArgs) {
		return nil, perrors.InvalidFormula(name.pos, fmt.Sprintf("%s expects %s, got %d", fn.name, fn.arity(), len(args)))
	}
	return &callNode{fn: fn, args: args, pos: name.pos}, nil
}

func describe(tok token) string {
	if tok.kind == tokenNumber || tok.kind == tokenIdent {
		return fmt.Sprintf("%s %q", tok.kind, tok.text)
	}
	return tok.kind.String()
}

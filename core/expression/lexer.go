// Package expression implements the closed numeric formula language used by
// operation norms: arithmetic, parentheses, numeric literals, context
// variables and a fixed set of rounding/min/max functions.
package expression

import (
	"fmt"
	"strconv"

	perrors "printshop/internal/errors"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenNumber
	tokenIdent
	tokenPlus
	tokenMinus
	tokenStar
	tokenSlash
	tokenLParen
	tokenRParen
	tokenComma
)

func (k tokenKind) String() string {
	switch k {
	case tokenEOF:
		return "end of formula"
	case tokenNumber:
		return "number"
	case tokenIdent:
		return "identifier"
	case tokenPlus:
		return "'+'"
	case tokenMinus:
		return "'-'"
	case tokenStar:
		return "'*'"
	case tokenSlash:
		return "'/'"
	case tokenLParen:
		return "'('"
	case tokenRParen:
		return "')'"
	case tokenComma:
		return "','"
	default:
		return "unknown"
	}
}

type token struct {
	kind  tokenKind
	text  string
	value float64
	pos   int
}

// lex splits a formula into tokens. Positions are byte offsets into the source.
func lex(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case isDigit(c) || c == '.':
			start := i
			end, err := scanNumber(src, i)
			if err != nil {
				return nil, err
			}
			text := src[start:end]
			v, perr := strconv.ParseFloat(text, 64)
			if perr != nil {
				return nil, perrors.InvalidFormula(start, fmt.Sprintf("malformed number %q", text))
			}
			tokens = append(tokens, token{kind: tokenNumber, text: text, value: v, pos: start})
			i = end
		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokenIdent, text: src[start:i], pos: start})
		default:
			kind, ok := punctuation[c]
			if !ok {
				return nil, perrors.InvalidFormula(i, fmt.Sprintf("unexpected character %q", c))
			}
			tokens = append(tokens, token{kind: kind, text: string(c), pos: i})
			i++
		}
	}
	tokens = append(tokens, token{kind: tokenEOF, pos: len(src)})
	return tokens, nil
}

var punctuation = map[byte]tokenKind{
	'+': tokenPlus,
	'-': tokenMinus,
	'*': tokenStar,
	'/': tokenSlash,
	'(': tokenLParen,
	')': tokenRParen,
	',': tokenComma,
}

// scanNumber accepts digits with at most one decimal point and an optional exponent.
func scanNumber(src string, i int) (int, error) {
	start := i
	digits, dots := 0, 0
	for i < len(src) && (isDigit(src[i]) || src[i] == '.') {
		if src[i] == '.' {
			dots++
		} else {
			digits++
		}
		i++
	}
	if dots > 1 || digits == 0 {
		return 0, perrors.InvalidFormula(start, fmt.Sprintf("malformed number %q", src[start:i]))
	}
	if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
		j := i + 1
		if j < len(src) && (src[j] == '+' || src[j] == '-') {
			j++
		}
		if j >= len(src) || !isDigit(src[j]) {
			return 0, perrors.InvalidFormula(i, "malformed exponent")
		}
		for j < len(src) && isDigit(src[j]) {
			j++
		}
		i = j
	}
	return i, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool { return isIdentStart(c) || isDigit(c) }

// Package calc evaluates arithmetic expressions from a restricted grammar.
//
// Supported:
//   - numbers (decimal, optional exponent), parentheses
//   - + - * / and ** (^ is accepted as power)
//   - % as modulo between operands, or as a postfix percent ("25%" == 0.25)
//   - the word "of" as multiplication, so "25% of 10000" == 2500
//
// Expressions are tokenised and parsed into a small syntax tree; nothing is
// ever executed beyond the arithmetic in that tree.
package calc

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/width"
)

var (
	ErrInvalidExpression = errors.New("invalid expression")
	ErrDivisionByZero    = errors.New("division by zero")
)

// MaxExpressionRunes bounds the accepted input length.
const MaxExpressionRunes = 512

// SyntaxError reports where in the normalised expression parsing failed.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid expression: %s at position %d", e.Msg, e.Pos)
}

func (e *SyntaxError) Unwrap() error { return ErrInvalidExpression }

var symbolReplacer = strings.NewReplacer(
	"×", "*", "✕", "*", "⋅", "*", "·", "*", "∙", "*", "∗", "*",
	"÷", "/", "∕", "/", "⁄", "/",
	"−", "-", "–", "-", "—", "-",
	"^", "**",
)

var digitGroup = regexp.MustCompile(`(\d),(\d{3})\b`)

// Normalize folds fullwidth forms and operator look-alikes to ASCII and drops
// thousands separators ("10,000" -> "10000").
func Normalize(expr string) string {
	s := width.Narrow.String(expr)
	s = symbolReplacer.Replace(s)
	for {
		next := digitGroup.ReplaceAllString(s, "$1$2")
		if next == s {
			break
		}
		s = next
	}
	return strings.TrimSpace(s)
}

// Evaluate normalises, parses and evaluates expr.
func Evaluate(expr string) (float64, error) {
	if utf8.RuneCountInString(expr) > MaxExpressionRunes {
		return 0, fmt.Errorf("%w: longer than %d characters", ErrInvalidExpression, MaxExpressionRunes)
	}
	tree, err := Parse(expr)
	if err != nil {
		return 0, err
	}
	return tree.eval()
}

// Parse normalises expr and returns its syntax tree.
func Parse(expr string) (Node, error) {
	toks, err := lex(Normalize(expr))
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	n, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unexpected %q", t.text)}
	}
	return n, nil
}

// Format renders integral results without a fraction and everything else
// rounded to four decimals with trailing zeros removed.
func Format(v float64) string {
	if v == 0 {
		return "0"
	}
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	s := strconv.FormatFloat(v, 'f', 4, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "-0" {
		return "0"
	}
	return s
}

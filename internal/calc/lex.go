package calc

import (
	"fmt"
	"strings"
	"unicode"
)

type tokKind int

const (
	tokEOF tokKind = iota
	tokNum
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokPow
	tokPercent
	tokOf
	tokLParen
	tokRParen
)

type token struct {
	kind tokKind
	text string
	pos  int
}

func lex(s string) ([]token, error) {
	var toks []token
	rs := []rune(s)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case isDigit(r) || r == '.':
			start := i
			i = scanNumber(rs, i)
			text := string(rs[start:i])
			if text == "." {
				return nil, &SyntaxError{Pos: start, Msg: "lone decimal point"}
			}
			toks = append(toks, token{kind: tokNum, text: text, pos: start})
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(rs) && (unicode.IsLetter(rs[i]) || unicode.IsDigit(rs[i]) || rs[i] == '_') {
				i++
			}
			word := string(rs[start:i])
			if strings.EqualFold(word, "of") {
				toks = append(toks, token{kind: tokOf, text: word, pos: start})
				continue
			}
			return nil, &SyntaxError{Pos: start, Msg: fmt.Sprintf("unsupported identifier %q", word)}
		case r == '*':
			if i+1 < len(rs) && rs[i+1] == '*' {
				toks = append(toks, token{kind: tokPow, text: "**", pos: i})
				i += 2
				continue
			}
			toks = append(toks, token{kind: tokStar, text: "*", pos: i})
			i++
		default:
			kind, ok := singles[r]
			if !ok {
				return nil, &SyntaxError{Pos: i, Msg: fmt.Sprintf("unsupported character %q", r)}
			}
			toks = append(toks, token{kind: kind, text: string(r), pos: i})
			i++
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(rs)}), nil
}

var singles = map[rune]tokKind{
	'+': tokPlus,
	'-': tokMinus,
	'/': tokSlash,
	'%': tokPercent,
	'(': tokLParen,
	')': tokRParen,
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

// scanNumber consumes digits, an optional fraction and an optional exponent.
func scanNumber(rs []rune, i int) int {
	for i < len(rs) && isDigit(rs[i]) {
		i++
	}
	if i < len(rs) && rs[i] == '.' {
		i++
		for i < len(rs) && isDigit(rs[i]) {
			i++
		}
	}
	if i < len(rs) && (rs[i] == 'e' || rs[i] == 'E') {
		j := i + 1
		if j < len(rs) && (rs[j] == '+' || rs[j] == '-') {
			j++
		}
		if j < len(rs) && isDigit(rs[j]) {
			for j < len(rs) && isDigit(rs[j]) {
				j++
			}
			i = j
		}
	}
	return i
}

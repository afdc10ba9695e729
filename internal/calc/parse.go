package calc

import (
	"fmt"
	"math"
	"strconv"
)

// Node is an element of a parsed expression tree.
type Node interface {
	eval() (float64, error)
	String() string
}

type numberNode struct{ v float64 }

type unaryNode struct {
	op tokKind
	x  Node
}

type binaryNode struct {
	op   tokKind
	l, r Node
}

type percentNode struct{ x Node }

type parser struct {
	toks []token
	i    int
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) peekAt(off int) token {
	if p.i+off < len(p.toks) {
		return p.toks[p.i+off]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

// expr := term {("+"|"-") term}
func (p *parser) parseExpr() (Node, error) {
	l, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokPlus && t.kind != tokMinus {
			return l, nil
		}
		p.next()
		r, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		l = &binaryNode{op: t.kind, l: l, r: r}
	}
}

// term := unary {("*"|"/"|"%"|"of") unary}
func (p *parser) parseTerm() (Node, error) {
	l, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		switch t.kind {
		case tokStar, tokSlash, tokPercent, tokOf:
		default:
			return l, nil
		}
		p.next()
		r, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		op := t.kind
		if op == tokOf {
			op = tokStar
		}
		l = &binaryNode{op: op, l: l, r: r}
	}
}

// unary := ("+"|"-") unary | power
func (p *parser) parseUnary() (Node, error) {
	t := p.peek()
	if t.kind == tokPlus || t.kind == tokMinus {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: t.kind, x: x}, nil
	}
	return p.parsePower()
}

// power := postfix ["**" unary]
func (p *parser) parsePower() (Node, error) {
	base, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokPow {
		return base, nil
	}
	p.next()
	exp, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return &binaryNode{op: tokPow, l: base, r: exp}, nil
}

// postfix := primary {"%"}, where "%" is a percent unless a number or "(" follows it.
// A following sign is a binary operator, so "5 % -2" is 5% minus 2.
func (p *parser) parsePostfix() (Node, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokPercent {
		switch p.peekAt(1).kind {
		case tokNum, tokLParen:
			return x, nil
		}
		p.next()
		x = &percentNode{x: x}
	}
	return x, nil
}

// primary := number | "(" expr ")"
func (p *parser) parsePrimary() (Node, error) {
	t := p.next()
	switch t.kind {
	case tokNum:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil || math.IsInf(v, 0) {
			return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("bad number %q", t.text)}
		}
		return &numberNode{v: v}, nil
	case tokLParen:
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.kind != tokRParen {
			return nil, &SyntaxError{Pos: c.pos, Msg: "missing closing parenthesis"}
		}
		return x, nil
	case tokEOF:
		return nil, &SyntaxError{Pos: t.pos, Msg: "unexpected end of expression"}
	default:
		return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unexpected %q", t.text)}
	}
}

func (n *numberNode) eval() (float64, error) { return n.v, nil }

func (n *numberNode) String() string { return strconv.FormatFloat(n.v, 'g', -1, 64) }

func (n *unaryNode) eval() (float64, error) {
	v, err := n.x.eval()
	if err != nil {
		return 0, err
	}
	if n.op == tokMinus {
		return -v, nil
	}
	return v, nil
}

func (n *unaryNode) String() string {
	if n.op == tokMinus {
		return "(-" + n.x.String() + ")"
	}
	return n.x.String()
}

func (n *percentNode) eval() (float64, error) {
	v, err := n.x.eval()
	if err != nil {
		return 0, err
	}
	return v / 100, nil
}

func (n *percentNode) String() string { return n.x.String() + "%" }

func (n *binaryNode) eval() (float64, error) {
	l, err := n.l.eval()
	if err != nil {
		return 0, err
	}
	r, err := n.r.eval()
	if err != nil {
		return 0, err
	}
	var v float64
	switch n.op {
	case tokPlus:
		v = l + r
	case tokMinus:
		v = l - r
	case tokStar:
		v = l * r
	case tokSlash:
		if r == 0 {
			return 0, ErrDivisionByZero
		}
		v = l / r
	case tokPercent:
		if r == 0 {
			return 0, fmt.Errorf("%w: modulo by zero", ErrDivisionByZero)
		}
		v = math.Mod(l, r)
		// Result takes the sign of the divisor.
		if v != 0 && (v < 0) != (r < 0) {
			v += r
		}
	case tokPow:
		if l == 0 && r < 0 {
			return 0, fmt.Errorf("%w: zero raised to a negative power", ErrDivisionByZero)
		}
		v = math.Pow(l, r)
	default:
		return 0, fmt.Errorf("%w: unknown operator", ErrInvalidExpression)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: result is not a finite number", ErrInvalidExpression)
	}
	return v, nil
}

var opText = map[tokKind]string{
	tokPlus: "+", tokMinus: "-", tokStar: "*", tokSlash: "/", tokPercent: "%", tokPow: "**",
}

func (n *binaryNode) String() string {
	return "(" + n.l.String() + " " + opText[n.op] + " " + n.r.String() + ")"
}

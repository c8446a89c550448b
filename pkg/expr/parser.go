package expr

import (
	"strconv"
	"strings"
)

// Parse converts source text into an expression tree. Failures carry the
// Parse error kind and identify the offending span.
func Parse(src string) (*Expr, error) {
	lx := newLexer(src)
	var toks []token
	for {
		tok, err := lx.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.kind == tokEOF {
			break
		}
	}

	p := &parser{src: src, toks: toks}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, parseErr(src, p.peek().pos, "trailing input")
	}
	return e, nil
}

// MustParse is Parse for expressions known statically to be valid; it is used
// by tests and internal fixtures.
func MustParse(src string) *Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

type parser struct {
	src  string
	toks []token
	idx  int
}

func (p *parser) peek() token { return p.toks[p.idx] }

func (p *parser) next() token {
	tok := p.toks[p.idx]
	if tok.kind != tokEOF {
		p.idx++
	}
	return tok
}

func (p *parser) accept(kind tokenKind) bool {
	if p.peek().kind == kind {
		p.next()
		return true
	}
	return false
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	tok := p.peek()
	if tok.kind != kind {
		return token{}, parseErr(p.src, tok.pos, "expected %s", what)
	}
	return p.next(), nil
}

// slice returns the trimmed source between two byte offsets; it is what a
// node retains as Raw.
func (p *parser) slice(from, to int) string {
	return strings.TrimSpace(p.src[from:to])
}

func (p *parser) mk(from int, kind Kind) *Expr {
	end := from
	if p.idx > 0 {
		end = p.toks[p.idx-1].end
	}
	return &Expr{Raw: p.slice(from, end), Kind: kind}
}

// Precedence ladder, lowest first: || ; && ; == != ; < <= > >= ;
// contains / not contains ; + - ; * / % ; unary ; postfix ; primary.

func (p *parser) parseExpr() (*Expr, error) { return p.parseOr() }

func (p *parser) parseOr() (*Expr, error) {
	return p.parseBinChain(p.parseAnd, map[tokenKind]BinOpKind{tokOr: OpOr})
}

func (p *parser) parseAnd() (*Expr, error) {
	return p.parseBinChain(p.parseEquality, map[tokenKind]BinOpKind{tokAnd: OpAnd})
}

func (p *parser) parseEquality() (*Expr, error) {
	return p.parseBinChain(p.parseRelational, map[tokenKind]BinOpKind{
		tokEq: OpEq, tokNe: OpNe,
	})
}

func (p *parser) parseRelational() (*Expr, error) {
	return p.parseBinChain(p.parseContainment, map[tokenKind]BinOpKind{
		tokLt: OpLt, tokLe: OpLe, tokGt: OpGt, tokGe: OpGe,
	})
}

func (p *parser) parseBinChain(sub func() (*Expr, error), ops map[tokenKind]BinOpKind) (*Expr, error) {
	from := p.peek().pos
	left, err := sub()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := ops[p.peek().kind]
		if !ok {
			return left, nil
		}
		p.next()
		right, err := sub()
		if err != nil {
			return nil, err
		}
		left = p.mk(from, BinOp{Op: op, L: left, R: right})
	}
}

func (p *parser) parseContainment() (*Expr, error) {
	from := p.peek().pos
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.peekContainsOp()
		if !ok {
			return left, nil
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = p.mk(from, BinOp{Op: op, L: left, R: right})
	}
}

// peekContainsOp consumes `contains` or `not contains` (case-insensitive word
// forms) when next, and reports which.
func (p *parser) peekContainsOp() (BinOpKind, bool) {
	tok := p.peek()
	if tok.kind == tokIdent && strings.EqualFold(tok.text, "contains") {
		p.next()
		return OpContains, true
	}
	if tok.kind == tokNot {
		after := p.toks[p.idx+1]
		if after.kind == tokIdent && strings.EqualFold(after.text, "contains") {
			p.next()
			p.next()
			return OpNotContains, true
		}
	}
	return 0, false
}

func (p *parser) parseAdditive() (*Expr, error) {
	return p.parseBinChain(p.parseMultiplicative, map[tokenKind]BinOpKind{
		tokAdd: OpAdd, tokMinus: OpSub,
	})
}

func (p *parser) parseMultiplicative() (*Expr, error) {
	return p.parseBinChain(p.parseUnary, map[tokenKind]BinOpKind{
		tokStar: OpMul, tokSlash: OpDiv, tokPercent: OpMod,
	})
}

func (p *parser) parseUnary() (*Expr, error) {
	from := p.peek().pos
	switch p.peek().kind {
	case tokNot:
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return p.mk(from, UnOp{Op: OpNot, Expr: operand}), nil
	case tokMinus:
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return p.mk(from, UnOp{Op: OpNeg, Expr: operand}), nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (*Expr, error) {
	from := p.peek().pos
	tok := p.peek()

	switch tok.kind {
	case tokInteger:
		p.next()
		return p.mk(from, Lit{Kind: IntegerLit(tok.text)}), nil
	case tokDecimal:
		p.next()
		return p.mk(from, Lit{Kind: FloatLit(tok.text)}), nil
	case tokString:
		p.next()
		return p.mk(from, Lit{Kind: StrLit(tok.text)}), nil
	case tokBytes:
		p.next()
		return p.mk(from, Lit{Kind: BytesLit([]byte(tok.text))}), nil
	case tokBytesPrefix:
		return p.parseBytesList()
	case tokLParen:
		p.next()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		return p.mk(from, inner.Kind), nil
	case tokLSquare:
		return p.parseListLit()
	case tokLCurly:
		return p.parseMapOrSetLit()
	case tokIf:
		return p.parseIf()
	case tokIdent:
		switch strings.ToLower(tok.text) {
		case "true":
			p.next()
			return p.mk(from, Lit{Kind: BoolLit(true)}), nil
		case "false":
			p.next()
			return p.mk(from, Lit{Kind: BoolLit(false)}), nil
		case "null":
			p.next()
			return p.mk(from, Lit{Kind: NullLit{}}), nil
		}
		return p.parseTerm()
	}

	return nil, parseErr(p.src, tok.pos, "expected expression")
}

func (p *parser) parseBytesList() (*Expr, error) {
	from := p.peek().pos
	p.next() // the b prefix
	if _, err := p.expect(tokLSquare, "["); err != nil {
		return nil, err
	}
	var buf []byte
	for !p.accept(tokRSquare) {
		tok := p.next()
		switch tok.kind {
		case tokInteger:
			n, err := strconv.ParseUint(tok.text, 0, 8)
			if err != nil {
				return nil, parseErr(p.src, tok.pos, "byte out of range: %s", tok.text)
			}
			buf = append(buf, byte(n))
		case tokString:
			buf = append(buf, []byte(tok.text)...)
		default:
			return nil, parseErr(p.src, tok.pos, "expected byte value")
		}
		if !p.accept(tokComma) {
			if _, err := p.expect(tokRSquare, "]"); err != nil {
				return nil, err
			}
			break
		}
	}
	return p.mk(from, Lit{Kind: BytesLit(buf)}), nil
}

func (p *parser) parseListLit() (*Expr, error) {
	from := p.peek().pos
	p.next() // [
	var elems []*Expr
	for !p.accept(tokRSquare) {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
		if !p.accept(tokComma) {
			if _, err := p.expect(tokRSquare, "]"); err != nil {
				return nil, err
			}
			break
		}
	}
	return p.mk(from, Lit{Kind: ListLit(elems)}), nil
}

// parseMapOrSetLit disambiguates `{...}` after the first element: a colon
// makes it a map, anything else a set. `{}` is the empty map.
func (p *parser) parseMapOrSetLit() (*Expr, error) {
	from := p.peek().pos
	p.next() // {
	if p.accept(tokRCurly) {
		return p.mk(from, Lit{Kind: MapLit(nil)}), nil
	}

	first, err := p.parseExpr()
	if err != nil {
		return nil, err
	}

	if p.accept(tokColon) {
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		entries := []MapEntry{{Key: first, Value: val}}
		for p.accept(tokComma) {
			k, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokColon, ":"); err != nil {
				return nil, err
			}
			v, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			entries = append(entries, MapEntry{Key: k, Value: v})
		}
		if _, err := p.expect(tokRCurly, "}"); err != nil {
			return nil, err
		}
		return p.mk(from, Lit{Kind: MapLit(entries)}), nil
	}

	elems := []*Expr{first}
	for p.accept(tokComma) {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
	}
	if _, err := p.expect(tokRCurly, "}"); err != nil {
		return nil, err
	}
	return p.mk(from, Lit{Kind: SetLit(elems)}), nil
}

func (p *parser) parseIf() (*Expr, error) {
	from := p.peek().pos
	p.next() // if
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokLCurly, "{"); err != nil {
		return nil, err
	}
	then, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRCurly, "}"); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokElse, "else"); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokLCurly, "{"); err != nil {
		return nil, err
	}
	alt, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRCurly, "}"); err != nil {
		return nil, err
	}
	return p.mk(from, If{Cond: cond, Then: then, Else: alt}), nil
}

// parseTerm parses a leading identifier plus its postfix parts.
func (p *parser) parseTerm() (*Expr, error) {
	from := p.peek().pos
	lead, err := p.expect(tokIdent, "identifier")
	if err != nil {
		return nil, err
	}
	parts := []TermPart{IdentPart(lead.text)}

	for {
		switch p.peek().kind {
		case tokDot:
			p.next()
			id, err := p.expect(tokIdent, "identifier after '.'")
			if err != nil {
				return nil, err
			}
			parts = append(parts, IdentPart(id.text))
		case tokLParen:
			p.next()
			var args []*Expr
			for !p.accept(tokRParen) {
				a, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				args = append(args, a)
				if !p.accept(tokComma) {
					if _, err := p.expect(tokRParen, ")"); err != nil {
						return nil, err
					}
					break
				}
			}
			parts = append(parts, CallPart(args))
		case tokLSquare:
			part, err := p.parseIndexPart()
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)
		default:
			return p.mk(from, Term{Parts: parts}), nil
		}
	}
}

// parseIndexPart parses the bracketed postfix forms: [n], [l..r], [*] and
// the computed [expr].
func (p *parser) parseIndexPart() (TermPart, error) {
	p.next() // [

	if p.accept(tokStar) {
		if _, err := p.expect(tokRSquare, "]"); err != nil {
			return nil, err
		}
		return WildcardPart{}, nil
	}

	if p.peek().kind == tokInteger {
		tok := p.next()
		n, err := strconv.ParseInt(tok.text, 0, 64)
		if err != nil || n < 0 {
			return nil, parseErr(p.src, tok.pos, "index out of range: %s", tok.text)
		}
		if p.accept(tokDotDot) {
			hiTok, err := p.expect(tokInteger, "range upper bound")
			if err != nil {
				return nil, err
			}
			hi, perr := strconv.ParseInt(hiTok.text, 0, 64)
			if perr != nil || hi < n {
				return nil, parseErr(p.src, hiTok.pos, "bad range upper bound: %s", hiTok.text)
			}
			if _, err := p.expect(tokRSquare, "]"); err != nil {
				return nil, err
			}
			return RangePart{Lo: int(n), Hi: int(hi)}, nil
		}
		if _, err := p.expect(tokRSquare, "]"); err != nil {
			return nil, err
		}
		return IndexPart(int(n)), nil
	}

	sub, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRSquare, "]"); err != nil {
		return nil, err
	}
	return SubExprPart{Sub: sub}, nil
}

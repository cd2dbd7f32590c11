package expression

import (
	"strconv"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// maxParseDepth bounds expression nesting. Combined with the absence of
// user-defined functions this guarantees evaluation terminates.
const maxParseDepth = 100

var ErrParse = errors.New("expression parse failed", j.C("ERR_9c5e21fa8d07b364"))

type node interface {
	// span returns the byte offsets the node covers in the source.
	span() (start, end int)
}

type (
	literalNode struct {
		value      any
		start, end int
	}
	identNode struct {
		name       string
		start, end int
	}
	memberNode struct {
		target     node
		property   string
		start, end int
	}
	indexNode struct {
		target     node
		index      node
		start, end int
	}
	callNode struct {
		name       string
		args       []node
		start, end int
	}
	unaryNode struct {
		op         tokenKind
		operand    node
		start, end int
	}
	binaryNode struct {
		op          tokenKind
		left, right node
		start, end  int
	}
	ternaryNode struct {
		cond, then, otherwise node
		start, end            int
	}
	arrayNode struct {
		elems      []node
		start, end int
	}
	objectNode struct {
		keys       []string
		values     []node
		start, end int
	}
)

func (n literalNode) span() (int, int) { return n.start, n.end }
func (n identNode) span() (int, int)   { return n.start, n.end }
func (n memberNode) span() (int, int)  { return n.start, n.end }
func (n indexNode) span() (int, int)   { return n.start, n.end }
func (n callNode) span() (int, int)    { return n.start, n.end }
func (n unaryNode) span() (int, int)   { return n.start, n.end }
func (n binaryNode) span() (int, int)  { return n.start, n.end }
func (n ternaryNode) span() (int, int) { return n.start, n.end }
func (n arrayNode) span() (int, int)   { return n.start, n.end }
func (n objectNode) span() (int, int)  { return n.start, n.end }

func parse(input string) (node, error) {
	p := &parser{tokens: lex(input)}
	n, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokenEOF {
		return nil, parseErr(p.peek(), "unexpected trailing input")
	}
	return n, nil
}

type parser struct {
	tokens []token
	pos    int
	depth  int
}

func parseErr(t token, msg string) error {
	return errors.Wrap(ErrParse, msg, j.MKV{
		"offset": strconv.Itoa(t.start),
		"token":  t.text,
	})
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) advance() token {
	t := p.tokens[p.pos]
	if t.kind != tokenEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.peek()
	if t.kind != kind {
		return token{}, parseErr(t, "expected "+what)
	}
	return p.advance(), nil
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxParseDepth {
		return errors.Wrap(ErrParse, "expression nesting too deep", j.MKV{
			"max_depth": strconv.Itoa(maxParseDepth),
		})
	}
	return nil
}

func (p *parser) leave() {
	p.depth--
}

func (p *parser) parseExpr() (node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}

	if p.peek().kind != tokenQuestion {
		return cond, nil
	}
	p.advance()

	then, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokenColon, "':' in ternary conditional"); err != nil {
		return nil, err
	}
	otherwise, err := p.parseExpr()
	if err != nil {
		return nil, err
	}

	start, _ := cond.span()
	_, end := otherwise.span()
	return ternaryNode{cond: cond, then: then, otherwise: otherwise, start: start, end: end}, nil
}

func (p *parser) parseBinary(next func() (node, error), kinds ...tokenKind) (node, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for {
		matched := false
		for _, k := range kinds {
			if p.peek().kind == k {
				matched = true
				break
			}
		}
		if !matched {
			return left, nil
		}
		op := p.advance()
		right, err := next()
		if err != nil {
			return nil, err
		}
		start, _ := left.span()
		_, end := right.span()
		left = binaryNode{op: op.kind, left: left, right: right, start: start, end: end}
	}
}

func (p *parser) parseOr() (node, error) {
	return p.parseBinary(p.parseAnd, tokenOr)
}

func (p *parser) parseAnd() (node, error) {
	return p.parseBinary(p.parseEquality, tokenAnd)
}

func (p *parser) parseEquality() (node, error) {
	return p.parseBinary(p.parseComparison, tokenEq, tokenNotEq)
}

func (p *parser) parseComparison() (node, error) {
	return p.parseBinary(p.parseAdditive, tokenLess, tokenLessEq, tokenGreater, tokenGreaterEq)
}

func (p *parser) parseAdditive() (node, error) {
	return p.parseBinary(p.parseMultiplicative, tokenPlus, tokenMinus)
}

func (p *parser) parseMultiplicative() (node, error) {
	return p.parseBinary(p.parseUnary, tokenStar, tokenSlash, tokenPercent)
}

func (p *parser) parseUnary() (node, error) {
	t := p.peek()
	if t.kind == tokenBang || t.kind == tokenMinus {
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()

		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		_, end := operand.span()
		return unaryNode{op: t.kind, operand: operand, start: t.start, end: end}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (node, error) {
	n, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for {
		switch p.peek().kind {
		case tokenDot:
			p.advance()
			prop, err := p.expect(tokenIdent, "property name after '.'")
			if err != nil {
				return nil, err
			}
			start, _ := n.span()
			n = memberNode{target: n, property: prop.value, start: start, end: prop.end}
		case tokenLeftBracket:
			p.advance()
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			closer, err := p.expect(tokenRightBracket, "']' to close index")
			if err != nil {
				return nil, err
			}
			start, _ := n.span()
			n = indexNode{target: n, index: idx, start: start, end: closer.end}
		default:
			return n, nil
		}
	}
}

func (p *parser) parsePrimary() (node, error) {
	t := p.peek()
	switch t.kind {
	case tokenNumber:
		p.advance()
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, parseErr(t, "invalid number literal")
		}
		return literalNode{value: f, start: t.start, end: t.end}, nil

	case tokenString:
		p.advance()
		return literalNode{value: t.value, start: t.start, end: t.end}, nil

	case tokenIdent:
		p.advance()
		switch t.value {
		case "true":
			return literalNode{value: true, start: t.start, end: t.end}, nil
		case "false":
			return literalNode{value: false, start: t.start, end: t.end}, nil
		case "null":
			return literalNode{value: nil, start: t.start, end: t.end}, nil
		}
		return identNode{name: t.value, start: t.start, end: t.end}, nil

	case tokenFunc:
		p.advance()
		if _, err := p.expect(tokenLeftParen, "'(' after function name"); err != nil {
			return nil, err
		}
		var args []node
		if p.peek().kind != tokenRightParen {
			for {
				arg, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
				if p.peek().kind != tokenComma {
					break
				}
				p.advance()
			}
		}
		closer, err := p.expect(tokenRightParen, "')' to close argument list")
		if err != nil {
			return nil, err
		}
		return callNode{name: t.value, args: args, start: t.start, end: closer.end}, nil

	case tokenLeftParen:
		p.advance()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenRightParen, "')' to close group"); err != nil {
			return nil, err
		}
		return inner, nil

	case tokenLeftBracket:
		p.advance()
		var elems []node
		if p.peek().kind != tokenRightBracket {
			for {
				e, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				elems = append(elems, e)
				if p.peek().kind != tokenComma {
					break
				}
				p.advance()
			}
		}
		closer, err := p.expect(tokenRightBracket, "']' to close array literal")
		if err != nil {
			return nil, err
		}
		return arrayNode{elems: elems, start: t.start, end: closer.end}, nil

	case tokenLeftBrace:
		p.advance()
		var (
			keys   []string
			values []node
		)
		if p.peek().kind != tokenRightBrace {
			for {
				key := p.peek()
				if key.kind != tokenIdent && key.kind != tokenString {
					return nil, parseErr(key, "object key")
				}
				p.advance()
				if _, err := p.expect(tokenColon, "':' after object key"); err != nil {
					return nil, err
				}
				v, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				keys = append(keys, key.value)
				values = append(values, v)
				if p.peek().kind != tokenComma {
					break
				}
				p.advance()
			}
		}
		closer, err := p.expect(tokenRightBrace, "'}' to close object literal")
		if err != nil {
			return nil, err
		}
		return objectNode{keys: keys, values: values, start: t.start, end: closer.end}, nil

	case tokenError:
		return nil, parseErr(t, t.value)
	}

	return nil, parseErr(t, "expected expression")
}

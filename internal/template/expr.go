package template

import "strconv"

// parseExpr parses a full expression, lowest precedence first: or, and,
// not, comparison, additive, multiplicative, then filters/postfix/primary.
func (p *Parser) parseExpr() (Expr, error) { return p.parseOr() }

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == TokenOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinOp{Op: TokenOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == TokenAnd {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinOp{Op: TokenAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseNot() (Expr, error) {
	if p.peek().Type == TokenNot {
		p.advance()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &UnaryOp{Op: TokenNot, Operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *Parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	switch p.peek().Type {
	case TokenEq, TokenNotEq, TokenLt, TokenLtEq, TokenGt, TokenGtEq:
		op := p.advance().Type
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &BinOp{Op: op, Left: left, Right: right}, nil
	}
	return left, nil
}

func (p *Parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == TokenPlus || p.peek().Type == TokenMinus {
		op := p.advance().Type
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &BinOp{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseFiltered()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == TokenStar || p.peek().Type == TokenSlash || p.peek().Type == TokenPercent {
		op := p.advance().Type
		right, err := p.parseFiltered()
		if err != nil {
			return nil, err
		}
		left = &BinOp{Op: op, Left: left, Right: right}
	}
	return left, nil
}

// parseFiltered handles leading unary minus and the "| filter" chain,
// which in Jinja binds tighter than arithmetic (`1 + 2|f` is `1 + (2|f)`).
func (p *Parser) parseFiltered() (Expr, error) {
	var base Expr
	if p.peek().Type == TokenMinus {
		p.advance()
		operand, err := p.parseFiltered()
		if err != nil {
			return nil, err
		}
		base = &UnaryOp{Op: TokenMinus, Operand: operand}
	} else {
		pf, err := p.parsePostfix()
		if err != nil {
			return nil, err
		}
		base = pf
	}
	for p.peek().Type == TokenPipe {
		p.advance()
		name, err := p.expect(TokenIdent)
		if err != nil {
			return nil, err
		}
		var args []Expr
		if p.peek().Type == TokenLParen {
			p.advance()
			for p.peek().Type != TokenRParen {
				a, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				args = append(args, a)
				if p.peek().Type == TokenComma {
					p.advance()
				}
			}
			p.advance()
		}
		base = &FilterExpr{Target: base, Name: name.Value, Args: args}
	}
	return base, nil
}

func (p *Parser) parsePostfix() (Expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().Type {
		case TokenDot:
			p.advance()
			name, err := p.expect(TokenIdent)
			if err != nil {
				return nil, err
			}
			e = &Attr{Target: e, Name: name.Value}
		case TokenLBracket:
			p.advance()
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokenRBracket); err != nil {
				return nil, err
			}
			e = &IndexExpr{Target: e, Index: idx}
		case TokenLParen:
			ident, ok := e.(*Ident)
			if !ok {
				return nil, p.errorf("cannot call a non-function expression")
			}
			p.advance()
			var args []Expr
			for p.peek().Type != TokenRParen {
				a, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				args = append(args, a)
				if p.peek().Type == TokenComma {
					p.advance()
				}
			}
			p.advance()
			e = &Call{Name: ident.Name, Args: args}
		default:
			return e, nil
		}
	}
}

func (p *Parser) parsePrimary() (Expr, error) {
	tok := p.peek()
	switch tok.Type {
	case TokenString:
		p.advance()
		return &StringLit{Value: tok.Value}, nil
	case TokenInt:
		p.advance()
		i, err := strconv.ParseInt(tok.Value, 10, 64)
		if err != nil {
			return nil, p.errorf("invalid integer %q", tok.Value)
		}
		return &IntLit{Value: i}, nil
	case TokenFloat:
		p.advance()
		f, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, p.errorf("invalid float %q", tok.Value)
		}
		return &FloatLit{Value: f}, nil
	case TokenTrue:
		p.advance()
		return &BoolLit{Value: true}, nil
	case TokenFalse:
		p.advance()
		return &BoolLit{Value: false}, nil
	case TokenNone:
		p.advance()
		return &NoneLit{}, nil
	case TokenIdent:
		p.advance()
		return &Ident{Name: tok.Value}, nil
	case TokenLParen:
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return e, nil
	case TokenLBracket:
		p.advance()
		var items []Expr
		for p.peek().Type != TokenRBracket {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			items = append(items, e)
			if p.peek().Type == TokenComma {
				p.advance()
			}
		}
		p.advance()
		return &ListLit{Items: items}, nil
	default:
		return nil, p.errorf("unexpected token %v in expression", tok.Type)
	}
}

package expr

import (
	"strconv"
)

// Parser builds an AST from a token stream using recursive descent
type Parser struct {
	tokens []Token
	pos    int
}

// NewParser creates a parser over tokens produced by Lexer.Tokenize
func NewParser(tokens []Token) *Parser {
	return &Parser{tokens: tokens}
}

// Parse parses a complete expression. Trailing tokens are an error.
func (p *Parser) Parse() (Node, error) {
	if p.peek().Type == TokenEOF {
		return nil, syntaxErrorf(p.peek().Pos, "empty expression")
	}

	node, err := p.parseAddition()
	if err != nil {
		return nil, err
	}

	if tok := p.peek(); tok.Type != TokenEOF {
		if tok.Type == TokenRightParen {
			return nil, syntaxErrorf(tok.Pos, "unbalanced ')'")
		}
		return nil, syntaxErrorf(tok.Pos, "unexpected %s %q", tok.Type, tok.Value)
	}
	return node, nil
}

// parseAddition handles addition and subtraction
func (p *Parser) parseAddition() (Node, error) {
	left, err := p.parseMultiplication()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		if tok.Type != TokenOp || (tok.Value != "+" && tok.Value != "-") {
			return left, nil
		}
		p.pos++

		right, err := p.parseMultiplication()
		if err != nil {
			return nil, err
		}
		left = &BinaryNode{Op: BinaryOp(tok.Value[0]), Left: left, Right: right}
	}
}

// parseMultiplication handles multiplication, division and modulo
func (p *Parser) parseMultiplication() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		if tok.Type != TokenOp || (tok.Value != "*" && tok.Value != "/" && tok.Value != "%") {
			return left, nil
		}
		p.pos++

		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryNode{Op: BinaryOp(tok.Value[0]), Left: left, Right: right}
	}
}

// parseUnary handles sign prefixes. They bind looser than ^, so -2^2 is -(2^2).
func (p *Parser) parseUnary() (Node, error) {
	tok := p.peek()
	if tok.Type == TokenOp && (tok.Value == "+" || tok.Value == "-") {
		p.pos++
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryNode{Negate: tok.Value == "-", Operand: operand}, nil
	}
	return p.parsePower()
}

// parsePower handles exponentiation, which is right-associative. The exponent
// may carry its own sign, as in 2^-1.
func (p *Parser) parsePower() (Node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	if tok := p.peek(); tok.Type == TokenOp && tok.Value == "^" {
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &BinaryNode{Op: OpPow, Left: left, Right: right}, nil
	}
	return left, nil
}

func (p *Parser) parsePrimary() (Node, error) {
	tok := p.peek()

	switch tok.Type {
	case TokenNumber:
		p.pos++
		v, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, syntaxErrorf(tok.Pos, "invalid number %q", tok.Value)
		}
		return &NumberNode{Value: v}, nil

	case TokenRef:
		p.pos++
		return &RefNode{Name: tok.Value}, nil

	case TokenIdent:
		p.pos++
		if p.peek().Type != TokenLeftParen {
			return nil, syntaxErrorf(tok.Pos, "unexpected identifier %q, references must be written as [%s]", tok.Value, tok.Value)
		}
		return p.parseFunctionCall(tok)

	case TokenLeftParen:
		p.pos++
		inner, err := p.parseAddition()
		if err != nil {
			return nil, err
		}
		if closing := p.peek(); closing.Type != TokenRightParen {
			return nil, syntaxErrorf(tok.Pos, "unbalanced '('")
		}
		p.pos++
		return inner, nil

	case TokenEOF:
		return nil, syntaxErrorf(tok.Pos, "unexpected end of expression")
	}

	return nil, syntaxErrorf(tok.Pos, "unexpected %s %q", tok.Type, tok.Value)
}

// parseFunctionCall parses the argument list following a function name
func (p *Parser) parseFunctionCall(name Token) (Node, error) {
	p.pos++ // '('
	call := &CallNode{Name: name.Value}

	if p.peek().Type == TokenRightParen {
		p.pos++
		return call, nil
	}

	for {
		arg, err := p.parseAddition()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)

		tok := p.peek()
		switch tok.Type {
		case TokenComma:
			p.pos++
		case TokenRightParen:
			p.pos++
			return call, nil
		case TokenEOF:
			return nil, syntaxErrorf(name.Pos, "unbalanced '(' in call to %s", name.Value)
		default:
			return nil, syntaxErrorf(tok.Pos, "expected ',' or ')' in call to %s, got %s %q", name.Value, tok.Type, tok.Value)
		}
	}
}

func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		end := 0
		if len(p.tokens) > 0 {
			end = p.tokens[len(p.tokens)-1].Pos
		}
		return Token{Type: TokenEOF, Pos: end}
	}
	return p.tokens[p.pos]
}

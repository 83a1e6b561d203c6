package expr

import (
	"strings"
)

// TokenType represents the kind of a lexical token
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenNumber
	TokenRef
	TokenIdent
	TokenOp
	TokenComma
	TokenLeftParen
	TokenRightParen
)

func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "end of expression"
	case TokenNumber:
		return "number"
	case TokenRef:
		return "reference"
	case TokenIdent:
		return "identifier"
	case TokenOp:
		return "operator"
	case TokenComma:
		return "','"
	case TokenLeftParen:
		return "'('"
	case TokenRightParen:
		return "')'"
	default:
		return "unknown"
	}
}

// Token is a single lexical unit. Value holds the raw text, except for
// references where it holds the name between the brackets.
type Token struct {
	Type  TokenType
	Value string
	Pos   int
}

// Lexer splits expression text into tokens
type Lexer struct {
	input string
	pos   int
}

// NewLexer creates a lexer over the given input
func NewLexer(input string) *Lexer {
	return &Lexer{input: input}
}

// Tokenize returns every token in the input, terminated by a TokenEOF token.
func (l *Lexer) Tokenize() ([]Token, error) {
	tokens := make([]Token, 0, len(l.input)/2+1)
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens, nil
		}
	}
}

func (l *Lexer) next() (Token, error) {
	l.skipWhitespace()
	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Pos: l.pos}, nil
	}

	start := l.pos
	ch := l.input[l.pos]

	switch {
	case ch == '(':
		l.pos++
		return Token{Type: TokenLeftParen, Value: "(", Pos: start}, nil
	case ch == ')':
		l.pos++
		return Token{Type: TokenRightParen, Value: ")", Pos: start}, nil
	case ch == ',':
		l.pos++
		return Token{Type: TokenComma, Value: ",", Pos: start}, nil
	case strings.IndexByte("+-*/%^", ch) >= 0:
		l.pos++
		return Token{Type: TokenOp, Value: string(ch), Pos: start}, nil
	case ch == '[':
		return l.readRef()
	case isDigit(ch) || ch == '.':
		return l.readNumber()
	case isWordChar(ch):
		for l.pos < len(l.input) && isWordChar(l.input[l.pos]) {
			l.pos++
		}
		return Token{Type: TokenIdent, Value: l.input[start:l.pos], Pos: start}, nil
	}

	return Token{}, syntaxErrorf(start, "unexpected character %q", ch)
}

// readRef reads a [name] reference. The name must be one or more word characters.
func (l *Lexer) readRef() (Token, error) {
	start := l.pos
	l.pos++ // '['
	nameStart := l.pos
	for l.pos < len(l.input) && isWordChar(l.input[l.pos]) {
		l.pos++
	}
	if l.pos >= len(l.input) || l.input[l.pos] != ']' {
		return Token{}, syntaxErrorf(start, "unterminated or malformed reference")
	}
	if l.pos == nameStart {
		return Token{}, syntaxErrorf(start, "empty reference")
	}
	name := l.input[nameStart:l.pos]
	l.pos++ // ']'
	return Token{Type: TokenRef, Value: name, Pos: start}, nil
}

func (l *Lexer) readNumber() (Token, error) {
	start := l.pos
	digits := 0
	for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
		l.pos++
		digits++
	}
	if l.pos < len(l.input) && l.input[l.pos] == '.' {
		l.pos++
		for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
			l.pos++
			digits++
		}
	}
	if digits == 0 {
		return Token{}, syntaxErrorf(start, "malformed number")
	}
	if l.pos < len(l.input) && (l.input[l.pos] == 'e' || l.input[l.pos] == 'E') {
		save := l.pos
		l.pos++
		if l.pos < len(l.input) && (l.input[l.pos] == '+' || l.input[l.pos] == '-') {
			l.pos++
		}
		expDigits := 0
		for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
			l.pos++
			expDigits++
		}
		if expDigits == 0 {
			l.pos = save
		}
	}
	if l.pos < len(l.input) && isWordChar(l.input[l.pos]) {
		return Token{}, syntaxErrorf(start, "malformed number %q", l.input[start:l.pos+1])
	}
	return Token{Type: TokenNumber, Value: l.input[start:l.pos], Pos: start}, nil
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) {
		switch l.input[l.pos] {
		case ' ', '\t', '\n', '\r':
			l.pos++
		default:
			return
		}
	}
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

// isWordChar matches the ASCII \w class
func isWordChar(ch byte) bool {
	return isDigit(ch) || ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

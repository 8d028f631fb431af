package sqlquery

import (
	"fmt"
	"strings"
)

// TokenKind classifies lexer output.
type TokenKind uint8

// Token kinds.
const (
	TokenEOF TokenKind = iota
	TokenIdent
	TokenNumber
	TokenString
	TokenSymbol // operators and punctuation
)

// Token is one lexeme with byte offsets into the original query text,
// so diagnostics can underline the exact span.
type Token struct {
	Kind TokenKind
	Text string
	From int
	To   int
}

// keyword reports whether the token is the given bare keyword,
// case-insensitively.
func (t Token) keyword(word string) bool {
	return t.Kind == TokenIdent && strings.EqualFold(t.Text, word)
}

// lexer tokenizes a query string. It is deliberately permissive: anything
// it cannot classify becomes a syntax error with a position, never a
// generic failure.
type lexer struct {
	src string
	pos int
}

// symbols that may pair into two-character operators.
var twoCharSymbols = map[string]struct{}{
	"<=": {}, ">=": {}, "<>": {}, "!=": {},
}

func (l *lexer) next() (Token, error) {
	l.skipSpace()

	if l.pos >= len(l.src) {
		return Token{Kind: TokenEOF, From: l.pos, To: l.pos}, nil
	}

	start := l.pos
	c := l.src[l.pos]

	switch {
	case isIdentStart(c):
		for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
			l.pos++
		}

		return Token{Kind: TokenIdent, Text: l.src[start:l.pos], From: start, To: l.pos}, nil
	case c >= '0' && c <= '9':
		sawDot := false

		for l.pos < len(l.src) {
			ch := l.src[l.pos]
			if ch == '.' && !sawDot {
				sawDot = true
				l.pos++

				continue
			}

			if ch < '0' || ch > '9' {
				break
			}

			l.pos++
		}

		return Token{Kind: TokenNumber, Text: l.src[start:l.pos], From: start, To: l.pos}, nil
	case c == '\'':
		text, err := l.lexString()
		if err != nil {
			return Token{}, err
		}

		return Token{Kind: TokenString, Text: text, From: start, To: l.pos}, nil
	default:
		if l.pos+1 < len(l.src) {
			pair := l.src[l.pos : l.pos+2]
			if _, ok := twoCharSymbols[pair]; ok {
				l.pos += 2

				return Token{Kind: TokenSymbol, Text: pair, From: start, To: l.pos}, nil
			}
		}

		switch c {
		case '=', '<', '>', '(', ')', ',', ';', '*', '.':
			l.pos++

			return Token{Kind: TokenSymbol, Text: string(c), From: start, To: l.pos}, nil
		}

		return Token{}, &SyntaxError{
			Message: fmt.Sprintf("unexpected character %q", string(c)),
			From:    start,
			To:      start + 1,
		}
	}
}

// lexString consumes a single-quoted string literal. Embedded quotes are
// escaped by doubling, per SQL convention.
func (l *lexer) lexString() (string, error) {
	start := l.pos
	l.pos++ // opening quote

	var b strings.Builder

	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '\'' {
			if l.pos+1 < len(l.src) && l.src[l.pos+1] == '\'' {
				b.WriteByte('\'')
				l.pos += 2

				continue
			}

			l.pos++

			return b.String(), nil
		}

		b.WriteByte(c)
		l.pos++
	}

	return "", &SyntaxError{Message: "unterminated string literal", From: start, To: len(l.src)}
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case ' ', '\t', '\n', '\r':
			l.pos++
		default:
			return
		}
	}
}

// tokenize runs the lexer over the whole input.
func tokenize(src string) ([]Token, error) {
	lx := &lexer{src: src}

	var tokens []Token

	for {
		tok, err := lx.next()
		if err != nil {
			return nil, err
		}

		tokens = append(tokens, tok)

		if tok.Kind == TokenEOF {
			return tokens, nil
		}
	}
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

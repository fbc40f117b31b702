package pipefile

import (
	"strings"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenString    // "..."
	tokenMultiline // """..."""
	tokenLBrace
	tokenRBrace
	tokenLBracket
	tokenRBracket
	tokenColon
	tokenSemi
	tokenComma
)

func (k tokenKind) String() string {
	switch k {
	case tokenEOF:
		return "end of file"
	case tokenIdent:
		return "identifier"
	case tokenString:
		return "string"
	case tokenMultiline:
		return "multiline string"
	case tokenLBrace:
		return `"{"`
	case tokenRBrace:
		return `"}"`
	case tokenLBracket:
		return `"["`
	case tokenRBracket:
		return `"]"`
	case tokenColon:
		return `":"`
	case tokenSemi:
		return `";"`
	case tokenComma:
		return `","`
	}
	return "unknown token"
}

type position struct {
	line int
	col  int
}

type token struct {
	kind tokenKind
	text string // identifier name or unquoted string value
	pos  position
}

// lexer produces tokens from Pipefile source, tracking line and column
// for error reporting. Columns are 1-based byte offsets within the line.
type lexer struct {
	src  string
	off  int
	line int
	col  int
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1, col: 1}
}

func (l *lexer) peekByte() (byte, bool) {
	if l.off >= len(l.src) {
		return 0, false
	}
	return l.src[l.off], true
}

func (l *lexer) advance() byte {
	c := l.src[l.off]
	l.off++
	if c == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return c
}

func (l *lexer) skipSpaceAndComments() {
	for {
		c, ok := l.peekByte()
		if !ok {
			return
		}
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			l.advance()
		case c == '#':
			for {
				c, ok := l.peekByte()
				if !ok || c == '\n' {
					break
				}
				l.advance()
			}
		default:
			return
		}
	}
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '-' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// next returns the next token, or a *ParseError for an unterminated
// string or a byte that cannot start any token.
func (l *lexer) next() (token, error) {
	l.skipSpaceAndComments()
	pos := position{line: l.line, col: l.col}

	c, ok := l.peekByte()
	if !ok {
		return token{kind: tokenEOF, pos: pos}, nil
	}

	switch c {
	case '{':
		l.advance()
		return token{kind: tokenLBrace, pos: pos}, nil
	case '}':
		l.advance()
		return token{kind: tokenRBrace, pos: pos}, nil
	case '[':
		l.advance()
		return token{kind: tokenLBracket, pos: pos}, nil
	case ']':
		l.advance()
		return token{kind: tokenRBracket, pos: pos}, nil
	case ':':
		l.advance()
		return token{kind: tokenColon, pos: pos}, nil
	case ';':
		l.advance()
		return token{kind: tokenSemi, pos: pos}, nil
	case ',':
		l.advance()
		return token{kind: tokenComma, pos: pos}, nil
	case '"':
		return l.lexString(pos)
	}

	if isIdentByte(c) {
		var sb strings.Builder
		for {
			c, ok := l.peekByte()
			if !ok || !isIdentByte(c) {
				break
			}
			sb.WriteByte(l.advance())
		}
		return token{kind: tokenIdent, text: sb.String(), pos: pos}, nil
	}

	return token{}, errorAt(pos, "unexpected character %q", string(c))
}

func (l *lexer) lexString(pos position) (token, error) {
	if strings.HasPrefix(l.src[l.off:], `"""`) {
		return l.lexMultiline(pos)
	}

	l.advance() // opening quote
	var sb strings.Builder
	for {
		c, ok := l.peekByte()
		if !ok || c == '\n' {
			return token{}, errorAt(pos, "unterminated string")
		}
		if c == '"' {
			l.advance()
			return token{kind: tokenString, text: sb.String(), pos: pos}, nil
		}
		sb.WriteByte(l.advance())
	}
}

// lexMultiline consumes a `"""..."""` block. The delimiters are greedy
// on the closing side so an embedded `"` (as in `echo "hi"`) is kept:
// the block ends at the last `"""` such that no further quote follows
// immediately.
func (l *lexer) lexMultiline(pos position) (token, error) {
	for i := 0; i < 3; i++ {
		l.advance()
	}

	var sb strings.Builder
	for {
		if l.off >= len(l.src) {
			return token{}, errorAt(pos, "unterminated multiline string")
		}
		if strings.HasPrefix(l.src[l.off:], `"""`) && !strings.HasPrefix(l.src[l.off:], `""""`) {
			for i := 0; i < 3; i++ {
				l.advance()
			}
			return token{kind: tokenMultiline, text: sb.String(), pos: pos}, nil
		}
		sb.WriteByte(l.advance())
	}
}

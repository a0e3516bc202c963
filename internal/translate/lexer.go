package translate

import (
	"fmt"
	"unicode"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokQuotedIdent
	tokString
	tokNumber
	tokComment
	tokSpace
	tokPunct
)

// token is a lossless slice of the input. Concatenating every token's text
// reproduces the original SQL exactly.
type token struct {
	kind tokenKind
	text string
}

func (t token) significant() bool {
	return t.kind != tokSpace && t.kind != tokComment
}

// lexer splits SQL into tokens without interpreting them. Only what is needed
// to keep strings, quoted identifiers and comments out of rewrites.
type lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      byte // current char under examination
}

func newLexer(input string) *lexer {
	l := &lexer{input: input}
	l.readChar()
	return l
}

func (l *lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

func (l *lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *lexer) eof() bool { return l.pos >= len(l.input) }

// tokenize returns every token of the input, or an error for an unterminated
// string, quoted identifier or block comment.
func tokenize(input string) ([]token, error) {
	l := newLexer(input)
	var toks []token
	for !l.eof() {
		start := l.pos
		kind, err := l.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, token{kind: kind, text: l.input[start:l.pos]})
	}
	return toks, nil
}

func (l *lexer) next() (tokenKind, error) {
	switch {
	case isSpace(l.ch):
		for isSpace(l.ch) && !l.eof() {
			l.readChar()
		}
		return tokSpace, nil
	case l.ch == '-' && l.peekChar() == '-', l.ch == '/' && l.peekChar() == '/':
		for l.ch != '\n' && !l.eof() {
			l.readChar()
		}
		return tokComment, nil
	case l.ch == '/' && l.peekChar() == '*':
		l.readChar()
		l.readChar()
		for !l.eof() {
			if l.ch == '*' && l.peekChar() == '/' {
				l.readChar()
				l.readChar()
				return tokComment, nil
			}
			l.readChar()
		}
		return 0, fmt.Errorf("unterminated block comment")
	case l.ch == '\'':
		if err := l.readQuoted('\''); err != nil {
			return 0, fmt.Errorf("unterminated string literal")
		}
		return tokString, nil
	case l.ch == '"':
		if err := l.readQuoted('"'); err != nil {
			return 0, fmt.Errorf("unterminated quoted identifier")
		}
		return tokQuotedIdent, nil
	case l.ch == '$' && l.peekChar() == '$':
		l.readChar()
		l.readChar()
		for !l.eof() {
			if l.ch == '$' && l.peekChar() == '$' {
				l.readChar()
				l.readChar()
				return tokString, nil
			}
			l.readChar()
		}
		return 0, fmt.Errorf("unterminated $$ string")
	case isLetter(l.ch) || l.ch == '_':
		for (isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' || l.ch == '$') && !l.eof() {
			l.readChar()
		}
		return tokWord, nil
	case isDigit(l.ch):
		for (isDigit(l.ch) || l.ch == '.') && !l.eof() {
			l.readChar()
		}
		if l.ch == 'e' || l.ch == 'E' {
			l.readChar()
			if l.ch == '+' || l.ch == '-' {
				l.readChar()
			}
			for isDigit(l.ch) && !l.eof() {
				l.readChar()
			}
		}
		return tokNumber, nil
	case l.ch == ':' && l.peekChar() == ':':
		l.readChar()
		l.readChar()
		return tokPunct, nil
	default:
		l.readChar()
		return tokPunct, nil
	}
}

// readQuoted consumes a quoted run, treating a doubled quote as an escape.
// Backslash escapes are honoured inside single-quoted strings.
func (l *lexer) readQuoted(q byte) error {
	l.readChar()
	for !l.eof() {
		switch {
		case q == '\'' && l.ch == '\\' && l.peekChar() != 0:
			l.readChar()
			l.readChar()
		case l.ch == q && l.peekChar() == q:
			l.readChar()
			l.readChar()
		case l.ch == q:
			l.readChar()
			return nil
		default:
			l.readChar()
		}
	}
	return fmt.Errorf("unterminated")
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\f'
}

func isLetter(ch byte) bool {
	return ch >= 0x80 || unicode.IsLetter(rune(ch))
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

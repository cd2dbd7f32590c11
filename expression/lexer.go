package expression

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// lex scans the whole input. It never fails; malformed input is represented
// as tokenError tokens so that both the parser and the diagnostics pass can
// see the same stream.
func lex(input string) []token {
	l := &lexer{input: input}
	for {
		t := l.next()
		l.tokens = append(l.tokens, t)
		if t.kind == tokenEOF {
			return l.tokens
		}
	}
}

type lexer struct {
	input  string
	pos    int
	tokens []token
}

func (l *lexer) next() token {
	l.skipSpace()

	if l.pos >= len(l.input) {
		return token{kind: tokenEOF, start: l.pos, end: l.pos}
	}

	start := l.pos
	r, size := utf8.DecodeRuneInString(l.input[l.pos:])

	switch {
	case r == '"' || r == '\'' || r == '`':
		return l.scanString(r)
	case unicode.IsDigit(r):
		return l.scanNumber()
	case r == '$':
		return l.scanFunc()
	case unicode.IsLetter(r) || r == '_':
		return l.scanIdent()
	}

	l.pos += size
	single := func(kind tokenKind) token {
		return token{kind: kind, text: l.input[start:l.pos], start: start, end: l.pos}
	}

	switch r {
	case '(':
		return single(tokenLeftParen)
	case ')':
		return single(tokenRightParen)
	case '[':
		return single(tokenLeftBracket)
	case ']':
		return single(tokenRightBracket)
	case '{':
		return single(tokenLeftBrace)
	case '}':
		return single(tokenRightBrace)
	case '.':
		return single(tokenDot)
	case ',':
		return single(tokenComma)
	case ':':
		return single(tokenColon)
	case '?':
		return single(tokenQuestion)
	case '+':
		return single(tokenPlus)
	case '-':
		return single(tokenMinus)
	case '*':
		return single(tokenStar)
	case '/':
		return single(tokenSlash)
	case '%':
		return single(tokenPercent)
	case '!':
		if l.accept('=') {
			return single(tokenNotEq)
		}
		return single(tokenBang)
	case '=':
		if l.accept('=') {
			return single(tokenEq)
		}
		return token{
			kind:  tokenError,
			text:  l.input[start:l.pos],
			value: "unexpected '=', did you mean '=='",
			start: start,
			end:   l.pos,
		}
	case '<':
		if l.accept('=') {
			return single(tokenLessEq)
		}
		return single(tokenLess)
	case '>':
		if l.accept('=') {
			return single(tokenGreaterEq)
		}
		return single(tokenGreater)
	case '&':
		if l.accept('&') {
			return single(tokenAnd)
		}
	case '|':
		if l.accept('|') {
			return single(tokenOr)
		}
	}

	return token{
		kind:  tokenError,
		text:  l.input[start:l.pos],
		value: fmt.Sprintf("unexpected character %q", r),
		start: start,
		end:   l.pos,
	}
}

func (l *lexer) accept(b byte) bool {
	if l.pos < len(l.input) && l.input[l.pos] == b {
		l.pos++
		return true
	}
	return false
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[l.pos:])
		if !unicode.IsSpace(r) {
			return
		}
		l.pos += size
	}
}

// scanString consumes a quoted literal honouring backslash escapes. An
// unterminated literal produces a tokenError spanning the whole literal.
func (l *lexer) scanString(quote rune) token {
	start := l.pos
	l.pos++ // opening quote

	var b strings.Builder
	for l.pos < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[l.pos:])
		if r == '\\' && l.pos+size < len(l.input) {
			esc, escSize := utf8.DecodeRuneInString(l.input[l.pos+size:])
			switch esc {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			case 'r':
				b.WriteRune('\r')
			default:
				b.WriteRune(esc)
			}
			l.pos += size + escSize
			continue
		}

		l.pos += size
		if r == quote {
			return token{
				kind:  tokenString,
				text:  l.input[start:l.pos],
				value: b.String(),
				start: start,
				end:   l.pos,
			}
		}
		b.WriteRune(r)
	}

	return token{
		kind:  tokenError,
		text:  l.input[start:l.pos],
		value: fmt.Sprintf("unterminated string literal opened with %q", quote),
		start: start,
		end:   l.pos,
	}
}

func (l *lexer) scanNumber() token {
	start := l.pos
	seenDot := false
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if c == '.' && !seenDot && l.pos+1 < len(l.input) && isDigit(l.input[l.pos+1]) {
			seenDot = true
			l.pos++
			continue
		}
		if !isDigit(c) {
			break
		}
		l.pos++
	}
	return token{kind: tokenNumber, text: l.input[start:l.pos], start: start, end: l.pos}
}

func (l *lexer) scanIdent() token {
	start := l.pos
	for l.pos < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[l.pos:])
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			break
		}
		l.pos += size
	}
	text := l.input[start:l.pos]
	return token{kind: tokenIdent, text: text, value: text, start: start, end: l.pos}
}

func (l *lexer) scanFunc() token {
	start := l.pos
	l.pos++ // '$'
	nameStart := l.pos
	for l.pos < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[l.pos:])
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			break
		}
		l.pos += size
	}
	if l.pos == nameStart {
		return token{
			kind:  tokenError,
			text:  l.input[start:l.pos],
			value: "'$' must be followed by a function name",
			start: start,
			end:   l.pos,
		}
	}
	return token{
		kind:  tokenFunc,
		text:  l.input[start:l.pos],
		value: l.input[nameStart:l.pos],
		start: start,
		end:   l.pos,
	}
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

package expression

import "fmt"

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenNumber
	tokenString
	tokenIdent
	tokenFunc // $-prefixed builtin reference
	tokenLeftParen
	tokenRightParen
	tokenLeftBracket
	tokenRightBracket
	tokenLeftBrace
	tokenRightBrace
	tokenDot
	tokenComma
	tokenColon
	tokenQuestion
	tokenBang
	tokenPlus
	tokenMinus
	tokenStar
	tokenSlash
	tokenPercent
	tokenEq
	tokenNotEq
	tokenLess
	tokenLessEq
	tokenGreater
	tokenGreaterEq
	tokenAnd
	tokenOr
	// tokenError captures an unterminated string literal or an illegal rune.
	// The diagnostics pass reports them; the parser refuses them.
	tokenError
)

type token struct {
	kind  tokenKind
	text  string // raw source text, quotes included for strings
	value string // decoded value for strings, name without '$' for funcs
	start int    // byte offset of the first rune
	end   int    // byte offset one past the last rune
}

func (t token) String() string {
	return fmt.Sprintf("%q[%d:%d]", t.text, t.start, t.end)
}

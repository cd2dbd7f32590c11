package expression

import (
	"fmt"
	"strings"
)

type Severity int

const (
	SeverityError Severity = iota + 1
	SeverityWarning
	SeverityInformation
	SeverityHint
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "Error"
	case SeverityWarning:
		return "Warning"
	case SeverityInformation:
		return "Information"
	case SeverityHint:
		return "Hint"
	default:
		return fmt.Sprintf("Severity(%d)", s)
	}
}

// Diagnostic is one static finding over an expression source string. Offsets
// are byte offsets into the source.
type Diagnostic struct {
	Severity    Severity
	Message     string
	StartOffset int
	EndOffset   int
}

// Scope describes what identifiers are legal where an expression is being
// authored. RootSchemas optionally maps a context root to its type
// descriptor so property descent can be checked; schemas may be incomplete,
// which is why an unknown property is Information and never an Error.
type Scope struct {
	// InCatch makes the 'error' root available.
	InCatch bool
	// LoopVars are item/index variables declared by enclosing forEach steps.
	LoopVars []string
	// RootSchemas maps root name to its type, when statically known.
	RootSchemas map[string]*Type
}

func (s Scope) roots() []string {
	roots := []string{"payload", "vars", "meta"}
	if s.InCatch {
		roots = append(roots, "error")
	}
	return append(roots, s.LoopVars...)
}

// Check runs all static checks over the expression and returns the findings
// ordered by start offset. Each check is independent: bracket balance,
// string termination, builtin-function names and identifier roots.
func Check(expr string, scope Scope) []Diagnostic {
	tokens := lex(expr)

	var ds []Diagnostic
	ds = append(ds, checkBrackets(tokens)...)
	ds = append(ds, checkLexErrors(tokens)...)
	ds = append(ds, checkFunctions(tokens)...)
	ds = append(ds, checkRoots(tokens, scope)...)

	sortDiagnostics(ds)
	return ds
}

var bracketPairs = map[tokenKind]tokenKind{
	tokenRightParen:   tokenLeftParen,
	tokenRightBracket: tokenLeftBracket,
	tokenRightBrace:   tokenLeftBrace,
}

func bracketRune(kind tokenKind) string {
	switch kind {
	case tokenLeftParen:
		return "("
	case tokenLeftBracket:
		return "["
	case tokenLeftBrace:
		return "{"
	case tokenRightParen:
		return ")"
	case tokenRightBracket:
		return "]"
	case tokenRightBrace:
		return "}"
	}
	return "?"
}

func checkBrackets(tokens []token) []Diagnostic {
	var (
		ds    []Diagnostic
		stack []token
	)
	for _, t := range tokens {
		switch t.kind {
		case tokenLeftParen, tokenLeftBracket, tokenLeftBrace:
			stack = append(stack, t)
		case tokenRightParen, tokenRightBracket, tokenRightBrace:
			if len(stack) == 0 {
				ds = append(ds, Diagnostic{
					Severity:    SeverityError,
					Message:     fmt.Sprintf("unexpected '%s' with no matching opening bracket", bracketRune(t.kind)),
					StartOffset: t.start,
					EndOffset:   t.end,
				})
				continue
			}
			open := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if open.kind != bracketPairs[t.kind] {
				ds = append(ds, Diagnostic{
					Severity: SeverityError,
					Message: fmt.Sprintf("mismatched brackets: '%s' closed by '%s'",
						bracketRune(open.kind), bracketRune(t.kind)),
					StartOffset: t.start,
					EndOffset:   t.end,
				})
			}
		}
	}
	for _, open := range stack {
		ds = append(ds, Diagnostic{
			Severity:    SeverityError,
			Message:     fmt.Sprintf("unclosed '%s'", bracketRune(open.kind)),
			StartOffset: open.start,
			EndOffset:   open.end,
		})
	}
	return ds
}

func checkLexErrors(tokens []token) []Diagnostic {
	var ds []Diagnostic
	for _, t := range tokens {
		if t.kind != tokenError {
			continue
		}
		ds = append(ds, Diagnostic{
			Severity:    SeverityError,
			Message:     t.value,
			StartOffset: t.start,
			EndOffset:   t.end,
		})
	}
	return ds
}

func checkFunctions(tokens []token) []Diagnostic {
	var ds []Diagnostic
	for _, t := range tokens {
		if t.kind != tokenFunc || IsBuiltin(t.value) {
			continue
		}
		msg := fmt.Sprintf("unknown function '$%s'", t.value)
		if suggestion := suggestFunction(t.value); suggestion != "" {
			msg += fmt.Sprintf(", did you mean '$%s'?", suggestion)
		}
		ds = append(ds, Diagnostic{
			Severity:    SeverityWarning,
			Message:     msg,
			StartOffset: t.start,
			EndOffset:   t.end,
		})
	}
	return ds
}

// suggestFunction finds a near-miss by substring relation: the unknown name
// containing a registered name or vice versa, case-insensitively. The
// shortest candidate wins to keep suggestions specific.
func suggestFunction(name string) string {
	lower := strings.ToLower(name)
	var best string
	for _, known := range BuiltinNames() {
		kl := strings.ToLower(known)
		if !strings.Contains(lower, kl) && !strings.Contains(kl, lower) {
			continue
		}
		if best == "" || len(known) < len(best) {
			best = known
		}
	}
	return best
}

func checkRoots(tokens []token, scope Scope) []Diagnostic {
	roots := scope.roots()
	known := make(map[string]bool, len(roots))
	for _, r := range roots {
		known[r] = true
	}

	var (
		ds    []Diagnostic
		stack []tokenKind
	)
	for i, t := range tokens {
		switch t.kind {
		case tokenLeftParen, tokenLeftBracket, tokenLeftBrace:
			stack = append(stack, t.kind)
		case tokenRightParen, tokenRightBracket, tokenRightBrace:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}

		if t.kind != tokenIdent {
			continue
		}
		if t.value == "true" || t.value == "false" || t.value == "null" {
			continue
		}
		// A property access, not a root.
		if i > 0 && tokens[i-1].kind == tokenDot {
			continue
		}
		// An object literal key, not a root.
		if len(stack) > 0 && stack[len(stack)-1] == tokenLeftBrace &&
			i+1 < len(tokens) && tokens[i+1].kind == tokenColon {
			continue
		}

		if !known[t.value] {
			msg := fmt.Sprintf("unknown identifier '%s'", t.value)
			severity := SeverityWarning
			if suggestion := suggestRoot(t.value, roots); suggestion != "" {
				msg += fmt.Sprintf(", did you mean '%s'?", suggestion)
				severity = SeverityHint
			}
			ds = append(ds, Diagnostic{
				Severity:    severity,
				Message:     msg,
				StartOffset: t.start,
				EndOffset:   t.end,
			})
			continue
		}

		ds = append(ds, checkDescent(tokens, i, scope.RootSchemas[t.value])...)
	}
	return ds
}

// checkDescent walks the dotted path that starts at tokens[rootIdx] against
// the root's schema. Unknown properties are Information, never Error, since
// supplied schemas may be incomplete. Descent stops at the first index
// expression or untyped schema node.
func checkDescent(tokens []token, rootIdx int, typ *Type) []Diagnostic {
	var ds []Diagnostic
	i := rootIdx
	for typ != nil {
		if i+2 >= len(tokens) || tokens[i+1].kind != tokenDot || tokens[i+2].kind != tokenIdent {
			return ds
		}
		prop := tokens[i+2]
		if len(typ.Properties) == 0 {
			// Schema does not describe this level; nothing to check.
			return ds
		}
		next, ok := typ.Properties[prop.value]
		if !ok {
			ds = append(ds, Diagnostic{
				Severity: SeverityInformation,
				Message: fmt.Sprintf("property '%s' is not declared in the schema for this path",
					prop.value),
				StartOffset: prop.start,
				EndOffset:   prop.end,
			})
			return ds
		}
		typ = next
		i += 2
	}
	return ds
}

// suggestRoot finds a near-miss context root by Levenshtein distance. A
// distance of at most 2 counts as a near-miss; edit distance was chosen over
// substring matching because typos in short root names ("playload",
// "payloads") rarely preserve a substring relation.
func suggestRoot(name string, roots []string) string {
	best := ""
	bestDist := 3
	for _, r := range roots {
		d := levenshtein(name, r)
		if d < bestDist {
			best = r
			bestDist = d
		}
	}
	return best
}

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = minInt(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func minInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func sortDiagnostics(ds []Diagnostic) {
	for i := 1; i < len(ds); i++ {
		for j := i; j > 0 && ds[j].StartOffset < ds[j-1].StartOffset; j-- {
			ds[j], ds[j-1] = ds[j-1], ds[j]
		}
	}
}

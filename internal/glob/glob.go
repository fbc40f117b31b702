// Package glob implements the anchored wildcard patterns used by trigger
// rules to match branch and tag names.
//
// Patterns are matched against the whole ref, case-sensitively. A `*`
// matches any run of characters within a single path segment (it never
// crosses a `/`), so `feature/*` matches `feature/x` but not
// `feature/x/y`. A `**` matches any run of characters including `/`.
// Everything else is literal text.
package glob

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokenLiteral tokenKind = iota
	tokenStar              // any run of non-separator characters
	tokenDoubleStar        // any run of characters, separators included
)

type token struct {
	kind tokenKind
	text string // literal text, only for tokenLiteral
}

// Pattern is a compiled glob pattern. The zero value is not usable; use
// Compile or MustCompile.
type Pattern struct {
	raw    string
	tokens []token
}

// Compile parses a pattern string. It rejects the empty pattern and runs
// of three or more consecutive `*`, which have no defined meaning.
func Compile(raw string) (*Pattern, error) {
	if raw == "" {
		return nil, fmt.Errorf("glob: empty pattern")
	}
	if strings.Contains(raw, "***") {
		return nil, fmt.Errorf("glob: pattern %q contains more than two consecutive wildcards", raw)
	}

	var tokens []token
	rest := raw
	for rest != "" {
		switch {
		case strings.HasPrefix(rest, "**"):
			tokens = append(tokens, token{kind: tokenDoubleStar})
			rest = rest[2:]
		case strings.HasPrefix(rest, "*"):
			tokens = append(tokens, token{kind: tokenStar})
			rest = rest[1:]
		default:
			end := strings.IndexByte(rest, '*')
			if end == -1 {
				end = len(rest)
			}
			tokens = append(tokens, token{kind: tokenLiteral, text: rest[:end]})
			rest = rest[end:]
		}
	}

	return &Pattern{raw: raw, tokens: tokens}, nil
}

// MustCompile is Compile for patterns known valid at compile time; it
// panics on error.
func MustCompile(raw string) *Pattern {
	p, err := Compile(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the original pattern text.
func (p *Pattern) String() string {
	return p.raw
}

// Match reports whether the ref satisfies the pattern. The match is
// anchored at both ends.
func (p *Pattern) Match(ref string) bool {
	return matchTokens(p.tokens, ref)
}

// matchTokens matches via backtracking: literals consume exactly, stars
// try every permissible length of their run.
func matchTokens(tokens []token, s string) bool {
	if len(tokens) == 0 {
		return s == ""
	}

	head, rest := tokens[0], tokens[1:]
	switch head.kind {
	case tokenLiteral:
		if !strings.HasPrefix(s, head.text) {
			return false
		}
		return matchTokens(rest, s[len(head.text):])
	case tokenStar:
		limit := strings.IndexByte(s, '/')
		if limit == -1 {
			limit = len(s)
		}
		for n := limit; n >= 0; n-- {
			if matchTokens(rest, s[n:]) {
				return true
			}
		}
		return false
	case tokenDoubleStar:
		for n := len(s); n >= 0; n-- {
			if matchTokens(rest, s[n:]) {
				return true
			}
		}
		return false
	}
	return false
}

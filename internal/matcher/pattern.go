package matcher

import (
	"fmt"
	"strings"

	"github.com/dgraph-io/ristretto"
	"github.com/gobwas/glob"
)

// NormalizeNumber reduces a phone number or SIP address to its digits.
// "sip:+1 (555) 010-0000@carrier;user=phone" becomes "15550100000".
func NormalizeNumber(s string) string {
	s = strings.TrimSpace(s)
	for _, scheme := range []string{"sips:", "sip:", "tel:"} {
		if len(s) >= len(scheme) && strings.EqualFold(s[:len(scheme)], scheme) {
			s = s[len(scheme):]
			break
		}
	}
	if i := strings.IndexAny(s, "@;"); i >= 0 {
		s = s[:i]
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizePattern rewrites a dial pattern into a digit glob.
//
//	X      any digit
//	Z      1-9
//	N      2-9
//	.      one or more digits
//	* ? [] glob syntax
//
// Formatting characters (+, spaces, parentheses, dashes outside brackets) are dropped.
func NormalizePattern(p string) (string, error) {
	var (
		b       strings.Builder
		inClass bool
	)
	for _, r := range strings.TrimSpace(p) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case inClass && (r == '-' || r == '!'):
			b.WriteRune(r)
		case r == '[':
			if inClass {
				return "", fmt.Errorf("matcher: nested class in %q", p)
			}
			inClass = true
			b.WriteRune(r)
		case r == ']':
			if !inClass {
				return "", fmt.Errorf("matcher: unbalanced ] in %q", p)
			}
			inClass = false
			b.WriteRune(r)
		case inClass:
			return "", fmt.Errorf("matcher: %q not allowed in class of %q", r, p)
		case r == '*' || r == '?':
			b.WriteRune(r)
		case r == 'X' || r == 'x':
			b.WriteRune('?')
		case r == 'Z' || r == 'z':
			b.WriteString("[1-9]")
		case r == 'N' || r == 'n':
			b.WriteString("[2-9]")
		case r == '.':
			b.WriteString("?*")
		case r == '+' || r == ' ' || r == '(' || r == ')' || r == '-':
		default:
			return "", fmt.Errorf("matcher: unexpected %q in %q", r, p)
		}
	}
	if inClass {
		return "", fmt.Errorf("matcher: unterminated class in %q", p)
	}
	return b.String(), nil
}

// Patterns compiles dial patterns and keeps the compiled form in a bounded cache.
type Patterns struct {
	cache *ristretto.Cache
}

type compiled struct {
	g     glob.Glob
	exact string
	any   bool
	err   error
}

func NewPatterns(maxEntries int64) (*Patterns, error) {
	if maxEntries <= 0 {
		maxEntries = 10_000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Patterns{cache: cache}, nil
}

func (p *Patterns) compile(pattern string) compiled {
	if v, ok := p.cache.Get(pattern); ok {
		if c, ok := v.(compiled); ok {
			return c
		}
	}
	c := compilePattern(pattern)
	p.cache.Set(pattern, c, 1)
	return c
}

func compilePattern(pattern string) compiled {
	norm, err := NormalizePattern(pattern)
	if err != nil {
		return compiled{err: err}
	}
	if norm == "" || strings.Trim(norm, "*") == "" {
		return compiled{any: true}
	}
	if !strings.ContainsAny(norm, "*?[") {
		return compiled{exact: norm}
	}
	g, err := glob.Compile(norm)
	if err != nil {
		return compiled{err: fmt.Errorf("matcher: compile %q: %w", pattern, err)}
	}
	return compiled{g: g}
}

// Match reports whether number matches pattern. An empty pattern or a bare *
// matches everything.
func (p *Patterns) Match(pattern, number string) (bool, error) {
	c := p.compile(pattern)
	if c.err != nil {
		return false, c.err
	}
	if c.any {
		return true, nil
	}
	n := NormalizeNumber(number)
	if c.g == nil {
		return n == c.exact, nil
	}
	return c.g.Match(n), nil
}

// Validate reports whether pattern compiles.
func (p *Patterns) Validate(pattern string) error {
	return p.compile(pattern).err
}

func (p *Patterns) Close() { p.cache.Close() }

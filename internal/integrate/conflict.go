package integrate

import (
	"sort"
	"strings"
)

// Conflict is a pair of claims from two roles taking opposite positions on
// a shared subject.
type Conflict struct {
	RoleA      string   `json:"role_a"`
	StatementA string   `json:"statement_a"`
	RoleB      string   `json:"role_b"`
	StatementB string   `json:"statement_b"`
	Terms      []string `json:"terms"`   // the contradictory pair, as seen in A then B
	Subject    []string `json:"subject"` // shared keywords, sorted
	Flagged    bool     `json:"flagged"`
}

// termPair is a contradictory pair of normalized phrases.
type termPair struct {
	p, q []string
}

func compileTerms(pairs [][]string) []termPair {
	out := make([]termPair, 0, len(pairs))
	for _, pair := range pairs {
		if len(pair) != 2 {
			continue
		}
		p, q := tokenize(pair[0]), tokenize(pair[1])
		if len(p) == 0 || len(q) == 0 {
			continue
		}
		out = append(out, termPair{p: p, q: q})
	}
	return out
}

// matches returns the start offsets where phrase occurs in tokens.
func matches(tokens, phrase []string) []int {
	var at []int
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		ok := true
		for j := range phrase {
			if tokens[i+j] != phrase[j] {
				ok = false
				break
			}
		}
		if ok {
			at = append(at, i)
		}
	}
	return at
}

// asserts reports whether tokens contain want outside every occurrence of
// other. "should" is not asserted by "should not".
func asserts(tokens, want, other []string) bool {
	covered := make([]bool, len(tokens))
	for _, i := range matches(tokens, other) {
		for j := i; j < i+len(other); j++ {
			covered[j] = true
		}
	}
	for _, i := range matches(tokens, want) {
		free := true
		for j := i; j < i+len(want); j++ {
			if covered[j] {
				free = false
				break
			}
		}
		if free {
			return true
		}
	}
	return false
}

// opposes reports whether a asserts p without q while b asserts q without p.
func opposes(a, b []string, t termPair) bool {
	return asserts(a, t.p, t.q) && !asserts(a, t.q, t.p) &&
		asserts(b, t.q, t.p) && !asserts(b, t.p, t.q)
}

// subject returns the keywords two claims share, excluding the terms that
// put them in conflict.
func subject(a, b []string, t termPair) []string {
	skip := make(map[string]bool)
	for _, w := range append(append([]string{}, t.p...), t.q...) {
		skip[w] = true
	}
	ka, kb := keywords(a), keywords(b)
	var shared []string
	for w := range ka {
		if kb[w] && !skip[w] {
			shared = append(shared, w)
		}
	}
	sort.Strings(shared)
	return shared
}

// detectConflicts compares every claim of every role pair. Sections must be
// sorted; at most one conflict is reported per claim pair.
func detectConflicts(sections []section, terms []termPair, flagged map[string]bool) []Conflict {
	var out []Conflict
	for i := 0; i < len(sections); i++ {
		for j := i + 1; j < len(sections); j++ {
			x, y := sections[i], sections[j]
			for _, ca := range x.claims {
				for _, cb := range y.claims {
					if c, ok := conflictBetween(x.role, ca, y.role, cb, terms); ok {
						c.Flagged = flagged[c.RoleA] || flagged[c.RoleB]
						out = append(out, c)
					}
				}
			}
		}
	}
	return out
}

func conflictBetween(roleA string, a claim, roleB string, b claim, terms []termPair) (Conflict, bool) {
	for _, t := range terms {
		var seen []string
		switch {
		case opposes(a.Tokens, b.Tokens, t):
			seen = []string{strings.Join(t.p, " "), strings.Join(t.q, " ")}
		case opposes(b.Tokens, a.Tokens, t):
			seen = []string{strings.Join(t.q, " "), strings.Join(t.p, " ")}
		default:
			continue
		}
		shared := subject(a.Tokens, b.Tokens, t)
		if len(shared) == 0 {
			continue
		}
		return Conflict{
			RoleA:      roleA,
			StatementA: a.Text,
			RoleB:      roleB,
			StatementB: b.Text,
			Terms:      seen,
			Subject:    shared,
		}, true
	}
	return Conflict{}, false
}

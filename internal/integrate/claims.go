package integrate

import (
	"regexp"
	"strings"
	"unicode"
)

// claim is one sentence or bullet from a worker's payload.
type claim struct {
	Text   string   // verbatim, trimmed
	Tokens []string // normalized tokens in order
}

var (
	listMarker    = regexp.MustCompile(`^\s*(?:[-*•+]|\d+[.)]|[a-zA-Z][.)])\s+`)
	sentenceBreak = regexp.MustCompile(`([.!?])\s+`)
)

// stopwords are dropped from keyword sets.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true, "not": true,
	"you": true, "all": true, "any": true, "can": true, "has": true, "have": true,
	"had": true, "was": true, "were": true, "its": true, "this": true, "that": true,
	"these": true, "those": true, "with": true, "from": true, "into": true, "onto": true,
	"there": true, "their": true, "they": true, "them": true, "then": true, "than": true,
	"which": true, "while": true, "will": true, "would": true, "could": true, "should": true,
	"been": true, "being": true, "also": true, "more": true, "most": true, "some": true,
	"such": true, "only": true, "very": true, "just": true, "our": true, "out": true,
	"over": true, "under": true, "about": true, "after": true, "before": true, "when": true,
	"where": true, "what": true, "who": true, "why": true, "how": true, "does": true,
	"did": true, "doing": true, "each": true, "other": true, "own": true, "same": true,
	"too": true, "use": true, "used": true, "using": true, "may": true, "might": true,
	"must": true, "one": true, "two": true, "per": true, "via": true, "because": true,
	"both": true, "between": true, "here": true, "well": true, "yet": true, "nor": true,
}

// extractClaims splits a payload into lines, strips list markers, and splits
// each line into sentences.
func extractClaims(payload string) []claim {
	var out []claim
	for _, line := range strings.Split(payload, "\n") {
		line = listMarker.ReplaceAllString(line, "")
		line = strings.TrimSpace(strings.TrimLeft(line, "#>"))
		if line == "" {
			continue
		}
		for _, s := range splitSentences(line) {
			toks := tokenize(s)
			if len(toks) == 0 {
				continue
			}
			out = append(out, claim{Text: s, Tokens: toks})
		}
	}
	return out
}

func splitSentences(line string) []string {
	marked := sentenceBreak.ReplaceAllString(line, "$1\n")
	var out []string
	for _, s := range strings.Split(marked, "\n") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// normalize lowercases s, replaces punctuation with spaces, and collapses
// whitespace.
func normalize(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		if r == '\'' {
			return -1
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}

func tokenize(s string) []string {
	return strings.Fields(normalize(s))
}

// keywords returns the content words of tokens: length three or more and
// not a stopword.
func keywords(tokens []string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range tokens {
		if len(t) >= 3 && !stopwords[t] {
			set[t] = true
		}
	}
	return set
}

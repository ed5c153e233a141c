// Package analyzer scores a request's complexity and picks the roles that
// should review it.
package analyzer

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/zulandar/junction/internal/config"
	"github.com/zulandar/junction/internal/role"
)

const (
	minScore = 1
	maxScore = 5
)

var connectorWords = map[string]bool{"and": true, "also": true, "plus": true}

// Options tunes the analyzer.
type Options struct {
	Threshold   int
	MaxParallel int
	Weights     config.WeightsConfig
	DefaultRole role.Role
}

// OptionsFromConfig converts the analyzer config section. The config is
// expected to be validated already.
func OptionsFromConfig(cfg config.AnalyzerConfig) Options {
	def, err := role.Parse(cfg.DefaultRole)
	if err != nil {
		def = role.General
	}
	return Options{
		Threshold:   cfg.ComplexityThreshold,
		MaxParallel: cfg.MaxParallel,
		Weights:     cfg.Weights,
		DefaultRole: def,
	}
}

// Decision is the analyzer's output, consumed by the dispatcher.
type Decision struct {
	ShouldParallelize bool        `json:"should_parallelize"`
	ComplexityScore   int         `json:"complexity_score"`
	CandidateRoles    []role.Role `json:"candidate_roles"`
	Reasoning         string      `json:"reasoning"`
	Pinned            bool        `json:"pinned,omitempty"`
}

// Analyzer scores requests. It holds no mutable state.
type Analyzer struct {
	opts Options
}

// New creates an Analyzer, filling zero options with defaults.
func New(opts Options) *Analyzer {
	if opts.Threshold == 0 {
		opts.Threshold = 3
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 6
	}
	if opts.Weights == (config.WeightsConfig{}) {
		opts.Weights = config.WeightsConfig{Words: 1, Roles: 1, Connectors: 1}
	}
	if opts.DefaultRole.IsZero() {
		opts.DefaultRole = role.General
	}
	return &Analyzer{opts: opts}
}

// Analyze scores request and selects candidate roles. When pinned is
// non-empty the listed roles are used as-is (deduplicated, capped) and the
// score is informational only.
func (a *Analyzer) Analyze(request string, pinned []string) (*Decision, error) {
	if strings.TrimSpace(request) == "" {
		return nil, fmt.Errorf("analyzer: request is required")
	}

	pinnedRoles, err := role.ParseAll(pinned)
	if err != nil {
		return nil, fmt.Errorf("analyzer: pinned roles: %w", err)
	}

	sig := measure(request)
	score := a.score(sig)

	if len(pinnedRoles) > 0 {
		roles := capRoles(pinnedRoles, a.opts.MaxParallel)
		return &Decision{
			ShouldParallelize: len(roles) >= 2,
			ComplexityScore:   score,
			CandidateRoles:    roles,
			Pinned:            true,
			Reasoning: fmt.Sprintf("pinned roles %s (capped at %d); complexity %d reported for information",
				strings.Join(role.Names(roles), ", "), a.opts.MaxParallel, score),
		}, nil
	}

	if len(sig.matches) == 0 {
		return &Decision{
			ShouldParallelize: false,
			ComplexityScore:   score,
			CandidateRoles:    []role.Role{a.opts.DefaultRole},
			Reasoning: fmt.Sprintf("no role keywords matched; using default role %s (%d words, complexity %d)",
				a.opts.DefaultRole, sig.words, score),
		}, nil
	}

	ranked := rankRoles(sig.matches)
	distinct := len(ranked)
	roles := capRoles(ranked, a.opts.MaxParallel)
	parallel := score >= a.opts.Threshold && distinct >= 2

	return &Decision{
		ShouldParallelize: parallel,
		ComplexityScore:   score,
		CandidateRoles:    roles,
		Reasoning: fmt.Sprintf("%d words, %d roles matched (%s), connectors=%t; complexity %d vs threshold %d",
			sig.words, distinct, strings.Join(role.Names(roles), ", "), sig.connectors, score, a.opts.Threshold),
	}, nil
}

// signals are the raw measurements behind a complexity score.
type signals struct {
	words      int
	matches    map[role.Role]int
	connectors bool
}

func measure(request string) signals {
	tokens := tokenize(request)
	sig := signals{
		words:   len(strings.Fields(request)),
		matches: make(map[role.Role]int),
	}

	for _, r := range role.Known() {
		kw := r.Keywords()
		if len(kw) == 0 {
			continue
		}
		set := make(map[string]bool, len(kw))
		for _, k := range kw {
			set[k] = true
		}
		n := 0
		for _, tok := range tokens {
			if set[tok] {
				n++
			}
		}
		if n > 0 {
			sig.matches[r] = n
		}
	}

	sig.connectors = hasConnectors(request, tokens)
	return sig
}

func (a *Analyzer) score(sig signals) int {
	w := a.opts.Weights
	raw := w.Words*float64(wordBucket(sig.words)) +
		w.Roles*float64(roleBucket(len(sig.matches))) +
		w.Connectors*float64(boolBucket(sig.connectors))
	score := int(math.Round(raw))
	if score < minScore {
		return minScore
	}
	if score > maxScore {
		return maxScore
	}
	return score
}

func wordBucket(n int) int {
	switch {
	case n < 8:
		return 0
	case n < 40:
		return 1
	case n < 120:
		return 2
	default:
		return 3
	}
}

func roleBucket(n int) int {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		return 2
	}
}

func boolBucket(b bool) int {
	if b {
		return 1
	}
	return 0
}

func hasConnectors(request string, tokens []string) bool {
	for _, tok := range tokens {
		if connectorWords[tok] {
			return true
		}
	}
	lower := strings.ToLower(request)
	if strings.Contains(lower, "as well as") || strings.ContainsAny(request, ",;") {
		return true
	}
	for _, line := range strings.Split(request, "\n") {
		if isListItem(strings.TrimSpace(line)) {
			return true
		}
	}
	return false
}

// isListItem reports whether line starts with a bullet or "1." / "1)" marker.
func isListItem(line string) bool {
	if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") || strings.HasPrefix(line, "• ") {
		return true
	}
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	return i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')')
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// rankRoles orders matched roles by match count, then canonical order.
func rankRoles(matches map[role.Role]int) []role.Role {
	roles := make([]role.Role, 0, len(matches))
	for r := range matches {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool {
		if matches[roles[i]] != matches[roles[j]] {
			return matches[roles[i]] > matches[roles[j]]
		}
		return roles[i].Rank() < roles[j].Rank()
	})
	return roles
}

func capRoles(roles []role.Role, max int) []role.Role {
	if len(roles) > max {
		roles = roles[:max]
	}
	out := make([]role.Role, len(roles))
	copy(out, roles)
	return out
}

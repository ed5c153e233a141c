// Package integrate merges the results of a finalized session into one
// order-independent report: consensus, conflicts, and a synthesis that names
// every missing role.
package integrate

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zulandar/junction/internal/config"
	"github.com/zulandar/junction/internal/models"
)

// IntegrationDataError means a session produced no usable results. It is
// recorded as the reason on a degraded report, never returned to callers.
type IntegrationDataError struct {
	SessionID string
	Failed    int
}

func (e *IntegrationDataError) Error() string {
	return fmt.Sprintf("integrate: session %s has no completed results (%d failed)", e.SessionID, e.Failed)
}

// Options tunes report generation.
type Options struct {
	High          float64
	Medium        float64
	ConflictTerms [][]string
	RolePriority  []string
	FlaggedRoles  []string
	SummaryClaims int
}

// OptionsFromConfig converts the integrate config section.
func OptionsFromConfig(cfg config.IntegrateConfig) Options {
	return Options{
		High:          cfg.Consensus.High,
		Medium:        cfg.Consensus.Medium,
		ConflictTerms: cfg.ConflictTerms,
		RolePriority:  cfg.RolePriority,
		FlaggedRoles:  cfg.FlaggedRoles,
		SummaryClaims: cfg.SummaryClaims,
	}
}

func (o Options) withDefaults() Options {
	if o.High == 0 && o.Medium == 0 {
		o.High, o.Medium = 0.8, 0.5
	}
	if o.ConflictTerms == nil {
		o.ConflictTerms = config.DefaultConflictTerms
	}
	if o.RolePriority == nil {
		o.RolePriority = config.DefaultRolePriority
	}
	if o.FlaggedRoles == nil {
		o.FlaggedRoles = []string{"security"}
	}
	if o.SummaryClaims <= 0 {
		o.SummaryClaims = 3
	}
	return o
}

// RoleSummary is the leading claims of one completed role.
type RoleSummary struct {
	Role            string   `json:"role"`
	TaskID          string   `json:"task_id"`
	Claims          []string `json:"claims"`
	ExecutionTimeMs int64    `json:"execution_time_ms"`
}

// PairSimilarity is the Jaccard similarity of two roles' keyword sets.
type PairSimilarity struct {
	RoleA string  `json:"role_a"`
	RoleB string  `json:"role_b"`
	Score float64 `json:"score"`
}

// MissingRole names a role that produced no usable result.
type MissingRole struct {
	Role   string `json:"role"`
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

// Report is the merged output of a session.
type Report struct {
	SessionID       string           `json:"session_id"`
	SessionStatus   string           `json:"session_status"`
	ConsensusBucket string           `json:"consensus_bucket"`
	MeanSimilarity  float64          `json:"mean_similarity"`
	Summaries       []RoleSummary    `json:"summaries"`
	Similarities    []PairSimilarity `json:"similarities"`
	Conflicts       []Conflict       `json:"conflicts"`
	MissingRoles    []MissingRole    `json:"missing_roles"`
	Synthesis       string           `json:"synthesis"`
	Degraded        bool             `json:"degraded"`
	DegradedReason  string           `json:"degraded_reason,omitempty"`
	Fingerprint     string           `json:"fingerprint"`
	GeneratedAt     time.Time        `json:"generated_at"`
}

// Input is everything Build reads. Order of Tasks and Results is irrelevant.
type Input struct {
	SessionID     string
	SessionStatus string
	Tasks         []models.Task
	Results       []models.Result
}

// section is one completed role's result, parsed.
type section struct {
	role     string
	taskID   string
	payload  string
	execMs   int64
	claims   []claim
	keywords map[string]bool
}

// Build computes a report. It is a pure function of in and opts apart from
// GeneratedAt, which the caller sets.
func Build(in Input, opts Options) *Report {
	opts = opts.withDefaults()
	rank := priority(opts.RolePriority)

	results := make(map[string]models.Result, len(in.Results))
	for _, r := range in.Results {
		results[r.TaskID] = r
	}

	var sections []section
	var missing []MissingRole
	for _, t := range in.Tasks {
		r, ok := results[t.ID]
		if t.Status == models.TaskCompleted && ok && r.Status == models.ResultSuccess {
			claims := extractClaims(r.Payload)
			kw := make(map[string]bool)
			for _, c := range claims {
				for w := range keywords(c.Tokens) {
					kw[w] = true
				}
			}
			sections = append(sections, section{
				role: t.Role, taskID: t.ID, payload: strings.TrimSpace(r.Payload),
				execMs: r.ExecutionTimeMs, claims: claims, keywords: kw,
			})
			continue
		}
		missing = append(missing, MissingRole{Role: t.Role, TaskID: t.ID, Reason: missingReason(t)})
	}
	sort.Slice(sections, func(i, j int) bool {
		return lessRoleTask(sections[i].role, sections[i].taskID, sections[j].role, sections[j].taskID)
	})
	sort.Slice(missing, func(i, j int) bool {
		return lessRoleTask(missing[i].Role, missing[i].TaskID, missing[j].Role, missing[j].TaskID)
	})

	rep := &Report{
		SessionID:     in.SessionID,
		SessionStatus: in.SessionStatus,
		Summaries:     []RoleSummary{},
		Similarities:  []PairSimilarity{},
		Conflicts:     []Conflict{},
		MissingRoles:  missing,
	}
	if rep.MissingRoles == nil {
		rep.MissingRoles = []MissingRole{}
	}

	for _, s := range sections {
		n := opts.SummaryClaims
		if n > len(s.claims) {
			n = len(s.claims)
		}
		lead := make([]string, n)
		for i := 0; i < n; i++ {
			lead[i] = s.claims[i].Text
		}
		rep.Summaries = append(rep.Summaries, RoleSummary{Role: s.role, TaskID: s.taskID, Claims: lead, ExecutionTimeMs: s.execMs})
	}

	var scores []float64
	for i := 0; i < len(sections); i++ {
		for j := i + 1; j < len(sections); j++ {
			score := round4(Jaccard(sections[i].keywords, sections[j].keywords))
			scores = append(scores, score)
			rep.Similarities = append(rep.Similarities, PairSimilarity{
				RoleA: sections[i].role, RoleB: sections[j].role, Score: score,
			})
		}
	}
	rep.MeanSimilarity = Mean(scores)
	rep.ConsensusBucket = BucketScores(scores, opts.High, opts.Medium)

	flagged := make(map[string]bool, len(opts.FlaggedRoles))
	for _, r := range opts.FlaggedRoles {
		flagged[r] = true
	}
	if c := detectConflicts(sections, compileTerms(opts.ConflictTerms), flagged); c != nil {
		rep.Conflicts = c
	}
	sort.SliceStable(rep.Conflicts, func(i, j int) bool {
		a, b := rep.Conflicts[i], rep.Conflicts[j]
		if a.Flagged != b.Flagged {
			return a.Flagged
		}
		if a.RoleA != b.RoleA {
			return rank.less(a.RoleA, b.RoleA)
		}
		if a.RoleB != b.RoleB {
			return rank.less(a.RoleB, b.RoleB)
		}
		if a.StatementA != b.StatementA {
			return a.StatementA < b.StatementA
		}
		return a.StatementB < b.StatementB
	})

	if len(sections) == 0 {
		rep.Degraded = true
		rep.DegradedReason = (&IntegrationDataError{SessionID: in.SessionID, Failed: len(missing)}).Error()
	}

	ordered := append([]section(nil), sections...)
	sort.SliceStable(ordered, func(i, j int) bool { return rank.less(ordered[i].role, ordered[j].role) })
	rep.Synthesis = synthesize(rep, ordered)
	rep.Fingerprint = fingerprint(rep)
	return rep
}

func missingReason(t models.Task) string {
	switch {
	case t.Status == models.TaskDispatched:
		return "no result"
	case t.FailureReason != "":
		return t.FailureReason
	case t.Status == models.TaskCompleted:
		return "no result"
	default:
		return models.ReasonWorkerError
	}
}

func lessRoleTask(ra, ta, rb, tb string) bool {
	if ra != rb {
		return ra < rb
	}
	return ta < tb
}

// rolePriority ranks roles by configured order; unlisted roles follow,
// alphabetically.
type rolePriority map[string]int

func priority(order []string) rolePriority {
	p := make(rolePriority, len(order))
	for i, r := range order {
		if _, ok := p[r]; !ok {
			p[r] = i
		}
	}
	return p
}

func (p rolePriority) less(a, b string) bool {
	ia, okA := p[a]
	ib, okB := p[b]
	switch {
	case okA && okB:
		if ia != ib {
			return ia < ib
		}
		return a < b
	case okA:
		return true
	case okB:
		return false
	default:
		return a < b
	}
}

// fingerprint hashes the report with timestamps and the fingerprint itself
// excluded.
func fingerprint(r *Report) string {
	c := *r
	c.GeneratedAt = time.Time{}
	c.Fingerprint = ""
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the fingerprint and reports whether it still matches.
func (r *Report) Verify() bool {
	return r.Fingerprint != "" && fingerprint(r) == r.Fingerprint
}

func synthesize(r *Report, ordered []section) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Integration report: session %s\n\n", r.SessionID)

	total := len(ordered) + len(r.MissingRoles)
	switch {
	case r.Degraded:
		fmt.Fprintf(&b, "Total failure: none of %d roles produced a result.\n", total)
	case len(r.MissingRoles) > 0:
		fmt.Fprintf(&b, "Partial result: %d of %d roles reported. Consensus: %s (mean similarity %.2f).\n",
			len(ordered), total, r.ConsensusBucket, r.MeanSimilarity)
	default:
		fmt.Fprintf(&b, "All %d roles reported. Consensus: %s (mean similarity %.2f).\n",
			total, r.ConsensusBucket, r.MeanSimilarity)
	}

	if len(r.Conflicts) > 0 {
		b.WriteString("\n## Conflicts\n\n")
		for _, c := range r.Conflicts {
			mark := ""
			if c.Flagged {
				mark = " [flagged]"
			}
			fmt.Fprintf(&b, "- %s vs %s on %s (%s / %s)%s\n", c.RoleA, c.RoleB,
				strings.Join(c.Subject, ", "), c.Terms[0], c.Terms[1], mark)
			fmt.Fprintf(&b, "  - %s: %q\n", c.RoleA, c.StatementA)
			fmt.Fprintf(&b, "  - %s: %q\n", c.RoleB, c.StatementB)
		}
	}

	for _, s := range ordered {
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", s.role, s.payload)
	}

	if len(r.MissingRoles) > 0 {
		b.WriteString("\n## Missing roles\n\n")
		for _, m := range r.MissingRoles {
			fmt.Fprintf(&b, "- %s: %s\n", m.Role, m.Reason)
		}
	}
	return b.String()
}

package integrate

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/junction/internal/models"
)

func task(id, role, status, reason string) models.Task {
	return models.Task{ID: id, SessionID: "s1", Role: role, Status: status, FailureReason: reason}
}

func result(taskID, role, payload string) models.Result {
	return models.Result{SessionID: "s1", TaskID: taskID, Role: role, Status: models.ResultSuccess, Payload: payload, ExecutionTimeMs: 100}
}

func scenarioInput() Input {
	return Input{
		SessionID:     "s1",
		SessionStatus: models.SessionComplete,
		Tasks: []models.Task{
			task("t-perf", "performance", models.TaskCompleted, ""),
			task("t-sec", "security", models.TaskCompleted, ""),
			task("t-arch", "architecture", models.TaskCompleted, ""),
		},
		Results: []models.Result{
			result("t-perf", "performance", "- The token cache is secure and efficient.\n- Database queries in the handler are slow under load."),
			result("t-sec", "security", "1. The token cache is insecure because entries never expire.\n2. Input validation is missing on the upload handler."),
			result("t-arch", "architecture", "The handler layer mixes transport and storage concerns. Split the upload handler into a service."),
		},
	}
}

func TestJaccard(t *testing.T) {
	a := map[string]bool{"cache": true, "token": true, "expire": true}
	b := map[string]bool{"cache": true, "token": true, "slow": true}
	assert.InDelta(t, 0.5, Jaccard(a, b), 1e-9)
	assert.Equal(t, 1.0, Jaccard(a, a))
	assert.Equal(t, 0.0, Jaccard(nil, nil))
	assert.Equal(t, 0.0, Jaccard(a, nil))
}

func TestBucketScores(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		want   string
	}{
		{"high", []float64{0.9, 0.85, 0.95}, BucketHigh},
		{"low", []float64{0.4, 0.3, 0.6}, BucketLow},
		{"medium", []float64{0.5, 0.6, 0.7}, BucketMedium},
		{"exactly high threshold is medium", []float64{0.8}, BucketMedium},
		{"exactly medium threshold is medium", []float64{0.5}, BucketMedium},
		{"no pairs", nil, BucketLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BucketScores(tt.scores, 0.8, 0.5))
		})
	}
}

func TestExtractClaims(t *testing.T) {
	claims := extractClaims("## Findings\n- First point. Second point!\n2) Third point\n\n   \n* fourth")
	var texts []string
	for _, c := range claims {
		texts = append(texts, c.Text)
	}
	assert.Equal(t, []string{"Findings", "First point.", "Second point!", "Third point", "fourth"}, texts)
	assert.Equal(t, []string{"first", "point"}, claims[1].Tokens)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "its fine dont panic", normalize("It's   fine; DON'T panic!!"))
	assert.Equal(t, "a b", normalize("  a--b  "))
}

func TestAsserts_PhraseContainment(t *testing.T) {
	should := tokenize("should")
	shouldNot := tokenize("should not")

	assert.True(t, asserts(tokenize("you should cache tokens"), should, shouldNot))
	assert.False(t, asserts(tokenize("you should not cache tokens"), should, shouldNot))
	assert.True(t, asserts(tokenize("you should not cache tokens"), shouldNot, should))
}

func TestBuild_Scenario(t *testing.T) {
	rep := Build(scenarioInput(), Options{})

	assert.False(t, rep.Degraded)
	assert.Empty(t, rep.MissingRoles)
	require.Len(t, rep.Summaries, 3)
	assert.Equal(t, "architecture", rep.Summaries[0].Role)
	require.Len(t, rep.Similarities, 3)
	assert.Contains(t, []string{BucketHigh, BucketMedium, BucketLow}, rep.ConsensusBucket)
	assert.Equal(t, BucketScores([]float64{rep.Similarities[0].Score, rep.Similarities[1].Score, rep.Similarities[2].Score}, 0.8, 0.5), rep.ConsensusBucket)

	require.Len(t, rep.Conflicts, 1)
	c := rep.Conflicts[0]
	assert.Equal(t, "performance", c.RoleA)
	assert.Equal(t, "security", c.RoleB)
	assert.Equal(t, "The token cache is secure and efficient.", c.StatementA)
	assert.Equal(t, []string{"secure", "insecure"}, c.Terms)
	assert.Equal(t, "The token cache is insecure because entries never expire.", c.StatementB)
	assert.Equal(t, []string{"cache", "token"}, c.Subject)
	assert.True(t, c.Flagged)

	sec := strings.Index(rep.Synthesis, "## security")
	perf := strings.Index(rep.Synthesis, "## performance")
	arch := strings.Index(rep.Synthesis, "## architecture")
	conflicts := strings.Index(rep.Synthesis, "## Conflicts")
	require.True(t, sec > 0 && perf > 0 && arch > 0 && conflicts > 0)
	assert.Less(t, conflicts, sec)
	assert.Less(t, sec, perf)
	assert.Less(t, perf, arch)
	assert.NotEmpty(t, rep.Fingerprint)
	assert.True(t, rep.Verify())
}

func TestBuild_NoConflictWithoutSharedSubject(t *testing.T) {
	in := Input{
		SessionID: "s1",
		Tasks: []models.Task{
			task("a", "security", models.TaskCompleted, ""),
			task("b", "performance", models.TaskCompleted, ""),
		},
		Results: []models.Result{
			result("a", "security", "Password hashing is secure."),
			result("b", "performance", "Image rendering is insecure."),
		},
	}
	rep := Build(in, Options{})
	assert.Empty(t, rep.Conflicts)
}

func TestBuild_OrderIndependent(t *testing.T) {
	base := Build(scenarioInput(), Options{})

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		in := scenarioInput()
		rng.Shuffle(len(in.Tasks), func(a, b int) { in.Tasks[a], in.Tasks[b] = in.Tasks[b], in.Tasks[a] })
		rng.Shuffle(len(in.Results), func(a, b int) { in.Results[a], in.Results[b] = in.Results[b], in.Results[a] })

		got := Build(in, Options{})
		assert.Equal(t, base.Fingerprint, got.Fingerprint)
		assert.Equal(t, base.Synthesis, got.Synthesis)
		assert.Equal(t, base, got)
	}
}

func TestBuild_TimedOutNamesMissingRole(t *testing.T) {
	in := scenarioInput()
	in.SessionStatus = models.SessionTimedOut
	in.Tasks[2] = task("t-arch", "architecture", models.TaskFailed, models.ReasonTimeout)
	in.Results = in.Results[:2]

	rep := Build(in, Options{})
	require.Len(t, rep.MissingRoles, 1)
	assert.Equal(t, MissingRole{Role: "architecture", TaskID: "t-arch", Reason: models.ReasonTimeout}, rep.MissingRoles[0])
	assert.Contains(t, rep.Synthesis, "Partial result: 2 of 3 roles reported")
	assert.Contains(t, rep.Synthesis, "## Missing roles\n\n- architecture: timeout")
	assert.NotContains(t, rep.Synthesis, "## architecture")
}

func TestBuild_ZeroResultsDegraded(t *testing.T) {
	in := Input{
		SessionID:     "s1",
		SessionStatus: models.SessionTimedOut,
		Tasks: []models.Task{
			task("a", "security", models.TaskFailed, models.ReasonTimeout),
			task("b", "testing", models.TaskFailed, models.ReasonWorkerError),
		},
	}
	rep := Build(in, Options{})
	assert.True(t, rep.Degraded)
	assert.Contains(t, rep.DegradedReason, "no completed results")
	assert.Equal(t, BucketLow, rep.ConsensusBucket)
	assert.Len(t, rep.MissingRoles, 2)
	assert.Contains(t, rep.Synthesis, "Total failure: none of 2 roles produced a result.")
	assert.NotNil(t, rep.Summaries)
}

func TestBuild_IgnoresErrorResults(t *testing.T) {
	in := Input{
		SessionID: "s1",
		Tasks:     []models.Task{task("a", "security", models.TaskFailed, models.ReasonWorkerError)},
		Results: []models.Result{{
			SessionID: "s1", TaskID: "a", Role: "security", Status: models.ResultError, Payload: "crashed",
		}},
	}
	rep := Build(in, Options{})
	assert.True(t, rep.Degraded)
	assert.NotContains(t, rep.Synthesis, "crashed")
}

func TestRolePriority(t *testing.T) {
	p := priority([]string{"security", "performance"})
	assert.True(t, p.less("security", "performance"))
	assert.True(t, p.less("performance", "compliance"))
	assert.True(t, p.less("compliance", "legal"))
	assert.False(t, p.less("legal", "security"))
}

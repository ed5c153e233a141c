package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/junction/internal/capture"
	"github.com/zulandar/junction/internal/config"
	"github.com/zulandar/junction/internal/db"
	"github.com/zulandar/junction/internal/integrate"
	"github.com/zulandar/junction/internal/launcher"
	"github.com/zulandar/junction/internal/models"
	"github.com/zulandar/junction/internal/notify"
	"gorm.io/gorm"
)

const scenarioRequest = "Review this API for performance and security issues, and check the overall architecture"

var payloads = map[string]string{
	"security":     "- Session tokens are stored without expiry.\n- Rate limiting on the login API is missing.",
	"performance":  "- The API handler performs one query per item.\n- Response caching for the catalog API is missing.",
	"architecture": "- The API layer mixes transport and persistence.\n- Extract a service layer between the handler and storage.",
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gdb))
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return gdb
}

type assignments struct {
	mu   sync.Mutex
	list []launcher.Assignment
}

func (a *assignments) launch(_ context.Context, as launcher.Assignment) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.list = append(a.list, as)
	return nil
}

func (a *assignments) all() []launcher.Assignment {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]launcher.Assignment(nil), a.list...)
}

type harness struct {
	o       *Orchestrator
	db      *gorm.DB
	workers *assignments
	reports chan *integrate.Report
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Tracker.SweepInterval = 20 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}
	h := &harness{db: testDB(t), workers: &assignments{}, reports: make(chan *integrate.Report, 8)}
	o, err := New(context.Background(), Options{
		Config:   cfg,
		DB:       h.db,
		Launcher: launcher.Func(h.workers.launch),
		Notifier: notify.New(nil),
		OnReport: func(r *integrate.Report) { h.reports <- r },
	})
	require.NoError(t, err)
	t.Cleanup(o.Close)
	h.o = o
	return h
}

func (h *harness) complete(t *testing.T, a launcher.Assignment) *capture.Outcome {
	t.Helper()
	out, err := h.o.Complete(context.Background(), capture.Completion{
		SessionID:       a.SessionID,
		TaskID:          a.TaskID,
		Role:            a.Role,
		Payload:         payloads[a.Role],
		ExecutionTimeMs: 900,
		Status:          models.ResultSuccess,
	}, false)
	require.NoError(t, err)
	return out
}

func (h *harness) awaitReport(t *testing.T) *integrate.Report {
	t.Helper()
	select {
	case r := <-h.reports:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("no report produced")
		return nil
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(context.Background(), Options{DB: testDB(t)})
	assert.ErrorContains(t, err, "config is required")
	_, err = New(context.Background(), Options{Config: config.Default()})
	assert.ErrorContains(t, err, "db is required")
}

func TestScenario_EndToEnd(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	sub, err := h.o.Submit(ctx, scenarioRequest, nil)
	require.NoError(t, err)
	assert.True(t, sub.Decision.ShouldParallelize)
	assert.Equal(t, 4, sub.Decision.ComplexityScore)
	require.Len(t, sub.TaskIDs, 3)

	work := h.workers.all()
	require.Len(t, work, 3)
	for _, a := range work {
		assert.True(t, strings.HasSuffix(a.Prompt, scenarioRequest))
	}

	for i, a := range work {
		out := h.complete(t, a)
		assert.Equal(t, i == len(work)-1, out.Finalized)
	}

	rep := h.awaitReport(t)
	assert.Equal(t, sub.SessionID, rep.SessionID)
	assert.Equal(t, models.SessionComplete, rep.SessionStatus)
	assert.Empty(t, rep.MissingRoles)
	assert.Len(t, rep.Similarities, 3)
	assert.Equal(t, integrate.BucketScores([]float64{
		rep.Similarities[0].Score, rep.Similarities[1].Score, rep.Similarities[2].Score,
	}, 0.8, 0.5), rep.ConsensusBucket)

	sec := strings.Index(rep.Synthesis, "## security")
	perf := strings.Index(rep.Synthesis, "## performance")
	arch := strings.Index(rep.Synthesis, "## architecture")
	require.True(t, sec > 0 && perf > 0 && arch > 0)
	assert.Less(t, sec, perf)
	assert.Less(t, perf, arch)

	h.o.tracker.Wait()
	d, err := GetSessionDetail(ctx, h.db, sub.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionIntegrated, d.Session.Status)
	assert.Zero(t, h.o.InFlight())

	stored, err := h.o.Report(ctx, sub.SessionID)
	require.NoError(t, err)
	assert.Equal(t, rep.Fingerprint, stored.Fingerprint)

	moved, err := h.o.Archive(ctx, sub.SessionID)
	require.NoError(t, err)
	assert.True(t, moved)
	d, err = GetSessionDetail(ctx, h.db, sub.SessionID)
	require.NoError(t, err)
	assert.True(t, d.Archived)
	assert.Len(t, d.Tasks, 3)
	assert.Len(t, d.Results, 3)

	_, err = h.o.Complete(ctx, capture.Completion{
		SessionID: work[0].SessionID, TaskID: work[0].TaskID, Role: work[0].Role, Status: models.ResultSuccess,
	}, false)
	assert.ErrorIs(t, err, capture.ErrSessionArchived)
}

func TestOrderIndependence_AcrossSessions(t *testing.T) {
	fingerprints := make([]string, 0, 2)
	for _, reverse := range []bool{false, true} {
		h := newHarness(t, nil)
		_, err := h.o.Submit(context.Background(), scenarioRequest, nil)
		require.NoError(t, err)
		work := h.workers.all()
		if reverse {
			for i, j := 0, len(work)-1; i < j; i, j = i+1, j-1 {
				work[i], work[j] = work[j], work[i]
			}
		}
		for _, a := range work {
			h.complete(t, a)
		}
		rep := h.awaitReport(t)
		// Session and task IDs differ per run; compare the role content.
		fingerprints = append(fingerprints, fmt.Sprint(rep.ConsensusBucket, rep.MeanSimilarity, rep.Similarities, len(rep.Conflicts)))
	}
	assert.Equal(t, fingerprints[0], fingerprints[1])
}

func TestTimeout_PartialReport(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Tracker.SessionTimeout = 100 * time.Millisecond })

	sub, err := h.o.Submit(context.Background(), scenarioRequest, nil)
	require.NoError(t, err)
	work := h.workers.all()
	require.Len(t, work, 3)

	for _, a := range work[:2] {
		out := h.complete(t, a)
		assert.False(t, out.Finalized)
	}

	rep := h.awaitReport(t)
	assert.Equal(t, sub.SessionID, rep.SessionID)
	assert.Equal(t, models.SessionTimedOut, rep.SessionStatus)
	require.Len(t, rep.MissingRoles, 1)
	assert.Equal(t, work[2].Role, rep.MissingRoles[0].Role)
	assert.Equal(t, models.ReasonTimeout, rep.MissingRoles[0].Reason)
	assert.Contains(t, rep.Synthesis, "## Missing roles")

	late := h.complete(t, work[2])
	assert.Equal(t, capture.Late, late.Disposition)

	select {
	case r := <-h.reports:
		t.Fatalf("late result re-triggered integration: %s", r.SessionID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubmit_PinnedSingleRole(t *testing.T) {
	h := newHarness(t, nil)
	sub, err := h.o.Submit(context.Background(), "look at this", []string{"testing"})
	require.NoError(t, err)
	assert.False(t, sub.Decision.ShouldParallelize)
	require.Len(t, sub.TaskIDs, 1)
	assert.Equal(t, "testing", h.workers.all()[0].Role)
}

func TestSubmit_CapacityRejected(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Dispatch.MaxInFlight = 2 })
	_, err := h.o.Submit(context.Background(), scenarioRequest, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capacity")
}

func TestRun_ConsumesQueuedCompletions(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.o.Run(ctx) }()

	_, err := h.o.Submit(context.Background(), scenarioRequest, nil)
	require.NoError(t, err)
	for _, a := range h.workers.all() {
		_, err := h.o.Complete(context.Background(), capture.Completion{
			SessionID: a.SessionID, TaskID: a.TaskID, Role: a.Role,
			Payload: payloads[a.Role], Status: models.ResultSuccess,
		}, true)
		require.NoError(t, err)
	}
	rep := h.awaitReport(t)
	assert.Equal(t, models.SessionComplete, rep.SessionStatus)

	cancel()
	require.NoError(t, <-done)
}

func TestStatusAndFormat(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	sub, err := h.o.Submit(ctx, scenarioRequest, nil)
	require.NoError(t, err)

	info, err := Status(ctx, h.db, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Counts[models.SessionCollecting])
	assert.Equal(t, int64(3), info.InFlight)
	require.Len(t, info.Recent, 1)

	out := FormatStatus(info)
	assert.Contains(t, out, "collecting")
	assert.Contains(t, out, sub.SessionID[:8])
	assert.Contains(t, out, "0/3")

	d, err := GetSessionDetail(ctx, h.db, sub.SessionID)
	require.NoError(t, err)
	detail := FormatDetail(d)
	assert.Contains(t, detail, "security")
	assert.Contains(t, detail, scenarioRequest)

	_, err = GetSessionDetail(ctx, h.db, "missing")
	assert.Error(t, err)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{2*time.Hour + 15*time.Minute, "2h 15m"},
		{50 * time.Hour, "2d 2h"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.d))
	}
}

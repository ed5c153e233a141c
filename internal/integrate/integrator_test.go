package integrate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/junction/internal/db"
	"github.com/zulandar/junction/internal/models"
	"github.com/zulandar/junction/internal/tracker"
	"gorm.io/gorm"
)

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

func seedFinalized(t *testing.T, gdb *gorm.DB, status string) {
	t.Helper()
	in := scenarioInput()
	require.NoError(t, gdb.Create(&models.Session{
		ID: "s1", Request: "review", Status: status, ExpectedTaskCount: 3,
		Deadline: time.Now().UTC(),
	}).Error)
	require.NoError(t, gdb.Create(&in.Tasks).Error)
	require.NoError(t, gdb.Create(&in.Results).Error)
}

func newIntegrator(t *testing.T, gdb *gorm.DB) *Integrator {
	t.Helper()
	tr, err := tracker.New(tracker.Options{DB: gdb})
	require.NoError(t, err)
	t.Cleanup(tr.Close)
	i, err := NewIntegrator(gdb, tr, Options{}, nil)
	require.NoError(t, err)
	return i
}

func TestIntegrate_StoresAndMarks(t *testing.T) {
	gdb := testDB(t)
	seedFinalized(t, gdb, models.SessionComplete)
	i := newIntegrator(t, gdb)
	ctx := context.Background()

	rep, err := i.Integrate(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, rep.GeneratedAt.IsZero())
	assert.Equal(t, Build(scenarioInput(), Options{}).Fingerprint, rep.Fingerprint)

	var s models.Session
	require.NoError(t, gdb.First(&s, "id = ?", "s1").Error)
	assert.Equal(t, models.SessionIntegrated, s.Status)

	loaded, err := Load(ctx, gdb, "s1")
	require.NoError(t, err)
	assert.Equal(t, rep.Fingerprint, loaded.Fingerprint)
	assert.Equal(t, rep.Conflicts, loaded.Conflicts)
	assert.Equal(t, rep.Summaries, loaded.Summaries)
	assert.Equal(t, models.SessionComplete, loaded.SessionStatus)
	assert.True(t, loaded.Verify())
}

func TestIntegrate_SecondCallReturnsStoredReport(t *testing.T) {
	gdb := testDB(t)
	seedFinalized(t, gdb, models.SessionComplete)
	i := newIntegrator(t, gdb)
	ctx := context.Background()

	first, err := i.Integrate(ctx, "s1")
	require.NoError(t, err)
	second, err := i.Integrate(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)

	var count int64
	require.NoError(t, gdb.Model(&models.IntegrationReport{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestIntegrate_RejectsUnfinalized(t *testing.T) {
	gdb := testDB(t)
	seedFinalized(t, gdb, models.SessionCollecting)
	i := newIntegrator(t, gdb)

	_, err := i.Integrate(context.Background(), "s1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not finalized")

	_, err = i.Integrate(context.Background(), "missing")
	require.Error(t, err)
}

func TestIntegrate_ExcludesLateResults(t *testing.T) {
	gdb := testDB(t)
	seedFinalized(t, gdb, models.SessionTimedOut)
	require.NoError(t, gdb.Model(&models.Task{}).Where("id = ?", "t-arch").
		Updates(map[string]interface{}{"status": models.TaskFailed, "failure_reason": models.ReasonTimeout}).Error)
	require.NoError(t, gdb.Model(&models.Result{}).Where("task_id = ?", "t-arch").Update("late", true).Error)
	i := newIntegrator(t, gdb)

	rep, err := i.Integrate(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, rep.MissingRoles, 1)
	assert.Equal(t, "architecture", rep.MissingRoles[0].Role)
	assert.Len(t, rep.Summaries, 2)
}

func TestLoad_NotFound(t *testing.T) {
	gdb := testDB(t)
	_, err := Load(context.Background(), gdb, "nope")
	assert.ErrorIs(t, err, ErrReportNotFound)
}

// Package tracker owns the session state machine: it counts settled tasks,
// decides when a session is ready for integration, and guarantees that the
// collecting → complete|timed_out transition happens exactly once.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zulandar/junction/internal/logging"
	"github.com/zulandar/junction/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultSweepInterval = 5 * time.Second

// Trigger names what finalized a session.
type Trigger string

const (
	TriggerEager     Trigger = "eager"
	TriggerDeadline  Trigger = "deadline"
	TriggerReconcile Trigger = "reconcile"
)

// ErrSessionNotFound is returned when a session ID has no row.
var ErrSessionNotFound = errors.New("tracker: session not found")

// TimeoutCondition describes a deadline-driven finalization with gaps. It is
// an expected outcome carried on a Finalization, not an error.
type TimeoutCondition struct {
	Deadline     time.Time
	TimedOutTask []string
}

// Finalization is delivered to OnFinalized once per session.
type Finalization struct {
	SessionID string
	Status    string // models.SessionComplete or models.SessionTimedOut
	Trigger   Trigger
	Timeout   *TimeoutCondition
}

// Options configures a Tracker.
type Options struct {
	DB            *gorm.DB
	Logger        *zap.Logger
	SweepInterval time.Duration
	// OnFinalized runs in its own goroutine, exactly once per session.
	OnFinalized func(ctx context.Context, f Finalization)
	// OnTasksSettled receives task IDs the tracker moved out of dispatched.
	OnTasksSettled func(taskIDs []string)
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Tracker finalizes sessions eagerly, on deadline, or on reconcile.
type Tracker struct {
	db     *gorm.DB
	logger *zap.Logger
	opts   Options

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
	wg     sync.WaitGroup
}

// New creates a Tracker.
func New(opts Options) (*Tracker, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("tracker: db is required")
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracker{
		db:     opts.DB,
		logger: logging.OrNop(opts.Logger),
		opts:   opts,
		timers: make(map[string]*time.Timer),
	}, nil
}

func (t *Tracker) now() time.Time {
	return t.opts.Now().UTC()
}

// Get loads a session.
func (t *Tracker) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	var s models.Session
	if err := t.db.WithContext(ctx).Where("id = ?", sessionID).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("tracker: get session %s: %w", sessionID, err)
	}
	return &s, nil
}

// Watch arms a deadline timer for a collecting session. The sweep loop is
// the safety net if the process restarts before the timer fires.
func (t *Tracker) Watch(sessionID string, deadline time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if old, ok := t.timers[sessionID]; ok {
		old.Stop()
	}
	d := deadline.Sub(t.now())
	if d < 0 {
		d = 0
	}
	t.timers[sessionID] = time.AfterFunc(d, func() {
		if _, err := t.Expire(context.Background(), sessionID); err != nil {
			t.logger.Error("deadline finalize failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	})
}

func (t *Tracker) unwatch(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[sessionID]; ok {
		timer.Stop()
		delete(t.timers, sessionID)
	}
}

// RecordSettlement bumps the session's completed or failed counter and
// finalizes eagerly once every task has settled. The counter is a fast-path
// hint; finalization recounts from task rows.
func (t *Tracker) RecordSettlement(ctx context.Context, sessionID string, success bool) (bool, error) {
	col := "failed_count"
	if success {
		col = "completed_count"
	}
	// A finalized session's counters come from recount; incrementing them
	// afterwards would count the task twice.
	res := t.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND status = ?", sessionID, models.SessionCollecting).
		Update(col, gorm.Expr(col+" + ?", 1))
	if res.Error != nil {
		return false, fmt.Errorf("tracker: increment %s for %s: %w", col, sessionID, res.Error)
	}

	s, err := t.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	if s.Status != models.SessionCollecting || s.Settled() < s.ExpectedTaskCount {
		return false, nil
	}
	return t.Finalize(ctx, sessionID, TriggerEager)
}

// FailTask moves a dispatched task to failed and records the settlement.
// It returns false if the task had already settled.
func (t *Tracker) FailTask(ctx context.Context, sessionID, taskID, reason string) (bool, error) {
	now := t.now()
	res := t.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ? AND session_id = ? AND status = ?", taskID, sessionID, models.TaskDispatched).
		Updates(map[string]interface{}{
			"status":         models.TaskFailed,
			"failure_reason": reason,
			"completed_at":   now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("tracker: fail task %s: %w", taskID, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	t.settled([]string{taskID})
	if _, err := t.RecordSettlement(ctx, sessionID, false); err != nil {
		return true, err
	}
	return true, nil
}

// Expire finalizes a session whose deadline has passed. It is a no-op if the
// deadline is still in the future or the session already left collecting.
func (t *Tracker) Expire(ctx context.Context, sessionID string) (bool, error) {
	return t.Finalize(ctx, sessionID, TriggerDeadline)
}

// Finalize performs the single collecting → complete|timed_out transition.
// Only the caller whose conditional update wins marks timed-out tasks
// failed and fires OnFinalized; every other caller gets false.
func (t *Tracker) Finalize(ctx context.Context, sessionID string, trigger Trigger) (bool, error) {
	now := t.now()
	var (
		won      bool
		status   = models.SessionComplete
		repaired []string
		timedOut []string
		deadline time.Time
	)

	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&models.Session{}).Where("id = ? AND status = ?", sessionID, models.SessionCollecting)
		if trigger == TriggerDeadline {
			q = q.Where("deadline <= ?", now)
		}
		res := q.Updates(map[string]interface{}{
			"status":           models.SessionComplete,
			"finalize_trigger": string(trigger),
			"finalized_at":     now,
		})
		if res.Error != nil {
			return fmt.Errorf("finalize session: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		won = true

		// Persisted results are authoritative over task rows on every path,
		// so a result whose task update was lost is never timed out.
		var err error
		if repaired, err = repairFromResults(tx, sessionID, now); err != nil {
			return err
		}

		if trigger == TriggerDeadline {
			var s models.Session
			if err := tx.Select("deadline").Where("id = ?", sessionID).First(&s).Error; err != nil {
				return fmt.Errorf("load deadline: %w", err)
			}
			deadline = s.Deadline

			if err := tx.Model(&models.Task{}).
				Where("session_id = ? AND status = ?", sessionID, models.TaskDispatched).
				Order("id ASC").
				Pluck("id", &timedOut).Error; err != nil {
				return fmt.Errorf("list unsettled tasks: %w", err)
			}
			if len(timedOut) > 0 {
				if err := tx.Model(&models.Task{}).
					Where("id IN ? AND status = ?", timedOut, models.TaskDispatched).
					Updates(map[string]interface{}{
						"status":         models.TaskFailed,
						"failure_reason": models.ReasonTimeout,
						"completed_at":   now,
					}).Error; err != nil {
					return fmt.Errorf("fail timed-out tasks: %w", err)
				}
				status = models.SessionTimedOut
			}
		}

		return recount(tx, sessionID, status)
	})
	if err != nil {
		return false, fmt.Errorf("tracker: finalize %s (%s): %w", sessionID, trigger, err)
	}
	if !won {
		return false, nil
	}

	t.unwatch(sessionID)
	t.settled(append(repaired, timedOut...))

	f := Finalization{SessionID: sessionID, Status: status, Trigger: trigger}
	if status == models.SessionTimedOut {
		f.Timeout = &TimeoutCondition{Deadline: deadline, TimedOutTask: timedOut}
	}
	t.logger.Info("session finalized",
		zap.String("session_id", sessionID),
		zap.String("status", status),
		zap.String("trigger", string(trigger)),
		zap.Int("timed_out_tasks", len(timedOut)))

	if t.opts.OnFinalized != nil {
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.opts.OnFinalized(context.Background(), f)
		}()
	}
	return true, nil
}

// repairFromResults settles tasks whose result row was written but whose
// status update was lost, e.g. by a crash between the two writes. It returns
// the IDs it settled.
func repairFromResults(tx *gorm.DB, sessionID string, now time.Time) ([]string, error) {
	var repaired []string
	for _, st := range []struct{ result, task, reason string }{
		{models.ResultSuccess, models.TaskCompleted, ""},
		{models.ResultError, models.TaskFailed, models.ReasonWorkerError},
	} {
		sub := tx.Model(&models.Result{}).Select("task_id").
			Where("session_id = ? AND status = ?", sessionID, st.result)
		var ids []string
		if err := tx.Model(&models.Task{}).
			Where("session_id = ? AND status = ? AND id IN (?)", sessionID, models.TaskDispatched, sub).
			Order("id ASC").
			Pluck("id", &ids).Error; err != nil {
			return nil, fmt.Errorf("list %s repairs: %w", st.task, err)
		}
		if len(ids) == 0 {
			continue
		}
		if err := tx.Model(&models.Task{}).
			Where("id IN ? AND status = ?", ids, models.TaskDispatched).
			Updates(map[string]interface{}{
				"status":         st.task,
				"failure_reason": st.reason,
				"completed_at":   now,
			}).Error; err != nil {
			return nil, fmt.Errorf("repair %s tasks: %w", st.task, err)
		}
		repaired = append(repaired, ids...)
	}
	return repaired, nil
}

// recount rewrites the session counters from task rows and sets the final status.
func recount(tx *gorm.DB, sessionID, status string) error {
	var completed, failed int64
	if err := tx.Model(&models.Task{}).
		Where("session_id = ? AND status = ?", sessionID, models.TaskCompleted).
		Count(&completed).Error; err != nil {
		return fmt.Errorf("count completed: %w", err)
	}
	if err := tx.Model(&models.Task{}).
		Where("session_id = ? AND status = ?", sessionID, models.TaskFailed).
		Count(&failed).Error; err != nil {
		return fmt.Errorf("count failed: %w", err)
	}
	return tx.Model(&models.Session{}).Where("id = ?", sessionID).Updates(map[string]interface{}{
		"status":          status,
		"completed_count": completed,
		"failed_count":    failed,
	}).Error
}

// Ready recomputes readiness from persisted rows rather than the counters:
// every task must have a result row or be failed.
func (t *Tracker) Ready(ctx context.Context, sessionID string) (bool, error) {
	s, err := t.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}
	db := t.db.WithContext(ctx)
	sub := db.Model(&models.Result{}).Select("task_id").Where("session_id = ?", sessionID)
	var settled int64
	if err := db.Model(&models.Task{}).
		Where("session_id = ? AND (status = ? OR id IN (?))", sessionID, models.TaskFailed, sub).
		Count(&settled).Error; err != nil {
		return false, fmt.Errorf("tracker: count settled for %s: %w", sessionID, err)
	}
	return int(settled) >= s.ExpectedTaskCount, nil
}

// MarkIntegrated moves a finalized session to integrated.
func (t *Tracker) MarkIntegrated(ctx context.Context, sessionID string) error {
	now := t.now()
	res := t.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND status IN ?", sessionID, []string{models.SessionComplete, models.SessionTimedOut}).
		Updates(map[string]interface{}{
			"status":        models.SessionIntegrated,
			"integrated_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("tracker: mark integrated %s: %w", sessionID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("tracker: mark integrated: session %s not found or not finalized", sessionID)
	}
	return nil
}

// Sweep finalizes collecting sessions past their deadline, then reconciles
// the rest against persisted result rows. It returns how many sessions it
// finalized.
func (t *Tracker) Sweep(ctx context.Context) (int, error) {
	now := t.now()
	var sessions []models.Session
	if err := t.db.WithContext(ctx).Select("id", "deadline").
		Where("status = ?", models.SessionCollecting).
		Order("created_at ASC").
		Find(&sessions).Error; err != nil {
		return 0, fmt.Errorf("tracker: sweep: %w", err)
	}

	var finalized int
	var errs []error
	for _, s := range sessions {
		trigger := TriggerReconcile
		if !s.Deadline.After(now) {
			trigger = TriggerDeadline
		} else {
			ready, err := t.Ready(ctx, s.ID)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !ready {
				continue
			}
		}
		won, err := t.Finalize(ctx, s.ID, trigger)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if won {
			finalized++
		}
	}
	return finalized, errors.Join(errs...)
}

// Resume arms deadline timers for every collecting session, used after a
// restart.
func (t *Tracker) Resume(ctx context.Context) (int, error) {
	var sessions []models.Session
	if err := t.db.WithContext(ctx).Select("id", "deadline").
		Where("status = ?", models.SessionCollecting).
		Find(&sessions).Error; err != nil {
		return 0, fmt.Errorf("tracker: resume: %w", err)
	}
	for _, s := range sessions {
		t.Watch(s.ID, s.Deadline)
	}
	return len(sessions), nil
}

// Run sweeps on an interval until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := t.Sweep(ctx)
		if err != nil && ctx.Err() == nil {
			t.logger.Error("sweep failed", zap.Error(err))
		}
		if n > 0 {
			t.logger.Info("sweep finalized sessions", zap.Int("count", n))
		}

		sleepWithContext(ctx, t.opts.SweepInterval)
	}
}

// Wait blocks until every OnFinalized callback has returned.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// Close stops all deadline timers and waits for callbacks in flight.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
	t.mu.Unlock()
	t.wg.Wait()
}

func (t *Tracker) settled(taskIDs []string) {
	if len(taskIDs) > 0 && t.opts.OnTasksSettled != nil {
		t.opts.OnTasksSettled(taskIDs)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

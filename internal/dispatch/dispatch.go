// Package dispatch turns an analyzer decision into a persisted session with
// one role-framed task per role, and hands those tasks to workers.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/junction/internal/analyzer"
	"github.com/zulandar/junction/internal/launcher"
	"github.com/zulandar/junction/internal/logging"
	"github.com/zulandar/junction/internal/models"
	"github.com/zulandar/junction/internal/role"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const defaultSessionTimeout = 120 * time.Second

// SessionCreationError means the session and its tasks could not be
// persisted. No task was dispatched.
type SessionCreationError struct {
	SessionID string
	Err       error
}

func (e *SessionCreationError) Error() string {
	return fmt.Sprintf("dispatch: create session %s: %v", e.SessionID, e.Err)
}

func (e *SessionCreationError) Unwrap() error { return e.Err }

// Watcher is the part of the session tracker the dispatcher drives.
type Watcher interface {
	Watch(sessionID string, deadline time.Time)
	FailTask(ctx context.Context, sessionID, taskID, reason string) (bool, error)
}

// Options configures a Dispatcher.
type Options struct {
	DB             *gorm.DB
	Launcher       launcher.Launcher
	Tracker        Watcher
	Limiter        *Limiter // optional
	SessionTimeout time.Duration
	Logger         *zap.Logger
	Now            func() time.Time
}

// Dispatcher creates sessions and launches their tasks.
type Dispatcher struct {
	opts   Options
	logger *zap.Logger
}

// Dispatched is the outcome of a successful Dispatch.
type Dispatched struct {
	Session *models.Session
	Tasks   []models.Task
	// LaunchFailures counts tasks whose worker could not be started.
	LaunchFailures int
}

// New creates a Dispatcher.
func New(opts Options) (*Dispatcher, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("dispatch: db is required")
	}
	if opts.Launcher == nil {
		return nil, fmt.Errorf("dispatch: launcher is required")
	}
	if opts.Tracker == nil {
		return nil, fmt.Errorf("dispatch: tracker is required")
	}
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = defaultSessionTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Dispatcher{opts: opts, logger: logging.OrNop(opts.Logger)}, nil
}

// Roles returns the roles a decision dispatches: every candidate when the
// decision parallelizes, otherwise only the top candidate.
func Roles(dec *analyzer.Decision) []role.Role {
	if dec == nil || len(dec.CandidateRoles) == 0 {
		return nil
	}
	if !dec.ShouldParallelize {
		return dec.CandidateRoles[:1]
	}
	return dec.CandidateRoles
}

// Dispatch persists a session for request and launches one task per role.
// Launch failures mark the affected task failed and do not fail the call.
func (d *Dispatcher) Dispatch(ctx context.Context, request string, dec *analyzer.Decision) (*Dispatched, error) {
	if strings.TrimSpace(request) == "" {
		return nil, fmt.Errorf("dispatch: request is required")
	}
	roles := Roles(dec)
	if len(roles) == 0 {
		return nil, fmt.Errorf("dispatch: decision has no candidate roles")
	}

	now := d.opts.Now().UTC()
	session := &models.Session{
		ID:                uuid.New().String(),
		Request:           request,
		Status:            models.SessionPending,
		ExpectedTaskCount: len(roles),
		Deadline:          now.Add(d.opts.SessionTimeout),
		CreatedAt:         now,
	}
	if dec != nil {
		session.ComplexityScore = dec.ComplexityScore
	}

	tasks := make([]models.Task, len(roles))
	ids := make([]string, len(roles))
	for i, r := range roles {
		prompt, err := RenderPrompt(r, request)
		if err != nil {
			return nil, err
		}
		ids[i] = uuid.New().String()
		tasks[i] = models.Task{
			ID:             ids[i],
			SessionID:      session.ID,
			Role:           r.String(),
			RenderedPrompt: prompt,
			Status:         models.TaskDispatched,
			StartedAt:      now,
		}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("dispatch: encode task ids: %w", err)
	}
	session.TaskIDs = string(raw)

	if d.opts.Limiter != nil {
		if err := d.opts.Limiter.Acquire(ctx, ids); err != nil {
			return nil, err
		}
	}

	if err := d.persist(ctx, session, tasks); err != nil {
		if d.opts.Limiter != nil {
			d.opts.Limiter.Release(ids...)
		}
		return nil, &SessionCreationError{SessionID: session.ID, Err: err}
	}
	session.Status = models.SessionCollecting
	d.opts.Tracker.Watch(session.ID, session.Deadline)

	d.logger.Info("session dispatched",
		zap.String("session_id", session.ID),
		zap.Int("tasks", len(tasks)),
		zap.Strings("roles", role.Names(roles)),
		zap.Time("deadline", session.Deadline))

	failed := d.launch(ctx, tasks)
	return &Dispatched{Session: session, Tasks: tasks, LaunchFailures: failed}, nil
}

// persist writes the session and its tasks atomically, then opens the
// session for results.
func (d *Dispatcher) persist(ctx context.Context, session *models.Session, tasks []models.Task) error {
	return d.opts.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(session).Error; err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		if err := tx.Create(&tasks).Error; err != nil {
			return fmt.Errorf("insert tasks: %w", err)
		}
		res := tx.Model(&models.Session{}).
			Where("id = ? AND status = ?", session.ID, models.SessionPending).
			Update("status", models.SessionCollecting)
		if res.Error != nil {
			return fmt.Errorf("open session: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("open session: not pending")
		}
		return nil
	})
}

// launch starts every task concurrently and returns the number that failed
// to start.
func (d *Dispatcher) launch(ctx context.Context, tasks []models.Task) int {
	var g errgroup.Group
	failures := make([]bool, len(tasks))
	for i := range tasks {
		t := tasks[i]
		g.Go(func() error {
			err := d.opts.Launcher.Launch(ctx, launcher.Assignment{
				SessionID: t.SessionID,
				TaskID:    t.ID,
				Role:      t.Role,
				Prompt:    t.RenderedPrompt,
			})
			if err == nil {
				return nil
			}
			failures[i] = true
			d.logger.Warn("task launch failed",
				zap.String("session_id", t.SessionID),
				zap.String("task_id", t.ID),
				zap.String("role", t.Role),
				zap.Error(err))
			if _, ferr := d.opts.Tracker.FailTask(context.WithoutCancel(ctx), t.SessionID, t.ID, models.ReasonLaunchError); ferr != nil {
				d.logger.Error("mark launch failure",
					zap.String("task_id", t.ID), zap.Error(ferr))
			}
			return nil
		})
	}
	_ = g.Wait()

	var n int
	for _, f := range failures {
		if f {
			n++
		}
	}
	return n
}

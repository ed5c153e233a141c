// Package capture records worker results. Each completion touches only its
// own result row, its own task row, and one atomic session counter.
package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/junction/internal/logging"
	"github.com/zulandar/junction/internal/models"
	"github.com/zulandar/junction/internal/role"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrUnknownTask is returned for a completion naming no known task of
	// the given session.
	ErrUnknownTask = errors.New("capture: unknown task")
	// ErrSessionArchived is returned for completions against archived sessions.
	ErrSessionArchived = errors.New("capture: session is archived")
)

// Completion is the fixed schema a worker reports.
type Completion struct {
	SessionID       string `json:"session_id" binding:"required"`
	TaskID          string `json:"task_id" binding:"required"`
	Role            string `json:"role" binding:"required"`
	Payload         string `json:"payload"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
	Status          string `json:"status" binding:"required"`
}

// Validate checks the completion's shape.
func (c Completion) Validate() error {
	var problems []string
	if strings.TrimSpace(c.SessionID) == "" {
		problems = append(problems, "session_id is required")
	}
	if strings.TrimSpace(c.TaskID) == "" {
		problems = append(problems, "task_id is required")
	}
	if strings.TrimSpace(c.Role) == "" {
		problems = append(problems, "role is required")
	} else if _, err := role.Parse(c.Role); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Status != models.ResultSuccess && c.Status != models.ResultError {
		problems = append(problems, fmt.Sprintf("status must be %q or %q, got %q", models.ResultSuccess, models.ResultError, c.Status))
	}
	if c.ExecutionTimeMs < 0 {
		problems = append(problems, "execution_time_ms must be >= 0")
	}
	if len(problems) > 0 {
		return fmt.Errorf("capture: invalid completion: %s", strings.Join(problems, "; "))
	}
	return nil
}

// DuplicateResultError describes a completion for a task that already has a
// result. It is reported through Outcome and never returned as an error.
type DuplicateResultError struct {
	SessionID string
	TaskID    string
}

func (e *DuplicateResultError) Error() string {
	return fmt.Sprintf("capture: duplicate result for task %s in session %s", e.TaskID, e.SessionID)
}

// Disposition is what Capture did with a completion.
type Disposition string

const (
	Recorded  Disposition = "recorded"
	Duplicate Disposition = "duplicate"
	Late      Disposition = "late"
)

// Outcome reports the effect of one completion.
type Outcome struct {
	Disposition Disposition
	// Duplicate is set when Disposition is Duplicate.
	Duplicate *DuplicateResultError
	// Finalized is true when this completion closed the session.
	Finalized bool
}

// Settler is the part of the session tracker that capture reports to.
type Settler interface {
	RecordSettlement(ctx context.Context, sessionID string, success bool) (bool, error)
}

// Options configures a Capturer.
type Options struct {
	DB      *gorm.DB
	Settler Settler
	Logger  *zap.Logger
	// OnSettled is told the ID of every task this capturer settled.
	OnSettled func(taskID string)
	Now       func() time.Time
}

// Capturer records completions.
type Capturer struct {
	opts   Options
	logger *zap.Logger
}

// New creates a Capturer.
func New(opts Options) (*Capturer, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("capture: db is required")
	}
	if opts.Settler == nil {
		return nil, fmt.Errorf("capture: settler is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Capturer{opts: opts, logger: logging.OrNop(opts.Logger)}, nil
}

// Capture records a completion. The first result for a task wins; later
// ones are reported as duplicates and change nothing.
func (c *Capturer) Capture(ctx context.Context, in Completion) (*Outcome, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	in.Role = role.MustParse(in.Role).String()
	db := c.opts.DB.WithContext(ctx)

	var task models.Task
	if err := db.Where("id = ? AND session_id = ?", in.TaskID, in.SessionID).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, c.missingTask(ctx, in)
		}
		return nil, fmt.Errorf("capture: load task %s: %w", in.TaskID, err)
	}
	if task.Role != in.Role {
		return nil, fmt.Errorf("capture: role mismatch for task %s: task is %q, completion says %q", in.TaskID, task.Role, in.Role)
	}

	now := c.opts.Now().UTC()
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.Result{
		SessionID:       in.SessionID,
		TaskID:          in.TaskID,
		Role:            in.Role,
		Status:          in.Status,
		Payload:         in.Payload,
		ExecutionTimeMs: in.ExecutionTimeMs,
		ReceivedAt:      now,
	})
	if res.Error != nil {
		return nil, fmt.Errorf("capture: insert result for %s: %w", in.TaskID, res.Error)
	}
	if res.RowsAffected == 0 {
		return c.retry(ctx, in, now)
	}
	return c.settle(ctx, in, in.Status, now)
}

// retry handles a completion for a task that already has a result. If the
// first capture stored its result but never settled the task, the stored
// result settles it now; otherwise the retry is a duplicate.
func (c *Capturer) retry(ctx context.Context, in Completion, now time.Time) (*Outcome, error) {
	var stored models.Result
	if err := c.opts.DB.WithContext(ctx).Select("status").
		Where("session_id = ? AND task_id = ?", in.SessionID, in.TaskID).
		First(&stored).Error; err != nil {
		return nil, fmt.Errorf("capture: load stored result for %s: %w", in.TaskID, err)
	}
	settled, outcome, err := c.settleTask(ctx, in, stored.Status, now)
	if err != nil || settled {
		return outcome, err
	}
	dup := &DuplicateResultError{SessionID: in.SessionID, TaskID: in.TaskID}
	c.logger.Info("duplicate result discarded",
		zap.String("session_id", in.SessionID),
		zap.String("task_id", in.TaskID))
	return &Outcome{Disposition: Duplicate, Duplicate: dup}, nil
}

// settle moves a freshly recorded result's task out of dispatched. A task
// that already left dispatched means the session finalized first.
func (c *Capturer) settle(ctx context.Context, in Completion, status string, now time.Time) (*Outcome, error) {
	settled, outcome, err := c.settleTask(ctx, in, status, now)
	if err != nil || settled {
		return outcome, err
	}
	// The session finalized first; keep the result for audit only.
	if err := c.opts.DB.WithContext(ctx).Model(&models.Result{}).
		Where("session_id = ? AND task_id = ?", in.SessionID, in.TaskID).
		Update("late", true).Error; err != nil {
		return nil, fmt.Errorf("capture: mark late result %s: %w", in.TaskID, err)
	}
	c.logger.Info("late result kept for audit",
		zap.String("session_id", in.SessionID),
		zap.String("task_id", in.TaskID))
	return &Outcome{Disposition: Late}, nil
}

// settleTask applies the conditional dispatched -> completed|failed update
// for a result with the given status and reports the settlement. It returns
// false when the task had already settled.
func (c *Capturer) settleTask(ctx context.Context, in Completion, status string, now time.Time) (bool, *Outcome, error) {
	success := status == models.ResultSuccess
	updates := map[string]interface{}{"status": models.TaskCompleted, "completed_at": now}
	if !success {
		updates = map[string]interface{}{
			"status":         models.TaskFailed,
			"failure_reason": models.ReasonWorkerError,
			"completed_at":   now,
		}
	}
	upd := c.opts.DB.WithContext(ctx).Model(&models.Task{}).
		Where("id = ? AND status = ?", in.TaskID, models.TaskDispatched).
		Updates(updates)
	if upd.Error != nil {
		return false, nil, fmt.Errorf("capture: settle task %s: %w", in.TaskID, upd.Error)
	}
	if upd.RowsAffected == 0 {
		return false, nil, nil
	}

	if c.opts.OnSettled != nil {
		c.opts.OnSettled(in.TaskID)
	}
	finalized, err := c.opts.Settler.RecordSettlement(ctx, in.SessionID, success)
	if err != nil {
		return true, nil, fmt.Errorf("capture: record settlement: %w", err)
	}
	c.logger.Debug("result recorded",
		zap.String("session_id", in.SessionID),
		zap.String("task_id", in.TaskID),
		zap.String("role", in.Role),
		zap.String("status", status),
		zap.Bool("finalized", finalized))
	return true, &Outcome{Disposition: Recorded, Finalized: finalized}, nil
}

// missingTask distinguishes an archived session from a bad reference.
func (c *Capturer) missingTask(ctx context.Context, in Completion) error {
	var s models.Session
	err := c.opts.DB.WithContext(ctx).Select("id", "status").Where("id = ?", in.SessionID).First(&s).Error
	if err == nil && s.Status == models.SessionArchived {
		return fmt.Errorf("%w: %s", ErrSessionArchived, in.SessionID)
	}
	return fmt.Errorf("%w: %s in session %s", ErrUnknownTask, in.TaskID, in.SessionID)
}

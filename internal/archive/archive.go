// Package archive moves integrated sessions out of the active tables.
package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/junction/internal/logging"
	"github.com/zulandar/junction/internal/models"
	"github.com/zulandar/junction/internal/tracker"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNotIntegrated is returned when archiving a session that has no report yet.
var ErrNotIntegrated = errors.New("archive: session is not integrated")

// Archiver moves task and result rows into the archive tables.
type Archiver struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// New creates an Archiver.
func New(db *gorm.DB, logger *zap.Logger) (*Archiver, error) {
	if db == nil {
		return nil, fmt.Errorf("archive: db is required")
	}
	return &Archiver{db: db, logger: logging.OrNop(logger), now: time.Now}, nil
}

// Archive moves one integrated session's tasks and results into the archive
// tables and marks it archived, in one transaction. It returns false if the
// session was already archived.
func (a *Archiver) Archive(ctx context.Context, sessionID string) (bool, error) {
	now := a.now().UTC()
	var moved bool
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var s models.Session
		if err := tx.Select("id", "status").Where("id = ?", sessionID).First(&s).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", tracker.ErrSessionNotFound, sessionID)
			}
			return fmt.Errorf("load session: %w", err)
		}
		switch s.Status {
		case models.SessionArchived:
			return nil
		case models.SessionIntegrated:
		default:
			return fmt.Errorf("%w: %s is %s", ErrNotIntegrated, sessionID, s.Status)
		}

		var tasks []models.Task
		if err := tx.Where("session_id = ?", sessionID).Find(&tasks).Error; err != nil {
			return fmt.Errorf("load tasks: %w", err)
		}
		var results []models.Result
		if err := tx.Where("session_id = ?", sessionID).Find(&results).Error; err != nil {
			return fmt.Errorf("load results: %w", err)
		}

		if len(tasks) > 0 {
			rows := make([]models.ArchivedTask, len(tasks))
			for i, t := range tasks {
				rows[i] = models.ArchivedTask{Task: t, ArchivedAt: now}
			}
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("copy tasks: %w", err)
			}
		}
		if len(results) > 0 {
			rows := make([]models.ArchivedResult, len(results))
			for i, r := range results {
				rows[i] = models.ArchivedResult{Result: r, ArchivedAt: now}
			}
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("copy results: %w", err)
			}
		}

		if err := tx.Where("session_id = ?", sessionID).Delete(&models.Result{}).Error; err != nil {
			return fmt.Errorf("delete results: %w", err)
		}
		if err := tx.Where("session_id = ?", sessionID).Delete(&models.Task{}).Error; err != nil {
			return fmt.Errorf("delete tasks: %w", err)
		}
		res := tx.Model(&models.Session{}).
			Where("id = ? AND status = ?", sessionID, models.SessionIntegrated).
			Updates(map[string]interface{}{"status": models.SessionArchived, "archived_at": now})
		if res.Error != nil {
			return fmt.Errorf("mark archived: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("mark archived: session %s changed concurrently", sessionID)
		}
		moved = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("archive: %w", err)
	}
	if moved {
		a.logger.Info("session archived", zap.String("session_id", sessionID))
	}
	return moved, nil
}

// Sweep archives every session integrated more than retention ago and
// returns how many it moved.
func (a *Archiver) Sweep(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := a.now().UTC().Add(-retention)
	var ids []string
	if err := a.db.WithContext(ctx).Model(&models.Session{}).
		Where("status = ? AND integrated_at <= ?", models.SessionIntegrated, cutoff).
		Order("integrated_at ASC").
		Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("archive: list sessions: %w", err)
	}

	var n int
	var errs []error
	for _, id := range ids {
		moved, err := a.Archive(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if moved {
			n++
		}
	}
	return n, errors.Join(errs...)
}

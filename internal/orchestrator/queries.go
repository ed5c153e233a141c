package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/junction/internal/models"
	"github.com/zulandar/junction/internal/tracker"
	"gorm.io/gorm"
)

// ListOptions filters ListSessions.
type ListOptions struct {
	Status string
	Limit  int
}

// ListSessions returns sessions, newest first.
func ListSessions(ctx context.Context, db *gorm.DB, opts ListOptions) ([]models.Session, error) {
	q := db.WithContext(ctx).Model(&models.Session{})
	if opts.Status != "" {
		q = q.Where("status = ?", opts.Status)
	}
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	var sessions []models.Session
	if err := q.Order("created_at DESC").Limit(opts.Limit).Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("orchestrator: list sessions: %w", err)
	}
	return sessions, nil
}

// SessionDetail is a session with its tasks and results. Archived sessions
// are read from the archive tables.
type SessionDetail struct {
	Session  models.Session  `json:"session"`
	Tasks    []models.Task   `json:"tasks"`
	Results  []models.Result `json:"results"`
	Archived bool            `json:"archived"`
}

// GetSessionDetail loads one session.
func GetSessionDetail(ctx context.Context, db *gorm.DB, id string) (*SessionDetail, error) {
	db = db.WithContext(ctx)
	var d SessionDetail
	if err := db.Where("id = ?", id).First(&d.Session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", tracker.ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("orchestrator: get session %s: %w", id, err)
	}

	if d.Session.Status != models.SessionArchived {
		if err := db.Where("session_id = ?", id).Order("role ASC, id ASC").Find(&d.Tasks).Error; err != nil {
			return nil, fmt.Errorf("orchestrator: tasks for %s: %w", id, err)
		}
		if err := db.Where("session_id = ?", id).Order("role ASC, task_id ASC").Find(&d.Results).Error; err != nil {
			return nil, fmt.Errorf("orchestrator: results for %s: %w", id, err)
		}
		return &d, nil
	}

	d.Archived = true
	var tasks []models.ArchivedTask
	if err := db.Where("session_id = ?", id).Order("role ASC, id ASC").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("orchestrator: archived tasks for %s: %w", id, err)
	}
	var results []models.ArchivedResult
	if err := db.Where("session_id = ?", id).Order("role ASC, task_id ASC").Find(&results).Error; err != nil {
		return nil, fmt.Errorf("orchestrator: archived results for %s: %w", id, err)
	}
	for _, t := range tasks {
		d.Tasks = append(d.Tasks, t.Task)
	}
	for _, r := range results {
		d.Results = append(d.Results, r.Result)
	}
	return &d, nil
}

// StatusInfo summarizes the store for the status display.
type StatusInfo struct {
	Counts   map[string]int64 `json:"counts"`
	Recent   []models.Session `json:"recent"`
	InFlight int64            `json:"in_flight"`
	Now      time.Time        `json:"now"`
}

// Status gathers session counts by status, recent sessions, and the
// number of dispatched, unsettled tasks.
func Status(ctx context.Context, db *gorm.DB, recent int) (*StatusInfo, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	if err := db.WithContext(ctx).Model(&models.Session{}).
		Select("status, count(*) as count").
		Group("status").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("orchestrator: count sessions: %w", err)
	}
	info := &StatusInfo{Counts: make(map[string]int64), Now: time.Now().UTC()}
	for _, r := range rows {
		info.Counts[r.Status] = r.Count
	}

	if err := db.WithContext(ctx).Model(&models.Task{}).
		Where("status = ?", models.TaskDispatched).
		Count(&info.InFlight).Error; err != nil {
		return nil, fmt.Errorf("orchestrator: count in-flight tasks: %w", err)
	}

	var err error
	info.Recent, err = ListSessions(ctx, db, ListOptions{Limit: recent})
	if err != nil {
		return nil, err
	}
	return info, nil
}

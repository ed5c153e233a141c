package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Schedule runs Sweep on a cron expression.
type Schedule struct {
	archiver  *Archiver
	schedule  cron.Schedule
	retention time.Duration
}

// NewSchedule parses expr and returns a Schedule.
func NewSchedule(a *Archiver, expr string, retention time.Duration) (*Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("archive: parse schedule %q: %w", expr, err)
	}
	return &Schedule{archiver: a, schedule: sched, retention: retention}, nil
}

// Next returns the first fire time after t.
func (s *Schedule) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Run sweeps at every fire time until ctx is cancelled.
func (s *Schedule) Run(ctx context.Context) error {
	for {
		d := time.Until(s.Next(time.Now()))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(d):
		}

		n, err := s.archiver.Sweep(ctx, s.retention)
		if err != nil && ctx.Err() == nil {
			s.archiver.logger.Error("archive sweep failed", zap.Error(err))
		}
		if n > 0 {
			s.archiver.logger.Info("archived sessions", zap.Int("count", n))
		}
	}
}

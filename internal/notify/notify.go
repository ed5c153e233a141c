// Package notify delivers integration reports to chat and code-review
// channels. Delivery is best-effort: a failing sink is logged and skipped.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/junction/internal/config"
	"github.com/zulandar/junction/internal/integrate"
	"github.com/zulandar/junction/internal/logging"
	"go.uber.org/zap"
)

// Sink receives finished reports.
type Sink interface {
	Name() string
	Send(ctx context.Context, r *integrate.Report) error
}

// Notifier fans a report out to every configured sink.
type Notifier struct {
	sinks  []Sink
	logger *zap.Logger
}

// New creates a Notifier over sinks.
func New(logger *zap.Logger, sinks ...Sink) *Notifier {
	return &Notifier{sinks: sinks, logger: logging.OrNop(logger)}
}

// FromConfig builds a Notifier with a sink for every configured channel.
func FromConfig(ctx context.Context, cfg config.NotifyConfig, logger *zap.Logger) (*Notifier, error) {
	var sinks []Sink
	if cfg.Slack.Token != "" {
		s, err := NewSlack(cfg.Slack.Token, cfg.Slack.Channel)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.Discord.Token != "" {
		s, err := NewDiscord(cfg.Discord.Token, cfg.Discord.Channel)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.GitHub.Token != "" {
		s, err := NewGitHub(ctx, cfg.GitHub)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return New(logger, sinks...), nil
}

// Len returns the number of sinks.
func (n *Notifier) Len() int {
	if n == nil {
		return 0
	}
	return len(n.sinks)
}

// Notify sends r to every sink and returns the joined errors. Callers
// typically log the error and move on.
func (n *Notifier) Notify(ctx context.Context, r *integrate.Report) error {
	if n == nil || r == nil {
		return nil
	}
	var errs []error
	for _, s := range n.sinks {
		if err := s.Send(ctx, r); err != nil {
			n.logger.Warn("report delivery failed",
				zap.String("sink", s.Name()),
				zap.String("session_id", r.SessionID),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("notify: %s: %w", s.Name(), err))
			continue
		}
		n.logger.Debug("report delivered",
			zap.String("sink", s.Name()),
			zap.String("session_id", r.SessionID))
	}
	return errors.Join(errs...)
}

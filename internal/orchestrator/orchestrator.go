// Package orchestrator wires the analyzer, dispatcher, capture, tracker,
// integrator and archiver around one store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/junction/internal/analyzer"
	"github.com/zulandar/junction/internal/archive"
	"github.com/zulandar/junction/internal/capture"
	"github.com/zulandar/junction/internal/config"
	"github.com/zulandar/junction/internal/dispatch"
	"github.com/zulandar/junction/internal/integrate"
	"github.com/zulandar/junction/internal/launcher"
	"github.com/zulandar/junction/internal/logging"
	"github.com/zulandar/junction/internal/models"
	"github.com/zulandar/junction/internal/notify"
	"github.com/zulandar/junction/internal/tracker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	consumerWorkers = 4
	consumerQueue   = 256
)

// Options configures an Orchestrator.
type Options struct {
	Config *config.Config
	DB     *gorm.DB
	Logger *zap.Logger
	// Launcher overrides the launcher built from config.
	Launcher launcher.Launcher
	// Notifier overrides the sinks built from config.
	Notifier *notify.Notifier
	// OnReport is called after each report is stored.
	OnReport func(r *integrate.Report)
}

// Orchestrator is the composition root. Every component shares its store;
// nothing is held in package state.
type Orchestrator struct {
	cfg    *config.Config
	db     *gorm.DB
	logger *zap.Logger

	analyzer   *analyzer.Analyzer
	limiter    *dispatch.Limiter
	dispatcher *dispatch.Dispatcher
	tracker    *tracker.Tracker
	capturer   *capture.Capturer
	consumer   *capture.Consumer
	integrator *integrate.Integrator
	archiver   *archive.Archiver
	notifier   *notify.Notifier
	launcher   launcher.Launcher
	onReport   func(r *integrate.Report)
}

// New builds an Orchestrator.
func New(ctx context.Context, opts Options) (*Orchestrator, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("orchestrator: config is required")
	}
	if opts.DB == nil {
		return nil, fmt.Errorf("orchestrator: db is required")
	}
	cfg := opts.Config
	o := &Orchestrator{
		cfg:      cfg,
		db:       opts.DB,
		logger:   logging.OrNop(opts.Logger),
		analyzer: analyzer.New(analyzer.OptionsFromConfig(cfg.Analyzer)),
		onReport: opts.OnReport,
	}

	var err error
	o.limiter, err = dispatch.NewLimiter(cfg.Dispatch.MaxInFlight, cfg.Dispatch.Overflow)
	if err != nil {
		return nil, err
	}
	if _, err := o.limiter.Seed(ctx, o.db); err != nil {
		return nil, err
	}

	o.tracker, err = tracker.New(tracker.Options{
		DB:             o.db,
		Logger:         o.logger.Named("tracker"),
		SweepInterval:  cfg.Tracker.SweepInterval,
		OnFinalized:    o.integrate,
		OnTasksSettled: func(ids []string) { o.limiter.Release(ids...) },
	})
	if err != nil {
		return nil, err
	}

	o.capturer, err = capture.New(capture.Options{
		DB:        o.db,
		Settler:   o.tracker,
		Logger:    o.logger.Named("capture"),
		OnSettled: func(id string) { o.limiter.Release(id) },
	})
	if err != nil {
		return nil, err
	}
	o.consumer = capture.NewConsumer(o.capturer, consumerWorkers, consumerQueue, o.logger.Named("consumer"))

	o.integrator, err = integrate.NewIntegrator(o.db, o.tracker, integrate.OptionsFromConfig(cfg.Integrate), o.logger.Named("integrate"))
	if err != nil {
		return nil, err
	}
	o.archiver, err = archive.New(o.db, o.logger.Named("archive"))
	if err != nil {
		return nil, err
	}

	o.notifier = opts.Notifier
	if o.notifier == nil {
		o.notifier, err = notify.FromConfig(ctx, cfg.Notify, o.logger.Named("notify"))
		if err != nil {
			return nil, err
		}
	}

	o.launcher = opts.Launcher
	if o.launcher == nil {
		o.launcher, err = o.launcherFromConfig()
		if err != nil {
			return nil, err
		}
	}

	o.dispatcher, err = dispatch.New(dispatch.Options{
		DB:             o.db,
		Launcher:       o.launcher,
		Tracker:        o.tracker,
		Limiter:        o.limiter,
		SessionTimeout: cfg.Tracker.SessionTimeout,
		Logger:         o.logger.Named("dispatch"),
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// launcherFromConfig returns an exec launcher when a command is configured,
// otherwise a no-op launcher for externally driven workers.
func (o *Orchestrator) launcherFromConfig() (launcher.Launcher, error) {
	lc := o.cfg.Launcher
	if lc.Command == "" {
		return launcher.Noop{}, nil
	}
	return launcher.NewExec(launcher.ExecOpts{
		Command: lc.Command,
		Args:    lc.Args,
		Dir:     lc.Dir,
		Logger:  o.logger.Named("launcher"),
		OnExit:  o.workerExited,
	})
}

// workerExited records a failed worker that never reported. If the worker
// already reported, the capture is a duplicate and changes nothing.
func (o *Orchestrator) workerExited(a launcher.Assignment, err error) {
	if err == nil {
		return
	}
	_, cerr := o.capturer.Capture(context.Background(), capture.Completion{
		SessionID: a.SessionID,
		TaskID:    a.TaskID,
		Role:      a.Role,
		Payload:   fmt.Sprintf("worker exited: %v", err),
		Status:    models.ResultError,
	})
	if cerr != nil {
		o.logger.Warn("record worker exit", zap.String("task_id", a.TaskID), zap.Error(cerr))
	}
}

// integrate is the tracker's finalization callback.
func (o *Orchestrator) integrate(ctx context.Context, f tracker.Finalization) {
	rep, err := o.integrator.Integrate(ctx, f.SessionID)
	if err != nil {
		o.logger.Error("integration failed", zap.String("session_id", f.SessionID), zap.Error(err))
		return
	}
	if f.Timeout != nil {
		o.logger.Warn("session timed out",
			zap.String("session_id", f.SessionID),
			zap.Strings("timed_out_tasks", f.Timeout.TimedOutTask))
	}
	_ = o.notifier.Notify(ctx, rep)
	if o.onReport != nil {
		o.onReport(rep)
	}
}

// Analyze scores a request without dispatching it.
func (o *Orchestrator) Analyze(request string, pinned []string) (*analyzer.Decision, error) {
	return o.analyzer.Analyze(request, pinned)
}

// Submission is the result of Submit.
type Submission struct {
	Decision   *analyzer.Decision   `json:"decision"`
	Dispatched *dispatch.Dispatched `json:"-"`
	SessionID  string               `json:"session_id"`
	TaskIDs    []string             `json:"task_ids"`
}

// Submit analyzes and dispatches a request.
func (o *Orchestrator) Submit(ctx context.Context, request string, pinned []string) (*Submission, error) {
	dec, err := o.analyzer.Analyze(request, pinned)
	if err != nil {
		return nil, err
	}
	d, err := o.dispatcher.Dispatch(ctx, request, dec)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(d.Tasks))
	for i, t := range d.Tasks {
		ids[i] = t.ID
	}
	return &Submission{Decision: dec, Dispatched: d, SessionID: d.Session.ID, TaskIDs: ids}, nil
}

// Complete records a worker completion. While Run is active the completion
// goes through the consumer; otherwise it is captured inline.
func (o *Orchestrator) Complete(ctx context.Context, c capture.Completion, queued bool) (*capture.Outcome, error) {
	if queued {
		return o.consumer.SubmitWait(ctx, c)
	}
	return o.capturer.Capture(ctx, c)
}

// Session returns one session row.
func (o *Orchestrator) Session(ctx context.Context, id string) (*models.Session, error) {
	return o.tracker.Get(ctx, id)
}

// Report returns the stored report for a session.
func (o *Orchestrator) Report(ctx context.Context, sessionID string) (*integrate.Report, error) {
	return integrate.Load(ctx, o.db, sessionID)
}

// Archive archives one integrated session.
func (o *Orchestrator) Archive(ctx context.Context, sessionID string) (bool, error) {
	return o.archiver.Archive(ctx, sessionID)
}

// ArchiveDue archives every session integrated longer ago than the
// configured retention.
func (o *Orchestrator) ArchiveDue(ctx context.Context) (int, error) {
	return o.archiver.Sweep(ctx, o.cfg.Archive.Retention)
}

// Sweep finalizes overdue or already-covered sessions, reconciles the
// in-flight limiter, and integrates finalized sessions that have no report,
// e.g. after a crash between finalization and integration.
func (o *Orchestrator) Sweep(ctx context.Context) (int, error) {
	n, err := o.tracker.Sweep(ctx)
	if _, rerr := o.limiter.Reconcile(ctx, o.db); rerr != nil {
		err = errors.Join(err, rerr)
	}

	var orphaned []string
	if ferr := o.db.WithContext(ctx).Model(&models.Session{}).
		Where("status IN ?", []string{models.SessionComplete, models.SessionTimedOut}).
		Where("finalized_at < ?", time.Now().UTC().Add(-o.cfg.Tracker.SweepInterval)).
		Pluck("id", &orphaned).Error; ferr != nil {
		return n, errors.Join(err, fmt.Errorf("orchestrator: list unintegrated sessions: %w", ferr))
	}
	for _, id := range orphaned {
		o.integrate(ctx, tracker.Finalization{SessionID: id, Trigger: tracker.TriggerReconcile})
	}
	return n, err
}

// Run resumes deadline timers, then runs the tracker sweep loop, the
// completion consumer, and the archive schedule until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	if n, err := o.tracker.Resume(ctx); err != nil {
		return err
	} else if n > 0 {
		o.logger.Info("resumed collecting sessions", zap.Int("count", n))
	}

	sched, err := archive.NewSchedule(o.archiver, o.cfg.Archive.Schedule, o.cfg.Archive.Retention)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.tracker.Run(gctx) })
	g.Go(func() error { return o.consumer.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-time.After(o.cfg.Tracker.SweepInterval):
			}
			if _, err := o.limiter.Reconcile(gctx, o.db); err != nil && gctx.Err() == nil {
				o.logger.Warn("limiter reconcile failed", zap.Error(err))
			}
		}
	})
	return g.Wait()
}

// WaitIntegrated polls until the session is integrated or archived.
func (o *Orchestrator) WaitIntegrated(ctx context.Context, sessionID string, poll time.Duration) (*integrate.Report, error) {
	for {
		s, err := o.tracker.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if s.Status == models.SessionIntegrated || s.Status == models.SessionArchived {
			o.tracker.Wait()
			return o.Report(ctx, sessionID)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(poll):
		}
	}
}

// Close stops deadline timers and waits for in-flight integrations.
func (o *Orchestrator) Close() {
	o.tracker.Close()
}

// Config returns the orchestrator's configuration.
func (o *Orchestrator) Config() *config.Config { return o.cfg }

// DB returns the orchestrator's store.
func (o *Orchestrator) DB() *gorm.DB { return o.db }

// InFlight returns the number of dispatched, unsettled tasks this process holds.
func (o *Orchestrator) InFlight() int { return o.limiter.InFlight() }

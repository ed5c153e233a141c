package capture

import (
	"context"

	"github.com/zulandar/junction/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultWorkers = 4

// Submission pairs a completion with an optional reply channel.
type Submission struct {
	Completion Completion
	// Reply, when non-nil, receives exactly one Reply. It must be buffered
	// or actively read.
	Reply chan<- Reply
}

// Reply is the result of processing a Submission.
type Reply struct {
	Outcome *Outcome
	Err     error
}

// Consumer drains a channel of completions with a bounded pool of workers.
// A failed capture is logged and never stops the consumer.
type Consumer struct {
	capturer *Capturer
	in       chan Submission
	workers  int
	logger   *zap.Logger
}

// NewConsumer creates a Consumer with the given pool size and queue depth.
func NewConsumer(c *Capturer, workers, queue int, logger *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if queue < 0 {
		queue = 0
	}
	return &Consumer{
		capturer: c,
		in:       make(chan Submission, queue),
		workers:  workers,
		logger:   logging.OrNop(logger),
	}
}

// Submit enqueues a completion. It blocks while the queue is full and
// returns ctx.Err() if ctx ends first.
func (c *Consumer) Submit(ctx context.Context, s Submission) error {
	select {
	case c.in <- s:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitWait enqueues a completion and waits for its outcome.
func (c *Consumer) SubmitWait(ctx context.Context, in Completion) (*Outcome, error) {
	reply := make(chan Reply, 1)
	if err := c.Submit(ctx, Submission{Completion: in, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.Outcome, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run processes submissions until ctx is cancelled. Submissions still queued
// at cancellation are processed before Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	var g errgroup.Group
	for i := 0; i < c.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case s := <-c.in:
					c.handle(s)
				case <-ctx.Done():
					c.drain()
					return nil
				}
			}
		})
	}
	return g.Wait()
}

func (c *Consumer) drain() {
	for {
		select {
		case s := <-c.in:
			c.handle(s)
		default:
			return
		}
	}
}

func (c *Consumer) handle(s Submission) {
	// Captures run to completion during shutdown.
	out, err := c.capturer.Capture(context.Background(), s.Completion)
	if err != nil {
		c.logger.Warn("capture failed",
			zap.String("session_id", s.Completion.SessionID),
			zap.String("task_id", s.Completion.TaskID),
			zap.Error(err))
	}
	if s.Reply != nil {
		s.Reply <- Reply{Outcome: out, Err: err}
	}
}

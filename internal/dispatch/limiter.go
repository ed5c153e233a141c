package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zulandar/junction/internal/models"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"
)

// Overflow policies for a full limiter.
const (
	OverflowReject = "reject"
	OverflowQueue  = "queue"
)

// ErrCapacity is returned when the in-flight ceiling would be exceeded under
// the reject policy.
var ErrCapacity = errors.New("dispatch: in-flight task capacity exhausted")

// Limiter bounds the number of dispatched-but-unsettled tasks across all
// sessions. Each held slot is keyed by task ID so release is idempotent.
type Limiter struct {
	sem    *semaphore.Weighted
	max    int64
	policy string

	mu   sync.Mutex
	held map[string]struct{}
}

// NewLimiter creates a Limiter with max slots.
func NewLimiter(max int, policy string) (*Limiter, error) {
	if max < 1 {
		return nil, fmt.Errorf("dispatch: max in-flight must be >= 1, got %d", max)
	}
	switch policy {
	case "":
		policy = OverflowReject
	case OverflowReject, OverflowQueue:
	default:
		return nil, fmt.Errorf("dispatch: unknown overflow policy %q", policy)
	}
	return &Limiter{
		sem:    semaphore.NewWeighted(int64(max)),
		max:    int64(max),
		policy: policy,
		held:   make(map[string]struct{}),
	}, nil
}

// Acquire takes one slot per task ID. Under the queue policy it blocks
// until slots free up or ctx is done.
func (l *Limiter) Acquire(ctx context.Context, taskIDs []string) error {
	n := int64(len(taskIDs))
	if n == 0 {
		return nil
	}
	if n > l.max {
		return fmt.Errorf("%w: %d tasks exceed ceiling of %d", ErrCapacity, n, l.max)
	}
	if l.policy == OverflowQueue {
		if err := l.sem.Acquire(ctx, n); err != nil {
			return fmt.Errorf("dispatch: wait for capacity: %w", err)
		}
	} else if !l.sem.TryAcquire(n) {
		return fmt.Errorf("%w: %d requested, %d in flight", ErrCapacity, n, l.InFlight())
	}

	l.mu.Lock()
	for _, id := range taskIDs {
		l.held[id] = struct{}{}
	}
	l.mu.Unlock()
	return nil
}

// Release frees the slots held by taskIDs. Unknown or already released IDs
// are ignored.
func (l *Limiter) Release(taskIDs ...string) {
	l.mu.Lock()
	var n int64
	for _, id := range taskIDs {
		if _, ok := l.held[id]; ok {
			delete(l.held, id)
			n++
		}
	}
	l.mu.Unlock()
	if n > 0 {
		l.sem.Release(n)
	}
}

// InFlight returns the number of held slots.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

// Reconcile releases slots for tasks that settled outside this process,
// e.g. a completion recorded by a separate CLI invocation. It returns the
// number of slots released.
func (l *Limiter) Reconcile(ctx context.Context, db *gorm.DB) (int, error) {
	l.mu.Lock()
	ids := make([]string, 0, len(l.held))
	for id := range l.held {
		ids = append(ids, id)
	}
	l.mu.Unlock()
	if len(ids) == 0 {
		return 0, nil
	}

	// Tasks not yet persisted are absent from the query and keep their slot.
	var done []string
	if err := db.WithContext(ctx).Model(&models.Task{}).
		Where("id IN ? AND status <> ?", ids, models.TaskDispatched).
		Pluck("id", &done).Error; err != nil {
		return 0, fmt.Errorf("dispatch: reconcile limiter: %w", err)
	}
	l.Release(done...)
	return len(done), nil
}

// Seed takes slots for tasks already dispatched in the store, so a fresh
// process honors work started by another. Tasks beyond capacity are left
// unheld. It returns the number of slots taken.
func (l *Limiter) Seed(ctx context.Context, db *gorm.DB) (int, error) {
	var ids []string
	if err := db.WithContext(ctx).Model(&models.Task{}).
		Where("status = ?", models.TaskDispatched).
		Order("started_at ASC").
		Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("dispatch: seed limiter: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	var n int
	for _, id := range ids {
		if _, ok := l.held[id]; ok {
			continue
		}
		if !l.sem.TryAcquire(1) {
			break
		}
		l.held[id] = struct{}{}
		n++
	}
	return n, nil
}

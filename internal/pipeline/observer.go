package pipeline

import (
	"context"
)

// Status is a batch or point lifecycle transition.
type Status string

const (
	StatusStarted   Status = "started"
	StatusLocated   Status = "located"
	StatusResolved  Status = "resolved"
	StatusRefined   Status = "refined"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusFinished  Status = "finished"
	StatusCancelled Status = "cancelled"
)

// Event is one lifecycle transition. PointID is empty for batch events.
type Event struct {
	BatchID string
	PointID string
	Status  Status
	Err     error
}

// Observer receives lifecycle events. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	Observe(ctx context.Context, e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, e Event)

// Observe implements Observer.
func (f ObserverFunc) Observe(ctx context.Context, e Event) { f(ctx, e) }

type nopObserver struct{}

func (nopObserver) Observe(context.Context, Event) {}

package http

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fyrsmithlabs/watershed/internal/events"
	"github.com/fyrsmithlabs/watershed/internal/pipeline"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BatchRunner runs a batch to completion.
type BatchRunner interface {
	Run(ctx context.Context, b pipeline.Batch) (*pipeline.Report, error)
}

type localBatch struct {
	done   bool
	report *pipeline.Report
	err    error
}

// Local runs submitted batches in-process, one goroutine per batch. The
// registry must be the runner's observer for Status to report point
// progress.
type Local struct {
	ctx      context.Context
	runner   BatchRunner
	registry *events.Registry
	logger   *zap.Logger

	mu      sync.Mutex
	batches map[string]*localBatch
	wg      sync.WaitGroup
}

// NewLocal creates an in-process executor. Batches run under ctx; cancelling
// it cancels every running batch.
func NewLocal(ctx context.Context, runner BatchRunner, registry *events.Registry, logger *zap.Logger) *Local {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Local{
		ctx:      ctx,
		runner:   runner,
		registry: registry,
		logger:   logger,
		batches:  make(map[string]*localBatch),
	}
}

// Submit validates b and starts it in the background.
func (l *Local) Submit(_ context.Context, b pipeline.Batch) (string, error) {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if _, err := b.Validate(); err != nil {
		return "", err
	}

	l.mu.Lock()
	if _, ok := l.batches[b.ID]; ok {
		l.mu.Unlock()
		return "", fmt.Errorf("batch %s already submitted", b.ID)
	}
	entry := &localBatch{}
	l.batches[b.ID] = entry
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		report, err := l.runner.Run(l.ctx, b)
		if err != nil {
			l.logger.Warn("batch ended with error", zap.String("batch.id", b.ID), zap.Error(err))
		}
		l.mu.Lock()
		entry.done, entry.report, entry.err = true, report, err
		l.mu.Unlock()
	}()
	return b.ID, nil
}

// Status returns the live state from the registry, or one rebuilt from the
// final report once the registry has expired the batch.
func (l *Local) Status(_ context.Context, id string) (events.BatchState, error) {
	if l.registry != nil {
		if s, ok := l.registry.Get(id); ok {
			return s, nil
		}
	}

	l.mu.Lock()
	entry, ok := l.batches[id]
	var done bool
	var report *pipeline.Report
	var runErr error
	if ok {
		done, report, runErr = entry.done, entry.report, entry.err
	}
	l.mu.Unlock()
	if !ok {
		return events.BatchState{}, fmt.Errorf("%s: %w", id, pipeline.ErrBatchNotFound)
	}

	state := events.BatchState{ID: id, Status: pipeline.StatusStarted, Points: make(map[string]pipeline.Status)}
	if !done {
		return state, nil
	}
	switch {
	case report != nil && report.Cancelled:
		state.Status = pipeline.StatusCancelled
	case runErr != nil:
		state.Status = pipeline.StatusFailed
	default:
		state.Status = pipeline.StatusFinished
	}
	if report != nil {
		state.CreatedAt = report.StartedAt
		state.UpdatedAt = report.StartedAt.Add(report.Duration)
		for _, p := range report.Points {
			switch p.Outcome {
			case pipeline.OutcomePending:
			case pipeline.OutcomeFailed:
				state.Points[p.PointID] = pipeline.StatusFailed
			default:
				state.Points[p.PointID] = pipeline.StatusCompleted
			}
		}
	}
	return state, nil
}

// Report returns the final report of a batch. A batch that ended without a
// report returns its run error.
func (l *Local) Report(_ context.Context, id string) (*pipeline.Report, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.batches[id]
	switch {
	case !ok:
		return nil, fmt.Errorf("%s: %w", id, pipeline.ErrBatchNotFound)
	case !entry.done:
		return nil, fmt.Errorf("%s: %w", id, pipeline.ErrBatchRunning)
	case entry.report == nil && entry.err != nil:
		return nil, entry.err
	case entry.report == nil:
		return nil, errNoReport
	}
	return entry.report, nil
}

// Wait blocks until every submitted batch has returned.
func (l *Local) Wait() {
	l.wg.Wait()
}

var _ Batches = (*Local)(nil)

var errNoReport = errors.New("batch produced no report")

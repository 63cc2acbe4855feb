// Package events tracks batch progress and publishes lifecycle events to NATS.
//
// Events are published to subjects:
//   - watershed.{batch_id}.{point_key}.{status} for point transitions
//   - watershed.{batch_id}.batch.{status} for batch transitions
//
// Subscribers follow one batch with watershed.{batch_id}.>
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/watershed/internal/hydro"
	"github.com/fyrsmithlabs/watershed/internal/pipeline"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// SubjectPrefix is the first token of every subject.
const SubjectPrefix = "watershed"

// batchToken stands in for the point token on batch-level events.
const batchToken = "batch"

// DefaultTTL is how long a finished batch stays queryable.
const DefaultTTL = time.Hour

// Message is the payload of a published event.
type Message struct {
	BatchID   string          `json:"batch_id"`
	PointID   string          `json:"point_id,omitempty"`
	Status    pipeline.Status `json:"status"`
	Kind      string          `json:"kind,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// BatchState is a snapshot of a tracked batch.
type BatchState struct {
	ID        string                     `json:"id"`
	Status    pipeline.Status            `json:"status"`
	Points    map[string]pipeline.Status `json:"points"`
	CreatedAt time.Time                  `json:"created_at"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// Done reports whether the batch has stopped. A batch-level failed status
// means the batch could not be merged or stored.
func (s BatchState) Done() bool {
	switch s.Status {
	case pipeline.StatusFinished, pipeline.StatusCancelled, pipeline.StatusFailed:
		return true
	}
	return false
}

type batch struct {
	mu    sync.Mutex
	state BatchState
}

// Registry records lifecycle events in memory and, when connected, publishes
// them to NATS. It implements pipeline.Observer.
type Registry struct {
	nats    *nats.Conn
	batches sync.Map // batch_id -> *batch
	ttl     time.Duration
	logger  *zap.Logger
}

var _ pipeline.Observer = (*Registry)(nil)

// NewRegistry creates a registry. nc may be nil, in which case events are
// only tracked in memory.
func NewRegistry(nc *nats.Conn, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{nats: nc, ttl: DefaultTTL, logger: logger}
}

// SetTTL changes how long finished batches are retained.
func (r *Registry) SetTTL(ttl time.Duration) {
	r.ttl = ttl
}

// Observe implements pipeline.Observer. Publish failures are logged; they
// never interrupt the batch.
func (r *Registry) Observe(ctx context.Context, e pipeline.Event) {
	now := time.Now().UTC()
	v, _ := r.batches.LoadOrStore(e.BatchID, &batch{state: BatchState{
		ID:        e.BatchID,
		Status:    pipeline.StatusStarted,
		Points:    make(map[string]pipeline.Status),
		CreatedAt: now,
	}})
	b := v.(*batch)

	b.mu.Lock()
	if e.PointID == "" {
		b.state.Status = e.Status
	} else {
		b.state.Points[e.PointID] = e.Status
	}
	b.state.UpdatedAt = now
	done := b.state.Done()
	b.mu.Unlock()

	if done {
		id := e.BatchID
		time.AfterFunc(r.ttl, func() { r.batches.Delete(id) })
	}

	if r.nats == nil {
		return
	}
	msg := Message{BatchID: e.BatchID, PointID: e.PointID, Status: e.Status, Timestamp: now}
	if e.Err != nil {
		msg.Kind = hydro.Kind(e.Err)
		msg.Error = e.Err.Error()
	}
	if err := r.publish(msg); err != nil {
		r.logger.Warn("failed to publish event",
			zap.String("batch.id", e.BatchID),
			zap.String("point.id", e.PointID),
			zap.String("status", string(e.Status)),
			zap.Error(err))
	}
}

func (r *Registry) publish(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.nats.Publish(Subject(msg.BatchID, msg.PointID, msg.Status), data); err != nil {
		return fmt.Errorf("publish %s event: %w", msg.Status, err)
	}
	return nil
}

// Get returns a snapshot of a tracked batch.
func (r *Registry) Get(batchID string) (BatchState, bool) {
	v, ok := r.batches.Load(batchID)
	if !ok {
		return BatchState{}, false
	}
	b := v.(*batch)
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.state
	s.Points = make(map[string]pipeline.Status, len(b.state.Points))
	for k, v := range b.state.Points {
		s.Points[k] = v
	}
	return s, true
}

// Subscribe delivers every event of one batch to fn until the subscription is
// drained or unsubscribed.
func (r *Registry) Subscribe(batchID string, fn func(Message)) (*nats.Subscription, error) {
	if r.nats == nil {
		return nil, fmt.Errorf("events: not connected to NATS")
	}
	return r.nats.Subscribe(BatchSubject(batchID), func(m *nats.Msg) {
		var msg Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			r.logger.Warn("dropping malformed event", zap.String("subject", m.Subject), zap.Error(err))
			return
		}
		fn(msg)
	})
}

// Subject returns the subject an event is published on.
func Subject(batchID, pointID string, status pipeline.Status) string {
	point := batchToken
	if pointID != "" {
		point = token(pointID)
	}
	return strings.Join([]string{SubjectPrefix, token(batchID), point, string(status)}, ".")
}

// BatchSubject matches every event of one batch.
func BatchSubject(batchID string) string {
	return SubjectPrefix + "." + token(batchID) + ".>"
}

// token makes s safe as a single subject token. The point token "batch" is
// reserved, so a point with that id is escaped as well.
func token(s string) string {
	if s == batchToken {
		return "_" + s
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

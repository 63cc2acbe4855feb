// Package locator resolves input points to a single location on the stream
// network, disambiguating nearby candidates by name and distance and falling
// back to the secondary network outside the primary jurisdiction.
package locator

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/watershed/internal/hydro"
	"github.com/fyrsmithlabs/watershed/internal/similarity"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/watershed/internal/locator"

// NetworkIndex answers nearest-stream queries against the primary network.
type NetworkIndex interface {
	NearestStreams(ctx context.Context, p hydro.InputPoint, tolerance float64, limit int) ([]hydro.Candidate, error)
}

// SecondaryIndexer snaps a point onto the secondary network.
type SecondaryIndexer interface {
	IndexPoint(ctx context.Context, p hydro.InputPoint) (hydro.StreamReference, error)
}

// Config configures the locator.
type Config struct {
	// SecondaryFallback is the distance beyond which an out-of-jurisdiction
	// point is handed to the secondary network (default: 150).
	SecondaryFallback float64
	// SecondarySearch is the radius searched for out-of-jurisdiction
	// streams when a secondary network is configured (default: 500). The
	// caller's tolerance still bounds the candidates a point can snap to.
	SecondarySearch float64
	Weights         similarity.Weights
}

// DefaultConfig returns the stock locator settings.
func DefaultConfig() Config {
	return Config{SecondaryFallback: 150, SecondarySearch: 500, Weights: similarity.DefaultWeights()}
}

// Locator resolves InputPoints to StreamReferences. It holds no per-point
// state and is safe for concurrent use.
type Locator struct {
	config    Config
	primary   NetworkIndex
	secondary SecondaryIndexer
	ranker    *similarity.Ranker
	logger    *zap.Logger
	tracer    trace.Tracer
}

// New creates a Locator. secondary may be nil, in which case points outside
// the primary jurisdiction are unresolved.
func New(cfg Config, primary NetworkIndex, secondary SecondaryIndexer, logger *zap.Logger) (*Locator, error) {
	if primary == nil {
		return nil, errors.New("primary network index is required")
	}
	ranker, err := similarity.NewRanker(cfg.Weights)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locator{
		config:    cfg,
		primary:   primary,
		secondary: secondary,
		ranker:    ranker,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
	}, nil
}

// Locate resolves p to one stream location within tolerance, considering at
// most limit candidates.
func (l *Locator) Locate(ctx context.Context, p hydro.InputPoint, tolerance float64, limit int) (hydro.StreamReference, error) {
	ctx, span := l.tracer.Start(ctx, "locator.locate")
	defer span.End()
	span.SetAttributes(attribute.String("point.id", p.ID), attribute.Float64("tolerance", tolerance))

	ref, err := l.locate(ctx, p, tolerance, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ref, err
	}
	span.SetAttributes(
		attribute.String("jurisdiction", string(ref.Jurisdiction)),
		attribute.String("segment.id", ref.SegmentID),
		attribute.Bool("ambiguous", ref.Ambiguous),
	)
	return ref, nil
}

func (l *Locator) locate(ctx context.Context, p hydro.InputPoint, tolerance float64, limit int) (hydro.StreamReference, error) {
	unresolved := hydro.StreamReference{PointID: p.ID, Jurisdiction: hydro.JurisdictionUnresolved, CRS: p.CRS, X: p.X, Y: p.Y}

	radius := tolerance
	if l.secondary != nil && l.config.SecondarySearch > radius {
		radius = l.config.SecondarySearch
	}
	candidates, err := l.primary.NearestStreams(ctx, p, radius, limit)
	if err != nil {
		return unresolved, fmt.Errorf("nearest stream query: %w", err)
	}
	if len(candidates) == 0 {
		return unresolved, fmt.Errorf("within %.0f of %s: %w", radius, p.ID, hydro.ErrNoStreamFound)
	}

	within := make([]hydro.Candidate, 0, len(candidates))
	inside := make([]hydro.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Distance > tolerance {
			continue
		}
		within = append(within, c)
		if c.InJurisdiction {
			inside = append(inside, c)
		}
	}
	closest, _ := similarity.Closest(candidates)

	if len(inside) == 0 && !closest.InJurisdiction && closest.Distance > l.config.SecondaryFallback {
		if l.secondary == nil {
			return unresolved, fmt.Errorf("outside primary jurisdiction and no secondary network configured: %w", hydro.ErrNoStreamFound)
		}
		l.logger.Debug("falling back to secondary network",
			zap.String("point_id", p.ID),
			zap.Float64("closest", closest.Distance),
		)
		ref, err := l.secondary.IndexPoint(ctx, p)
		if err != nil {
			return unresolved, fmt.Errorf("secondary point indexing: %w", err)
		}
		ref.PointID = p.ID
		ref.CRS = p.CRS
		ref.Jurisdiction = hydro.JurisdictionSecondary
		return ref, nil
	}

	pool := inside
	if len(pool) == 0 {
		pool = within
	}
	if len(pool) == 0 {
		return unresolved, fmt.Errorf("within %.0f of %s: %w", tolerance, p.ID, hydro.ErrNoStreamFound)
	}

	var best hydro.Candidate
	var ambiguous bool
	if p.HasName() {
		matches := l.ranker.Rank(pool, p.Name, tolerance)
		best = matches[0].Candidate
		ambiguous = len(matches) > 1 &&
			matches[1].Rank == matches[0].Rank &&
			matches[1].Candidate.Distance == best.Distance
	} else {
		best, ambiguous = similarity.Closest(pool)
	}
	if ambiguous {
		l.logger.Warn("ambiguous stream match, using lowest segment id",
			zap.String("point_id", p.ID),
			zap.String("segment_id", best.SegmentID),
			zap.Float64("distance", best.Distance),
		)
	}

	ref := hydro.StreamReference{
		PointID:      p.ID,
		SegmentID:    best.SegmentID,
		Measure:      best.Measure,
		Distance:     best.Distance,
		Jurisdiction: hydro.JurisdictionPrimary,
		CRS:          p.CRS,
		Name:         best.Name,
		X:            best.X,
		Y:            best.Y,
		Ambiguous:    ambiguous,
		Codes:        best.Codes,
	}
	if ref.X == 0 && ref.Y == 0 {
		ref.X, ref.Y = p.X, p.Y
	}
	return ref, nil
}

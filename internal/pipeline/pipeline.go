// Package pipeline runs a batch of points through locate, resolve, refine and
// merge.
//
// Points run concurrently on a bounded worker pool. Each point task writes
// only its own workspace key and its own entry in the partial collection, so
// one point's failure never touches another. Merge runs once, after every
// point task has finished.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/watershed/internal/elevation"
	"github.com/fyrsmithlabs/watershed/internal/hydro"
	"github.com/fyrsmithlabs/watershed/internal/logging"
	"github.com/fyrsmithlabs/watershed/internal/merge"
	"github.com/fyrsmithlabs/watershed/internal/raster"
	"github.com/fyrsmithlabs/watershed/internal/vector"
	"github.com/fyrsmithlabs/watershed/internal/workspace"
	"github.com/google/uuid"
	"github.com/twpayne/go-geos"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const instrumentationName = "github.com/fyrsmithlabs/watershed/internal/pipeline"

// Locator resolves a point to a stream reference.
type Locator interface {
	Locate(ctx context.Context, p hydro.InputPoint, tolerance float64, limit int) (hydro.StreamReference, error)
}

// Provider resolves watersheds and supplies refinement inputs.
type Provider interface {
	Resolve(ctx context.Context, ref hydro.StreamReference) (*hydro.WatershedPolygon, bool, error)
	RefinementJob(ctx context.Context, ref hydro.StreamReference, coarse *hydro.WatershedPolygon) (hydro.RefinementJob, error)
}

// DEMSource fetches elevation rasters as ASCII grids.
type DEMSource interface {
	Fetch(ctx context.Context, box elevation.Box, srs string, resolution float64) ([]byte, error)
}

// Refiner re-delineates a coarse watershed over a DEM.
type Refiner interface {
	Refine(ctx context.Context, job hydro.RefinementJob, dem *raster.Grid) (*geos.Geom, error)
}

// Sink persists merged results.
type Sink interface {
	Save(ctx context.Context, batchID, srs string, results []hydro.MergedResult) error
}

// Config configures a Runner.
type Config struct {
	// Concurrency bounds the number of points in flight (default: 8).
	Concurrency int
	// Tolerance is the nearest-stream search radius in CRS units (default: 100).
	Tolerance float64
	// CandidateLimit caps nearest-stream candidates per point (default: 10).
	CandidateLimit int
	// DEMResolution is the requested raster cell size (default: 25).
	DEMResolution float64
	// DEMBuffer grows the refinement extent before requesting the DEM
	// (default: 250).
	DEMBuffer float64
	// PointTimeout bounds one point task. Zero means no limit.
	PointTimeout time.Duration
	// WorkspaceRoot is the parent directory of batch workspaces.
	WorkspaceRoot string
	// KeepWorkspace leaves workspace files in place after the run.
	KeepWorkspace bool
}

// DefaultConfig returns the stock pipeline settings.
func DefaultConfig() Config {
	return Config{
		Concurrency:    8,
		Tolerance:      100,
		CandidateLimit: 10,
		DEMResolution:  25,
		DEMBuffer:      250,
		PointTimeout:   5 * time.Minute,
	}
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.Tolerance <= 0 {
		c.Tolerance = d.Tolerance
	}
	if c.CandidateLimit <= 0 {
		c.CandidateLimit = d.CandidateLimit
	}
	if c.DEMResolution <= 0 {
		c.DEMResolution = d.DEMResolution
	}
	if c.DEMBuffer < 0 {
		c.DEMBuffer = d.DEMBuffer
	}
}

// Deps are the stage implementations a Runner drives. DEM, Refiner, Sink and
// Observer are optional: without DEM or Refiner no point is refined.
type Deps struct {
	Locator  Locator
	Provider Provider
	DEM      DEMSource
	Refiner  Refiner
	Merger   merge.Engine
	Sink     Sink
	Observer Observer
}

// Runner executes batches. It is safe for concurrent use.
type Runner struct {
	config Config
	deps   Deps
	logger *logging.Logger
	tracer trace.Tracer
}

// New creates a Runner.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Runner, error) {
	if deps.Locator == nil || deps.Provider == nil || deps.Merger == nil {
		return nil, errors.New("locator, provider and merger are required")
	}
	cfg.ApplyDefaults()
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	return &Runner{
		config: cfg,
		deps:   deps,
		logger: logging.Wrap(logger).Named("pipeline"),
		tracer: otel.Tracer(instrumentationName),
	}, nil
}

// partials is the append-only collection point tasks write into.
type partials struct {
	mu      sync.Mutex
	byPoint map[string][]hydro.WatershedPolygon
	reports map[string]*PointReport
}

func (p *partials) put(id string, rep *PointReport, polys ...hydro.WatershedPolygon) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reports[id] = rep
	if len(polys) > 0 {
		p.byPoint[id] = append(p.byPoint[id], polys...)
	}
}

// Run delineates every point of b and merges the results. Per-point failures
// are recorded in the report and never fail the run. Run returns an error for
// failed batch preconditions, for a cancelled context (alongside the partial
// report) and when results cannot be persisted.
func (r *Runner) Run(ctx context.Context, b Batch) (*Report, error) {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	ctx = logging.WithBatch(ctx, b.ID)
	ctx, span := r.tracer.Start(ctx, "pipeline.batch")
	defer span.End()
	span.SetAttributes(attribute.String("batch.id", b.ID), attribute.Int("points", len(b.Points)))

	report, err := r.run(ctx, b)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return report, err
}

func (r *Runner) run(ctx context.Context, b Batch) (*Report, error) {
	start := time.Now()
	srs, err := b.Validate()
	if err != nil {
		return nil, err
	}

	ws, err := workspace.New(r.config.WorkspaceRoot, r.config.KeepWorkspace, r.logger.Underlying())
	if err != nil {
		return nil, err
	}
	defer ws.Close()

	report := &Report{BatchID: b.ID, CRS: srs, StartedAt: start.UTC()}
	if r.config.KeepWorkspace {
		report.Workspace = ws.Dir()
	}
	defer func() {
		report.Duration = time.Since(start)
		BatchDuration.Observe(report.Duration.Seconds())
	}()

	r.logger.Info(ctx, "batch started", zap.Int("points", len(b.Points)), zap.String("crs", srs))
	r.deps.Observer.Observe(ctx, Event{BatchID: b.ID, Status: StatusStarted})

	coll := &partials{
		byPoint: make(map[string][]hydro.WatershedPolygon, len(b.Points)),
		reports: make(map[string]*PointReport, len(b.Points)),
	}

	var g errgroup.Group
	g.SetLimit(r.config.Concurrency)
	for _, p := range b.Points {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			r.runPoint(ctx, b.ID, p, ws, coll)
			return nil
		})
	}
	_ = g.Wait()

	// Input order, for both the report and the merge.
	var parts []hydro.WatershedPolygon
	for _, p := range b.Points {
		rep, ok := coll.reports[p.ID]
		if !ok {
			rep = &PointReport{PointID: p.ID, Outcome: OutcomePending}
		}
		report.Points = append(report.Points, *rep)
		parts = append(parts, coll.byPoint[p.ID]...)
	}

	if err := ctx.Err(); err != nil {
		report.Cancelled = true
		r.logger.Warn(ctx, "batch cancelled before merge", zap.Error(err))
		r.deps.Observer.Observe(context.WithoutCancel(ctx), Event{BatchID: b.ID, Status: StatusCancelled})
		return report, err
	}

	if err := r.complete(ctx, report, parts, ws); err != nil {
		r.deps.Observer.Observe(ctx, Event{BatchID: b.ID, Status: StatusFailed, Err: err})
		return report, err
	}
	r.deps.Observer.Observe(ctx, Event{BatchID: b.ID, Status: StatusFinished})
	return report, nil
}

// Point delineates a single point of a batch in a workspace of its own and
// returns its report entry with its partial polygons. Merging is left to the
// caller, see Finish.
func (r *Runner) Point(ctx context.Context, batchID string, p hydro.InputPoint) (PointReport, []hydro.WatershedPolygon, error) {
	ctx = logging.WithBatch(ctx, batchID)
	ws, err := workspace.New(r.config.WorkspaceRoot, r.config.KeepWorkspace, r.logger.Underlying())
	if err != nil {
		return PointReport{}, nil, err
	}
	defer ws.Close()

	coll := &partials{
		byPoint: make(map[string][]hydro.WatershedPolygon, 1),
		reports: make(map[string]*PointReport, 1),
	}
	r.runPoint(ctx, batchID, p, ws, coll)
	return *coll.reports[p.ID], coll.byPoint[p.ID], nil
}

// Finish merges parts into report, which must already list every point, and
// persists the results.
func (r *Runner) Finish(ctx context.Context, report *Report, parts []hydro.WatershedPolygon) error {
	ctx = logging.WithBatch(ctx, report.BatchID)
	if err := r.complete(ctx, report, parts, nil); err != nil {
		return err
	}
	r.deps.Observer.Observe(ctx, Event{BatchID: report.BatchID, Status: StatusFinished})
	return nil
}

// complete runs the merge stage and stores the results. ws may be nil.
func (r *Runner) complete(ctx context.Context, report *Report, parts []hydro.WatershedPolygon, ws *workspace.Workspace) error {
	results, err := r.deps.Merger.Merge(ctx, parts)
	failed := merge.Failed(err)
	if err != nil && len(failed) == 0 {
		return fmt.Errorf("merge failed: %w", err)
	}
	for _, pe := range failed {
		r.fail(report, pe)
	}
	r.applyResults(report, results)
	report.Results = results

	if ws != nil {
		var buf bytes.Buffer
		if err := vector.WriteResults(&buf, results, report.CRS); err != nil {
			return fmt.Errorf("failed to encode merged results: %w", err)
		}
		if err := ws.Write(workspace.MergedFile, buf.Bytes()); err != nil {
			return err
		}
	}
	if r.deps.Sink != nil {
		if err := r.deps.Sink.Save(ctx, report.BatchID, report.CRS, results); err != nil {
			return fmt.Errorf("failed to save results: %w", err)
		}
	}

	for _, p := range report.Points {
		RecordPoint(p.Outcome)
	}
	counts := report.Counts()
	r.logger.Info(ctx, "batch finished",
		zap.Int("direct", counts[OutcomeDirect]),
		zap.Int("refined", counts[OutcomeRefined]),
		zap.Int("secondary", counts[OutcomeSecondary]),
		zap.Int("unresolved", counts[OutcomeUnresolved]),
		zap.Int("failed", counts[OutcomeFailed]),
	)
	return nil
}

func (r *Runner) fail(report *Report, pe *hydro.PointError) {
	for i := range report.Points {
		p := &report.Points[i]
		if p.PointID != pe.PointID {
			continue
		}
		p.Outcome = OutcomeFailed
		p.Stage = pe.Stage
		p.Reason = hydro.Kind(pe.Err)
		p.Error = pe.Err.Error()
		return
	}
}

func (r *Runner) applyResults(report *Report, results []hydro.MergedResult) {
	byID := make(map[string]hydro.MergedResult, len(results))
	for _, res := range results {
		byID[res.PointID] = res
	}
	for i := range report.Points {
		p := &report.Points[i]
		res, ok := byID[p.PointID]
		if !ok {
			continue
		}
		p.Provenance = res.Provenance
		p.AreaHa = res.AreaHa
		p.Outcome = outcomeFor(res.Provenance)
	}
}

// runPoint never returns an error: every failure ends up in the point's
// report entry.
func (r *Runner) runPoint(ctx context.Context, batchID string, p hydro.InputPoint, ws *workspace.Workspace, coll *partials) {
	InFlightPoints.Inc()
	defer InFlightPoints.Dec()

	ctx = logging.WithPoint(ctx, p.ID)
	ctx, span := r.tracer.Start(ctx, "pipeline.point")
	defer span.End()
	span.SetAttributes(attribute.String("point.id", p.ID))

	if r.config.PointTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.PointTimeout)
		defer cancel()
	}

	rep := &PointReport{PointID: p.ID}
	emit := func(status Status, err error) {
		r.deps.Observer.Observe(ctx, Event{BatchID: batchID, PointID: p.ID, Status: status, Err: err})
	}
	failed := func(stage hydro.Stage, err error) {
		pe := hydro.NewPointError(p.ID, stage, err)
		rep.Stage = stage
		rep.Reason = hydro.Kind(err)
		rep.Error = err.Error()
		if hydro.IsDomainMiss(err) {
			rep.Outcome = OutcomeUnresolved
			r.logger.Info(ctx, "point unresolved", zap.String("stage", string(stage)), zap.Error(err))
		} else {
			rep.Outcome = OutcomeFailed
			r.logger.Warn(ctx, "point failed", zap.String("stage", string(stage)), zap.Error(err))
		}
		span.RecordError(pe)
		span.SetStatus(codes.Error, pe.Error())
		coll.put(p.ID, rep)
		emit(StatusFailed, pe)
	}
	emit(StatusStarted, nil)

	ref, err := r.deps.Locator.Locate(ctx, p, r.config.Tolerance, r.config.CandidateLimit)
	rep.Reference = &ref
	if err != nil {
		failed(hydro.StageLocate, err)
		return
	}
	if ref.Ambiguous {
		rep.Notes = append(rep.Notes, fmt.Sprintf("%s: several candidates at %.1f, chose segment %s",
			hydro.Kind(hydro.ErrAmbiguousMatch), ref.Distance, ref.SegmentID))
	}
	if err := ws.WritePointJSON(p.ID, workspace.ReferenceFile, ref); err != nil {
		failed(hydro.StageStore, err)
		return
	}
	emit(StatusLocated, nil)

	coarse, refine, err := r.deps.Provider.Resolve(ctx, ref)
	if err != nil {
		failed(hydro.StageResolve, err)
		return
	}
	emit(StatusResolved, nil)
	polys := []hydro.WatershedPolygon{*coarse}

	if refine {
		refined, err := r.refine(ctx, ref, coarse, ws)
		RecordRefinement(refined != nil, err)
		switch {
		case err != nil:
			rep.Notes = append(rep.Notes, fmt.Sprintf("%s: %v; kept coarse polygon", hydro.Kind(hydro.ErrRefinementFailed), err))
			r.logger.Warn(ctx, "refinement failed, keeping coarse polygon", zap.Error(err))
		case refined == nil:
			rep.Notes = append(rep.Notes, fmt.Sprintf("%s: no cells drain to the pour point; kept coarse polygon", hydro.Kind(hydro.ErrRefinementFailed)))
		default:
			polys = append(polys, *refined)
			emit(StatusRefined, nil)
		}
	}

	rep.Outcome = outcomeFor(coarse.Provenance)
	if len(polys) > 1 {
		rep.Outcome = OutcomeRefined
	}
	coll.put(p.ID, rep, polys...)
	r.logger.Debug(ctx, "point completed", zap.Int("partials", len(polys)), zap.String("outcome", string(rep.Outcome)))
	emit(StatusCompleted, nil)
}

// refine returns a nil polygon and no error when nothing drains to the
// pour-point streams.
func (r *Runner) refine(ctx context.Context, ref hydro.StreamReference, coarse *hydro.WatershedPolygon, ws *workspace.Workspace) (*hydro.WatershedPolygon, error) {
	if r.deps.DEM == nil || r.deps.Refiner == nil {
		return nil, errors.New("no elevation source configured")
	}
	job, err := r.deps.Provider.RefinementJob(ctx, ref, coarse)
	if err != nil {
		return nil, err
	}

	b := job.Extent.Bounds()
	box := elevation.Box{MinX: b.MinX, MinY: b.MinY, MaxX: b.MaxX, MaxY: b.MaxY}.Expand(r.config.DEMBuffer)
	data, err := r.deps.DEM.Fetch(ctx, box, ref.CRS, r.config.DEMResolution)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch DEM: %w", err)
	}
	if err := ws.WritePoint(ref.PointID, workspace.DEMFile, data); err != nil {
		return nil, err
	}
	dem, err := raster.ReadASCII(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode DEM: %w", err)
	}

	geom, err := r.deps.Refiner.Refine(ctx, job, dem)
	if err != nil || geom == nil {
		return nil, err
	}
	refined := &hydro.WatershedPolygon{
		Provenance: hydro.ProvenanceDEM,
		AreaHa:     geom.Area() / 10000,
		Geometry:   geom,
	}
	refined.Inherit(coarse)
	if err := ws.WritePoint(ref.PointID, workspace.RefinedFile, []byte(geom.ToGeoJSON(-1))); err != nil {
		return nil, err
	}
	return refined, nil
}

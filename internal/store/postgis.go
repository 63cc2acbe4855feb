package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/watershed/internal/crs"
	"github.com/fyrsmithlabs/watershed/internal/hydro"
	"github.com/fyrsmithlabs/watershed/internal/merge"
	"github.com/fyrsmithlabs/watershed/internal/sanitize"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/twpayne/go-geos"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/watershed/internal/store"

// PostGISConfig configures the PostGIS store.
type PostGISConfig struct {
	// DSN is a libpq connection string or postgres:// URL.
	DSN string
	// Schema holds result tables (default: public).
	Schema string
	// TablePrefix is prepended to the batch id to name its table
	// (default: wsd_).
	TablePrefix string
	// MaxConns caps the connection pool (default: 4).
	MaxConns int32
	// ConnectTimeout bounds the initial ping (default: 10s).
	ConnectTimeout time.Duration
}

// ApplyDefaults fills zero-valued fields.
func (c *PostGISConfig) ApplyDefaults() {
	if c.Schema == "" {
		c.Schema = "public"
	}
	if c.TablePrefix == "" {
		c.TablePrefix = "wsd_"
	}
	if c.MaxConns == 0 {
		c.MaxConns = 4
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
}

// Validate checks the configuration.
func (c PostGISConfig) Validate() error {
	if c.DSN == "" {
		return errors.New("postgis dsn is required")
	}
	if err := sanitize.ValidateIdentifier(c.Schema); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	if c.MaxConns < 1 {
		return fmt.Errorf("max conns must be positive, got %d", c.MaxConns)
	}
	return nil
}

// PostGIS writes results to one table per batch and can run the merge stage
// inside the database.
type PostGIS struct {
	config PostGISConfig
	merge  merge.Config
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

var (
	_ Sink         = (*PostGIS)(nil)
	_ merge.Engine = (*PostGIS)(nil)
)

// NewPostGIS connects to the database. mergeCfg controls the server-side
// merge.
func NewPostGIS(ctx context.Context, cfg PostGISConfig, mergeCfg merge.Config, logger *zap.Logger) (*PostGIS, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mergeCfg.ApplyDefaults()
	if err := mergeCfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid postgis dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgis: %w", err)
	}

	return &PostGIS{
		config: cfg,
		merge:  mergeCfg,
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
	}, nil
}

// Close releases the connection pool.
func (s *PostGIS) Close() {
	s.pool.Close()
}

// Table returns the quoted, schema-qualified table a batch is written to.
func (s *PostGIS) Table(batchID string) string {
	return pgx.Identifier{s.config.Schema, sanitize.TableName(s.config.TablePrefix + batchID)}.Sanitize()
}

// Save replaces the batch table with results.
func (s *PostGIS) Save(ctx context.Context, batchID, srs string, results []hydro.MergedResult) error {
	ctx, span := s.tracer.Start(ctx, "store.postgis.save")
	defer span.End()

	table := s.Table(batchID)
	span.SetAttributes(attribute.String("table", table), attribute.Int("features", len(results)))

	srid, err := crs.ParseCode(srs)
	if err != nil {
		return fmt.Errorf("%w: %v", hydro.ErrInvalidInputCRS, err)
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, stmt := range createTableSQL(table, srid) {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to create %s: %w", table, err)
			}
		}
		batch := &pgx.Batch{}
		insert := insertSQL(table, srid)
		for _, r := range results {
			batch.Queue(insert, r.PointID, string(r.Provenance), r.AreaHa, r.Attributes, r.Geometry.ToWKB())
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to save batch %s: %w", batchID, err)
	}

	s.logger.Info("results written",
		zap.String("batch.id", batchID),
		zap.String("table", table),
		zap.Int("features", len(results)))
	return nil
}

// Merge implements merge.Engine. Partials are uploaded to a temporary table
// and dissolved, buffered and stripped of holes by PostGIS; provenance,
// attributes and area follow the in-process rules.
func (s *PostGIS) Merge(ctx context.Context, partials []hydro.WatershedPolygon) ([]hydro.MergedResult, error) {
	ctx, span := s.tracer.Start(ctx, "store.postgis.merge")
	defer span.End()

	ids, groups := merge.Group(partials)
	span.SetAttributes(attribute.Int("partials", len(partials)), attribute.Int("points", len(ids)))

	geoms := make(map[string]*geos.Geom, len(ids))
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, partialsTableSQL); err != nil {
			return fmt.Errorf("failed to create partials table: %w", err)
		}
		batch := &pgx.Batch{}
		for _, p := range partials {
			if p.Geometry == nil || p.Geometry.IsEmpty() {
				continue
			}
			batch.Queue(`INSERT INTO wsd_partials (point_id, geom) VALUES ($1, ST_GeomFromWKB($2))`, p.PointID, p.Geometry.ToWKB())
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to upload partials: %w", err)
		}

		rows, err := tx.Query(ctx, mergeSQL(s.merge), s.merge.Epsilon, s.merge.QuadSegs)
		if err != nil {
			return fmt.Errorf("failed to merge partials: %w", err)
		}
		type row struct {
			PointID string
			WKB     []byte
		}
		merged, err := pgx.CollectRows(rows, pgx.RowToStructByPos[row])
		if err != nil {
			return fmt.Errorf("failed to read merged polygons: %w", err)
		}
		for _, r := range merged {
			if r.WKB == nil {
				continue
			}
			g, err := geos.NewGeomFromWKB(r.WKB)
			if err != nil {
				return fmt.Errorf("failed to decode merged polygon for %s: %w", r.PointID, err)
			}
			geoms[r.PointID] = g
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	results := make([]hydro.MergedResult, 0, len(ids))
	var errs []error
	for _, id := range ids {
		g, ok := geoms[id]
		if !ok || g.IsEmpty() {
			errs = append(errs, hydro.NewPointError(id, hydro.StageMerge,
				fmt.Errorf("no polygon after merge: %w", hydro.ErrNoWatershedAvailable)))
			continue
		}
		parts := groups[id]
		results = append(results, hydro.MergedResult{
			PointID:    id,
			Provenance: merge.Provenance(parts),
			AreaHa:     merge.Area(parts, g),
			Geometry:   g,
			Attributes: merge.Attributes(parts),
		})
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		span.RecordError(err)
		span.SetStatus(codes.Error, "some points failed to merge")
		return results, err
	}
	return results, nil
}

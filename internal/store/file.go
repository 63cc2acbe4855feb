// Package store persists merged watershed results.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fyrsmithlabs/watershed/internal/hydro"
	"github.com/fyrsmithlabs/watershed/internal/sanitize"
	"github.com/fyrsmithlabs/watershed/internal/vector"
	"go.uber.org/zap"
)

// Sink receives the merged results of a completed batch.
type Sink interface {
	Save(ctx context.Context, batchID, srs string, results []hydro.MergedResult) error
}

// File writes each batch to {dir}/{batch}.geojson.
type File struct {
	dir    string
	logger *zap.Logger
}

var _ Sink = (*File)(nil)

// NewFile creates a file store rooted at dir, creating it if needed.
func NewFile(dir string, logger *zap.Logger) (*File, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dir, err := sanitize.ValidatePath(dir, "")
	if err != nil {
		return nil, fmt.Errorf("invalid output directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &File{dir: dir, logger: logger}, nil
}

// Path returns the file a batch is written to.
func (f *File) Path(batchID string) string {
	return filepath.Join(f.dir, sanitize.PointKey(batchID)+".geojson")
}

// Save writes results as a GeoJSON FeatureCollection, replacing any earlier
// file for the same batch.
func (f *File) Save(ctx context.Context, batchID, srs string, results []hydro.MergedResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := vector.WriteResults(&buf, results, srs); err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}

	path := f.Path(batchID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write results: %w", err)
	}
	f.logger.Info("results written",
		zap.String("batch.id", batchID),
		zap.String("path", path),
		zap.Int("features", len(results)))
	return nil
}

// Multi fans a batch out to several sinks. Every sink is attempted.
type Multi []Sink

// Save implements Sink.
func (m Multi) Save(ctx context.Context, batchID, srs string, results []hydro.MergedResult) error {
	var errs []error
	for _, s := range m {
		if err := s.Save(ctx, batchID, srs, results); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

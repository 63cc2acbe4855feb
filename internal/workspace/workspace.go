// Package workspace provides the scratch directory a batch runs in.
//
// Each point writes only below its own key, so concurrent point tasks never
// share a file and an abandoned batch leaves no half-written artefact:
//
//	{root}/{batch-uuid}/
//	├── points/
//	│   └── {point-key}/
//	│       ├── reference.json
//	│       ├── dem.asc
//	│       └── watershed.geojson
//	└── merged.geojson
package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/watershed/internal/sanitize"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Well-known artefact names.
const (
	ReferenceFile = "reference.json"
	DEMFile       = "dem.asc"
	WatershedFile = "watershed.geojson"
	RefinedFile   = "refined.geojson"
	MergedFile    = "merged.geojson"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("workspace closed")

// Workspace is a caller-owned scratch directory for one batch.
type Workspace struct {
	mu     sync.RWMutex
	id     string
	dir    string
	keep   bool
	closed bool
	logger *zap.Logger
}

// New creates a workspace below root. An empty root uses the system temp
// directory. With keep set, Close leaves the files in place.
func New(root string, keep bool, logger *zap.Logger) (*Workspace, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if root == "" {
		root = os.TempDir()
	}
	root, err := sanitize.ValidatePath(root, "")
	if err != nil {
		return nil, fmt.Errorf("invalid workspace root: %w", err)
	}

	id := uuid.New().String()
	dir := filepath.Join(root, "wsd-"+id)
	if err := os.MkdirAll(filepath.Join(dir, "points"), 0700); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	logger.Debug("workspace created", zap.String("dir", dir), zap.Bool("keep", keep))
	return &Workspace{id: id, dir: dir, keep: keep, logger: logger}, nil
}

// ID returns the workspace id.
func (w *Workspace) ID() string { return w.id }

// Dir returns the workspace directory.
func (w *Workspace) Dir() string { return w.dir }

// PointDir returns the directory for pointID, creating it if needed.
func (w *Workspace) PointDir(pointID string) (string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return "", ErrClosed
	}
	dir := filepath.Join(w.dir, "points", sanitize.PointKey(pointID))
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create point directory: %w", err)
	}
	return dir, nil
}

// WritePoint atomically writes an artefact for pointID.
func (w *Workspace) WritePoint(pointID, name string, data []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	dir, err := w.PointDir(pointID)
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(dir, name), data)
}

// WritePointJSON writes v as indented JSON for pointID.
func (w *Workspace) WritePointJSON(pointID, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	return w.WritePoint(pointID, name, data)
}

// ReadPoint reads an artefact written for pointID.
func (w *Workspace) ReadPoint(pointID, name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return nil, ErrClosed
	}
	return os.ReadFile(filepath.Join(w.dir, "points", sanitize.PointKey(pointID), name))
}

// Write atomically writes a batch-level artefact.
func (w *Workspace) Write(name string, data []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrClosed
	}
	return writeAtomic(filepath.Join(w.dir, name), data)
}

// Path returns the path of a batch-level artefact.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, name)
}

// Close removes the workspace unless it was created with keep.
func (w *Workspace) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.keep {
		w.logger.Info("workspace kept", zap.String("dir", w.dir))
		return nil
	}
	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("failed to remove workspace: %w", err)
	}
	return nil
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid artefact name %q: %w", name, sanitize.ErrPathTraversal)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

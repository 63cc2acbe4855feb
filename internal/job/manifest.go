// Package job loads TOML batch manifests.
//
// A manifest names a point dataset, inline points, or both, plus per-batch
// overrides:
//
//	id        = "fraser-2026-10"
//	crs       = "EPSG:3005"
//	tolerance = 100
//	output    = "out"
//
//	[points]
//	file       = "stations.geojson"
//	id_field   = "station"
//	name_field = "gnis_name"
//
//	[[point]]
//	id   = "08MF005"
//	x    = 1255410.2
//	y    = 468871.5
//	name = "Fraser River"
package job

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/fyrsmithlabs/watershed/internal/hydro"
	"github.com/fyrsmithlabs/watershed/internal/sanitize"
	"github.com/fyrsmithlabs/watershed/internal/vector"
)

// MaxManifestSize caps the manifest file size.
const MaxManifestSize = 1 << 20

var (
	// ErrInvalidTOML indicates the manifest could not be decoded.
	ErrInvalidTOML = errors.New("invalid TOML")

	// ErrNoPoints indicates the manifest names no points at all.
	ErrNoPoints = errors.New("manifest has no points")
)

// Manifest describes one batch.
type Manifest struct {
	ID        string       `toml:"id"`
	CRS       string       `toml:"crs"`
	Tolerance float64      `toml:"tolerance"`
	Output    string       `toml:"output"`
	Points    PointsSource `toml:"points"`
	Inline    []Point      `toml:"point"`

	// dir is the manifest directory; relative paths resolve against it.
	dir string
}

// PointsSource names a GeoJSON point dataset.
type PointsSource struct {
	File      string `toml:"file"`
	IDField   string `toml:"id_field"`
	NameField string `toml:"name_field"`
}

// Point is an inline point. CRS defaults to the manifest CRS.
type Point struct {
	ID   string  `toml:"id"`
	X    float64 `toml:"x"`
	Y    float64 `toml:"y"`
	CRS  string  `toml:"crs"`
	Name string  `toml:"name"`
}

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > MaxManifestSize {
		return nil, fmt.Errorf("manifest %s exceeds %d bytes", path, MaxManifestSize)
	}

	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}
	m.dir = filepath.Dir(path)
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// Parse decodes a manifest from memory. Relative paths resolve against dir.
func Parse(data []byte, dir string) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTOML, err)
	}
	m.dir = dir
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest without reading the point dataset.
func (m *Manifest) Validate() error {
	if m.Points.File == "" && len(m.Inline) == 0 {
		return ErrNoPoints
	}
	if m.Tolerance < 0 {
		return fmt.Errorf("tolerance must not be negative, got %v", m.Tolerance)
	}
	if m.Points.File != "" {
		if _, err := m.resolve(m.Points.File); err != nil {
			return fmt.Errorf("points file: %w", err)
		}
	}
	if m.Output != "" {
		if _, err := m.resolve(m.Output); err != nil {
			return fmt.Errorf("output: %w", err)
		}
	}
	for i, p := range m.Inline {
		if p.ID == "" {
			return fmt.Errorf("point[%d]: id is required", i)
		}
	}
	return nil
}

// OutputDir returns the resolved output directory, or "" when unset.
func (m *Manifest) OutputDir() string {
	if m.Output == "" {
		return ""
	}
	dir, _ := m.resolve(m.Output)
	return dir
}

// InputPoints returns the dataset points followed by the inline points.
func (m *Manifest) InputPoints() ([]hydro.InputPoint, error) {
	var points []hydro.InputPoint
	if m.Points.File != "" {
		path, err := m.resolve(m.Points.File)
		if err != nil {
			return nil, err
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open points: %w", err)
		}
		defer f.Close()
		points, err = vector.ReadPoints(f, vector.PointOptions{
			IDField:   m.Points.IDField,
			NameField: m.Points.NameField,
			CRS:       m.CRS,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	for _, p := range m.Inline {
		srs := p.CRS
		if srs == "" {
			srs = m.CRS
		}
		points = append(points, hydro.InputPoint{ID: p.ID, X: p.X, Y: p.Y, CRS: srs, Name: p.Name})
	}
	if len(points) == 0 {
		return nil, ErrNoPoints
	}
	return points, nil
}

// resolve makes p absolute relative to the manifest directory. Relative paths
// must stay below that directory.
func (m *Manifest) resolve(p string) (string, error) {
	if filepath.IsAbs(p) {
		return sanitize.ValidatePath(p, "")
	}
	return sanitize.ValidatePath(filepath.Join(m.dir, p), m.dir)
}

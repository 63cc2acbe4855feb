package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fyrsmithlabs/watershed/internal/hydro"
	"github.com/fyrsmithlabs/watershed/internal/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geos"
)

func results(t *testing.T) []hydro.MergedResult {
	t.Helper()
	g, err := geos.NewGeomFromWKT("POLYGON((0 0,100 0,100 100,0 100,0 0))")
	require.NoError(t, err)
	return []hydro.MergedResult{
		{PointID: "p1", Provenance: hydro.ProvenanceDEM, AreaHa: 1, Geometry: g, Attributes: map[string]string{hydro.AttrWatershedCode: "100"}},
		{PointID: "p2", Provenance: hydro.ProvenanceNetwork, AreaHa: 1, Geometry: g},
	}
}

func TestFile_Save(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	f, err := NewFile(dir, nil)
	require.NoError(t, err)

	require.NoError(t, f.Save(context.Background(), "b-1", "EPSG:3005", results(t)))

	data, err := os.ReadFile(f.Path("b-1"))
	require.NoError(t, err)
	fc, err := vector.DecodeCollection(data)
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)
	assert.Equal(t, "EPSG:3005", fc.CRS.EPSG())
	assert.Equal(t, "p1", fc.Features[0].Properties["point_id"])
	assert.Equal(t, "dem", fc.Features[0].Properties["provenance"])
	assert.Equal(t, "100", fc.Features[0].Properties[hydro.AttrWatershedCode])

	// A second save replaces the first.
	require.NoError(t, f.Save(context.Background(), "b-1", "EPSG:3005", results(t)[:1]))
	data, err = os.ReadFile(f.Path("b-1"))
	require.NoError(t, err)
	fc, err = vector.DecodeCollection(data)
	require.NoError(t, err)
	assert.Len(t, fc.Features, 1)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFile_PathIsContained(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFile(dir, nil)
	require.NoError(t, err)

	p := f.Path("../../etc/passwd")
	assert.Equal(t, dir, filepath.Dir(p))
}

func TestFile_SaveCancelled(t *testing.T) {
	f, err := NewFile(t.TempDir(), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, f.Save(ctx, "b", "EPSG:3005", results(t)), context.Canceled)
	_, err = os.Stat(f.Path("b"))
	assert.True(t, os.IsNotExist(err))
}

type sinkFunc func() error

func (f sinkFunc) Save(context.Context, string, string, []hydro.MergedResult) error { return f() }

func TestMulti_AttemptsEverySink(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	m := Multi{
		sinkFunc(func() error { calls++; return boom }),
		sinkFunc(func() error { calls++; return nil }),
	}

	err := m.Save(context.Background(), "b", "EPSG:3005", nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}

package hydro

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geos"
)

func TestWatershedPolygon_Inherit(t *testing.T) {
	coarse := &WatershedPolygon{
		PointID: "7",
		Attributes: map[string]string{
			AttrWatershedCode: "100-190442",
			AttrLocalCode:     "100-190442-244975",
			AttrRefineMethod:  "DEM",
		},
	}

	t.Run("copies id and codes", func(t *testing.T) {
		refined := &WatershedPolygon{Provenance: ProvenanceDEM}
		refined.Inherit(coarse)

		assert.Equal(t, "7", refined.PointID)
		assert.Equal(t, "100-190442", refined.Attributes[AttrWatershedCode])
		assert.Equal(t, "100-190442-244975", refined.Attributes[AttrLocalCode])
		assert.NotContains(t, refined.Attributes, AttrRefineMethod)
	})

	t.Run("keeps existing values", func(t *testing.T) {
		refined := &WatershedPolygon{Attributes: map[string]string{AttrLocalCode: "own"}}
		refined.Inherit(coarse)

		assert.Equal(t, "own", refined.Attributes[AttrLocalCode])
		assert.Equal(t, "100-190442", refined.Attributes[AttrWatershedCode])
	})
}

func TestHoleCount(t *testing.T) {
	tests := []struct {
		name string
		wkt  string
		want int
	}{
		{"simple polygon", "POLYGON((0 0,10 0,10 10,0 10,0 0))", 0},
		{"polygon with hole", "POLYGON((0 0,10 0,10 10,0 10,0 0),(2 2,4 2,4 4,2 4,2 2))", 1},
		{"multipolygon", "MULTIPOLYGON(((0 0,10 0,10 10,0 10,0 0),(2 2,4 2,4 4,2 4,2 2)),((20 0,30 0,30 10,20 10,20 0),(22 2,24 2,24 4,22 4,22 2)))", 2},
		{"line", "LINESTRING(0 0,1 1)", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := geos.NewGeomFromWKT(tt.wkt)
			require.NoError(t, err)
			assert.Equal(t, tt.want, HoleCount(g))
		})
	}

	assert.Equal(t, 0, HoleCount(nil))
}

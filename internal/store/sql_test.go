package store

import (
	"testing"

	"github.com/fyrsmithlabs/watershed/internal/merge"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
)

func TestCreateTableSQL(t *testing.T) {
	table := pgx.Identifier{"public", "wsd_b_1"}.Sanitize()
	stmts := createTableSQL(table, 3005)

	assert.Equal(t, `DROP TABLE IF EXISTS "public"."wsd_b_1"`, stmts[0])
	assert.Contains(t, stmts[1], `CREATE TABLE "public"."wsd_b_1"`)
	assert.Contains(t, stmts[1], "geometry(MultiPolygon, 3005)")
	assert.Contains(t, insertSQL(table, 3005), "ST_SetSRID(ST_GeomFromWKB($5), 3005)")
}

func TestMergeSQL_BufferOrder(t *testing.T) {
	closing := mergeSQL(merge.Config{Order: merge.OrderClose})
	assert.Contains(t, closing, "ST_Buffer(ST_Buffer(geom, $1::float8, 'quad_segs=' || $2::int), -$1::float8")

	opening := mergeSQL(merge.Config{Order: merge.OrderOpen})
	assert.Contains(t, opening, "ST_Buffer(ST_Buffer(geom, -$1::float8, 'quad_segs=' || $2::int), $1::float8")

	for _, q := range []string{closing, opening} {
		assert.Contains(t, q, "ST_Union")
		assert.Contains(t, q, "ST_MakePolygon(ST_ExteriorRing(d.geom))")
	}
}

func TestPostGISConfig(t *testing.T) {
	var cfg PostGISConfig
	cfg.ApplyDefaults()
	assert.Equal(t, "public", cfg.Schema)
	assert.Equal(t, "wsd_", cfg.TablePrefix)
	assert.Error(t, cfg.Validate(), "dsn is required")

	cfg.DSN = "postgres://localhost/wsd"
	assert.NoError(t, cfg.Validate())

	cfg.Schema = "Public; DROP"
	assert.Error(t, cfg.Validate())
}

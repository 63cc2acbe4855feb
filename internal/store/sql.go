package store

import (
	"fmt"

	"github.com/fyrsmithlabs/watershed/internal/merge"
)

// createTableSQL drops and recreates a batch table. table must already be
// quoted.
func createTableSQL(table string, srid int) []string {
	return []string{
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table),
		fmt.Sprintf(`CREATE TABLE %s (
	point_id   text PRIMARY KEY,
	provenance text NOT NULL,
	area_ha    double precision NOT NULL,
	attributes jsonb,
	geom       geometry(MultiPolygon, %d) NOT NULL
)`, table, srid),
	}
}

func insertSQL(table string, srid int) string {
	return fmt.Sprintf(`INSERT INTO %s (point_id, provenance, area_ha, attributes, geom)
VALUES ($1, $2, $3, $4, ST_Multi(ST_SetSRID(ST_GeomFromWKB($5), %d)))`, table, srid)
}

const partialsTableSQL = `CREATE TEMP TABLE wsd_partials (
	point_id text NOT NULL,
	geom     geometry NOT NULL
) ON COMMIT DROP`

// mergeSQL dissolves partials per point, applies the two cleanup buffers in
// cfg.Order and rebuilds each part from its exterior ring. $1 is the buffer
// width and $2 the segments per quarter circle.
func mergeSQL(cfg merge.Config) string {
	first, second := "$1::float8", "-$1::float8"
	if cfg.Order == merge.OrderOpen {
		first, second = second, first
	}
	return fmt.Sprintf(`WITH dissolved AS (
	SELECT point_id, ST_Union(ST_MakeValid(geom)) AS geom
	FROM wsd_partials
	GROUP BY point_id
), cleaned AS (
	SELECT point_id,
		ST_Buffer(ST_Buffer(geom, %s, 'quad_segs=' || $2::int), %s, 'quad_segs=' || $2::int) AS geom
	FROM dissolved
)
SELECT c.point_id,
	ST_AsBinary(ST_Multi(ST_Collect(ST_MakePolygon(ST_ExteriorRing(d.geom)))))
FROM cleaned c
CROSS JOIN LATERAL ST_Dump(c.geom) d
WHERE GeometryType(d.geom) = 'POLYGON'
GROUP BY c.point_id`, first, second)
}

package pipeline

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/watershed/internal/crs"
	"github.com/fyrsmithlabs/watershed/internal/hydro"
)

// Lookup errors returned by batch executors.
var (
	ErrBatchNotFound = errors.New("batch not found")
	ErrBatchRunning  = errors.New("batch is still running")
)

// Batch is a set of points delineated together.
type Batch struct {
	// ID identifies the batch. Run assigns one when empty.
	ID     string             `json:"id"`
	Points []hydro.InputPoint `json:"points"`
}

// Validate checks the batch preconditions: at least one point, unique ids and
// a single projected metre-based CRS. It returns that CRS.
func (b Batch) Validate() (string, error) {
	if len(b.Points) == 0 {
		return "", hydro.ErrEmptyBatch
	}

	seen := make(map[string]int, len(b.Points))
	srs := b.Points[0].CRS
	for i, p := range b.Points {
		if p.ID == "" {
			return "", fmt.Errorf("point %d has an empty id", i)
		}
		if prev, ok := seen[p.ID]; ok {
			return "", fmt.Errorf("%w: %q at points %d and %d", hydro.ErrDuplicatePoint, p.ID, prev, i)
		}
		seen[p.ID] = i
		if p.CRS != srs {
			return "", fmt.Errorf("%w: batch mixes %s and %s", hydro.ErrInvalidInputCRS, srs, p.CRS)
		}
	}

	proj, err := crs.RequireProjected(srs)
	if err != nil {
		return "", err
	}
	return crs.Format(proj.Code()), nil
}

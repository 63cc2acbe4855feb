package pipeline

import (
	"time"

	"github.com/fyrsmithlabs/watershed/internal/hydro"
)

// Outcome buckets a point in the final report.
type Outcome string

const (
	OutcomeDirect     Outcome = "direct"
	OutcomeRefined    Outcome = "refined"
	OutcomeSecondary  Outcome = "secondary"
	OutcomeUnresolved Outcome = "unresolved"
	OutcomeFailed     Outcome = "failed"
	// OutcomePending marks points that never ran because the batch was
	// cancelled.
	OutcomePending Outcome = "pending"
)

// Outcomes lists every outcome in report order.
var Outcomes = []Outcome{OutcomeDirect, OutcomeRefined, OutcomeSecondary, OutcomeUnresolved, OutcomeFailed, OutcomePending}

// PointReport is one line of the final report.
type PointReport struct {
	PointID    string                 `json:"point_id"`
	Outcome    Outcome                `json:"outcome"`
	Provenance hydro.Provenance       `json:"provenance,omitempty"`
	AreaHa     float64                `json:"area_ha,omitempty"`
	Reference  *hydro.StreamReference `json:"reference,omitempty"`
	Stage      hydro.Stage            `json:"stage,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Notes      []string               `json:"notes,omitempty"`
}

// Report summarises a batch run.
type Report struct {
	BatchID   string        `json:"batch_id"`
	CRS       string        `json:"crs"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Cancelled bool          `json:"cancelled,omitempty"`
	Workspace string        `json:"workspace,omitempty"`
	Points    []PointReport `json:"points"`

	// Results holds the merged polygons in input order.
	Results []hydro.MergedResult `json:"-"`
}

// Counts returns the number of points per outcome.
func (r *Report) Counts() map[Outcome]int {
	counts := make(map[Outcome]int, len(Outcomes))
	for _, p := range r.Points {
		counts[p.Outcome]++
	}
	return counts
}

// Point returns the report line for id.
func (r *Report) Point(id string) (PointReport, bool) {
	for _, p := range r.Points {
		if p.PointID == id {
			return p, true
		}
	}
	return PointReport{}, false
}

// References returns the stream reference of every located point.
func (r *Report) References() []hydro.StreamReference {
	refs := make([]hydro.StreamReference, 0, len(r.Points))
	for _, p := range r.Points {
		if p.Reference != nil && p.Reference.Jurisdiction != hydro.JurisdictionUnresolved {
			refs = append(refs, *p.Reference)
		}
	}
	return refs
}

func outcomeFor(p hydro.Provenance) Outcome {
	switch p {
	case hydro.ProvenanceDEM:
		return OutcomeRefined
	case hydro.ProvenanceSecondary:
		return OutcomeSecondary
	default:
		return OutcomeDirect
	}
}

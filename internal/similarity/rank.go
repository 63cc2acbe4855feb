package similarity

import (
	"fmt"
	"sort"

	"github.com/fyrsmithlabs/watershed/internal/hydro"
)

// Weights configures the candidate ranking.
type Weights struct {
	Name     float64
	Distance float64
	// CollapseAbove clamps any name score strictly greater than it to 1.0.
	CollapseAbove float64
}

// DefaultWeights returns the stock ranking weights.
func DefaultWeights() Weights {
	return Weights{Name: 0.8, Distance: 0.2, CollapseAbove: 0.3}
}

// Validate checks the weights are usable.
func (w Weights) Validate() error {
	if w.Name < 0 || w.Distance < 0 {
		return fmt.Errorf("ranking weights must be non-negative")
	}
	if w.Name+w.Distance == 0 {
		return fmt.Errorf("ranking weights must not both be zero")
	}
	if w.CollapseAbove < 0 || w.CollapseAbove > 1 {
		return fmt.Errorf("name collapse threshold must be in [0,1], got %v", w.CollapseAbove)
	}
	return nil
}

// Ranker orders nearest-stream candidates.
type Ranker struct {
	weights Weights
}

// NewRanker creates a Ranker.
func NewRanker(w Weights) (*Ranker, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Ranker{weights: w}, nil
}

// Match scores a single candidate against the target name.
func (r *Ranker) Match(c hydro.Candidate, target string, tolerance float64) hydro.CandidateMatch {
	name := Score(c.Name, target)
	if name > r.weights.CollapseAbove {
		name = 1.0
	}
	dist := 0.0
	if tolerance > 0 {
		dist = (tolerance - c.Distance) / tolerance
		if dist < 0 {
			dist = 0
		}
	}
	return hydro.CandidateMatch{
		Candidate:     c,
		NameScore:     name,
		DistanceScore: dist,
		Rank:          r.weights.Name*name + r.weights.Distance*dist,
	}
}

// Rank scores every candidate and returns them best first. Ties on rank are
// broken by smaller distance, then by segment id so the order is stable.
func (r *Ranker) Rank(candidates []hydro.Candidate, target string, tolerance float64) []hydro.CandidateMatch {
	matches := make([]hydro.CandidateMatch, 0, len(candidates))
	for _, c := range candidates {
		matches = append(matches, r.Match(c, target, tolerance))
	}
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Rank != b.Rank {
			return a.Rank > b.Rank
		}
		if a.Candidate.Distance != b.Candidate.Distance {
			return a.Candidate.Distance < b.Candidate.Distance
		}
		return a.Candidate.SegmentID < b.Candidate.SegmentID
	})
	return matches
}

// Closest returns the candidate with the smallest distance, and whether
// another candidate shares that distance. Segment id breaks the tie.
func Closest(candidates []hydro.Candidate) (hydro.Candidate, bool) {
	best := -1
	tied := false
	for i, c := range candidates {
		switch {
		case best < 0:
			best = i
		case c.Distance < candidates[best].Distance:
			best, tied = i, false
		case c.Distance == candidates[best].Distance:
			tied = true
			if c.SegmentID < candidates[best].SegmentID {
				best = i
			}
		}
	}
	if best < 0 {
		return hydro.Candidate{}, false
	}
	return candidates[best], tied
}

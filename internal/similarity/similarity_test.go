package similarity

import (
	"testing"

	"github.com/fyrsmithlabs/watershed/internal/hydro"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "Mission Creek", "Mission Creek", 1.0},
		{"case insensitive", "MISSION CREEK", "mission creek", 1.0},
		{"empty left", "", "Mission Creek", 0},
		{"empty right", "Mission Creek", "", 0},
		{"both empty", "", "", 0},
		{"whitespace only", "   ", "creek", 0},
		{"one letter differs", "abc", "abd", 1.0 / 3.0},
		{"word in phrase", "word", "two words", 4.0 / 11.0},
		{"no overlap", "alpha", "zulu", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Score(tt.a, tt.b), 1e-12)
		})
	}
}

func TestScore_Symmetric(t *testing.T) {
	pairs := [][2]string{
		{"Mission Creek", "Mission Ck"},
		{"Fraser River", "fraser"},
		{"Rivière Rouge", "riviere rouge"},
		{"", "x"},
		{"Salmon River", "Little Salmon River"},
	}
	for _, p := range pairs {
		assert.Equal(t, Score(p[0], p[1]), Score(p[1], p[0]), "%q vs %q", p[0], p[1])
	}
}

func TestTrigrams(t *testing.T) {
	got := Trigrams("Ab c")
	want := []string{"  a", " ab", "ab ", "  c", " c "}
	assert.Len(t, got, len(want))
	for _, w := range want {
		assert.Contains(t, got, w)
	}
}

func TestRanker_Rank(t *testing.T) {
	r, err := NewRanker(DefaultWeights())
	require.NoError(t, err)

	candidates := []hydro.Candidate{
		{SegmentID: "b", Distance: 5, Name: "Other River"},
		{SegmentID: "a", Distance: 10, Name: "Mission Creek"},
	}

	matches := r.Rank(candidates, "Mission Ck", 100)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].Candidate.SegmentID)
	assert.Equal(t, 1.0, matches[0].NameScore, "score above threshold collapses to 1")
	assert.InDelta(t, 0.9, matches[0].DistanceScore, 1e-12)
	assert.InDelta(t, 0.98, matches[0].Rank, 1e-12)
	assert.InDelta(t, 0.19, matches[1].Rank, 1e-12)
}

func TestRanker_TiesBrokenByDistance(t *testing.T) {
	r, err := NewRanker(DefaultWeights())
	require.NoError(t, err)

	// Both names collapse to 1.0; rank differs only through distance, and the
	// equal-distance pair falls back to segment id.
	candidates := []hydro.Candidate{
		{SegmentID: "z", Distance: 40, Name: "Mission Creek"},
		{SegmentID: "y", Distance: 20, Name: "Mission Creek"},
		{SegmentID: "x", Distance: 20, Name: "Mission Creek"},
	}
	matches := r.Rank(candidates, "Mission Creek", 100)
	require.Len(t, matches, 3)
	assert.Equal(t, "x", matches[0].Candidate.SegmentID)
	assert.Equal(t, "y", matches[1].Candidate.SegmentID)
	assert.Equal(t, "z", matches[2].Candidate.SegmentID)
}

func TestRanker_DistanceFloor(t *testing.T) {
	r, err := NewRanker(DefaultWeights())
	require.NoError(t, err)

	m := r.Match(hydro.Candidate{Distance: 250}, "", 100)
	assert.Equal(t, 0.0, m.DistanceScore)
	assert.Equal(t, 0.0, m.Rank)
}

func TestRanker_Deterministic(t *testing.T) {
	r, err := NewRanker(DefaultWeights())
	require.NoError(t, err)

	candidates := []hydro.Candidate{
		{SegmentID: "3", Distance: 30, Name: "Bear Creek"},
		{SegmentID: "1", Distance: 30, Name: "Bear Creek"},
		{SegmentID: "2", Distance: 12, Name: "Beaver Creek"},
	}
	first := r.Rank(candidates, "Bear Ck", 100)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, r.Rank(candidates, "Bear Ck", 100))
	}
}

func TestWeights_Validate(t *testing.T) {
	assert.NoError(t, DefaultWeights().Validate())
	assert.Error(t, Weights{Name: -1, Distance: 1}.Validate())
	assert.Error(t, Weights{}.Validate())
	assert.Error(t, Weights{Name: 1, CollapseAbove: 2}.Validate())
}

func TestClosest(t *testing.T) {
	t.Run("unique", func(t *testing.T) {
		c, tied := Closest([]hydro.Candidate{{SegmentID: "a", Distance: 9}, {SegmentID: "b", Distance: 3}})
		assert.Equal(t, "b", c.SegmentID)
		assert.False(t, tied)
	})

	t.Run("tie picks smallest segment id", func(t *testing.T) {
		c, tied := Closest([]hydro.Candidate{
			{SegmentID: "q", Distance: 3},
			{SegmentID: "p", Distance: 3},
			{SegmentID: "r", Distance: 8},
		})
		assert.Equal(t, "p", c.SegmentID)
		assert.True(t, tied)
	})

	t.Run("closer candidate clears tie", func(t *testing.T) {
		c, tied := Closest([]hydro.Candidate{
			{SegmentID: "q", Distance: 3},
			{SegmentID: "p", Distance: 3},
			{SegmentID: "r", Distance: 1},
		})
		assert.Equal(t, "r", c.SegmentID)
		assert.False(t, tied)
	})

	t.Run("empty", func(t *testing.T) {
		_, tied := Closest(nil)
		assert.False(t, tied)
	})
}

package journal

import "math"

// ScoreWeights parameterizes the deterministic productivity score. The
// weights live in configuration, not call sites, so operators can tune the
// formula without a rebuild.
type ScoreWeights struct {
	// Floor is the baseline every scored period starts from.
	Floor float64 `toml:"floor"`

	// Volume is the per-entry contribution, credited for up to VolumeCap
	// entries. Showing up is worth something even on a rough day.
	Volume    float64 `toml:"volume"`
	VolumeCap int     `toml:"volume_cap"`

	// Accomplishment is the per-accomplishment contribution.
	Accomplishment float64 `toml:"accomplishment"`

	// Blocker is the per-unresolved-blocker deduction.
	Blocker float64 `toml:"blocker"`

	// Learning is the per-learning contribution.
	Learning float64 `toml:"learning"`
}

// DefaultScoreWeights returns the stock weighting.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		Floor:          1,
		Volume:         0.8,
		VolumeCap:      5,
		Accomplishment: 1.2,
		Blocker:        0.5,
		Learning:       1.0,
	}
}

// ProductivityScore computes the 1-10 score for a set of structured facts.
// It is a pure function of entry volume, accomplishment count, unresolved
// blocker count, and learning count — reproducible with no network access,
// which is what lets a fallback artifact carry a real score when narrative
// generation is down.
func ProductivityScore(facts []StructuredFact, w ScoreWeights) float64 {
	if len(facts) == 0 {
		return 0
	}

	var accomplishments, blockers, learnings int
	for _, f := range facts {
		accomplishments += len(f.Accomplishments)
		blockers += len(f.Blockers)
		learnings += len(f.Learnings)
	}

	volume := len(facts)
	if w.VolumeCap > 0 && volume > w.VolumeCap {
		volume = w.VolumeCap
	}

	score := w.Floor +
		w.Volume*float64(volume) +
		w.Accomplishment*float64(accomplishments) -
		w.Blocker*float64(blockers) +
		w.Learning*float64(learnings)

	return math.Min(10, math.Max(1, math.Round(score*10)/10))
}

// Histogram counts facts per category.
func Histogram(facts []StructuredFact) map[Category]int {
	h := make(map[Category]int, len(facts))
	for _, f := range facts {
		h[f.Category]++
	}
	return h
}

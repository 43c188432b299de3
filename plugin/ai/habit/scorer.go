package habit

import (
	"sort"
	"time"

	"github.com/hrygo/meetingagent/plugin/ai/memory"
	"github.com/hrygo/meetingagent/server/service/schedule"
)

// Scorer ranks candidates by a weighted combination of proximity, hour
// preference, day density and soft-conflict freedom. It is pure: the same
// inputs always yield the same ordering.
type Scorer struct {
	weights  memory.Weights
	affinity [24]float64
	snapshot *ContextSnapshot
	location *time.Location
}

// NewScorer creates a scorer over a fixed snapshot and learned state.
func NewScorer(weights memory.Weights, affinity [24]float64, snapshot *ContextSnapshot, loc *time.Location) *Scorer {
	if loc == nil {
		loc = time.UTC
	}
	return &Scorer{
		weights:  weights,
		affinity: affinity,
		snapshot: snapshot,
		location: loc,
	}
}

// Features computes the feature vector of the interval [start, end) relative
// to the reference time.
func (s *Scorer) Features(reference, start, end time.Time, softConflicts int) memory.FeatureVector {
	distance := start.Sub(reference)
	if distance < 0 {
		distance = -distance
	}

	relief := 1.0
	if s.snapshot != nil && s.snapshot.BusinessMinutesPerDay > 0 {
		booked := s.snapshot.BookedMinutes(start) + int(end.Sub(start)/time.Minute)
		relief = 1 - clamp01(float64(booked)/float64(s.snapshot.BusinessMinutesPerDay))
	}

	return memory.FeatureVector{
		Proximity:     1 / (1 + distance.Hours()),
		HourAffinity:  clamp01(s.affinity[start.In(s.location).Hour()]),
		DensityRelief: relief,
		SoftFree:      1 / (1 + float64(softConflicts)),
	}
}

// Score returns scored copies of the candidates, best first. Ties are broken
// by proximity to the reference, then by earliest start.
func (s *Scorer) Score(reference time.Time, candidates []*schedule.Candidate) []*schedule.Candidate {
	scored := make([]*schedule.Candidate, 0, len(candidates))
	for _, c := range candidates {
		copied := *c
		copied.ConflictIDs = append([]int32(nil), c.ConflictIDs...)
		copied.Distance = c.Start.Sub(reference)
		if copied.Distance < 0 {
			copied.Distance = -copied.Distance
		}
		copied.Score = s.weights.Combine(s.Features(reference, c.Start, c.End, c.SoftConflicts))
		scored = append(scored, &copied)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		return a.Start.Before(b.Start)
	})
	return scored
}

package habit

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/meetingagent/plugin/ai/memory"
	"github.com/hrygo/meetingagent/server/service/schedule"
)

func neutralAffinity() [24]float64 {
	var a [24]float64
	for h := range a {
		a[h] = 0.5
	}
	return a
}

func candidate(start time.Time, d time.Duration, soft int) *schedule.Candidate {
	return &schedule.Candidate{Start: start, End: start.Add(d), SoftConflicts: soft, Conflict: soft > 0}
}

func emptySnapshot() *ContextSnapshot {
	return BuildSnapshot(nil, at(0, 0, 0), at(14, 0, 0), DefaultSnapshotConfig())
}

func TestScorer_Features(t *testing.T) {
	s := NewScorer(memory.DefaultWeights(), neutralAffinity(), emptySnapshot(), time.UTC)

	f := s.Features(at(0, 10, 0), at(0, 10, 0), at(0, 11, 0), 0)
	assert.InDelta(t, 1.0, f.Proximity, 1e-9)
	assert.InDelta(t, 0.5, f.HourAffinity, 1e-9)
	assert.InDelta(t, 0.9, f.DensityRelief, 1e-9)
	assert.InDelta(t, 1.0, f.SoftFree, 1e-9)

	far := s.Features(at(0, 10, 0), at(0, 13, 0), at(0, 14, 0), 1)
	assert.InDelta(t, 0.25, far.Proximity, 1e-9)
	assert.InDelta(t, 0.5, far.SoftFree, 1e-9)
}

func TestScorer_DensityPenalizesBusyDays(t *testing.T) {
	busy := BuildSnapshot([]*schedule.MeetingInstance{
		meeting(1, at(0, 8, 0), 9*time.Hour, "Bob"),
	}, at(0, 0, 0), at(14, 0, 0), DefaultSnapshotConfig())
	s := NewScorer(memory.DefaultWeights(), neutralAffinity(), busy, time.UTC)

	ranked := s.Score(at(0, 17, 0), []*schedule.Candidate{
		candidate(at(0, 17, 0), time.Hour, 0),
		candidate(at(1, 8, 0), time.Hour, 0),
	})
	busyDay := s.Features(at(0, 17, 0), at(0, 17, 0), at(0, 18, 0), 0)
	assert.InDelta(t, 0.0, busyDay.DensityRelief, 1e-9)
	assert.Equal(t, at(0, 17, 0), ranked[0].Start, "proximity still dominates a 15h jump")
	for _, c := range ranked {
		assert.GreaterOrEqual(t, c.Score, 0.0)
		assert.LessOrEqual(t, c.Score, 1.0)
	}
}

func TestScorer_TieBreaks(t *testing.T) {
	s := NewScorer(memory.Weights{SoftFree: 1}, neutralAffinity(), emptySnapshot(), time.UTC)

	ranked := s.Score(at(0, 12, 0), []*schedule.Candidate{
		candidate(at(0, 13, 0), 30*time.Minute, 0),
		candidate(at(0, 11, 0), 30*time.Minute, 0),
		candidate(at(0, 12, 30), 30*time.Minute, 0),
	})
	require.Len(t, ranked, 3)
	assert.Equal(t, []time.Time{at(0, 12, 30), at(0, 11, 0), at(0, 13, 0)},
		[]time.Time{ranked[0].Start, ranked[1].Start, ranked[2].Start})
}

func TestScorer_Deterministic(t *testing.T) {
	s := NewScorer(memory.DefaultWeights(), neutralAffinity(), emptySnapshot(), time.UTC)
	ref := at(0, 12, 0)

	var candidates []*schedule.Candidate
	for i := 0; i < 12; i++ {
		candidates = append(candidates, candidate(at(i%3, 8+i%9, 15*(i%4)), 30*time.Minute, i%2))
	}
	want := s.Score(ref, candidates)

	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 10; trial++ {
		shuffled := append([]*schedule.Candidate(nil), candidates...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got := s.Score(ref, shuffled)
		for i := range want {
			assert.Equal(t, want[i].Start, got[i].Start)
			assert.Equal(t, want[i].Score, got[i].Score)
		}
	}
	assert.Zero(t, candidates[0].Score, "inputs are not mutated")
}

func TestScorer_LearnedHourPreference(t *testing.T) {
	mem := memory.NewAgentMemory("alice", memory.DefaultConfig())
	reference := NewScorer(mem.Weights(), mem.HourAffinities(), emptySnapshot(), time.UTC)

	for i := 0; i < 5; i++ {
		start := at(i, 10, 0)
		rec := mem.Append(memory.Record{
			Action:     memory.ActionBooked,
			Confidence: 1,
			Hour:       10,
			Features:   reference.Features(start, start, start.Add(30*time.Minute), 0),
		})
		_, err := mem.ApplyFeedback(rec.ID, 0.9)
		require.NoError(t, err)
	}

	s := NewScorer(mem.Weights(), mem.HourAffinities(), emptySnapshot(), time.UTC)
	morning := s.Score(at(7, 10, 0), []*schedule.Candidate{candidate(at(7, 10, 0), 30*time.Minute, 0)})
	afternoon := s.Score(at(7, 16, 0), []*schedule.Candidate{candidate(at(7, 16, 0), 30*time.Minute, 0)})
	assert.Greater(t, morning[0].Score, afternoon[0].Score)
}

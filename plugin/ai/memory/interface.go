// Package memory keeps the per-identity learning state of the scheduling agent:
// a bounded decision history, the learned feature weights, the hour-of-day
// preference and aggregate counters.
package memory

import (
	"context"
	"errors"
	"math"
	"time"
)

var (
	// ErrLongTermNotConfigured is returned by explicit saves when no persister is configured.
	ErrLongTermNotConfigured = errors.New("long-term memory not configured")
	// ErrRecordNotFound is returned when feedback targets an unknown decision record.
	ErrRecordNotFound = errors.New("decision record not found")
	// ErrInvalidFeedback is returned for feedback scores outside [0, 1].
	ErrInvalidFeedback = errors.New("feedback score must be in [0, 1]")
)

// Persister loads and saves the opaque memory blob of one identity.
// Load returns (nil, nil) when nothing was saved yet.
type Persister interface {
	Load(ctx context.Context, userID string) ([]byte, error)
	Save(ctx context.Context, userID string, blob []byte) error
}

// FeatureVector is the per-candidate scoring input. Every feature is in [0, 1].
type FeatureVector struct {
	Proximity     float64 `json:"proximity"`
	HourAffinity  float64 `json:"hour_affinity"`
	DensityRelief float64 `json:"density_relief"`
	SoftFree      float64 `json:"soft_free"`
}

// Weights is the learned linear weight of each feature.
type Weights FeatureVector

// DefaultWeights favours proximity, then the preferred hour.
func DefaultWeights() Weights {
	return Weights{
		Proximity:     0.4,
		HourAffinity:  0.25,
		DensityRelief: 0.2,
		SoftFree:      0.15,
	}
}

func (f FeatureVector) values() [4]float64 {
	return [4]float64{f.Proximity, f.HourAffinity, f.DensityRelief, f.SoftFree}
}

func (w Weights) values() [4]float64 {
	return FeatureVector(w).values()
}

func weightsFrom(v [4]float64) Weights {
	return Weights{Proximity: v[0], HourAffinity: v[1], DensityRelief: v[2], SoftFree: v[3]}
}

// Combine returns the weighted linear combination of f normalized to [0, 1]:
// the sum is shifted by the magnitude of the negative weights and divided by
// the total magnitude. All-zero weights yield 0.
func (w Weights) Combine(f FeatureVector) float64 {
	wv, fv := w.values(), f.values()
	var sum, negative, total float64
	for i := range wv {
		sum += wv[i] * fv[i]
		total += math.Abs(wv[i])
		if wv[i] < 0 {
			negative -= wv[i]
		}
	}
	if total == 0 {
		return 0
	}
	score := (sum + negative) / total
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Record is one decision cycle outcome kept in the bounded history.
type Record struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Summary    string    `json:"summary"`
	Action     string    `json:"action"`
	Mode       string    `json:"mode"`
	Confidence float64   `json:"confidence"`
	// Hour is the local start hour of the chosen or top interval, -1 when none.
	Hour     int           `json:"hour"`
	Features FeatureVector `json:"features"`
	// Boost multiplies the learning rate when feedback arrives for this record.
	Boost float64 `json:"boost,omitempty"`
	// Feedback is the user's score in [0, 1] once supplied.
	Feedback *float64 `json:"feedback,omitempty"`
}

// Booked reports whether the record is a successful booking.
func (r *Record) Booked() bool {
	return r.Action == ActionBooked
}

// ActionBooked is the record action counted as a success.
const ActionBooked = "BOOKED"

// Stats are the aggregate counters of an identity.
type Stats struct {
	TotalInteractions  int     `json:"total_interactions"`
	SuccessfulBookings int     `json:"successful_bookings"`
	FeedbackCount      int     `json:"feedback_count"`
	FeedbackSum        float64 `json:"feedback_sum"`
}

// Report is the aggregate view returned to front ends.
type Report struct {
	Interactions    int     `json:"interactions"`
	Bookings        int     `json:"bookings"`
	SuccessRate     float64 `json:"success_rate"`
	AverageFeedback float64 `json:"average_feedback"`
	FeedbackCount   int     `json:"feedback_count"`
	HistorySize     int     `json:"history_size"`
	Weights         Weights `json:"weights"`
	// PreferredHour is the hour with the highest learned affinity, -1 before any feedback.
	PreferredHour int    `json:"preferred_hour"`
	Mode          string `json:"mode"`
}

package schedule

import "time"

// Package-level constants for meeting scheduling.

const (
	// MaxInstances is the maximum number of instances one recurring meeting may
	// expand to in a query window. Plain meetings are never capped.
	MaxInstances = 500

	// MaxInstancesToCheck bounds the recurring instances checked for conflicts
	// when a recurring meeting is created.
	MaxInstancesToCheck = 100

	// RecurringCheckWindow is how far ahead recurring instances are checked on create.
	RecurringCheckWindow = 90 * 24 * time.Hour

	// DefaultSlotStep is the granularity of the candidate walk.
	DefaultSlotStep = 15 * time.Minute

	// DefaultSearchHorizon bounds the candidate walk in each direction.
	DefaultSearchHorizon = 14 * 24 * time.Hour

	// DefaultMaxCandidates is the number of valid candidates collected before stopping.
	DefaultMaxCandidates = 5

	// DefaultBusinessStart and DefaultBusinessEnd are offsets from local midnight.
	DefaultBusinessStart = 8 * time.Hour
	DefaultBusinessEnd   = 18 * time.Hour
)

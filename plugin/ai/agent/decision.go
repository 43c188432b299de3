package agent

import (
	"time"

	"github.com/hrygo/meetingagent/server/service/schedule"
	"github.com/hrygo/meetingagent/store"
)

// Action is the outcome of a decision cycle.
type Action string

const (
	ActionBooked    Action = "BOOKED"
	ActionSuggested Action = "SUGGESTED"
	ActionDeferred  Action = "DEFERRED"
	ActionRejected  Action = "REJECTED"
)

// State is one step of the decision cycle.
type State string

const (
	StateReceived            State = "RECEIVED"
	StateConflictChecked     State = "CONFLICT_CHECKED"
	StateNoConflict          State = "NO_CONFLICT"
	StateCandidatesGenerated State = "CANDIDATES_GENERATED"
	StateExhausted           State = "EXHAUSTED"
	StateScored              State = "SCORED"
	StateDecided             State = "DECIDED"
)

// Decision is the result contract consumed by front ends.
type Decision struct {
	// ID identifies the memory record of this decision, used for feedback.
	ID        string `json:"id,omitempty"`
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
	Action    Action `json:"action"`
	Mode      Mode   `json:"mode"`
	// Confidence is the score of the top candidate, 1 on the conflict-free path.
	Confidence float64               `json:"confidence"`
	Candidates []*schedule.Candidate `json:"candidates"`
	// Conflicts are the meetings hard-conflicting with the requested interval.
	Conflicts []int32 `json:"conflicts"`
	// SoftConflicts overlap in time only.
	SoftConflicts []int32 `json:"soft_conflicts,omitempty"`
	// Meeting is the created meeting when BOOKED.
	Meeting              *store.Meeting `json:"meeting,omitempty"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
	Diagnostic           string         `json:"diagnostic,omitempty"`
	// Reference is the normalized preferred start used for the search.
	Reference time.Time `json:"reference"`
	Trace     []State   `json:"trace"`
	// DegradedDurability is set when the learning update could not be flushed.
	DegradedDurability bool      `json:"degraded_durability"`
	DecidedAt          time.Time `json:"decided_at"`
}

func (d *Decision) enter(state State) {
	d.Trace = append(d.Trace, state)
}

// Outcome returns the final state of the trace.
func (d *Decision) Outcome() State {
	return State(d.Action)
}

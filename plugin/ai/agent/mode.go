package agent

import (
	"fmt"
	"strings"

	"github.com/hrygo/meetingagent/server/service/schedule"
)

// Mode is the autonomy mode of an identity.
type Mode string

const (
	// ModeConservative never books without an explicit confirmation.
	ModeConservative Mode = "CONSERVATIVE"
	// ModeBalanced books at high confidence.
	ModeBalanced Mode = "BALANCED"
	// ModeAutonomous books at moderate confidence.
	ModeAutonomous Mode = "AUTONOMOUS"
	// ModeLearning behaves like conservative and learns faster from feedback.
	ModeLearning Mode = "LEARNING"
)

// Modes lists every mode in policy order.
var Modes = []Mode{ModeConservative, ModeBalanced, ModeAutonomous, ModeLearning}

// ParseMode parses a mode name case-insensitively.
func ParseMode(s string) (Mode, error) {
	mode := Mode(strings.ToUpper(strings.TrimSpace(s)))
	for _, m := range Modes {
		if m == mode {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown agent mode %q", s)
}

// ModePolicy is the data governing one mode.
type ModePolicy struct {
	Mode Mode
	// AutoBook allows booking without confirmation at or above Threshold.
	AutoBook  bool
	Threshold float64
	// SuggestionLimit caps suggested candidates below the threshold, 0 means all.
	SuggestionLimit int
	// LearningBoost multiplies the learning rate of this mode's records.
	LearningBoost float64
}

// CanAutoBook reports whether confidence allows booking without confirmation.
func (p ModePolicy) CanAutoBook(confidence float64) bool {
	return p.AutoBook && confidence >= p.Threshold
}

// Suggestions returns the candidates offered when not booking.
func (p ModePolicy) Suggestions(ranked []*schedule.Candidate) []*schedule.Candidate {
	if p.SuggestionLimit > 0 && len(ranked) > p.SuggestionLimit {
		return ranked[:p.SuggestionLimit]
	}
	return ranked
}

// PolicyTable maps each mode to its policy.
type PolicyTable map[Mode]ModePolicy

// NewPolicyTable builds the mode table from the configurable thresholds.
func NewPolicyTable(balanced, autonomous float64, suggestionLimit int, learningBoost float64) PolicyTable {
	if learningBoost < 1 {
		learningBoost = 1
	}
	return PolicyTable{
		ModeConservative: {Mode: ModeConservative, LearningBoost: 1},
		ModeBalanced:     {Mode: ModeBalanced, AutoBook: true, Threshold: balanced, SuggestionLimit: suggestionLimit, LearningBoost: 1},
		ModeAutonomous:   {Mode: ModeAutonomous, AutoBook: true, Threshold: autonomous, SuggestionLimit: suggestionLimit, LearningBoost: 1},
		ModeLearning:     {Mode: ModeLearning, LearningBoost: learningBoost},
	}
}

// DefaultPolicies returns thresholds 0.85 / 0.60, top 3 suggestions and a
// learning boost of 2.
func DefaultPolicies() PolicyTable {
	return NewPolicyTable(0.85, 0.60, 3, 2)
}

// For returns the policy of mode, falling back to conservative.
func (t PolicyTable) For(mode Mode) ModePolicy {
	if p, ok := t[mode]; ok {
		return p
	}
	return t[ModeConservative]
}

package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/meetingagent/server/service/schedule"
)

func TestParseMode(t *testing.T) {
	mode, err := ParseMode(" autonomous ")
	require.NoError(t, err)
	assert.Equal(t, ModeAutonomous, mode)

	_, err = ParseMode("fast")
	assert.Error(t, err)
}

func TestPolicyTable(t *testing.T) {
	table := DefaultPolicies()

	tests := []struct {
		mode       Mode
		confidence float64
		want       bool
	}{
		{ModeConservative, 1.0, false},
		{ModeLearning, 1.0, false},
		{ModeBalanced, 0.85, true},
		{ModeBalanced, 0.84, false},
		{ModeAutonomous, 0.60, true},
		{ModeAutonomous, 0.59, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, table.For(tt.mode).CanAutoBook(tt.confidence), "%s at %.2f", tt.mode, tt.confidence)
	}

	assert.Equal(t, ModeConservative, table.For(Mode("unknown")).Mode)
	assert.Equal(t, 2.0, table.For(ModeLearning).LearningBoost)

	candidates := make([]*schedule.Candidate, 5)
	assert.Len(t, table.For(ModeBalanced).Suggestions(candidates), 3)
	assert.Len(t, table.For(ModeConservative).Suggestions(candidates), 5)
}

func TestSoftConflictPolicy(t *testing.T) {
	in := PolicyInput{SoftConflicts: 2, Confidence: 0.7, Mode: ModeAutonomous, Participants: []string{"Bob", "Carol"}}

	tests := []struct {
		source string
		want   bool
	}{
		{"", false},
		{"informational", false},
		{"BLOCK", true},
		{"soft_conflicts >= 2", true},
		{"confidence > 0.8", false},
		{"'Carol' in participants", true},
		{"mode == 'BALANCED'", false},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			policy, err := NewSoftConflictPolicy(tt.source)
			require.NoError(t, err)
			blocked, err := policy.Blocks(in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, blocked)
		})
	}

	t.Run("no soft conflicts never blocks", func(t *testing.T) {
		policy, err := NewSoftConflictPolicy(SoftPolicyBlock)
		require.NoError(t, err)
		blocked, err := policy.Blocks(PolicyInput{Confidence: 1})
		require.NoError(t, err)
		assert.False(t, blocked)
	})

	t.Run("nil policy", func(t *testing.T) {
		var policy *SoftConflictPolicy
		blocked, err := policy.Blocks(in)
		require.NoError(t, err)
		assert.False(t, blocked)
	})

	t.Run("evaluation error blocks", func(t *testing.T) {
		policy, err := NewSoftConflictPolicy("participants[5] == 'Dave'")
		require.NoError(t, err)
		blocked, err := policy.Blocks(in)
		assert.Error(t, err)
		assert.True(t, blocked)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := NewSoftConflictPolicy("soft_conflicts >")
		assert.Error(t, err)
		_, err = NewSoftConflictPolicy("soft_conflicts + 1")
		assert.ErrorContains(t, err, "must evaluate to bool")
		_, err = NewSoftConflictPolicy("unknown_var > 1")
		assert.Error(t, err)
	})
}

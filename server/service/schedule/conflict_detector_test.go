package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConflictDetector_Detect(t *testing.T) {
	withRoom := instance(2, at(0, 10, 0), time.Hour, "Dana")
	withRoom.Location = "Room 4"
	index := NewCalendarIndex(at(0, 0, 0), at(1, 0, 0), []*MeetingInstance{
		instance(1, at(0, 10, 0), time.Hour, "Bob", "Carol"),
		withRoom,
		instance(3, at(0, 10, 0), time.Hour),
		instance(4, at(0, 12, 0), time.Hour, "Bob"),
	})
	detector := NewConflictDetector(index)

	tests := []struct {
		name         string
		participants []string
		location     string
		hard         []int32
		soft         []int32
	}{
		{"shared participant, case-insensitive", []string{"bob"}, "", []int32{1, 3}, []int32{2}},
		{"same location", []string{"Erin"}, "room 4", []int32{2, 3}, []int32{1}},
		{"disjoint context", []string{"Erin"}, "Room 9", []int32{3}, []int32{1, 2}},
		{"request without context", nil, "", []int32{1, 2, 3}, []int32{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := detector.Detect(at(0, 10, 15), at(0, 10, 45), tt.participants, tt.location)
			assert.ElementsMatch(t, tt.hard, report.HardIDs())
			assert.ElementsMatch(t, tt.soft, report.SoftIDs())
			assert.True(t, report.HasAny())
			assert.Len(t, report.IDs(), 3)
		})
	}
}

func TestConflictDetector_AdjacentIsNotConflict(t *testing.T) {
	index := NewCalendarIndex(at(0, 0, 0), at(1, 0, 0), []*MeetingInstance{
		instance(1, at(0, 10, 0), time.Hour, "Bob"),
	})
	report := NewConflictDetector(index).Detect(at(0, 11, 0), at(0, 11, 30), []string{"Bob"}, "")
	assert.False(t, report.HasAny())
	report = NewConflictDetector(index).Detect(at(0, 9, 30), at(0, 10, 0), []string{"Bob"}, "")
	assert.False(t, report.HasAny())
}

func TestConflictDetector_Exclude(t *testing.T) {
	index := NewCalendarIndex(at(0, 0, 0), at(1, 0, 0), []*MeetingInstance{
		instance(1, at(0, 10, 0), time.Hour, "Bob"),
	})
	report := NewConflictDetector(index).Detect(at(0, 10, 0), at(0, 11, 0), []string{"Bob"}, "", 1)
	assert.False(t, report.HasAny())
}

func TestConflictDetector_Reasons(t *testing.T) {
	index := NewCalendarIndex(at(0, 0, 0), at(1, 0, 0), []*MeetingInstance{
		instance(1, at(0, 10, 0), time.Hour, "Bob"),
	})
	report := NewConflictDetector(index).Detect(at(0, 10, 0), at(0, 11, 0), []string{"BOB"}, "")
	require.Len(t, report.Hard, 1)
	assert.Equal(t, HardConflict, report.Hard[0].Kind)
	assert.Equal(t, "shared participant BOB", report.Hard[0].Reason)
}

package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/meetingagent/store"
)

func recurring(rule string, start time.Time, d time.Duration) *store.Meeting {
	return &store.Meeting{
		ID:             1,
		UID:            "standup",
		Title:          "standup",
		Participants:   []string{"Bob"},
		StartTs:        start.Unix(),
		EndTs:          start.Add(d).Unix(),
		RecurrenceRule: &rule,
	}
}

func instanceStarts(instances []*MeetingInstance) []time.Time {
	out := make([]time.Time, 0, len(instances))
	for _, i := range instances {
		out = append(out, i.Start)
	}
	return out
}

func TestExpandMeeting(t *testing.T) {
	tests := []struct {
		name   string
		rule   string
		until  *time.Time
		window [2]time.Time
		want   []time.Time
	}{
		{
			name:   "weekly",
			rule:   "weekly",
			window: [2]time.Time{at(0, 0, 0), at(21, 0, 0)},
			want:   []time.Time{at(0, 9, 0), at(7, 9, 0), at(14, 9, 0)},
		},
		{
			name:   "biweekly",
			rule:   "biweekly",
			window: [2]time.Time{at(0, 0, 0), at(21, 0, 0)},
			want:   []time.Time{at(0, 9, 0), at(14, 9, 0)},
		},
		{
			name:   "rrule body",
			rule:   "FREQ=WEEKLY;BYDAY=MO,WE",
			window: [2]time.Time{at(0, 0, 0), at(10, 0, 0)},
			want:   []time.Time{at(0, 9, 0), at(2, 9, 0), at(7, 9, 0), at(9, 9, 0)},
		},
		{
			name:   "rrule prefix",
			rule:   "RRULE:FREQ=DAILY;COUNT=2",
			window: [2]time.Time{at(0, 0, 0), at(10, 0, 0)},
			want:   []time.Time{at(0, 9, 0), at(1, 9, 0)},
		},
		{
			name:   "until cuts the series",
			rule:   "weekly",
			until:  timePtr(at(8, 0, 0)),
			window: [2]time.Time{at(0, 0, 0), at(21, 0, 0)},
			want:   []time.Time{at(0, 9, 0), at(7, 9, 0)},
		},
		{
			name:   "occurrence straddling window start",
			rule:   "daily",
			window: [2]time.Time{at(3, 9, 30), at(3, 12, 0)},
			want:   []time.Time{at(3, 9, 0)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := recurring(tt.rule, at(0, 9, 0), time.Hour)
			if tt.until != nil {
				ts := tt.until.Unix()
				m.RecurrenceEndTs = &ts
			}
			instances, err := expandMeeting(m, tt.window[0], tt.window[1], time.UTC, MaxInstances)
			require.NoError(t, err)
			assert.Equal(t, tt.want, instanceStarts(instances))
			for _, i := range instances {
				assert.True(t, i.IsRecurring)
				assert.Equal(t, "standup", i.ParentUID)
				assert.Equal(t, time.Hour, i.Duration())
			}
		})
	}
}

func TestExpandMeeting_Limit(t *testing.T) {
	m := recurring("daily", at(0, 9, 0), time.Hour)
	_, err := expandMeeting(m, at(0, 0, 0), at(60, 0, 0), time.UTC, 5)
	assert.ErrorIs(t, err, ErrExpansionLimit)

	instances, err := expandMeeting(m, at(0, 0, 0), at(5, 0, 0), time.UTC, 5)
	require.NoError(t, err)
	assert.Len(t, instances, 5)
}

func TestExpandMeeting_SingleMeeting(t *testing.T) {
	m := &store.Meeting{ID: 2, Title: "one-off", StartTs: at(0, 9, 0).Unix(), EndTs: at(0, 10, 0).Unix()}

	inside, err := expandMeeting(m, at(0, 0, 0), at(1, 0, 0), time.UTC, MaxInstances)
	require.NoError(t, err)
	require.Len(t, inside, 1)
	assert.False(t, inside[0].IsRecurring)

	outside, err := expandMeeting(m, at(0, 10, 0), at(1, 0, 0), time.UTC, MaxInstances)
	require.NoError(t, err)
	assert.Empty(t, outside)
}

func TestValidateRecurrence(t *testing.T) {
	assert.NoError(t, ValidateRecurrence(""))
	assert.NoError(t, ValidateRecurrence("Weekly"))
	assert.NoError(t, ValidateRecurrence("FREQ=MONTHLY;BYMONTHDAY=1"))
	assert.Error(t, ValidateRecurrence("every other blue moon"))
	assert.Error(t, ValidateRecurrence("FREQ=SOMETIMES"))
}

func timePtr(t time.Time) *time.Time {
	return &t
}

package schedule

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// CalendarIndex is an in-memory view over the confirmed meetings of one
// lookup window. It is built fresh for every decision cycle and never shared
// across cycles.
type CalendarIndex struct {
	start    time.Time
	end      time.Time
	meetings []*MeetingInstance
	// longest instance, bounds the backward scan in Overlapping
	maxDuration time.Duration
}

// NewCalendarIndex builds an index over [start, end). Instances outside the
// window are dropped.
func NewCalendarIndex(start, end time.Time, instances []*MeetingInstance) *CalendarIndex {
	meetings := make([]*MeetingInstance, 0, len(instances))
	var maxDuration time.Duration
	for _, m := range instances {
		if m == nil || !m.Overlaps(start, end) {
			continue
		}
		meetings = append(meetings, m)
		if d := m.Duration(); d > maxDuration {
			maxDuration = d
		}
	}
	sortInstances(meetings)

	return &CalendarIndex{
		start:       start,
		end:         end,
		meetings:    meetings,
		maxDuration: maxDuration,
	}
}

// LoadCalendarIndex queries the calendar store for [start, end) and indexes the result.
func LoadCalendarIndex(ctx context.Context, svc Service, userID string, start, end time.Time) (*CalendarIndex, error) {
	instances, err := svc.FindMeetings(ctx, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load calendar index: %w", err)
	}
	return NewCalendarIndex(start, end, instances), nil
}

// Window returns the indexed window.
func (i *CalendarIndex) Window() (time.Time, time.Time) {
	return i.start, i.end
}

// Covers reports whether [start, end) lies inside the indexed window.
func (i *CalendarIndex) Covers(start, end time.Time) bool {
	return !start.Before(i.start) && !end.After(i.end)
}

// Len returns the number of indexed instances.
func (i *CalendarIndex) Len() int {
	return len(i.meetings)
}

// Meetings returns the indexed instances ordered by start.
func (i *CalendarIndex) Meetings() []*MeetingInstance {
	out := make([]*MeetingInstance, len(i.meetings))
	copy(out, i.meetings)
	return out
}

// Overlapping returns the instances intersecting [start, end), ordered by start.
func (i *CalendarIndex) Overlapping(start, end time.Time) []*MeetingInstance {
	if !start.Before(end) {
		return nil
	}
	// An instance starting at or before start-maxDuration ends at or before start.
	lo := sort.Search(len(i.meetings), func(k int) bool {
		return i.meetings[k].Start.After(start.Add(-i.maxDuration))
	})
	hi := sort.Search(len(i.meetings), func(k int) bool {
		return !i.meetings[k].Start.Before(end)
	})

	var out []*MeetingInstance
	for k := lo; k < hi; k++ {
		if i.meetings[k].End.After(start) {
			out = append(out, i.meetings[k])
		}
	}
	return out
}

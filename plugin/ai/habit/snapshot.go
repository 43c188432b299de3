// Package habit derives calendar context (density, stress, preferred hour)
// and ranks candidate slots against it using the learned memory.
package habit

import (
	"sort"
	"time"

	"github.com/hrygo/meetingagent/server/service/schedule"
)

const dayKeyLayout = "2006-01-02"

// SnapshotConfig describes which minutes count as bookable.
type SnapshotConfig struct {
	BusinessHours   schedule.BusinessHours
	IncludeWeekends bool
	Location        *time.Location
}

// DefaultSnapshotConfig returns 08:00-18:00 weekdays in UTC.
func DefaultSnapshotConfig() SnapshotConfig {
	return SnapshotConfig{
		BusinessHours: schedule.BusinessHours{Start: schedule.DefaultBusinessStart, End: schedule.DefaultBusinessEnd},
		Location:      time.UTC,
	}
}

// ContextSnapshot is a read-only summary of a calendar window.
type ContextSnapshot struct {
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`

	MeetingCount int           `json:"meeting_count"`
	AverageGap   time.Duration `json:"average_gap"`
	// DensityRatio is booked business minutes over business minutes in the window.
	DensityRatio float64 `json:"density_ratio"`
	// MostFrequentHour is the most common local start hour, -1 for an empty window.
	MostFrequentHour int `json:"most_frequent_hour"`
	// ConflictFrequency is the share of meetings overlapping another meeting.
	ConflictFrequency float64 `json:"conflict_frequency"`
	// Stress is 0.7·density + 0.3·conflict frequency, in [0, 1].
	Stress float64 `json:"stress"`

	// MostAvailableWeekday is the bookable weekday with the lowest average load.
	MostAvailableWeekday time.Weekday `json:"most_available_weekday"`
	HasAvailableWeekday  bool         `json:"-"`

	BusinessMinutesPerDay int            `json:"business_minutes_per_day"`
	DailyBookedMinutes    map[string]int `json:"daily_booked_minutes"`

	location *time.Location
}

// BookedMinutes returns the booked business minutes of the local day of t.
func (s *ContextSnapshot) BookedMinutes(t time.Time) int {
	if s == nil {
		return 0
	}
	return s.DailyBookedMinutes[t.In(s.loc()).Format(dayKeyLayout)]
}

func (s *ContextSnapshot) loc() *time.Location {
	if s.location == nil {
		return time.UTC
	}
	return s.location
}

// BuildSnapshotFromIndex summarizes the whole window of an index.
func BuildSnapshotFromIndex(index *schedule.CalendarIndex, config SnapshotConfig) *ContextSnapshot {
	start, end := index.Window()
	return BuildSnapshot(index.Meetings(), start, end, config)
}

// BuildSnapshot summarizes meetings over [start, end).
func BuildSnapshot(meetings []*schedule.MeetingInstance, start, end time.Time, config SnapshotConfig) *ContextSnapshot {
	loc := config.Location
	if loc == nil {
		loc = time.UTC
	}
	hours := config.BusinessHours
	if hours.End <= hours.Start {
		hours = DefaultSnapshotConfig().BusinessHours
	}

	sorted := make([]*schedule.MeetingInstance, 0, len(meetings))
	for _, m := range meetings {
		if m.Overlaps(start, end) {
			sorted = append(sorted, m)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	snapshot := &ContextSnapshot{
		WindowStart:           start,
		WindowEnd:             end,
		MeetingCount:          len(sorted),
		MostFrequentHour:      -1,
		BusinessMinutesPerDay: int((hours.End - hours.Start) / time.Minute),
		DailyBookedMinutes:    make(map[string]int),
		location:              loc,
	}

	// Gaps and overlaps over the start-ordered sweep.
	var gapTotal time.Duration
	gaps, overlapping := 0, 0
	var maxEnd time.Time
	hourCounts := make(map[int]int)
	for i, m := range sorted {
		if i > 0 {
			if gap := m.Start.Sub(maxEnd); gap > 0 {
				gapTotal += gap
				gaps++
			}
		}
		overlapsPrev := i > 0 && maxEnd.After(m.Start)
		overlapsNext := i+1 < len(sorted) && sorted[i+1].Start.Before(m.End)
		if overlapsPrev || overlapsNext {
			overlapping++
		}
		if m.End.After(maxEnd) {
			maxEnd = m.End
		}
		hourCounts[m.Start.In(loc).Hour()]++
	}
	if gaps > 0 {
		snapshot.AverageGap = gapTotal / time.Duration(gaps)
	}
	if len(sorted) > 0 {
		snapshot.ConflictFrequency = float64(overlapping) / float64(len(sorted))
	}
	best := 0
	for hour := 0; hour < 24; hour++ {
		if hourCounts[hour] > best {
			best = hourCounts[hour]
			snapshot.MostFrequentHour = hour
		}
	}

	// Per-day booked business minutes, merging overlaps so a day never exceeds 100%.
	var bookedTotal, businessTotal int
	weekdayBooked := make(map[time.Weekday]int)
	weekdayDays := make(map[time.Weekday]int)
	y, mo, d := start.In(loc).Date()
	for day := time.Date(y, mo, d, 0, 0, 0, 0, loc); day.Before(end); day = day.AddDate(0, 0, 1) {
		weekday := day.Weekday()
		if !config.IncludeWeekends && (weekday == time.Saturday || weekday == time.Sunday) {
			continue
		}
		open, closing := clip(day.Add(hours.Start), day.Add(hours.End), start, end)
		if !open.Before(closing) {
			continue
		}
		booked := bookedMinutes(sorted, open, closing)
		snapshot.DailyBookedMinutes[day.Format(dayKeyLayout)] = booked
		bookedTotal += booked
		businessTotal += int(closing.Sub(open) / time.Minute)
		weekdayBooked[weekday] += booked
		weekdayDays[weekday]++
	}
	if businessTotal > 0 {
		snapshot.DensityRatio = float64(bookedTotal) / float64(businessTotal)
	}
	snapshot.Stress = clamp01(0.7*snapshot.DensityRatio + 0.3*snapshot.ConflictFrequency)

	lowest := -1.0
	for weekday := time.Sunday; weekday <= time.Saturday; weekday++ {
		if weekdayDays[weekday] == 0 {
			continue
		}
		avg := float64(weekdayBooked[weekday]) / float64(weekdayDays[weekday])
		if lowest < 0 || avg < lowest {
			lowest = avg
			snapshot.MostAvailableWeekday = weekday
			snapshot.HasAvailableWeekday = true
		}
	}
	return snapshot
}

// bookedMinutes returns the minutes of [open, closing) covered by meetings.
func bookedMinutes(sorted []*schedule.MeetingInstance, open, closing time.Time) int {
	var total time.Duration
	var cursor time.Time
	for _, m := range sorted {
		if !m.Overlaps(open, closing) {
			continue
		}
		s, e := clip(m.Start, m.End, open, closing)
		if s.Before(cursor) {
			s = cursor
		}
		if e.After(s) {
			total += e.Sub(s)
			cursor = e
		}
	}
	return int(total / time.Minute)
}

func clip(s, e, lo, hi time.Time) (time.Time, time.Time) {
	if s.Before(lo) {
		s = lo
	}
	if e.After(hi) {
		e = hi
	}
	return s, e
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

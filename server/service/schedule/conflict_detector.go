package schedule

import (
	"strings"
	"time"
)

// ConflictKind classifies an overlap.
type ConflictKind string

const (
	// HardConflict is a time overlap with a shared participant or location.
	// It blocks booking.
	HardConflict ConflictKind = "HARD"
	// SoftConflict is a time overlap with disjoint participants and location.
	// It is informational.
	SoftConflict ConflictKind = "SOFT"
)

// Conflict is one overlapping meeting and why it conflicts.
type Conflict struct {
	Meeting *MeetingInstance
	Kind    ConflictKind
	Reason  string
}

// ConflictReport splits the overlaps of one interval by kind.
type ConflictReport struct {
	Hard []Conflict
	Soft []Conflict
}

// HasHard reports whether any overlap blocks booking.
func (r *ConflictReport) HasHard() bool {
	return len(r.Hard) > 0
}

// HasAny reports whether the interval overlaps any confirmed meeting.
func (r *ConflictReport) HasAny() bool {
	return len(r.Hard) > 0 || len(r.Soft) > 0
}

// HardIDs returns the meeting ids of hard conflicts.
func (r *ConflictReport) HardIDs() []int32 {
	return conflictIDs(r.Hard)
}

// SoftIDs returns the meeting ids of soft conflicts.
func (r *ConflictReport) SoftIDs() []int32 {
	return conflictIDs(r.Soft)
}

// IDs returns the ids of every overlapping meeting, hard first.
func (r *ConflictReport) IDs() []int32 {
	return conflictIDs(append(append([]Conflict{}, r.Hard...), r.Soft...))
}

func conflictIDs(conflicts []Conflict) []int32 {
	seen := make(map[int32]bool, len(conflicts))
	ids := make([]int32, 0, len(conflicts))
	for _, c := range conflicts {
		if seen[c.Meeting.ID] {
			continue
		}
		seen[c.Meeting.ID] = true
		ids = append(ids, c.Meeting.ID)
	}
	return ids
}

// ConflictDetector checks intervals against a calendar index. It is the only
// component that decides whether an interval may be booked.
type ConflictDetector struct {
	index *CalendarIndex
}

// NewConflictDetector creates a detector over index.
func NewConflictDetector(index *CalendarIndex) *ConflictDetector {
	return &ConflictDetector{index: index}
}

// Index returns the underlying calendar index.
func (d *ConflictDetector) Index() *CalendarIndex {
	return d.index
}

// Detect classifies every indexed meeting overlapping [start, end).
// Meetings whose id is listed in exclude are ignored.
func (d *ConflictDetector) Detect(start, end time.Time, participants []string, location string, exclude ...int32) *ConflictReport {
	report := &ConflictReport{}
	request := newAttendance(participants, location)

	for _, m := range d.index.Overlapping(start, end) {
		if containsID(exclude, m.ID) {
			continue
		}
		existing := newAttendance(m.Participants, m.Location)
		if shared, reason := request.shares(existing); shared {
			report.Hard = append(report.Hard, Conflict{Meeting: m, Kind: HardConflict, Reason: reason})
			continue
		}
		report.Soft = append(report.Soft, Conflict{Meeting: m, Kind: SoftConflict, Reason: "time overlap only"})
	}
	return report
}

// attendance is the normalized participant/location context of a meeting.
type attendance struct {
	participants map[string]string
	location     string
}

func newAttendance(participants []string, location string) attendance {
	a := attendance{
		participants: make(map[string]string, len(participants)),
		location:     strings.ToLower(strings.TrimSpace(location)),
	}
	for _, p := range participants {
		if name := strings.TrimSpace(p); name != "" {
			a.participants[strings.ToLower(name)] = name
		}
	}
	return a
}

func (a attendance) unknown() bool {
	return len(a.participants) == 0 && a.location == ""
}

// shares reports whether two contexts overlap. A side without any
// participant or location is attended by the calendar owner alone, so it
// shares context with everything.
func (a attendance) shares(other attendance) (bool, string) {
	if a.unknown() || other.unknown() {
		return true, "calendar owner attends both"
	}
	for key, name := range a.participants {
		if _, ok := other.participants[key]; ok {
			return true, "shared participant " + name
		}
	}
	if a.location != "" && a.location == other.location {
		return true, "same location " + a.location
	}
	return false, ""
}

func containsID(ids []int32, id int32) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

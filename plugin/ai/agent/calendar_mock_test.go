package agent

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hrygo/meetingagent/server/service/schedule"
	"github.com/hrygo/meetingagent/store"
)

// mockCalendar is an in-memory schedule.Service with failure injection.
type mockCalendar struct {
	mu       sync.Mutex
	meetings []*store.Meeting
	nextID   int32

	findErr   error
	createErr error
	// blockFind makes FindMeetings wait for its context.
	blockFind bool

	findCalls   int
	createCalls int
}

func newMockCalendar() *mockCalendar {
	return &mockCalendar{nextID: 1}
}

func (c *mockCalendar) add(title string, start time.Time, minutes int, location string, participants ...string) int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.meetings = append(c.meetings, &store.Meeting{
		ID:           id,
		CreatorID:    "alice",
		RowStatus:    store.Normal,
		Title:        title,
		Location:     location,
		Participants: participants,
		StartTs:      start.Unix(),
		EndTs:        start.Add(time.Duration(minutes) * time.Minute).Unix(),
	})
	return id
}

func (c *mockCalendar) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.meetings {
		if m.RowStatus == store.Normal {
			n++
		}
	}
	return n
}

func (c *mockCalendar) FindMeetings(ctx context.Context, userID string, start, end time.Time) ([]*schedule.MeetingInstance, error) {
	c.mu.Lock()
	c.findCalls++
	block, findErr := c.blockFind, c.findErr
	c.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if findErr != nil {
		return nil, findErr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var instances []*schedule.MeetingInstance
	for _, m := range c.meetings {
		if m.CreatorID != userID || m.RowStatus != store.Normal {
			continue
		}
		instance := &schedule.MeetingInstance{
			ID:           m.ID,
			UID:          m.UID,
			Title:        m.Title,
			Location:     m.Location,
			Participants: m.Participants,
			Start:        m.StartTime().UTC(),
			End:          m.EndTime().UTC(),
		}
		if instance.Overlaps(start, end) {
			instances = append(instances, instance)
		}
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].Start.Before(instances[j].Start) })
	return instances, nil
}

func (c *mockCalendar) GetMeeting(_ context.Context, userID string, id int32) (*store.Meeting, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.meetings {
		if m.ID == id && m.CreatorID == userID {
			return m, nil
		}
	}
	return nil, schedule.ErrMeetingNotFound
}

func (c *mockCalendar) CreateMeeting(ctx context.Context, userID string, create *schedule.CreateMeetingRequest) (*store.Meeting, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createCalls++
	if c.createErr != nil {
		return nil, c.createErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	meeting := &store.Meeting{
		ID:           c.nextID,
		CreatorID:    userID,
		RowStatus:    store.Normal,
		Title:        create.Title,
		Location:     create.Location,
		Participants: create.Participants,
		StartTs:      create.Start.Unix(),
		EndTs:        create.End.Unix(),
		SourceText:   create.SourceText,
	}
	c.nextID++
	c.meetings = append(c.meetings, meeting)
	return meeting, nil
}

func (c *mockCalendar) CancelMeeting(_ context.Context, userID string, id int32) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.meetings {
		if m.ID == id && m.CreatorID == userID && m.RowStatus == store.Normal {
			m.RowStatus = store.Archived
			return true, nil
		}
	}
	return false, nil
}

func (c *mockCalendar) RescheduleMeeting(_ context.Context, userID string, id int32, newStart time.Time) (*schedule.RescheduleResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.meetings {
		if m.ID == id && m.CreatorID == userID {
			oldStart, oldEnd := m.StartTime(), m.EndTime()
			duration := m.Duration()
			m.StartTs = newStart.Unix()
			m.EndTs = newStart.Add(duration).Unix()
			return &schedule.RescheduleResult{
				Meeting:  m,
				OldStart: oldStart,
				OldEnd:   oldEnd,
				Notice:   "moved " + strings.TrimSpace(m.Title),
			}, nil
		}
	}
	return nil, schedule.ErrMeetingNotFound
}

var _ schedule.Service = (*mockCalendar)(nil)

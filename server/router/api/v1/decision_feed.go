package v1

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/feeds"
	"github.com/labstack/echo/v4"

	"github.com/hrygo/meetingagent/plugin/ai/agent"
)

const defaultFeedSize = 50

// FeedEntry is one decision kept for the feed.
type FeedEntry struct {
	Title    string
	Decision *agent.Decision
}

// DecisionFeed keeps the most recent decisions of every identity.
type DecisionFeed struct {
	mu      sync.RWMutex
	size    int
	entries map[string][]FeedEntry
}

// NewDecisionFeed creates a feed keeping size entries per identity.
func NewDecisionFeed(size int) *DecisionFeed {
	if size <= 0 {
		size = defaultFeedSize
	}
	return &DecisionFeed{size: size, entries: make(map[string][]FeedEntry)}
}

// Add records a decision, evicting the oldest entry over capacity.
func (f *DecisionFeed) Add(title string, d *agent.Decision) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := append(f.entries[d.UserID], FeedEntry{Title: title, Decision: d})
	if len(list) > f.size {
		list = list[len(list)-f.size:]
	}
	f.entries[d.UserID] = list
}

// Recent returns the entries of userID, newest first.
func (f *DecisionFeed) Recent(userID string) []FeedEntry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	list := f.entries[userID]
	out := make([]FeedEntry, len(list))
	for i, entry := range list {
		out[len(list)-1-i] = entry
	}
	return out
}

// Atom renders the entries of userID as an Atom feed.
func (f *DecisionFeed) Atom(userID, baseURL string, now time.Time) (string, error) {
	self := baseURL + "/api/v1/decisions/feed.atom"
	feed := &feeds.Feed{
		Title:       "Scheduling decisions of " + userID,
		Link:        &feeds.Link{Href: self},
		Description: "Recent decisions taken by the scheduling agent",
		Author:      &feeds.Author{Name: "meetingagent"},
		Created:     now,
	}
	for _, entry := range f.Recent(userID) {
		d := entry.Decision
		feed.Items = append(feed.Items, &feeds.Item{
			Id:          d.RequestID,
			Title:       fmt.Sprintf("%s: %s", d.Action, entry.Title),
			Link:        &feeds.Link{Href: self + "#" + d.RequestID},
			Description: feedDescription(d),
			Created:     d.DecidedAt,
		})
	}
	return feed.ToAtom()
}

func feedDescription(d *agent.Decision) string {
	desc := fmt.Sprintf("mode=%s confidence=%.2f candidates=%d", d.Mode, d.Confidence, len(d.Candidates))
	if d.Meeting != nil {
		desc += fmt.Sprintf(" booked=%s", d.Meeting.StartTime().Format(time.RFC3339))
	}
	if d.Diagnostic != "" {
		desc += " " + d.Diagnostic
	}
	return desc
}

// GetDecisionFeed serves the recent decisions of the caller as Atom.
// GET /api/v1/decisions/feed.atom
func (s *APIV1Service) GetDecisionFeed(c echo.Context) error {
	_, cancel, userID, err := s.begin(c)
	if err != nil {
		return s.respondError(c, err, nil)
	}
	defer cancel()

	baseURL := c.Scheme() + "://" + c.Request().Host
	atom, err := s.feed.Atom(userID, baseURL, time.Now())
	if err != nil {
		return s.respondError(c, err, nil)
	}
	return c.Blob(http.StatusOK, "application/atom+xml; charset=utf-8", []byte(atom))
}

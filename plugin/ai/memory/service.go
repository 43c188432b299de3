package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// IdentityLister is implemented by persisters that can enumerate identities.
type IdentityLister interface {
	ListIdentities(ctx context.Context) ([]string, error)
}

// Service owns the per-identity memories: loaded on first use, flushed after
// every mutation. Identities never share state.
type Service struct {
	persister    Persister
	config       Config
	flushTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*session

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type session struct {
	memory     *AgentMemory
	lastAccess time.Time
	// degraded is set while the latest mutation is not durable.
	degraded bool
}

// NewService creates a memory service.
// persister may be nil, in which case memory lives only for the process lifetime.
func NewService(persister Persister, config Config, flushTimeout time.Duration) *Service {
	if flushTimeout <= 0 {
		flushTimeout = 3 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	svc := &Service{
		persister:    persister,
		config:       config.withDefaults(),
		flushTimeout: flushTimeout,
		sessions:     make(map[string]*session),
		ctx:          ctx,
		cancel:       cancel,
	}
	if persister == nil {
		slog.Warn("memory service initialized without a persister (learning is not durable)")
	}
	svc.wg.Add(1)
	go svc.cleanupLoop()
	return svc
}

// Close stops the cleanup goroutine.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// HasLongTermMemory returns true if a persister is configured.
func (s *Service) HasLongTermMemory() bool {
	return s.persister != nil
}

// Session returns the memory of userID, loading it on first use.
func (s *Service) Session(ctx context.Context, userID string) (*AgentMemory, error) {
	s.mu.Lock()
	if sess, ok := s.sessions[userID]; ok {
		sess.lastAccess = time.Now()
		s.mu.Unlock()
		return sess.memory, nil
	}
	s.mu.Unlock()

	loaded, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another caller may have loaded it meanwhile.
	if sess, ok := s.sessions[userID]; ok {
		sess.lastAccess = time.Now()
		return sess.memory, nil
	}
	s.sessions[userID] = &session{memory: loaded, lastAccess: time.Now()}
	return loaded, nil
}

func (s *Service) load(ctx context.Context, userID string) (*AgentMemory, error) {
	if s.persister == nil {
		return NewAgentMemory(userID, s.config), nil
	}

	loadCtx, cancel := context.WithTimeout(ctx, s.flushTimeout)
	defer cancel()
	blob, err := s.persister.Load(loadCtx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load agent memory of %s: %w", userID, err)
	}

	m, err := DecodeAgentMemory(userID, s.config, blob)
	if err != nil {
		slog.Warn("failed to parse agent memory, starting fresh",
			"user_id", userID,
			"error", err,
		)
		return NewAgentMemory(userID, s.config), nil
	}
	return m, nil
}

// Mutate applies fn to the memory of userID and flushes the result before
// returning. A failed flush keeps the in-memory state and reports degraded
// durability instead of an error. An error from fn skips the flush.
func (s *Service) Mutate(ctx context.Context, userID string, fn func(*AgentMemory) error) (degraded bool, err error) {
	m, err := s.Session(ctx, userID)
	if err != nil {
		return false, err
	}
	if err := fn(m); err != nil {
		return false, err
	}

	if err := s.flush(ctx, m); err != nil {
		slog.Warn("agent memory flush failed, continuing with in-memory state",
			"user_id", userID,
			"error", err,
		)
		s.setDegraded(userID, true)
		return true, nil
	}
	s.setDegraded(userID, false)
	return false, nil
}

// Save flushes the memory of userID explicitly.
func (s *Service) Save(ctx context.Context, userID string) error {
	if s.persister == nil {
		return ErrLongTermNotConfigured
	}
	m, err := s.Session(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.flush(ctx, m); err != nil {
		s.setDegraded(userID, true)
		return err
	}
	s.setDegraded(userID, false)
	return nil
}

func (s *Service) flush(ctx context.Context, m *AgentMemory) error {
	if s.persister == nil {
		return nil
	}
	blob, err := m.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode agent memory: %w", err)
	}

	flushCtx, cancel := context.WithTimeout(ctx, s.flushTimeout)
	defer cancel()
	if err := s.persister.Save(flushCtx, m.UserID(), blob); err != nil {
		return fmt.Errorf("failed to save agent memory of %s: %w", m.UserID(), err)
	}
	return nil
}

func (s *Service) setDegraded(userID string, degraded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[userID]; ok {
		sess.degraded = degraded
	}
}

// Degraded reports whether the latest mutation of userID failed to flush.
func (s *Service) Degraded(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	return ok && sess.degraded
}

// Identities returns every known identity: loaded sessions plus persisted ones.
func (s *Service) Identities(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	s.mu.Lock()
	for id := range s.sessions {
		seen[id] = true
	}
	s.mu.Unlock()

	if lister, ok := s.persister.(IdentityLister); ok {
		persisted, err := lister.ListIdentities(ctx)
		if err != nil {
			return nil, err
		}
		for _, id := range persisted {
			seen[id] = true
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ActiveSessionCount returns the number of loaded identities.
func (s *Service) ActiveSessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// cleanupLoop periodically unloads durable sessions idle for over an hour.
// Stops when the service is closed.
func (s *Service) cleanupLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.evictIdle(time.Now(), time.Hour)
		}
	}
}

func (s *Service) evictIdle(now time.Time, idle time.Duration) int {
	if s.persister == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for userID, sess := range s.sessions {
		if !sess.degraded && now.Sub(sess.lastAccess) > idle {
			delete(s.sessions, userID)
			evicted++
		}
	}
	return evicted
}

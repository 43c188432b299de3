package memory

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hrygo/meetingagent/internal/util"
)

const payloadVersion = 1

// neutralAffinity is the hour preference before any feedback.
const neutralAffinity = 0.5

// Config holds the learning knobs.
type Config struct {
	// HistoryLimit bounds the decision history, oldest evicted first.
	HistoryLimit int
	// LearningRate is the EMA step α.
	LearningRate float64
	// WeightClamp bounds every weight component to [-WeightClamp, WeightClamp].
	WeightClamp float64
}

// DefaultConfig returns N=100, α=0.1 and a [-1, 1] clamp.
func DefaultConfig() Config {
	return Config{
		HistoryLimit: 100,
		LearningRate: 0.1,
		WeightClamp:  1,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = def.HistoryLimit
	}
	if c.LearningRate <= 0 {
		c.LearningRate = def.LearningRate
	}
	if c.WeightClamp <= 0 {
		c.WeightClamp = def.WeightClamp
	}
	return c
}

// AgentMemory is the learning state of one identity.
// Thread-safe for concurrent access.
type AgentMemory struct {
	mu     sync.RWMutex
	userID string
	config Config

	mode         string
	weights      Weights
	hourAffinity [24]float64
	hourSamples  [24]int
	history      []Record
	stats        Stats
}

type payload struct {
	Version      int         `json:"version"`
	Mode         string      `json:"mode,omitempty"`
	Weights      Weights     `json:"weights"`
	HourAffinity [24]float64 `json:"hour_affinity"`
	HourSamples  [24]int     `json:"hour_samples"`
	History      []Record    `json:"history"`
	Stats        Stats       `json:"stats"`
}

// NewAgentMemory creates an empty memory with default weights.
func NewAgentMemory(userID string, config Config) *AgentMemory {
	m := &AgentMemory{
		userID:  userID,
		config:  config.withDefaults(),
		weights: DefaultWeights(),
		history: make([]Record, 0),
	}
	for h := range m.hourAffinity {
		m.hourAffinity[h] = neutralAffinity
	}
	return m
}

// DecodeAgentMemory restores a memory from its persisted blob.
func DecodeAgentMemory(userID string, config Config, blob []byte) (*AgentMemory, error) {
	m := NewAgentMemory(userID, config)
	if len(blob) == 0 {
		return m, nil
	}

	var p payload
	if err := json.Unmarshal(blob, &p); err != nil {
		return nil, fmt.Errorf("failed to decode agent memory of %s: %w", userID, err)
	}
	if p.Version != payloadVersion {
		return nil, fmt.Errorf("unsupported agent memory version %d for %s", p.Version, userID)
	}

	m.mode = p.Mode
	m.weights = m.clampWeights(p.Weights)
	m.hourAffinity = p.HourAffinity
	m.hourSamples = p.HourSamples
	m.stats = p.Stats
	if p.History != nil {
		m.history = p.History
	}
	if over := len(m.history) - m.config.HistoryLimit; over > 0 {
		m.history = m.history[over:]
	}
	return m, nil
}

// Encode returns the persisted blob.
func (m *AgentMemory) Encode() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return json.Marshal(payload{
		Version:      payloadVersion,
		Mode:         m.mode,
		Weights:      m.weights,
		HourAffinity: m.hourAffinity,
		HourSamples:  m.hourSamples,
		History:      m.history,
		Stats:        m.stats,
	})
}

// UserID returns the owning identity.
func (m *AgentMemory) UserID() string {
	return m.userID
}

// Mode returns the persisted autonomy mode, empty when never set.
func (m *AgentMemory) Mode() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// SetMode stores the autonomy mode.
func (m *AgentMemory) SetMode(mode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = mode
}

// Weights returns the current weight vector.
func (m *AgentMemory) Weights() Weights {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.weights
}

// HourAffinities returns the learned preference of every hour of the day.
func (m *AgentMemory) HourAffinities() [24]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hourAffinity
}

// History returns a copy of the decision history, oldest first.
func (m *AgentMemory) History() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Record, len(m.history))
	copy(result, m.history)
	return result
}

// Append adds a decision record, evicting the oldest beyond the history limit.
// It returns the stored record with its id and timestamp filled.
func (m *AgentMemory) Append(rec Record) Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.ID == "" {
		rec.ID = util.GenShortID()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if rec.Boost < 1 {
		rec.Boost = 1
	}
	rec.Feedback = nil

	m.history = append(m.history, rec)
	if over := len(m.history) - m.config.HistoryLimit; over > 0 {
		m.history = m.history[over:]
	}

	m.stats.TotalInteractions++
	if rec.Booked() {
		m.stats.SuccessfulBookings++
	}
	return rec
}

// ApplyFeedback attaches a score to a record (the latest one when recordID is
// empty) and nudges the weights by α·(score − confidence)·features and the
// record's hour preference toward the score.
func (m *AgentMemory) ApplyFeedback(recordID string, score float64) (*Record, error) {
	if score < 0 || score > 1 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidFeedback, score)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	idx := -1
	if recordID == "" {
		idx = len(m.history) - 1
	} else {
		for i := range m.history {
			if m.history[i].ID == recordID {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrRecordNotFound, recordID)
	}
	rec := &m.history[idx]

	if rec.Feedback != nil {
		m.stats.FeedbackSum -= *rec.Feedback
	} else {
		m.stats.FeedbackCount++
	}
	m.stats.FeedbackSum += score
	value := score
	rec.Feedback = &value

	alpha := m.config.LearningRate
	if rec.Boost > 1 {
		alpha *= rec.Boost
	}

	signedError := score - rec.Confidence
	w, f := m.weights.values(), rec.Features.values()
	for i := range w {
		w[i] += alpha * signedError * f[i]
	}
	m.weights = m.clampWeights(weightsFrom(w))

	if rec.Hour >= 0 && rec.Hour < 24 {
		step := alpha
		if step > 1 {
			step = 1
		}
		m.hourAffinity[rec.Hour] += step * (score - m.hourAffinity[rec.Hour])
		m.hourSamples[rec.Hour]++
	}

	updated := *rec
	return &updated, nil
}

// Report returns the aggregate statistics.
func (m *AgentMemory) Report() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	report := Report{
		Interactions:  m.stats.TotalInteractions,
		Bookings:      m.stats.SuccessfulBookings,
		FeedbackCount: m.stats.FeedbackCount,
		HistorySize:   len(m.history),
		Weights:       m.weights,
		PreferredHour: -1,
		Mode:          m.mode,
	}
	if m.stats.TotalInteractions > 0 {
		report.SuccessRate = float64(m.stats.SuccessfulBookings) / float64(m.stats.TotalInteractions)
	}
	if m.stats.FeedbackCount > 0 {
		report.AverageFeedback = m.stats.FeedbackSum / float64(m.stats.FeedbackCount)
	}

	best := -1.0
	for h, samples := range m.hourSamples {
		if samples > 0 && m.hourAffinity[h] > best {
			best = m.hourAffinity[h]
			report.PreferredHour = h
		}
	}
	return report
}

func (m *AgentMemory) clampWeights(w Weights) Weights {
	v := w.values()
	limit := m.config.WeightClamp
	for i := range v {
		if v[i] > limit {
			v[i] = limit
		}
		if v[i] < -limit {
			v[i] = -limit
		}
	}
	return weightsFrom(v)
}

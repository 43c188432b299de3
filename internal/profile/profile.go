package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the scheduling agent.
type Profile struct {
	// Mode can be "prod" or "dev"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory
	Data string
	// DSN points to where the agent stores meetings and memory
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of server
	Version string
	// LogLevel is one of debug, info, warn, error
	LogLevel string

	// Scheduling configuration
	Timezone         string        // MEETINGAGENT_TIMEZONE (default: UTC)
	AgentMode        string        // MEETINGAGENT_AGENT_MODE (default: BALANCED)
	BusinessStart    int           // MEETINGAGENT_BUSINESS_START hour (default: 8)
	BusinessEnd      int           // MEETINGAGENT_BUSINESS_END hour (default: 18)
	IncludeWeekends  bool          // MEETINGAGENT_INCLUDE_WEEKENDS (default: false)
	SlotStep         time.Duration // MEETINGAGENT_SLOT_STEP (default: 15m)
	SearchHorizon    time.Duration // MEETINGAGENT_SEARCH_HORIZON (default: 336h)
	CandidateCount   int           // MEETINGAGENT_CANDIDATE_COUNT (default: 5)
	DefaultOffset    time.Duration // MEETINGAGENT_DEFAULT_OFFSET (default: 1h)
	SoftConflictRule string        // MEETINGAGENT_SOFT_CONFLICT_POLICY (default: informational)

	// Autonomy thresholds
	BalancedThreshold   float64 // MEETINGAGENT_BALANCED_THRESHOLD (default: 0.85)
	AutonomousThreshold float64 // MEETINGAGENT_AUTONOMOUS_THRESHOLD (default: 0.60)
	SuggestionLimit     int     // MEETINGAGENT_SUGGESTION_LIMIT (default: 3)

	// Learning configuration
	LearningRate  float64 // MEETINGAGENT_LEARNING_RATE (default: 0.1)
	LearningBoost float64 // MEETINGAGENT_LEARNING_BOOST (default: 2)
	HistoryLimit  int     // MEETINGAGENT_HISTORY_LIMIT (default: 100)
	WeightClamp   float64 // MEETINGAGENT_WEIGHT_CLAMP (default: 1)

	// I/O boundaries
	StoreTimeout time.Duration // MEETINGAGENT_STORE_TIMEOUT (default: 5s)
	FlushTimeout time.Duration // MEETINGAGENT_FLUSH_TIMEOUT (default: 3s)

	// Background jobs and API
	InsightSchedule string  // MEETINGAGENT_INSIGHT_SCHEDULE (default: */15 * * * *)
	RateLimit       float64 // MEETINGAGENT_RATE_LIMIT requests per second per identity (default: 2)
	RateBurst       int     // MEETINGAGENT_RATE_BURST (default: 5)

	// AI Configuration
	AIEnabled  bool   // MEETINGAGENT_AI_ENABLED
	AIBaseURL  string // MEETINGAGENT_AI_BASE_URL (default: https://api.openai.com/v1)
	AIAPIKey   string // MEETINGAGENT_AI_API_KEY
	AILLMModel string // MEETINGAGENT_AI_LLM_MODEL (default: gpt-4o-mini)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if AI is enabled and an API key is configured.
func (p *Profile) IsAIEnabled() bool {
	return p.AIEnabled && p.AIAPIKey != ""
}

// Location returns the configured timezone, falling back to UTC.
func (p *Profile) Location() *time.Location {
	if p.Timezone == "" || p.Timezone == "UTC" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		slog.Warn("invalid timezone, using UTC", "timezone", p.Timezone, "error", err)
		return time.UTC
	}
	return loc
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FromEnv loads configuration from MEETINGAGENT_* environment variables.
// Unset or unparsable values fall back to defaults.
func (p *Profile) FromEnv() {
	getInt := func(key string, def int) int {
		v, err := strconv.Atoi(os.Getenv(key))
		if err != nil {
			return def
		}
		return v
	}
	getFloat := func(key string, def float64) float64 {
		v, err := strconv.ParseFloat(os.Getenv(key), 64)
		if err != nil {
			return def
		}
		return v
	}
	getDuration := func(key string, def time.Duration) time.Duration {
		v, err := time.ParseDuration(os.Getenv(key))
		if err != nil {
			return def
		}
		return v
	}

	p.LogLevel = getEnvOrDefault("MEETINGAGENT_LOG_LEVEL", "info")
	p.Timezone = getEnvOrDefault("MEETINGAGENT_TIMEZONE", "UTC")
	p.AgentMode = strings.ToUpper(getEnvOrDefault("MEETINGAGENT_AGENT_MODE", "BALANCED"))
	p.BusinessStart = getInt("MEETINGAGENT_BUSINESS_START", 8)
	p.BusinessEnd = getInt("MEETINGAGENT_BUSINESS_END", 18)
	p.IncludeWeekends = os.Getenv("MEETINGAGENT_INCLUDE_WEEKENDS") == "true"
	p.SlotStep = getDuration("MEETINGAGENT_SLOT_STEP", 15*time.Minute)
	p.SearchHorizon = getDuration("MEETINGAGENT_SEARCH_HORIZON", 14*24*time.Hour)
	p.CandidateCount = getInt("MEETINGAGENT_CANDIDATE_COUNT", 5)
	p.DefaultOffset = getDuration("MEETINGAGENT_DEFAULT_OFFSET", time.Hour)
	p.SoftConflictRule = getEnvOrDefault("MEETINGAGENT_SOFT_CONFLICT_POLICY", "informational")
	p.BalancedThreshold = getFloat("MEETINGAGENT_BALANCED_THRESHOLD", 0.85)
	p.AutonomousThreshold = getFloat("MEETINGAGENT_AUTONOMOUS_THRESHOLD", 0.60)
	p.SuggestionLimit = getInt("MEETINGAGENT_SUGGESTION_LIMIT", 3)

	p.LearningRate = getFloat("MEETINGAGENT_LEARNING_RATE", 0.1)
	p.LearningBoost = getFloat("MEETINGAGENT_LEARNING_BOOST", 2)
	p.HistoryLimit = getInt("MEETINGAGENT_HISTORY_LIMIT", 100)
	p.WeightClamp = getFloat("MEETINGAGENT_WEIGHT_CLAMP", 1)

	p.StoreTimeout = getDuration("MEETINGAGENT_STORE_TIMEOUT", 5*time.Second)
	p.FlushTimeout = getDuration("MEETINGAGENT_FLUSH_TIMEOUT", 3*time.Second)

	p.InsightSchedule = getEnvOrDefault("MEETINGAGENT_INSIGHT_SCHEDULE", "*/15 * * * *")
	p.RateLimit = getFloat("MEETINGAGENT_RATE_LIMIT", 2)
	p.RateBurst = getInt("MEETINGAGENT_RATE_BURST", 5)

	p.AIEnabled = os.Getenv("MEETINGAGENT_AI_ENABLED") == "true"
	p.AIBaseURL = getEnvOrDefault("MEETINGAGENT_AI_BASE_URL", "https://api.openai.com/v1")
	p.AIAPIKey = os.Getenv("MEETINGAGENT_AI_API_KEY")
	p.AILLMModel = getEnvOrDefault("MEETINGAGENT_AI_LLM_MODEL", "gpt-4o-mini")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

// Validate checks scheduling knobs and prepares the data directory.
func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}

	if p.BusinessStart < 0 || p.BusinessEnd > 24 || p.BusinessStart >= p.BusinessEnd {
		return errors.Errorf("invalid business hours %d-%d", p.BusinessStart, p.BusinessEnd)
	}
	if p.SlotStep <= 0 {
		return errors.Errorf("slot step must be positive, got %s", p.SlotStep)
	}
	if p.SearchHorizon < p.SlotStep {
		return errors.Errorf("search horizon %s shorter than slot step %s", p.SearchHorizon, p.SlotStep)
	}
	if p.CandidateCount <= 0 {
		return errors.Errorf("candidate count must be positive, got %d", p.CandidateCount)
	}
	for _, threshold := range []float64{p.BalancedThreshold, p.AutonomousThreshold} {
		if threshold < 0 || threshold > 1 {
			return errors.Errorf("auto-book threshold must be in [0, 1], got %v", threshold)
		}
	}
	if p.SuggestionLimit <= 0 {
		return errors.Errorf("suggestion limit must be positive, got %d", p.SuggestionLimit)
	}
	if p.LearningRate <= 0 || p.LearningRate > 1 {
		return errors.Errorf("learning rate must be in (0, 1], got %v", p.LearningRate)
	}
	if p.HistoryLimit <= 0 {
		return errors.Errorf("history limit must be positive, got %d", p.HistoryLimit)
	}
	if p.WeightClamp <= 0 {
		return errors.Errorf("weight clamp must be positive, got %v", p.WeightClamp)
	}
	if p.StoreTimeout <= 0 || p.FlushTimeout <= 0 {
		return errors.New("store and flush timeouts must be positive")
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "meetingagent")
		} else {
			p.Data = "/var/opt/meetingagent"
		}
	}
	if p.Data == "" {
		p.Data = "."
	}
	if _, err := os.Stat(p.Data); os.IsNotExist(err) {
		if err := os.MkdirAll(p.Data, 0770); err != nil {
			slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
			return err
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check dsn", slog.String("data", dataDir), slog.String("error", err.Error()))
		return err
	}

	p.Data = dataDir
	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("meetingagent_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}

	return nil
}

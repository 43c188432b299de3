package server

import (
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/meetingagent/internal/observability"
	"github.com/hrygo/meetingagent/internal/profile"
	"github.com/hrygo/meetingagent/plugin/ai/agent"
	"github.com/hrygo/meetingagent/plugin/ai/habit"
	"github.com/hrygo/meetingagent/plugin/ai/memory"
	nlp "github.com/hrygo/meetingagent/plugin/ai/schedule"
	"github.com/hrygo/meetingagent/plugin/ai/timeout"
	"github.com/hrygo/meetingagent/server/ai"
	apierrors "github.com/hrygo/meetingagent/server/internal/errors"
	"github.com/hrygo/meetingagent/server/service/schedule"
	"github.com/hrygo/meetingagent/store"
)

// Agent is the scheduling agent wired against one store. It is shared by
// the HTTP server and the one-shot CLI commands.
type Agent struct {
	Calendar schedule.Service
	Memory   *memory.Service
	Registry *agent.Registry
	Parser   *nlp.Parser
	Learner  *habit.Learner
	Metrics  *observability.Metrics
	Location *time.Location
}

// NewAgent builds the agent components from the profile.
func NewAgent(profile *profile.Profile, store *store.Store) (*Agent, error) {
	config, err := EngineConfig(profile)
	if err != nil {
		return nil, err
	}
	loc := profile.Location()

	calendar := schedule.NewService(store, loc)
	mem := memory.NewService(memory.NewStorePersister(store), memory.Config{
		HistoryLimit: profile.HistoryLimit,
		LearningRate: profile.LearningRate,
		WeightClamp:  profile.WeightClamp,
	}, profile.FlushTimeout)
	metrics := observability.NewMetrics(1000)

	registry := agent.NewRegistry(func(userID string) *agent.Engine {
		return agent.NewEngine(userID, calendar, mem, config, agent.WithMetrics(metrics))
	})

	var llm ai.Chatter
	if profile.IsAIEnabled() {
		provider, err := ai.NewProvider(&ai.Config{
			BaseURL:   profile.AIBaseURL,
			APIKey:    profile.AIAPIKey,
			ChatModel: profile.AILLMModel,
			Timeout:   timeout.ParseTimeout,
		})
		if err != nil {
			slog.Warn("language model disabled", "error", err)
		} else {
			llm = provider
			slog.Info("language model enabled", "model", provider.Model())
		}
	}

	learnerConfig := habit.DefaultLearnerConfig()
	learnerConfig.StoreTimeout = config.StoreTimeout
	learnerConfig.Snapshot.BusinessHours = config.Generator.BusinessHours
	learnerConfig.Snapshot.IncludeWeekends = config.Generator.IncludeWeekends
	learnerConfig.Snapshot.Location = loc
	learnerConfig.DefaultMode = string(config.DefaultMode)

	return &Agent{
		Calendar: calendar,
		Memory:   mem,
		Registry: registry,
		Parser:   nlp.NewParser(llm, loc),
		Learner:  habit.NewLearner(calendar, mem, learnerConfig),
		Metrics:  metrics,
		Location: loc,
	}, nil
}

// Close stops the memory session cleanup.
func (a *Agent) Close() {
	a.Memory.Close()
}

// EngineConfig maps the profile onto the decision engine configuration.
func EngineConfig(profile *profile.Profile) (agent.Config, error) {
	mode, err := agent.ParseMode(profile.AgentMode)
	if err != nil {
		return agent.Config{}, errors.Wrap(err, "invalid agent mode")
	}
	soft, err := agent.NewSoftConflictPolicy(profile.SoftConflictRule)
	if err != nil {
		return agent.Config{}, errors.Wrap(err, "invalid soft conflict policy")
	}
	return agent.Config{
		DefaultMode: mode,
		Generator: schedule.GeneratorConfig{
			Step:          profile.SlotStep,
			Horizon:       profile.SearchHorizon,
			MaxCandidates: profile.CandidateCount,
			BusinessHours: schedule.BusinessHours{
				Start: time.Duration(profile.BusinessStart) * time.Hour,
				End:   time.Duration(profile.BusinessEnd) * time.Hour,
			},
			IncludeWeekends: profile.IncludeWeekends,
			Location:        profile.Location(),
		},
		Policies:      agent.NewPolicyTable(profile.BalancedThreshold, profile.AutonomousThreshold, profile.SuggestionLimit, profile.LearningBoost),
		SoftConflicts: soft,
		DefaultOffset: profile.DefaultOffset,
		StoreTimeout:  profile.StoreTimeout,
	}, nil
}

// ErrorBody renders err as the API error envelope, for front ends outside
// the HTTP server.
func ErrorBody(err error) map[string]any {
	if err == nil {
		return nil
	}
	return apierrors.FromError(err).Body()
}

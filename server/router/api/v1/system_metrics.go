package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// MetricsOverviewResponse represents the overview of decision cycle metrics.
type MetricsOverviewResponse struct {
	TotalCycles  int64            `json:"total_cycles"`
	SuccessRate  float64          `json:"success_rate"`
	FailedCycles int64            `json:"failed_cycles"`
	Degraded     int64            `json:"degraded"`
	Actions      map[string]int64 `json:"actions"`
	AvgLatencyMs int64            `json:"avg_latency_ms"`
	P95LatencyMs int64            `json:"p95_latency_ms"`
	Identities   int              `json:"identities"`
}

// GetMetricsOverview returns the decision cycle metrics of this process.
// GET /api/v1/system/metrics
func (s *APIV1Service) GetMetricsOverview(c echo.Context) error {
	snapshot := s.Metrics.Snapshot()
	successRate := 0.0
	if snapshot.CycleTotal > 0 {
		successRate = float64(snapshot.CycleTotal-snapshot.CycleFailed) / float64(snapshot.CycleTotal)
	}
	return c.JSON(http.StatusOK, MetricsOverviewResponse{
		TotalCycles:  snapshot.CycleTotal,
		SuccessRate:  successRate,
		FailedCycles: snapshot.CycleFailed,
		Degraded:     snapshot.Degraded,
		Actions:      snapshot.Actions,
		AvgLatencyMs: snapshot.AverageDurationMs,
		P95LatencyMs: snapshot.P95DurationMs,
		Identities:   len(s.Registry.Identities()),
	})
}

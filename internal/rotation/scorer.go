package rotation

import (
	"math"
	"time"

	"github.com/foxzi/rotor/internal/models"
)

// Score rates a server for best_performance ranking as the product of four
// factors, each floored at 0.1 so relative order stays meaningful even among
// poor performers:
//
//	success_rate x recency x health x failure_penalty
//
// Unused servers get a neutral 0.5 success prior and full recency, so new
// servers compete fairly with established ones.
func Score(s *models.Server, now time.Time) float64 {
	return successFactor(s) * recencyFactor(s, now) * healthFactor(s) * failurePenalty(s)
}

func successFactor(s *models.Server) float64 {
	if s.TotalRequests == 0 {
		return 0.5
	}
	return math.Max(0.1, s.SuccessRate())
}

// recencyFactor decays linearly over 24 hours since last use.
func recencyFactor(s *models.Server, now time.Time) float64 {
	if s.LastUsed == nil {
		return 1.0
	}
	hours := now.Sub(*s.LastUsed).Hours()
	return math.Max(0.1, 1-hours/24)
}

func healthFactor(s *models.Server) float64 {
	if s.IsHealthy {
		return 1.0
	}
	return 0.1
}

func failurePenalty(s *models.Server) float64 {
	return math.Max(0.1, 1-0.1*float64(s.ConsecutiveFailures))
}

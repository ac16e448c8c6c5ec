package rotation

import (
	"math"
	"testing"
	"time"

	"github.com/foxzi/rotor/internal/models"
)

func scoredServer(mutate func(*models.Server)) *models.Server {
	s := &models.Server{
		IsActive:  true,
		IsHealthy: true,
	}
	if mutate != nil {
		mutate(s)
	}
	return s
}

func TestScoreNeutralPrior(t *testing.T) {
	s := scoredServer(nil)

	got := Score(s, time.Now())
	if got != 0.5 {
		t.Errorf("Score() = %f, want 0.5 for an unused healthy server", got)
	}
}

func TestScoreMonotonicInSuccessRate(t *testing.T) {
	now := time.Now()
	low := scoredServer(func(s *models.Server) {
		s.TotalRequests = 10
		s.SuccessfulRequests = 2
		s.FailedRequests = 8
	})
	high := scoredServer(func(s *models.Server) {
		s.TotalRequests = 10
		s.SuccessfulRequests = 8
		s.FailedRequests = 2
	})

	if Score(low, now) >= Score(high, now) {
		t.Errorf("Score(20%%) = %f not below Score(80%%) = %f", Score(low, now), Score(high, now))
	}
}

func TestScoreSuccessRateFloor(t *testing.T) {
	s := scoredServer(func(s *models.Server) {
		s.TotalRequests = 100
		s.SuccessfulRequests = 1
		s.FailedRequests = 99
	})

	got := Score(s, time.Now())
	if math.Abs(got-0.1) > 0.001 {
		t.Errorf("Score() = %f, want 0.1 floor for a 1%% server", got)
	}
}

func TestScoreConsecutiveFailuresPenalty(t *testing.T) {
	now := time.Now()
	clean := scoredServer(func(s *models.Server) {
		s.TotalRequests = 10
		s.SuccessfulRequests = 10
	})
	streaky := scoredServer(func(s *models.Server) {
		s.TotalRequests = 10
		s.SuccessfulRequests = 10
		s.ConsecutiveFailures = 2
	})

	if Score(streaky, now) >= Score(clean, now) {
		t.Errorf("Score with streak = %f not below clean score %f", Score(streaky, now), Score(clean, now))
	}

	if math.Abs(Score(streaky, now)-0.8) > 0.001 {
		t.Errorf("Score with 2 consecutive failures = %f, want 0.8", Score(streaky, now))
	}

	// Floor at 0.1 for long streaks
	long := scoredServer(func(s *models.Server) {
		s.TotalRequests = 10
		s.SuccessfulRequests = 10
		s.ConsecutiveFailures = 20
	})
	if math.Abs(Score(long, now)-0.1) > 0.001 {
		t.Errorf("Score with 20 consecutive failures = %f, want 0.1", Score(long, now))
	}
}

func TestScoreRecencyDecay(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		since time.Duration
		want  float64
	}{
		{"just used", 0, 1.0},
		{"half a day", 12 * time.Hour, 0.5},
		{"two days, floored", 48 * time.Hour, 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			used := now.Add(-tt.since)
			s := scoredServer(func(s *models.Server) {
				s.TotalRequests = 10
				s.SuccessfulRequests = 10
				s.LastUsed = &used
			})

			if got := Score(s, now); math.Abs(got-tt.want) > 0.001 {
				t.Errorf("Score() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestScoreNeverUsedFullRecency(t *testing.T) {
	s := scoredServer(func(s *models.Server) {
		s.TotalRequests = 10
		s.SuccessfulRequests = 10
	})

	if got := Score(s, time.Now()); got != 1.0 {
		t.Errorf("Score() = %f, want 1.0 for a perfect never-used server", got)
	}
}

func TestScoreUnhealthyNearExclusion(t *testing.T) {
	now := time.Now()
	healthy := scoredServer(func(s *models.Server) {
		s.TotalRequests = 10
		s.SuccessfulRequests = 10
	})
	unhealthy := scoredServer(func(s *models.Server) {
		s.TotalRequests = 10
		s.SuccessfulRequests = 10
		s.IsHealthy = false
	})

	if math.Abs(Score(unhealthy, now)-0.1*Score(healthy, now)) > 0.001 {
		t.Errorf("unhealthy score = %f, want a tenth of healthy %f", Score(unhealthy, now), Score(healthy, now))
	}
}

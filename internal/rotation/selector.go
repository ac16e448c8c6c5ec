package rotation

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/foxzi/rotor/internal/metrics"
	"github.com/foxzi/rotor/internal/models"
	"github.com/foxzi/rotor/internal/state"
	"github.com/foxzi/rotor/internal/store"
)

// Selector picks the next server for an (owner, kind) pair. One instance
// serves both kinds; the strategy comes from the resolved settings so
// campaign overrides apply per call.
//
// "No server available" is the (nil, nil) return. Errors are reserved for
// store/cache failures.
type Selector struct {
	servers   *store.ServerRepository
	cache     *state.Cache
	cursorTTL time.Duration
	logger    *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSelector creates a selector backed by the server store and the shared
// cursor cache.
func NewSelector(servers *store.ServerRepository, cache *state.Cache, cursorTTL time.Duration, logger *slog.Logger) *Selector {
	return &Selector{
		servers:   servers,
		cache:     cache,
		cursorTTL: cursorTTL,
		logger:    logger,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the next server for the owner and kind under the given
// settings, or (nil, nil) when no candidate qualifies.
func (s *Selector) Next(ownerID string, kind models.Kind, settings models.RotationSettings) (*models.Server, error) {
	srv, strategy, err := s.pick(ownerID, kind, settings)
	if err != nil {
		return nil, err
	}
	if srv == nil {
		metrics.IncSelectionMisses(ownerID, string(kind))
		return nil, nil
	}

	metrics.IncSelections(ownerID, string(kind), strategy)
	return srv, nil
}

func (s *Selector) pick(ownerID string, kind models.Kind, settings models.RotationSettings) (*models.Server, string, error) {
	candidates, err := s.servers.Candidates(ownerID, kind)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load candidates: %w", err)
	}

	if !settings.EnabledFor(kind) {
		if len(candidates) == 0 {
			return nil, "", nil
		}
		return &candidates[0], "disabled", nil
	}

	strategy := settings.Strategy
	if !strategy.Valid() {
		s.logger.Warn("unknown rotation strategy, using round robin",
			"owner_id", ownerID,
			"kind", string(kind),
			"strategy", string(strategy),
		)
		metrics.IncStrategyFallbacks(ownerID)
		strategy = models.StrategyRoundRobin
	}

	if len(candidates) == 0 {
		// best_performance degrades to any active server before giving up
		if strategy == models.StrategyBestPerformance {
			srv, err := s.firstActive(ownerID, kind)
			return srv, string(strategy), err
		}
		return nil, "", nil
	}

	switch strategy {
	case models.StrategyRandom:
		return s.weightedRandom(candidates), string(strategy), nil
	case models.StrategyLeastUsed:
		return leastUsed(candidates), string(strategy), nil
	case models.StrategyBestPerformance:
		return bestPerformance(candidates), string(strategy), nil
	default:
		srv, err := s.roundRobin(ownerID, kind, candidates)
		return srv, string(strategy), err
	}
}

// roundRobin advances the shared per-(owner, kind) cursor and wraps it over
// the current candidate list. A cursor left over from a longer list stays
// valid through the modulo.
func (s *Selector) roundRobin(ownerID string, kind models.Kind, candidates []models.Server) (*models.Server, error) {
	idx, err := s.cache.NextIndex(ownerID, string(kind), s.cursorTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to advance rotation cursor: %w", err)
	}
	return &candidates[idx%uint64(len(candidates))], nil
}

// weightedRandom draws proportionally to max(0.1, success rate). Servers
// without history get weight 1.0, a fair first shot.
func (s *Selector) weightedRandom(candidates []models.Server) *models.Server {
	weights := make([]float64, len(candidates))
	var total float64
	for i := range candidates {
		w := 1.0
		if candidates[i].TotalRequests > 0 {
			w = math.Max(0.1, candidates[i].SuccessRate())
		}
		weights[i] = w
		total += w
	}

	s.mu.Lock()
	r := s.rng.Float64() * total
	s.mu.Unlock()

	for i, w := range weights {
		r -= w
		if r < 0 {
			return &candidates[i]
		}
	}
	return &candidates[len(candidates)-1]
}

// leastUsed picks the minimum total_requests; ties go to the longest-idle
// server, with never-used servers first.
func leastUsed(candidates []models.Server) *models.Server {
	best := 0
	for i := 1; i < len(candidates); i++ {
		if candidates[i].TotalRequests < candidates[best].TotalRequests {
			best = i
			continue
		}
		if candidates[i].TotalRequests == candidates[best].TotalRequests &&
			usedBefore(&candidates[i], &candidates[best]) {
			best = i
		}
	}
	return &candidates[best]
}

// usedBefore reports whether a was last used longer ago than b. A never-used
// server sorts before any used one.
func usedBefore(a, b *models.Server) bool {
	if a.LastUsed == nil {
		return b.LastUsed != nil
	}
	if b.LastUsed == nil {
		return false
	}
	return a.LastUsed.Before(*b.LastUsed)
}

// bestPerformance picks the maximum score; ties keep the first candidate in
// list order.
func bestPerformance(candidates []models.Server) *models.Server {
	now := time.Now()
	best := 0
	bestScore := Score(&candidates[0], now)
	for i := 1; i < len(candidates); i++ {
		if sc := Score(&candidates[i], now); sc > bestScore {
			best, bestScore = i, sc
		}
	}
	return &candidates[best]
}

// firstActive is the best_performance last resort when every candidate was
// filtered out by the health check.
func (s *Selector) firstActive(ownerID string, kind models.Kind) (*models.Server, error) {
	raw, err := s.servers.List(models.ServerFilter{OwnerID: ownerID, Kind: kind, OnlyActive: true})
	if err != nil {
		return nil, fmt.Errorf("failed to load fallback candidates: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return &raw[0], nil
}

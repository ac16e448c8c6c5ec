package models

import (
	"errors"
	"fmt"
)

// Strategy selects how the next server is drawn from the candidate pool.
type Strategy string

const (
	StrategyRoundRobin      Strategy = "round_robin"
	StrategyRandom          Strategy = "random"
	StrategyLeastUsed       Strategy = "least_used"
	StrategyBestPerformance Strategy = "best_performance"
)

// ErrUnknownStrategy is returned when a strategy name is not recognized.
// Configuration validation rejects it up front; the selector itself logs
// and falls back to round_robin instead of failing a send.
var ErrUnknownStrategy = errors.New("unknown rotation strategy")

// Valid reports whether the strategy is one of the known values
func (s Strategy) Valid() bool {
	switch s {
	case StrategyRoundRobin, StrategyRandom, StrategyLeastUsed, StrategyBestPerformance:
		return true
	}
	return false
}

// ParseStrategy validates a configured strategy name
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
	return st, nil
}

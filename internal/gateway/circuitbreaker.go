package gateway

import (
	"errors"
	"sync"
	"time"

	"github.com/aimerfeng/PoolGate/internal/logging"
	"github.com/aimerfeng/PoolGate/internal/monitoring"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when the breaker for an endpoint is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig holds configuration for per-endpoint breakers
type CircuitBreakerConfig struct {
	// MaxRequests allowed through while half-open
	MaxRequests uint32
	// Interval is the cyclic period of the closed state after which
	// internal counts are cleared
	Interval time.Duration
	// Timeout is the open-state period before probing half-open
	Timeout time.Duration
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker
	FailureThreshold uint32
}

// DefaultCircuitBreakerConfig returns the default breaker configuration
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		MaxRequests:      5,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// CircuitBreakerManager keeps one breaker per upstream endpoint
type CircuitBreakerManager struct {
	breakers map[string]*gobreaker.CircuitBreaker
	config   *CircuitBreakerConfig
	log      zerolog.Logger
	mu       sync.RWMutex
}

// NewCircuitBreakerManager creates a new breaker manager
func NewCircuitBreakerManager(config *CircuitBreakerConfig) *CircuitBreakerManager {
	if config == nil {
		config = DefaultCircuitBreakerConfig()
	}
	return &CircuitBreakerManager{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		config:   config,
		log:      logging.NewLogger("circuit_breaker"),
	}
}

func (m *CircuitBreakerManager) breaker(endpoint string) *gobreaker.CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[endpoint]
	m.mu.RUnlock()
	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[endpoint]; ok {
		return cb
	}

	cfg := m.config
	cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        endpoint,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.log.Warn().
				Str("endpoint", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
			monitoring.Get().CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	m.breakers[endpoint] = cb
	return cb
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// Execute runs fn under the endpoint's breaker
func (m *CircuitBreakerManager) Execute(endpoint string, fn func() (any, error)) (any, error) {
	result, err := m.breaker(endpoint).Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrCircuitOpen
		}
		return nil, err
	}
	return result, nil
}

// Package circuitbreaker protects the outbound mail transport: when the mail
// server starts failing, sends fail fast instead of stalling every batch,
// and the affected subscribers stay active for the next run.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State of the breaker.
//
//	Closed -> Open:      failure count reaches the threshold
//	Open -> HalfOpen:    recovery timeout elapses; one probe allowed
//	HalfOpen -> Closed:  probe succeeds
//	HalfOpen -> Open:    probe fails
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Do while the breaker is rejecting calls.
var ErrOpen = errors.New("circuit breaker is open")

// Config for a Breaker.
type Config struct {
	// Name identifies the protected dependency in logs.
	Name string

	// MaxFailures is the consecutive-failure threshold that opens the circuit.
	MaxFailures int

	// RecoveryTimeout is how long to stay open before allowing a probe.
	RecoveryTimeout time.Duration
}

// DefaultConfig returns the defaults used for the mail transport.
func DefaultConfig(name string) Config {
	return Config{
		Name:            name,
		MaxFailures:     5,
		RecoveryTimeout: 30 * time.Second,
	}
}

// Breaker is a mutex-guarded closed/open/half-open state machine.
type Breaker struct {
	mu     sync.Mutex
	config Config
	logger *zap.Logger

	state       State
	failures    int
	lastFailure time.Time
	probing     bool
}

// New creates a Breaker.
func New(cfg Config, logger *zap.Logger) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	return &Breaker{
		config: cfg,
		logger: logger,
		state:  StateClosed,
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.lastFailure) >= b.config.RecoveryTimeout {
			b.state = StateHalfOpen
			b.probing = true
			b.logger.Info("circuit breaker allowing probe",
				zap.String("name", b.config.Name),
			)
			return true
		}
		return false
	case StateHalfOpen:
		// One probe at a time.
		if !b.probing {
			b.probing = true
			return true
		}
		return false
	default:
		return false
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		b.probing = false
		if b.state != StateClosed {
			b.state = StateClosed
			b.logger.Info("circuit breaker closed, dependency recovered",
				zap.String("name", b.config.Name),
			)
		}
		return
	}

	b.failures++
	b.lastFailure = time.Now()
	b.probing = false

	switch b.state {
	case StateClosed:
		if b.failures >= b.config.MaxFailures {
			b.state = StateOpen
			b.logger.Warn("circuit breaker opened",
				zap.String("name", b.config.Name),
				zap.Int("failures", b.failures),
			)
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.logger.Warn("circuit breaker re-opened, probe failed",
			zap.String("name", b.config.Name),
		)
	}
}

// Do runs fn through the breaker. Returns ErrOpen without calling fn while
// the circuit is rejecting; otherwise fn's result is recorded and returned.
func (b *Breaker) Do(fn func() error) error {
	if !b.allow() {
		return ErrOpen
	}
	err := fn()
	b.record(err)
	return err
}

package resilience

import (
	"errors"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
)

var ErrBreakerOpen = errors.New("circuit breaker open")

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
		return "half_open"
	default:
		return "unknown"
	}
}

type BreakerSettings struct {
	FailureThreshold int
	SuccessThreshold int
	CoolDown         time.Duration
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{FailureThreshold: 5, SuccessThreshold: 1, CoolDown: 30 * time.Second}
}

// Breaker guards one venue. Safe for concurrent use.
// While half-open only one trial call is let through at a time.
type Breaker struct {
	name     string
	settings BreakerSettings
	now      func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	trial     bool
}

func NewBreaker(name string, settings BreakerSettings) *Breaker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = 5
	}
	if settings.SuccessThreshold <= 0 {
		settings.SuccessThreshold = 1
	}
	return &Breaker{name: name, settings: settings, now: time.Now}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed. A true result must be followed by
// exactly one Success or Failure.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.settings.CoolDown {
			return ErrBreakerOpen
		}
		b.state = StateHalfOpen
		b.successes = 0
		b.trial = true
		logger.WithField("breaker", b.name).Info("circuit breaker half-open")
		return nil
	case StateHalfOpen:
		if b.trial {
			return ErrBreakerOpen
		}
		b.trial = true
		return nil
	}
	return ErrBreakerOpen
}

func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.trial = false
		b.successes++
		if b.successes >= b.settings.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
			logger.WithField("breaker", b.name).Info("circuit breaker closed")
		}
	}
}

// Release returns a permit from Allow when the call never reached the venue.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.trial = false
	}
}

func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.settings.FailureThreshold {
			b.trip()
		}
	case StateHalfOpen:
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.trial = false
	b.successes = 0
	logger.WithFields(map[string]interface{}{
		"breaker":  b.name,
		"failures": b.failures,
	}).Warn("circuit breaker open")
}

// BreakerSet hands out one breaker per key, created on first use.
type BreakerSet struct {
	settings BreakerSettings
	mu       sync.Mutex
	byKey    map[string]*Breaker
}

func NewBreakerSet(settings BreakerSettings) *BreakerSet {
	return &BreakerSet{settings: settings, byKey: make(map[string]*Breaker)}
}

func (s *BreakerSet) Get(key string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byKey[key]
	if !ok {
		b = NewBreaker(key, s.settings)
		s.byKey[key] = b
	}
	return b
}

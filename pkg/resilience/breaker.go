package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned when the breaker short-circuits a call.
var ErrBreakerOpen = errors.New("destination breaker is open")

// Breaker state names as reported by State.
const (
	StateClosed  = "closed"
	StateOpen    = "open"
	StateProbing = "probing"
)

// Breaker guards a delivery destination. It trips after a run of consecutive
// failures and short-circuits further calls until a cooldown elapses. The
// first call admitted after the cooldown is a probe: its outcome decides
// whether the breaker closes again or stays open for another cooldown. Only
// one probe is in flight at a time.
type Breaker struct {
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	failures int       // consecutive failures observed while closed
	openedAt time.Time // zero while closed
	probing  bool
}

// NewBreaker creates a breaker that opens after threshold consecutive
// failures and admits a probe once cooldown has elapsed.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{threshold: threshold, cooldown: cooldown}
}

// Execute runs fn unless the breaker is open, in which case it returns
// ErrBreakerOpen without calling fn. A nil return from fn counts as success.
func (b *Breaker) Execute(fn func() error) error {
	if !b.admit() {
		return ErrBreakerOpen
	}
	err := fn()
	b.observe(err == nil)
	return err
}

// State reports "closed", "open" or "probing".
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.openedAt.IsZero():
		return StateClosed
	case time.Since(b.openedAt) < b.cooldown:
		return StateOpen
	default:
		return StateProbing
	}
}

// Reset closes the breaker and clears the failure run.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openedAt = time.Time{}
	b.probing = false
}

func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openedAt.IsZero() {
		return true
	}
	if time.Since(b.openedAt) < b.cooldown {
		return false
	}
	if b.probing {
		return false
	}
	b.probing = true
	return true
}

func (b *Breaker) observe(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.probing {
		b.probing = false
		if ok {
			b.failures = 0
			b.openedAt = time.Time{}
		} else {
			b.openedAt = time.Now()
		}
		return
	}

	// A call admitted while closed may settle after the breaker opened;
	// its outcome no longer changes the decision.
	if !b.openedAt.IsZero() {
		return
	}

	if ok {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.failures = 0
		b.openedAt = time.Now()
	}
}

package feed

import (
	"sync"
	"time"

	"github.com/jpillora/backoff"
)

const (
	defaultBaseDelay   = time.Second
	defaultMaxAttempts = 5
)

// Policy decides whether and when to retry after an unexpected closure. The
// Nth retry waits base × 2^(N-1); once maxAttempts delays have been handed
// out without a Reset in between, Next refuses and the connection is
// considered permanently failed.
type Policy struct {
	mu          sync.Mutex
	b           *backoff.Backoff
	maxAttempts int
}

// NewPolicy builds a retry policy. Zero values fall back to a 1s base delay
// and a ceiling of 5 attempts. maxDelay of zero leaves the delay uncapped
// within the attempt ceiling.
func NewPolicy(base, maxDelay time.Duration, maxAttempts int) *Policy {
	if base <= 0 {
		base = defaultBaseDelay
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if maxDelay <= 0 {
		// The ceiling bounds total retries; the largest possible delay is
		// base doubled maxAttempts-1 times.
		maxDelay = base << uint(maxAttempts-1)
	}
	return &Policy{
		b: &backoff.Backoff{
			Min:    base,
			Max:    maxDelay,
			Factor: 2,
			Jitter: false,
		},
		maxAttempts: maxAttempts,
	}
}

// Next returns the delay before the next reconnection attempt. The second
// return value is false when the attempt ceiling has been reached, in which
// case no timer must be scheduled.
func (p *Policy) Next() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if int(p.b.Attempt()) >= p.maxAttempts {
		return 0, false
	}
	return p.b.Duration(), true
}

// Reset clears the attempt counter. Called on every successful open and on
// manual Connect so a recovering connection is not penalized for old
// failures.
func (p *Policy) Reset() {
	p.mu.Lock()
	p.b.Reset()
	p.mu.Unlock()
}

// Attempts returns how many delays have been handed out since the last
// Reset.
func (p *Policy) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.b.Attempt())
}

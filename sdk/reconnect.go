package callkit

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ReconnectPolicy controls how the call session recovers from abnormal
// channel loss. Delays double per attempt starting from BaseDelay and are
// capped at MaxDelay; after MaxAttempts failed rebuilds the session gives up
// and fails the call.
type ReconnectPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultReconnectPolicy returns the policy applied when the caller does not
// override it: 1s, 2s, 4s, 8s, 16s across five attempts.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 5,
	}
}

func (p ReconnectPolicy) normalized() ReconnectPolicy {
	def := DefaultReconnectPolicy()
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	return p
}

// reconnectSupervisor tracks the attempt counter and yields the next delay.
// It is not goroutine safe; the session serializes access under its own lock.
type reconnectSupervisor struct {
	policy  ReconnectPolicy
	backoff *backoff.ExponentialBackOff
	attempt int
}

func newReconnectSupervisor(policy ReconnectPolicy) *reconnectSupervisor {
	s := &reconnectSupervisor{policy: policy.normalized()}
	s.reset()
	return s
}

// next advances the attempt counter and returns the delay before that
// attempt. ok is false once the policy's attempt budget is exhausted.
func (s *reconnectSupervisor) next() (attempt int, delay time.Duration, ok bool) {
	if s.attempt >= s.policy.MaxAttempts {
		return s.attempt, 0, false
	}
	s.attempt++
	return s.attempt, s.backoff.NextBackOff(), true
}

// reset rearms the supervisor after a successful rebuild.
func (s *reconnectSupervisor) reset() {
	s.attempt = 0
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.policy.BaseDelay
	b.MaxInterval = s.policy.MaxDelay
	b.Multiplier = 2
	// Deterministic ladder; the session has a single peer so jitter buys
	// nothing here.
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	s.backoff = b
}

func (s *reconnectSupervisor) exhausted() bool {
	return s.attempt >= s.policy.MaxAttempts
}

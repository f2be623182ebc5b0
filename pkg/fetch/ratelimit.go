package fetch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RateLimiter enforces a minimum delay between requests to the same host
type RateLimiter struct {
	hostLastRequest   map[string]time.Time // hostname -> last request attempt time
	hostLastRequestMu sync.Mutex
	defaultDelay      time.Duration // used when a call passes a non-positive delay
	log               *logrus.Entry
}

// NewRateLimiter creates a RateLimiter
func NewRateLimiter(defaultDelay time.Duration, log *logrus.Entry) *RateLimiter {
	return &RateLimiter{
		hostLastRequest: make(map[string]time.Time),
		defaultDelay:    defaultDelay,
		log:             log,
	}
}

// ApplyDelay sleeps if the time since the last request to host is less than minDelay.
// Sleeps carry +/- 10% jitter and return early when ctx is cancelled.
func (rl *RateLimiter) ApplyDelay(ctx context.Context, host string, minDelay time.Duration) {
	if minDelay <= 0 {
		minDelay = rl.defaultDelay
	}
	if minDelay <= 0 {
		return
	}

	rl.hostLastRequestMu.Lock()
	lastReqTime, exists := rl.hostLastRequest[host]
	rl.hostLastRequestMu.Unlock()
	if !exists {
		return
	}

	elapsed := time.Since(lastReqTime)
	if elapsed >= minDelay {
		return
	}
	sleepDuration := minDelay - elapsed

	var jitter time.Duration
	if jitterRange := int64(sleepDuration) / 5; jitterRange > 0 {
		jitter = time.Duration(rand.Int63n(jitterRange)) - (sleepDuration / 10)
	}
	finalSleep := sleepDuration + jitter
	if finalSleep <= 0 {
		return
	}

	rl.log.WithFields(logrus.Fields{
		"host": host, "sleep": finalSleep, "required_delay": minDelay, "elapsed": elapsed,
	}).Debug("Rate limit applying sleep")

	timer := time.NewTimer(finalSleep)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// UpdateLastRequestTime records now as the last request attempt time for host.
// Call it after the request attempt.
func (rl *RateLimiter) UpdateLastRequestTime(host string) {
	rl.hostLastRequestMu.Lock()
	rl.hostLastRequest[host] = time.Now()
	rl.hostLastRequestMu.Unlock()
}

// Package retry provides a pure-function classifier over HTTP status codes
// plus a jittered backoff schedule, used by the streaming proxy's failover
// loop.
package retry

import (
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Backoff selects the delay growth curve between retries.
type Backoff string

const (
	BackoffExponential Backoff = "exponential"
	BackoffFixed       Backoff = "fixed"
)

// Policy is the immutable retry configuration for one reload epoch.
type Policy struct {
	MaxRetries        int
	RetryableStatuses map[int]bool
	Backoff           Backoff
	BaseDelay         time.Duration
	MaxDelay          time.Duration
}

// DefaultRetryableStatuses matches spec.md §3's default set.
func DefaultRetryableStatuses() map[int]bool {
	return map[int]bool{
		http.StatusTooManyRequests:     true,
		http.StatusBadGateway:          true,
		http.StatusServiceUnavailable:  true,
		http.StatusGatewayTimeout:      true,
	}
}

// keyFailureStatuses are upstream statuses that indict the credential, not
// the backend (spec.md §4.D).
var keyFailureStatuses = map[int]bool{
	http.StatusUnauthorized: true,
	http.StatusForbidden:    true,
}

// channelFailureStatuses are upstream statuses that indict the backend, not
// the credential (spec.md §4.D).
var channelFailureStatuses = map[int]bool{
	http.StatusBadGateway:         true,
	http.StatusServiceUnavailable: true,
	http.StatusGatewayTimeout:     true,
}

// ShouldRetry reports whether status is in the policy's retryable set.
func (p Policy) ShouldRetry(status int) bool {
	return p.RetryableStatuses[status]
}

// IsKeyFailure reports whether status indicts the credential (401/403).
func IsKeyFailure(status int) bool {
	return keyFailureStatuses[status]
}

// IsChannelFailure reports whether status indicts the channel (502/503/504).
func IsChannelFailure(status int) bool {
	return channelFailureStatuses[status]
}

// jitterRand is a process-wide source guarded by a mutex, grounded on the
// teacher's load-balancer secureRandIntn pattern: math/rand's default
// source is not safe for concurrent use without one.
var (
	jitterMu   sync.Mutex
	jitterRand = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func jitterFloat() float64 {
	jitterMu.Lock()
	defer jitterMu.Unlock()
	return jitterRand.Float64()
}

// Delay computes the backoff duration for a 0-indexed attempt number.
// Exponential: min(maxDelay, baseDelay*2^attempt + U[-25%,+25%] of that).
// Fixed: baseDelay, unjittered.
func (p Policy) Delay(attempt int) time.Duration {
	if p.Backoff == BackoffFixed {
		return p.BaseDelay
	}

	base := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	jitterRange := base * 0.5 // ±25% == a 50%-wide band
	jittered := base + (jitterFloat()*jitterRange - jitterRange/2)
	if jittered < 0 {
		jittered = 0
	}
	d := time.Duration(jittered)
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// MaxAttempts is the hard cap on total attempts per request.
func (p Policy) MaxAttempts() int {
	return p.MaxRetries + 1
}

// ParseRetryAfter parses an HTTP Retry-After header value, honoring both
// delta-seconds and HTTP-date forms. Returns (0, false) if unparsable.
func ParseRetryAfter(header string, now time.Time) (time.Duration, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(header); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

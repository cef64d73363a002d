// Package channel holds the authoritative in-memory state for each upstream
// backend: its credential pool, liveness, rolling health, and stats.
package channel

import (
	"math/rand"
	"sync"
	"time"
)

// KeyStrategy selects how PickKey walks the credential pool.
type KeyStrategy string

const (
	StrategyRoundRobin KeyStrategy = "round-robin"
	StrategyRandom     KeyStrategy = "random"
)

// Health is the rolling health state of a channel.
type Health string

const (
	HealthUnknown   Health = "unknown"
	HealthHealthy   Health = "healthy"
	HealthUnhealthy Health = "unhealthy"
)

// credentialFailThreshold disables a credential after this many
// consecutive failures (spec.md §3 invariant).
const credentialFailThreshold = 3

// channelFailThreshold demotes a channel to unhealthy after this many
// consecutive failures (spec.md §3 invariant).
const channelFailThreshold = 3

// Credential is one API key in a channel's pool. The value is never
// exposed outside this package's JSON views.
type Credential struct {
	Value               string
	Alive               bool
	ConsecutiveFailures int
}

// TunnelAdvert describes an optional SSH reverse-tunnel forward for this
// channel's local proxy entry.
type TunnelAdvert struct {
	Enabled    bool
	LocalPort  int
	RemotePort int
}

// HealthCheckSpec configures the periodic prober for this channel.
type HealthCheckSpec struct {
	Path       string
	IntervalMs int
	TimeoutMs  int
}

// Stats are the cumulative request counters for a channel.
type Stats struct {
	TotalRequests int64
	SuccessCount  int64
	FailCount     int64
	LastRequestAt time.Time
	LastError     string
}

// Channel is one upstream endpoint: its identity, credentials, health, and
// stats. All mutation goes through the methods below, each of which holds
// the channel's own mutex for its duration — never a global lock, and never
// while doing I/O or sleeping.
type Channel struct {
	mu sync.Mutex

	Name   string
	Target string

	Weight  int
	Fallback bool
	Enabled bool

	keys     []Credential
	strategy KeyStrategy
	rrCursor int

	health           Health
	lastLatencyMs    *float64
	consecutiveFails int

	stats Stats

	Tunnel      *TunnelAdvert
	HealthCheck *HealthCheckSpec

	rng *rand.Rand
}

// New constructs a Channel from config-derived fields. keys is copied into
// an initially-alive credential pool.
func New(name, target string, weight int, fallback, enabled bool, keys []string, strategy KeyStrategy) *Channel {
	creds := make([]Credential, len(keys))
	for i, k := range keys {
		creds[i] = Credential{Value: k, Alive: true}
	}
	return &Channel{
		Name:     name,
		Target:   target,
		Weight:   weight,
		Fallback: fallback,
		Enabled:  enabled,
		keys:     creds,
		strategy: strategy,
		health:   HealthUnknown,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// PickKey selects a credential per the channel's strategy. Returns
// (value, index, true), or ("", -1, false) when no credential is alive.
func (c *Channel) PickKey() (string, int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pickKeyLocked()
}

func (c *Channel) pickKeyLocked() (string, int, bool) {
	n := len(c.keys)
	if n == 0 {
		return "", -1, false
	}

	switch c.strategy {
	case StrategyRandom:
		aliveIdx := make([]int, 0, n)
		for i, k := range c.keys {
			if k.Alive {
				aliveIdx = append(aliveIdx, i)
			}
		}
		if len(aliveIdx) == 0 {
			return "", -1, false
		}
		idx := aliveIdx[c.rng.Intn(len(aliveIdx))]
		return c.keys[idx].Value, idx, true
	default: // round-robin
		for i := 0; i < n; i++ {
			idx := (c.rrCursor + i) % n
			if c.keys[idx].Alive {
				c.rrCursor = (idx + 1) % n
				return c.keys[idx].Value, idx, true
			}
		}
		return "", -1, false
	}
}

// FirstAliveCredential returns the first alive credential by index order,
// without touching the round-robin cursor — unlike PickKey, this is safe to
// call from a health probe without stealing a turn from request dispatch.
// Returns "" if none are alive.
func (c *Channel) FirstAliveCredential() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.keys {
		if k.Alive {
			return k.Value
		}
	}
	return ""
}

// MarkKeyFailed increments the credential's failure counter, disabling it
// at the threshold. Idempotent beyond the threshold.
func (c *Channel) MarkKeyFailed(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.keys) {
		return
	}
	k := &c.keys[index]
	k.ConsecutiveFailures++
	if k.ConsecutiveFailures >= credentialFailThreshold {
		k.Alive = false
	}
}

// MarkKeySuccess clears the credential's failure counter and re-enables it.
func (c *Channel) MarkKeySuccess(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.keys) {
		return
	}
	k := &c.keys[index]
	k.ConsecutiveFailures = 0
	k.Alive = true
}

// RecordSuccess updates stats for a successful upstream response and
// promotes health to healthy.
func (c *Channel) RecordSuccess(latencyMs float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.TotalRequests++
	c.stats.SuccessCount++
	c.stats.LastRequestAt = time.Now()
	c.lastLatencyMs = &latencyMs
	c.consecutiveFails = 0
	c.health = HealthHealthy
}

// RecordFailure updates stats for a failed upstream response/transport
// error and demotes health to unhealthy at the threshold.
func (c *Channel) RecordFailure(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.TotalRequests++
	c.stats.FailCount++
	c.stats.LastRequestAt = time.Now()
	c.stats.LastError = reason
	c.consecutiveFails++
	if c.consecutiveFails >= channelFailThreshold {
		c.health = HealthUnhealthy
	}
}

// SetHealth is used by the health prober to set health state out-of-band.
// A transition to healthy also zeros the consecutive-failure counter.
func (c *Channel) SetHealth(h Health, latencyMs *float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health = h
	if latencyMs != nil {
		c.lastLatencyMs = latencyMs
	}
	if h == HealthHealthy {
		c.consecutiveFails = 0
	}
}

// AddKey appends a new credential, alive by default.
func (c *Channel) AddKey(value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, Credential{Value: value, Alive: true})
}

// RemoveKey removes the credential at index. Returns false on bad index.
// Removing a credential whose index is at-or-past the round-robin cursor
// resets the cursor to 0, per spec.md §3, to avoid skipping entries.
func (c *Channel) RemoveKey(index int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.keys) {
		return false
	}
	c.keys = append(c.keys[:index], c.keys[index+1:]...)
	if index >= c.rrCursor {
		c.rrCursor = 0
	}
	return true
}

// IsAvailable reports whether the channel may be routed to.
func (c *Channel) IsAvailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Enabled && c.health != HealthUnhealthy && c.aliveKeysLocked() > 0
}

// IsFallbackCandidate reports whether the channel can serve as a
// last-resort degraded option (enabled and flagged fallback), regardless
// of health/alive-key state — callers still need PickKey to succeed.
func (c *Channel) IsFallbackCandidate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Enabled && c.Fallback
}

func (c *Channel) aliveKeysLocked() int {
	n := 0
	for _, k := range c.keys {
		if k.Alive {
			n++
		}
	}
	return n
}

// AliveKeys returns the count of currently-alive credentials.
func (c *Channel) AliveKeys() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aliveKeysLocked()
}

// TotalKeys returns the total credential count.
func (c *Channel) TotalKeys() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.keys)
}

// LastLatencyMs returns the most recently observed latency, or nil.
func (c *Channel) LastLatencyMs() *float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastLatencyMs == nil {
		return nil
	}
	v := *c.lastLatencyMs
	return &v
}

// HealthState returns the current health value.
func (c *Channel) HealthState() Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.health
}

// Toggle flips Enabled and returns the new value.
func (c *Channel) Toggle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Enabled = !c.Enabled
	return c.Enabled
}

// SetEnabled sets Enabled explicitly.
func (c *Channel) SetEnabled(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Enabled = v
}

// IsEnabled reports the current Enabled value.
func (c *Channel) IsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Enabled
}

// StatsSnapshot returns a copy of the current stats counters.
func (c *Channel) StatsSnapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// View is the stable JSON-safe summary of a channel: never exposes
// credential values, only counts.
type View struct {
	Name          string  `json:"name"`
	Target        string  `json:"target"`
	Weight        int     `json:"weight"`
	Fallback      bool    `json:"fallback"`
	Enabled       bool    `json:"enabled"`
	Strategy      string  `json:"key_strategy"`
	TotalKeys     int     `json:"total_keys"`
	AliveKeys     int     `json:"alive_keys"`
	Health        string  `json:"health"`
	LastLatencyMs *float64 `json:"last_latency_ms,omitempty"`
	TotalRequests int64   `json:"total_requests"`
	SuccessCount  int64   `json:"success_count"`
	FailCount     int64   `json:"fail_count"`
	LastError     string  `json:"last_error,omitempty"`
	Available     bool    `json:"available"`
}

// ToJSON produces the stable management-API summary for this channel.
func (c *Channel) ToJSON() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lat *float64
	if c.lastLatencyMs != nil {
		v := *c.lastLatencyMs
		lat = &v
	}

	return View{
		Name:          c.Name,
		Target:        c.Target,
		Weight:        c.Weight,
		Fallback:      c.Fallback,
		Enabled:       c.Enabled,
		Strategy:      string(c.strategy),
		TotalKeys:     len(c.keys),
		AliveKeys:     c.aliveKeysLocked(),
		Health:        string(c.health),
		LastLatencyMs: lat,
		TotalRequests: c.stats.TotalRequests,
		SuccessCount:  c.stats.SuccessCount,
		FailCount:     c.stats.FailCount,
		LastError:     c.stats.LastError,
		Available:     c.Enabled && c.health != HealthUnhealthy && c.aliveKeysLocked() > 0,
	}
}

// Package health periodically probes each channel with a configured
// health-check spec and drives its health state transitions, grounded on
// the teacher's per-endpoint ticker loop (internal/service/health_checker.go)
// but reworked around channel.Channel's own health/failure-counter state
// instead of a separate endpoint-state map.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ai-gateway/gatewayd/internal/channel"
	"github.com/ai-gateway/gatewayd/internal/eventbus"
)

const defaultTimeout = 5 * time.Second

// Prober runs one ticker goroutine per channel that declares a
// HealthCheckSpec.
type Prober struct {
	registry *channel.Registry
	bus      *eventbus.Bus
	client   *http.Client

	// group dedupes concurrent probe runs for the same channel — e.g. a
	// ticker tick overlapping a slow in-flight probe of the same channel —
	// so at most one HTTP request per channel is in flight at a time.
	group singleflight.Group

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup

	countersMu sync.Mutex
	counters   map[string]int
}

// New constructs a Prober bound to registry and bus.
func New(registry *channel.Registry, bus *eventbus.Bus) *Prober {
	return &Prober{
		registry: registry,
		bus:      bus,
		client:   &http.Client{},
		cancels:  make(map[string]context.CancelFunc),
		counters: make(map[string]int),
	}
}

// Start launches a probe loop for every channel in the registry that
// declares a HealthCheck spec. Safe to call again after Stop to pick up a
// reloaded registry.
func (p *Prober) Start() {
	for _, ch := range p.registry.All() {
		if ch.HealthCheck == nil {
			continue
		}
		p.startChannel(ch)
	}
}

func (p *Prober) startChannel(ch *channel.Channel) {
	ctx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	p.cancels[ch.Name] = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go p.loop(ctx, ch)
}

func (p *Prober) loop(ctx context.Context, ch *channel.Channel) {
	defer p.wg.Done()

	p.probeOnce(ctx, ch)

	interval := time.Duration(ch.HealthCheck.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeOnce(ctx, ch)
		}
	}
}

// probeOnce runs (or joins an in-flight run of) a single probe for ch and
// applies the 3-consecutive-failure / 1-success health transition rule
// from spec.md §4.F.
func (p *Prober) probeOnce(ctx context.Context, ch *channel.Channel) {
	_, _, _ = p.group.Do(ch.Name, func() (any, error) {
		healthy, latencyMs := p.check(ctx, ch)
		p.applyResult(ch, healthy, latencyMs)
		return nil, nil
	})
}

func (p *Prober) check(ctx context.Context, ch *channel.Channel) (bool, float64) {
	spec := ch.HealthCheck
	timeout := time.Duration(spec.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url, hostHeader := probeTarget(ch, spec.Path)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return false, 0
	}
	if hostHeader != "" {
		req.Host = hostHeader
	}
	if cred := ch.FirstAliveCredential(); cred != "" {
		req.Header.Set("Authorization", "Bearer "+cred)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	latencyMs := float64(time.Since(start).Milliseconds())
	if err != nil {
		return false, latencyMs
	}
	defer resp.Body.Close()

	return resp.StatusCode < 400, latencyMs
}

// probeTarget resolves the probe URL per spec.md §4.F: if the channel
// advertises a tunnel, the probe hits the local forward port with the
// origin's Host header preserved; otherwise it targets the channel
// directly.
func probeTarget(ch *channel.Channel, path string) (url string, hostHeader string) {
	if ch.Tunnel != nil && ch.Tunnel.Enabled {
		origin := ch.Target
		return fmt.Sprintf("http://127.0.0.1:%d%s", ch.Tunnel.LocalPort, path), originHost(origin)
	}
	return ch.Target + path, ""
}

func originHost(target string) string {
	// Target is a full URL like "https://api.example.com:443"; extract the
	// authority portion for the Host header override.
	rest := target
	if i := indexAfterScheme(rest); i >= 0 {
		rest = rest[i:]
	}
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i]
		}
	}
	return rest
}

func indexAfterScheme(s string) int {
	for i := 0; i+2 < len(s); i++ {
		if s[i] == ':' && s[i+1] == '/' && s[i+2] == '/' {
			return i + 3
		}
	}
	return -1
}

const failThreshold = 3

// applyResult implements spec.md §4.F's transition rule using the prober's
// own per-channel counters, kept separate from Channel.consecutiveFails
// (internal/channel/channel.go) which tracks request-path failures — a slow
// upstream on the probe path must not masquerade as request traffic
// failures and vice versa.
func (p *Prober) applyResult(ch *channel.Channel, healthy bool, latencyMs float64) {
	p.countersMu.Lock()
	if healthy {
		p.counters[ch.Name] = 0
		p.countersMu.Unlock()

		wasUnhealthy := ch.HealthState() == channel.HealthUnhealthy

		lat := latencyMs
		ch.SetHealth(channel.HealthHealthy, &lat)
		if wasUnhealthy {
			p.bus.Emit(eventbus.Info, "health", "channel healthy", map[string]any{"channel": ch.Name, "latency_ms": lat})
		}
		return
	}

	p.counters[ch.Name]++
	n := p.counters[ch.Name]
	p.countersMu.Unlock()

	if n >= failThreshold {
		ch.SetHealth(channel.HealthUnhealthy, nil)
		if n == failThreshold {
			p.bus.Emit(eventbus.Warn, "health", "channel unhealthy", map[string]any{"channel": ch.Name})
		}
	}
}

// Stop cancels every channel's probe loop and waits for them to exit.
func (p *Prober) Stop() {
	p.mu.Lock()
	for _, cancel := range p.cancels {
		cancel()
	}
	p.cancels = make(map[string]context.CancelFunc)
	p.mu.Unlock()
	p.wg.Wait()
}

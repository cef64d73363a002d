// Package router maps an inbound request path to a candidate channel and a
// credential, applying one of three selection strategies over the channels
// declared for the matching route group.
package router

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ai-gateway/gatewayd/internal/channel"
)

// Strategy selects how a route group picks among its available channels.
type Strategy string

const (
	StrategyPriority      Strategy = "priority"
	StrategyRoundRobin    Strategy = "round-robin"
	StrategyLowestLatency Strategy = "lowest-latency"
)

// RouteGroup binds a path pattern to an ordered channel list and a strategy.
type RouteGroup struct {
	PathPattern string
	Channels    []string
	Strategy    Strategy
}

// Result is the outcome of a successful resolve: the chosen channel, the
// credential picked from it, and the credential's index (for later
// markKeyFailed/markKeySuccess calls).
type Result struct {
	Channel    *channel.Channel
	Key        string
	KeyIndex   int
}

// routerState is the hot-reloadable snapshot swapped atomically by Update.
type routerState struct {
	groups  []RouteGroup
	default_ RouteGroup
}

// Router resolves paths to channels. All reads go through an atomic pointer
// so a concurrent Update never exposes a torn mix of old and new groups.
type Router struct {
	channels *channel.Registry

	state atomic.Pointer[routerState]

	cursorMu sync.Mutex
	cursors  map[string]int
}

// New constructs a Router over the given channel registry with an initial
// (possibly empty) route group list. order is the channel declaration order
// from config, used to break priority-strategy ties on the synthetic
// default group (spec.md §4.C); channels registered but absent from order
// are appended afterward, alphabetically, for deterministic test/bootstrap
// use without a config-derived order.
func New(channels *channel.Registry, groups []RouteGroup, order []string) *Router {
	r := &Router{
		channels: channels,
		cursors:  make(map[string]int),
	}
	r.state.Store(&routerState{
		groups:  append([]RouteGroup(nil), groups...),
		default_: defaultGroup(channels, order),
	})
	return r
}

func defaultGroup(reg *channel.Registry, order []string) RouteGroup {
	seen := make(map[string]bool, len(order))
	names := make([]string, 0, len(order))
	for _, n := range order {
		if _, ok := reg.Get(n); ok && !seen[n] {
			names = append(names, n)
			seen[n] = true
		}
	}
	rest := reg.Names()
	sort.Strings(rest)
	for _, n := range rest {
		if !seen[n] {
			names = append(names, n)
			seen[n] = true
		}
	}
	return RouteGroup{PathPattern: "**", Channels: names, Strategy: StrategyPriority}
}

// Update atomically replaces the route group list and rebuilds the
// synthetic default group from the (already-reloaded) channel registry and
// the (already-reloaded) declared channel order.
// Per spec.md §4.C this is a full state swap, not a merge; round-robin
// cursors are keyed by pool identity and survive a reload that doesn't
// change pool membership, but are otherwise naturally reset by the new key.
func (r *Router) Update(groups []RouteGroup, order []string) {
	r.state.Store(&routerState{
		groups:  append([]RouteGroup(nil), groups...),
		default_: defaultGroup(r.channels, order),
	})
}

// Resolve selects a channel and credential for path on a first attempt.
func (r *Router) Resolve(path string) (Result, bool) {
	return r.resolve(path, nil)
}

// ResolveNext is the same algorithm restricted to channels not present in
// excluded, used by the retry controller on every attempt after the first.
func (r *Router) ResolveNext(path string, excluded map[string]bool) (Result, bool) {
	return r.resolve(path, excluded)
}

func (r *Router) resolve(path string, excluded map[string]bool) (Result, bool) {
	st := r.state.Load()
	group := r.matchGroup(st, path)

	candidates := r.loadChannels(group.Channels, excluded)

	pool := filterChannels(candidates, (*channel.Channel).IsAvailable)
	if len(pool) == 0 {
		pool = filterChannels(candidates, (*channel.Channel).IsFallbackCandidate)
	}
	if len(pool) == 0 {
		return Result{}, false
	}

	chosen := r.applyStrategy(group, pool)
	if chosen == nil {
		return Result{}, false
	}

	key, idx, ok := chosen.PickKey()
	if !ok {
		return Result{}, false
	}
	return Result{Channel: chosen, Key: key, KeyIndex: idx}, true
}

func (r *Router) matchGroup(st *routerState, path string) RouteGroup {
	for _, g := range st.groups {
		if matchPattern(g.PathPattern, path) {
			return g
		}
	}
	return st.default_
}

func (r *Router) loadChannels(names []string, excluded map[string]bool) []*channel.Channel {
	out := make([]*channel.Channel, 0, len(names))
	for _, n := range names {
		if excluded != nil && excluded[n] {
			continue
		}
		if c, ok := r.channels.Get(n); ok {
			out = append(out, c)
		}
	}
	return out
}

func filterChannels(in []*channel.Channel, pred func(*channel.Channel) bool) []*channel.Channel {
	out := make([]*channel.Channel, 0, len(in))
	for _, c := range in {
		if pred(c) {
			out = append(out, c)
		}
	}
	return out
}

func (r *Router) applyStrategy(group RouteGroup, pool []*channel.Channel) *channel.Channel {
	switch group.Strategy {
	case StrategyRoundRobin:
		return r.selectRoundRobin(pool)
	case StrategyLowestLatency:
		return selectLowestLatency(pool)
	default:
		return selectPriority(pool)
	}
}

// selectPriority sorts by (fallback asc, weight desc), ties broken by the
// pool's incoming declaration order (Go's sort.SliceStable preserves it).
func selectPriority(pool []*channel.Channel) *channel.Channel {
	sorted := append([]*channel.Channel(nil), pool...)
	sort.SliceStable(sorted, func(i, j int) bool {
		fi, fj := sorted[i].Fallback, sorted[j].Fallback
		if fi != fj {
			return !fi // non-fallback (false) sorts before fallback (true)
		}
		return sorted[i].Weight > sorted[j].Weight
	})
	return sorted[0]
}

// poolIdentity is the comma-joined channel-name list, used as the
// round-robin cursor key (spec.md §4.C): "maintain a cursor per pool
// identity".
func poolIdentity(pool []*channel.Channel) string {
	names := make([]string, len(pool))
	for i, c := range pool {
		names[i] = c.Name
	}
	return strings.Join(names, ",")
}

func (r *Router) selectRoundRobin(pool []*channel.Channel) *channel.Channel {
	key := poolIdentity(pool)

	r.cursorMu.Lock()
	idx := r.cursors[key]
	r.cursors[key] = (idx + 1) % len(pool)
	r.cursorMu.Unlock()

	return pool[idx%len(pool)]
}

func selectLowestLatency(pool []*channel.Channel) *channel.Channel {
	var best *channel.Channel
	var bestLatency float64
	for _, c := range pool {
		lat := c.LastLatencyMs()
		if lat == nil {
			continue
		}
		if best == nil || *lat < bestLatency {
			best = c
			bestLatency = *lat
		}
	}
	if best != nil {
		return best
	}
	// All null latency: fall back to declaration order, first candidate.
	return pool[0]
}

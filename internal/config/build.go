package config

import (
	"time"

	"github.com/ai-gateway/gatewayd/internal/channel"
	"github.com/ai-gateway/gatewayd/internal/retry"
	"github.com/ai-gateway/gatewayd/internal/router"
)

// BuildChannels constructs one channel.Channel per configured channel, in
// declaration order.
func (c *Config) BuildChannels() []*channel.Channel {
	out := make([]*channel.Channel, 0, len(c.Channels))
	for _, cc := range c.Channels {
		ch := channel.New(cc.Name, cc.Target, cc.Weight, cc.Fallback, true, cc.Keys, channel.KeyStrategy(cc.KeyStrategy))
		if cc.Tunnel != nil {
			ch.Tunnel = &channel.TunnelAdvert{
				Enabled:    cc.Tunnel.Enabled,
				LocalPort:  cc.Tunnel.LocalPort,
				RemotePort: cc.Tunnel.RemotePort,
			}
		}
		if cc.HealthCheck != nil {
			ch.HealthCheck = &channel.HealthCheckSpec{
				Path:       cc.HealthCheck.Path,
				IntervalMs: cc.HealthCheck.IntervalMs,
				TimeoutMs:  cc.HealthCheck.TimeoutMs,
			}
		}
		out = append(out, ch)
	}
	return out
}

// ChannelOrder returns channel names in declaration order, for the router's
// synthetic default-group tie-break (spec.md §4.C).
func (c *Config) ChannelOrder() []string {
	out := make([]string, len(c.Channels))
	for i, cc := range c.Channels {
		out[i] = cc.Name
	}
	return out
}

// BuildRouteGroups converts the YAML route list into router.RouteGroup
// values, in declaration order (match order matters, spec.md §4.C).
func (c *Config) BuildRouteGroups() []router.RouteGroup {
	out := make([]router.RouteGroup, 0, len(c.Routes))
	for _, rt := range c.Routes {
		out = append(out, router.RouteGroup{
			PathPattern: rt.Path,
			Channels:    rt.Channels,
			Strategy:    router.Strategy(rt.Strategy),
		})
	}
	return out
}

// BuildRetryPolicy converts the YAML retry settings into a retry.Policy.
func (c *Config) BuildRetryPolicy() retry.Policy {
	retryable := make(map[int]bool, len(c.Settings.Retry.RetryOn))
	for _, s := range c.Settings.Retry.RetryOn {
		retryable[s] = true
	}
	backoff := retry.BackoffExponential
	if c.Settings.Retry.Backoff == string(retry.BackoffFixed) {
		backoff = retry.BackoffFixed
	}
	return retry.Policy{
		MaxRetries:        c.Settings.Retry.MaxRetries,
		RetryableStatuses: retryable,
		Backoff:           backoff,
		BaseDelay:         time.Duration(c.Settings.Retry.BaseDelayMs) * time.Millisecond,
		MaxDelay:          time.Duration(c.Settings.Retry.MaxDelayMs) * time.Millisecond,
	}
}

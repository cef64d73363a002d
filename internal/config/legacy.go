package config

import "strings"

// convertLegacySites implements spec.md §6's compatibility shim: a legacy
// top-level `sites:` array becomes channels with tunnel.enabled=true, one
// credential derived from any embedded Authorization header, and default
// strategy/weight. This resolves Open Question 1 (spec.md §9): any other
// headers on a legacy site are dropped, and warn (if non-nil) is called
// once per dropped header set so the operator notices during migration.
func convertLegacySites(cfg *Config, warn func(format string, args ...any)) {
	if len(cfg.Sites) == 0 {
		return
	}

	for _, site := range cfg.Sites {
		keys := []string{""}
		if auth, ok := site.Headers["Authorization"]; ok && auth != "" {
			keys = []string{stripBearerPrefix(auth)}
		}

		dropped := 0
		for h := range site.Headers {
			if h != "Authorization" {
				dropped++
			}
		}
		if dropped > 0 && warn != nil {
			warn("legacy site %q: dropping %d non-Authorization header(s); only Authorization migrates to a credential", site.Name, dropped)
		}

		cfg.Channels = append(cfg.Channels, ChannelConfig{
			Name:        site.Name,
			Target:      site.Target,
			Keys:        keys,
			KeyStrategy: "round-robin",
			Weight:      10,
			Fallback:    false,
			Tunnel: &TunnelConfig{
				Enabled:    true,
				LocalPort:  site.LocalPort,
				RemotePort: site.RemotePort,
			},
		})
	}
	cfg.Sites = nil
}

// stripBearerPrefix removes a leading "Bearer " (any case) from a legacy
// Authorization header value, since internal/proxy/proxy.go's
// buildUpstreamRequest already adds its own "Bearer " prefix when it sets
// the upstream Authorization header from a channel credential.
func stripBearerPrefix(auth string) string {
	const prefix = "Bearer "
	if len(auth) >= len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return auth
}

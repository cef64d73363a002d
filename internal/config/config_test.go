package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalYAML = `
server:
  port: 8080
channels:
  - name: A
    target: http://upstream.example
    keys: ["k1"]
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, minimalYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 3000, cfg.Server.UI.Port)
	assert.Equal(t, "round-robin", cfg.Channels[0].KeyStrategy)
	assert.Equal(t, 10, cfg.Channels[0].Weight)
	assert.Equal(t, "exponential", cfg.Settings.Retry.Backoff)
	assert.Equal(t, []int{429, 502, 503, 504}, cfg.Settings.Retry.RetryOn)
}

func TestLoadRejectsMissingChannelFields(t *testing.T) {
	path := writeTempConfig(t, `
server:
  port: 8080
channels:
  - name: A
    keys: ["k1"]
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target")
}

func TestLoadRejectsDuplicateChannelNames(t *testing.T) {
	path := writeTempConfig(t, `
server:
  port: 8080
channels:
  - {name: A, target: "http://a.example", keys: ["k1"]}
  - {name: A, target: "http://b.example", keys: ["k2"]}
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestLoadRejectsRouteReferencingUnknownChannel(t *testing.T) {
	path := writeTempConfig(t, `
server:
  port: 8080
channels:
  - {name: A, target: "http://a.example", keys: ["k1"]}
routes:
  - {path: "/v1/**", channels: ["ghost"], strategy: "priority"}
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown channel")
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	path := writeTempConfig(t, `
server:
  port: 99999
channels:
  - {name: A, target: "http://a.example", keys: ["k1"]}
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestLegacySitesConvertToChannelsWithTunnelEnabled(t *testing.T) {
	path := writeTempConfig(t, `
server:
  port: 8080
sites:
  - name: legacy-a
    target: "http://legacy.example"
    remotePort: 9001
    localPort: 4001
    headers:
      Authorization: "Bearer secret-token"
      X-Custom: "dropped"
`)
	var warnings []string
	cfg, err := LoadWithWarn(path, func(format string, args ...any) {
		warnings = append(warnings, format)
	})
	require.NoError(t, err)
	require.Len(t, cfg.Channels, 1)

	ch := cfg.Channels[0]
	assert.Equal(t, "legacy-a", ch.Name)
	assert.Equal(t, []string{"secret-token"}, ch.Keys)
	require.NotNil(t, ch.Tunnel)
	assert.True(t, ch.Tunnel.Enabled)
	assert.Equal(t, 9001, ch.Tunnel.RemotePort)
	assert.Len(t, warnings, 1)
	assert.Empty(t, cfg.Sites)
}

func TestResolvePathPrefersEnvOverride(t *testing.T) {
	t.Setenv("TUNNEL_CONFIG", "/tmp/from-env.yaml")
	t.Setenv("AI_TUNNEL_CONFIG", "")
	assert.Equal(t, "/tmp/from-env.yaml", ResolvePath("/tmp/from-flag.yaml"))
}

func TestResolvePathFallsBackToFlagThenDefault(t *testing.T) {
	t.Setenv("TUNNEL_CONFIG", "")
	t.Setenv("AI_TUNNEL_CONFIG", "")
	assert.Equal(t, "/tmp/from-flag.yaml", ResolvePath("/tmp/from-flag.yaml"))
	assert.NotEmpty(t, ResolvePath(""))
}

func TestBuildChannelsAndRetryPolicy(t *testing.T) {
	path := writeTempConfig(t, minimalYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	chans := cfg.BuildChannels()
	require.Len(t, chans, 1)
	assert.Equal(t, "A", chans[0].Name)

	policy := cfg.BuildRetryPolicy()
	assert.True(t, policy.ShouldRetry(502))
	assert.False(t, policy.ShouldRetry(400))
}

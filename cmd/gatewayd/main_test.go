package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ai-gateway/gatewayd/internal/config"
)

func TestNewLogger(t *testing.T) {
	tmpDir := t.TempDir()

	logger, err := newLogger("info", tmpDir)
	require.NoError(t, err)
	require.NotNil(t, logger)

	logger.Info("test message")
	_ = logger.Sync()

	_, err = os.Stat(filepath.Join(tmpDir, "gatewayd.log"))
	require.NoError(t, err)
}

func TestNewLoggerLevels(t *testing.T) {
	tmpDir := t.TempDir()
	for _, level := range []string{"debug", "info", "warn", "error", "invalid"} {
		logger, err := newLogger(level, tmpDir)
		require.NoError(t, err)
		require.NotNil(t, logger)
	}
}

func TestNewLoggerCreatesNestedDir(t *testing.T) {
	tmpDir := filepath.Join(t.TempDir(), "nested", "logs")
	_, err := newLogger("info", tmpDir)
	require.NoError(t, err)

	info, err := os.Stat(tmpDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestParseBusLevel(t *testing.T) {
	assert.Equal(t, 0, int(parseBusLevel("debug")))
	assert.Equal(t, 1, int(parseBusLevel("info")))
	assert.Equal(t, 2, int(parseBusLevel("warn")))
	assert.Equal(t, 3, int(parseBusLevel("error")))
	assert.Equal(t, 1, int(parseBusLevel("")), "unrecognized level defaults to info")
}

func TestGetLogDirDefaultsWhenUnset(t *testing.T) {
	t.Setenv("GATEWAYD_LOGS_DIR", "")
	assert.Equal(t, "logs", getLogDir())
}

func TestGetLogDirHonorsEnvOverride(t *testing.T) {
	t.Setenv("GATEWAYD_LOGS_DIR", "/tmp/custom-logs")
	assert.Equal(t, "/tmp/custom-logs", getLogDir())
}

func TestBuildTunnelManagerNilWithoutSSHConfig(t *testing.T) {
	cfg := &config.Config{}
	assert.Nil(t, buildTunnelManager(cfg, zap.NewNop()))
}

func TestBuildTunnelManagerNilWhenNoChannelEnablesTunnel(t *testing.T) {
	cfg := &config.Config{
		SSH: &config.SSHConfig{Host: "tunnel.example.com", Port: 22, Username: "u"},
		Channels: []config.ChannelConfig{
			{Name: "A", Target: "https://a.example.com", Keys: []string{"k"}},
		},
	}
	assert.Nil(t, buildTunnelManager(cfg, zap.NewNop()))
}

func TestBuildTunnelManagerCollectsEnabledPairs(t *testing.T) {
	cfg := &config.Config{
		SSH: &config.SSHConfig{Host: "tunnel.example.com", Port: 22, Username: "u", Password: "p"},
		Channels: []config.ChannelConfig{
			{Name: "A", Target: "https://a.example.com", Keys: []string{"k"}, Tunnel: &config.TunnelConfig{Enabled: true, LocalPort: 4001, RemotePort: 9001}},
			{Name: "B", Target: "https://b.example.com", Keys: []string{"k"}, Tunnel: &config.TunnelConfig{Enabled: false, LocalPort: 4002, RemotePort: 9002}},
		},
	}
	mgr := buildTunnelManager(cfg, zap.NewNop())
	require.NotNil(t, mgr)
}

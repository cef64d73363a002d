package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ai-gateway/gatewayd/internal/channel"
	"github.com/ai-gateway/gatewayd/internal/eventbus"
)

func newTestServer(t *testing.T) (*Server, *channel.Registry, *eventbus.Bus) {
	t.Helper()
	reg := channel.NewRegistry()
	ch := channel.New("A", "http://upstream.example", 10, false, true, []string{"k1", "k2"}, channel.StrategyRoundRobin)
	reg.Put(ch)

	bus := eventbus.New(zap.NewNop(), eventbus.Debug)
	s := NewServer(Deps{Registry: reg, Bus: bus, AuthToken: "secret", Logger: zap.NewNop()})
	return s, reg, bus
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestStatusRequiresAuth(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetStatusReportsChannelCounts(t *testing.T) {
	s, reg, _ := newTestServer(t)
	ch, _ := reg.Get("A")
	ch.SetHealth(channel.HealthHealthy, nil)

	rec := doRequest(s, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "running", body["status"])
	channels := body["channels"].(map[string]any)
	assert.Equal(t, float64(1), channels["healthy"])
	assert.Equal(t, float64(1), channels["total"])
}

func TestListChannelsReturnsViews(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/channels", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var views []channel.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "A", views[0].Name)
	assert.Equal(t, 2, views[0].TotalKeys)
}

func TestToggleChannelFlipsEnabled(t *testing.T) {
	s, reg, _ := newTestServer(t)
	ch, _ := reg.Get("A")
	require.True(t, ch.IsEnabled())

	rec := doRequest(s, http.MethodPost, "/api/channels/A/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, ch.IsEnabled())
}

func TestToggleUnknownChannelReturns404(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/api/channels/missing/toggle", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddAndRemoveKey(t *testing.T) {
	s, reg, _ := newTestServer(t)
	ch, _ := reg.Get("A")
	require.Equal(t, 2, ch.TotalKeys())

	rec := doRequest(s, http.MethodPost, "/api/channels/A/keys", `{"key":"k3"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, ch.TotalKeys())

	rec = doRequest(s, http.MethodDelete, "/api/channels/A/keys/0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, ch.TotalKeys())

	rec = doRequest(s, http.MethodDelete, "/api/channels/A/keys/99", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetStatsAggregatesAcrossChannels(t *testing.T) {
	s, reg, _ := newTestServer(t)
	ch, _ := reg.Get("A")
	ch.RecordSuccess(12.5)
	ch.RecordFailure("boom")

	rec := doRequest(s, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	agg := body["aggregate"].(map[string]any)
	assert.Equal(t, float64(2), agg["total_requests"])
	assert.Equal(t, 0.5, agg["success_rate"])
}

func TestRecentLogsReturnsSnapshot(t *testing.T) {
	s, _, bus := newTestServer(t)
	bus.Emit(eventbus.Info, "request", "hello", nil)

	rec := doRequest(s, http.MethodGet, "/api/logs/recent", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var records []eventbus.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "hello", records[0].Message)
}

func TestConfigReloadEmitsEvent(t *testing.T) {
	s, _, bus := newTestServer(t)
	received, cancel := bus.Subscribe("config_reload_request")
	defer cancel()

	rec := doRequest(s, http.MethodPost, "/api/config/reload", "")
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case rec := <-received:
		assert.Equal(t, "config_reload_request", rec.Tag)
	default:
		t.Fatal("expected a config_reload_request event")
	}
}

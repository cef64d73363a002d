// Package proxy implements the streaming reverse-proxy ingress: body
// buffering with replay, a retry/failover loop driven by internal/router
// and internal/retry, and SSE passthrough to the client. It is a
// hand-rolled net/http.Handler rather than built on gin or httputil's
// ReverseProxy, because neither specializes in the buffer-then-replay
// contract a multi-upstream failover loop requires.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ai-gateway/gatewayd/internal/channel"
	"github.com/ai-gateway/gatewayd/internal/eventbus"
	"github.com/ai-gateway/gatewayd/internal/retry"
	"github.com/ai-gateway/gatewayd/internal/router"
)

const (
	maxBodyBytes     = 10 << 20 // 10 MiB
	bodyReadTimeout  = 15 * time.Second
	upstreamDialTimeout = 30 * time.Second
)

// strippedRequestHeaders are never forwarded upstream (spec.md §4.E).
var strippedRequestHeaders = []string{
	"Connection", "Keep-Alive", "Transfer-Encoding", "Upgrade",
	"Proxy-Connection", "Proxy-Authorization",
	"X-Forwarded-For", "X-Forwarded-Host", "X-Forwarded-Proto",
	"X-Real-Ip", "Via", "Forwarded", "Authorization", "Content-Length",
}

// bufferedStatuses are the upstream statuses whose body is fully buffered
// and whose outcome is classified rather than streamed to the client.
var bufferedStatuses = map[int]bool{401: true, 403: true, 429: true, 502: true, 503: true, 504: true}

// Server is the reverse-proxy HTTP handler.
type Server struct {
	router    *router.Router
	policy    func() retry.Policy
	bus       *eventbus.Bus
	transport *TransportPool
}

// New builds a Server. policy is called once per request so a hot reload's
// new retry settings apply immediately to in-flight-free requests.
func New(r *router.Router, policy func() retry.Policy, bus *eventbus.Bus) *Server {
	return &Server{
		router:    r,
		policy:    policy,
		bus:       bus,
		transport: NewTransportPool(),
	}
}

// errorEnvelope is the JSON body returned on every non-upstream failure.
type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: code, Message: message})
}

// ServeHTTP implements the full state machine from spec.md §4.E:
// BUFFERING -> SELECTING -> DISPATCHING -> STREAMING|CLASSIFY -> ... -> DONE.
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	requestID := uuid.New().String()
	start := time.Now()

	body, err := bufferBody(req)
	if err != nil {
		if err == errBodyTooLarge {
			s.bus.Emit(eventbus.Warn, "request", "body too large", map[string]any{"request_id": requestID})
			writeJSONError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body exceeds 10 MiB limit")
			return
		}
		s.bus.Emit(eventbus.Warn, "request", "body read timeout", map[string]any{"request_id": requestID})
		writeJSONError(w, http.StatusRequestTimeout, "body_read_timeout", "reading request body timed out")
		return
	}

	disconnected := newDisconnectFlag(req)
	policy := s.policy()
	excluded := make(map[string]bool)

	for attempt := 0; attempt < policy.MaxAttempts(); attempt++ {
		if disconnected.isSet() {
			return
		}

		var res router.Result
		var ok bool
		if attempt == 0 {
			res, ok = s.router.Resolve(req.URL.Path)
		} else {
			res, ok = s.router.ResolveNext(req.URL.Path, excluded)
		}
		if !ok {
			s.bus.Emit(eventbus.Error, "request", "no available channel", map[string]any{"request_id": requestID, "error": "No available channel"})
			writeJSONError(w, http.StatusServiceUnavailable, "no_available_channel", "No available channel")
			return
		}

		outcome := s.dispatch(req.Context(), res, req, body, w, requestID, disconnected)

		switch outcome.kind {
		case outcomeStreamed:
			res.Channel.RecordSuccess(outcome.latencyMs)
			res.Channel.MarkKeySuccess(res.KeyIndex)
			s.bus.Emit(eventbus.Info, "request", "streamed", map[string]any{
				"request_id": requestID, "channel": res.Channel.Name, "latency_ms": outcome.latencyMs,
			})
			return

		case outcomeRetryableStatus:
			s.classify(res, outcome.status, excluded)
			if !policy.ShouldRetry(outcome.status) && !retry.IsKeyFailure(outcome.status) {
				forwardBuffered(w, outcome)
				return
			}
			if attempt == policy.MaxAttempts()-1 {
				break
			}
			s.sleep(req.Context(), outcome.retryAfter, policy, attempt)
			continue

		case outcomeTransportError:
			res.Channel.RecordFailure(outcome.err.Error())
			if outcome.headersSent {
				// STREAMING is terminal (spec.md §4.E): the client already
				// received a partial response, so a second upstream attempt
				// would corrupt it. Log and stop, do not retry.
				s.bus.Emit(eventbus.Warn, "request", "stream interrupted after response started", map[string]any{
					"request_id": requestID, "channel": res.Channel.Name, "error": outcome.err.Error(),
				})
				return
			}
			excluded[res.Channel.Name] = true
			if attempt == policy.MaxAttempts()-1 {
				break
			}
			s.sleep(req.Context(), 0, policy, attempt)
			continue
		}
	}

	s.bus.Emit(eventbus.Error, "request", "retries exhausted", map[string]any{
		"request_id": requestID, "elapsed_ms": float64(time.Since(start).Milliseconds()),
	})
	writeJSONError(w, http.StatusBadGateway, "retries_exhausted", "all upstream attempts failed")
}

// classify applies spec.md §4.E step (e)'s credential/channel bookkeeping.
func (s *Server) classify(res router.Result, status int, excluded map[string]bool) {
	if retry.IsKeyFailure(status) || status == http.StatusTooManyRequests {
		res.Channel.MarkKeyFailed(res.KeyIndex)
	}
	if retry.IsChannelFailure(status) {
		res.Channel.RecordFailure(fmt.Sprintf("upstream status %d", status))
		excluded[res.Channel.Name] = true
	}
}

func (s *Server) sleep(ctx context.Context, retryAfter time.Duration, policy retry.Policy, attempt int) {
	d := retryAfter
	if d == 0 {
		d = policy.Delay(attempt)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func forwardBuffered(w http.ResponseWriter, outcome dispatchOutcome) {
	for k, vv := range outcome.header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(outcome.status)
	_, _ = w.Write(outcome.body)
}

var errBodyTooLarge = fmt.Errorf("request body exceeds %d bytes", maxBodyBytes)
var errBodyReadTimeout = fmt.Errorf("request body read exceeded %s", bodyReadTimeout)

// bufferBody reads the full request body up to maxBodyBytes within
// bodyReadTimeout, so a retry against a different upstream can replay it.
func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	limited := io.LimitReader(req.Body, maxBodyBytes+1)

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := io.ReadAll(limited)
		done <- result{data, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		if len(r.data) > maxBodyBytes {
			return nil, errBodyTooLarge
		}
		return r.data, nil
	case <-time.After(bodyReadTimeout):
		return nil, errBodyReadTimeout
	}
}

// buildUpstreamRequest applies the header strip/set contract and targets
// channel.Target + the incoming path.
func buildUpstreamRequest(ctx context.Context, ch *channel.Channel, credential string, req *http.Request, body []byte) (*http.Request, error) {
	target := strings.TrimRight(ch.Target, "/") + req.URL.Path
	if req.URL.RawQuery != "" {
		target += "?" + req.URL.RawQuery
	}

	upReq, err := http.NewRequestWithContext(ctx, req.Method, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	for k, vv := range req.Header {
		if headerIsStripped(k) {
			continue
		}
		for _, v := range vv {
			upReq.Header.Add(k, v)
		}
	}
	upReq.Header.Set("Authorization", "Bearer "+credential)
	upReq.ContentLength = int64(len(body))
	upReq.Header.Set("Content-Length", strconv.Itoa(len(body)))
	upReq.Host = upReq.URL.Host

	return upReq, nil
}

func headerIsStripped(name string) bool {
	for _, s := range strippedRequestHeaders {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return strings.HasPrefix(strings.ToLower(name), "x-forwarded-")
}

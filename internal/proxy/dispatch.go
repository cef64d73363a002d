package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ai-gateway/gatewayd/internal/retry"
	"github.com/ai-gateway/gatewayd/internal/router"
)

type outcomeKind int

const (
	outcomeStreamed outcomeKind = iota
	outcomeRetryableStatus
	outcomeTransportError
)

// dispatchOutcome is the result of one upstream attempt, per spec.md §4.E's
// "Upstream dispatch contract": streamed (already written to the client),
// retryableStatus (buffered for classification), or transportError.
type dispatchOutcome struct {
	kind       outcomeKind
	status     int
	header     http.Header
	body       []byte
	retryAfter time.Duration
	latencyMs  float64
	err        error

	// headersSent marks a transportError that happened after the response
	// status/headers were already written to the client — the STREAMING
	// state is terminal (spec.md §4.E), so this outcome must never be
	// retried against a second upstream onto the same, already-committed
	// http.ResponseWriter.
	headersSent bool
}

// disconnectFlag tracks whether the client connection closed before the
// response completed, armed for the request's whole lifetime (spec.md
// §4.E step 2).
type disconnectFlag struct {
	ctx context.Context
	set atomic.Bool
}

func newDisconnectFlag(req *http.Request) *disconnectFlag {
	f := &disconnectFlag{ctx: req.Context()}
	go func() {
		<-f.ctx.Done()
		f.set.Store(true)
	}()
	return f
}

func (f *disconnectFlag) isSet() bool { return f.set.Load() }

// dispatch sends one upstream attempt and classifies the result.
func (s *Server) dispatch(ctx context.Context, res router.Result, req *http.Request, body []byte, w http.ResponseWriter, requestID string, disconnected *disconnectFlag) dispatchOutcome {
	start := time.Now()

	upReq, err := buildUpstreamRequest(ctx, res.Channel, res.Key, req, body)
	if err != nil {
		return dispatchOutcome{kind: outcomeTransportError, err: err}
	}

	client := &http.Client{Transport: s.transport.Get(upReq.URL)}
	resp, err := client.Do(upReq)
	if err != nil {
		return dispatchOutcome{kind: outcomeTransportError, err: err}
	}
	defer resp.Body.Close()

	if bufferedStatuses[resp.StatusCode] {
		buf, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return dispatchOutcome{kind: outcomeTransportError, err: readErr}
		}
		var retryAfter time.Duration
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if d, ok := retry.ParseRetryAfter(ra, time.Now()); ok {
				retryAfter = d
			}
		}
		return dispatchOutcome{
			kind:       outcomeRetryableStatus,
			status:     resp.StatusCode,
			header:     resp.Header.Clone(),
			body:       buf,
			retryAfter: retryAfter,
		}
	}

	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	if isEventStream(resp.Header.Get("Content-Type")) {
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Accel-Buffering", "no")
	}
	w.WriteHeader(resp.StatusCode)

	streamErr := streamBody(w, resp.Body, disconnected)
	latencyMs := float64(time.Since(start).Milliseconds())
	if streamErr != nil && !errors.Is(streamErr, context.Canceled) {
		return dispatchOutcome{kind: outcomeTransportError, err: streamErr, latencyMs: latencyMs, headersSent: true}
	}
	return dispatchOutcome{kind: outcomeStreamed, status: resp.StatusCode, latencyMs: latencyMs}
}

func isEventStream(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(contentType), "text/event-stream")
}

// streamBody copies resp body to w without accumulation, flushing after
// every chunk so SSE deliveries aren't buffered. It tears the read down
// immediately if the client has disconnected.
func streamBody(w http.ResponseWriter, body io.Reader, disconnected *disconnectFlag) error {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		if disconnected.isSet() {
			return context.Canceled
		}
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-go/live-relay/pkg/gateway/config"
	"github.com/vango-go/live-relay/pkg/gateway/live/protocol"
	"github.com/vango-go/live-relay/pkg/relay"
)

type blockingRemote struct {
	done chan struct{}
	once sync.Once
}

func newBlockingRemote() *blockingRemote {
	return &blockingRemote{done: make(chan struct{})}
}

func (r *blockingRemote) SendAudio(context.Context, relay.OutboundItem) error { return nil }

func (r *blockingRemote) Receive(ctx context.Context) (relay.Response, error) {
	select {
	case <-r.done:
		return relay.Response{}, relay.ErrRemoteClosed
	case <-ctx.Done():
		return relay.Response{}, context.Cause(ctx)
	}
}

func (r *blockingRemote) Close() error {
	r.once.Do(func() { close(r.done) })
	return nil
}

type stubConnector struct {
	err error
}

func (c stubConnector) Connect(context.Context) (relay.RemoteSession, error) {
	if c.err != nil {
		return nil, c.err
	}
	return newBlockingRemote(), nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<title>Live Audio</title>"), 0o644); err != nil {
		t.Fatal(err)
	}
	return config.Config{
		StaticDir:          dir,
		GoogleAPIKey:       "test-key",
		Model:              "test-model",
		CORSAllowedOrigins: map[string]struct{}{},
		OutboundQueueSize:  5,
		MaxFrameBytes:      64 * 1024,
		MaxSendFailures:    5,
		MaxReceiveFailures: 5,
		ConnectTimeout:     time.Second,
		WSWriteTimeout:     time.Second,
	}
}

func newTestServer(t *testing.T, connector relay.Connector) *Server {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return New(testConfig(t), logger, connector)
}

func TestServer_UnknownRoute_ReturnsJSON404(t *testing.T) {
	s := newTestServer(t, stubConnector{})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%q", ct)
	}
	if !strings.Contains(rr.Body.String(), `"type":"not_found_error"`) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}
}

func TestServer_IndexAndHealthCheck(t *testing.T) {
	s := newTestServer(t, stubConnector{})
	h := s.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "Live Audio") {
		t.Fatalf("index status=%d body=%q", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health-check", nil))
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "✅ API is running!" {
		t.Fatalf("health-check=%v", resp)
	}
}

func TestServer_MetricsRoute_Reachable(t *testing.T) {
	s := newTestServer(t, stubConnector{})
	s.metrics.RecordSessionStart()

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "live_relay_sessions_active 1") {
		t.Fatalf("metrics body missing gauge: %q", rr.Body.String())
	}
}

func TestServer_DrainingFlipsReadyz(t *testing.T) {
	s := newTestServer(t, stubConnector{})
	h := s.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("ready status=%d body=%q", rr.Code, rr.Body.String())
	}

	s.SetDraining()
	if !s.Draining() {
		t.Fatalf("Draining()=false after SetDraining")
	}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("draining status=%d, want 503", rr.Code)
	}
}

func TestServer_LiveSessionDrainLifecycle(t *testing.T) {
	s := newTestServer(t, stubConnector{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/live-audio"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, data, err := conn.ReadMessage(); err != nil || string(data) != protocol.StatusStarting {
		t.Fatalf("greeting=%q err=%v", data, err)
	}
	if got := s.LiveSessionCount(); got != 1 {
		t.Fatalf("live sessions=%d, want 1", got)
	}

	s.SetDraining()
	if _, resp, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil || resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("second dial while draining err=%v resp=%v, want 503", err, resp)
	}

	if n := s.NotifyLiveSessionsDraining(); n != 1 {
		t.Fatalf("notified=%d, want 1", n)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, data, err := conn.ReadMessage(); err != nil || string(data) != protocol.ShutdownText() {
		t.Fatalf("shutdown frame=%q err=%v", data, err)
	}

	shortCtx, cancelShort := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelShort()
	if s.WaitLiveSessions(shortCtx) {
		t.Fatalf("expected wait to time out with a connected client")
	}

	if n := s.CancelLiveSessions(); n != 1 {
		t.Fatalf("cancelled=%d, want 1", n)
	}
	waitCtx, cancelWait := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelWait()
	if !s.WaitLiveSessions(waitCtx) {
		t.Fatalf("live session still running after cancel")
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("err=%v, want close frame", err)
	}
}

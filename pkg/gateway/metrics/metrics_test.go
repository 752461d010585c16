package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/vango-go/live-relay/pkg/relay"
)

func TestMetrics_SessionLifecycle(t *testing.T) {
	m := New("test")
	m.RecordSessionStart()
	m.RecordSessionStart()
	if got := testutil.ToFloat64(m.SessionsActive); got != 2 {
		t.Fatalf("sessions_active=%v, want 2", got)
	}

	m.RecordSessionEnd("gemini", relay.StateClosingClientGone, 3*time.Second)
	if got := testutil.ToFloat64(m.SessionsActive); got != 1 {
		t.Fatalf("sessions_active=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SessionsTotal.WithLabelValues("client_gone")); got != 1 {
		t.Fatalf("sessions_total{client_gone}=%v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.SessionDuration); got != 1 {
		t.Fatalf("session_duration series=%d, want 1", got)
	}
}

func TestMetrics_AudioAndFailures(t *testing.T) {
	m := New("test")
	m.RecordAudio(relay.DirectionInput, 320)
	m.RecordAudio(relay.DirectionInput, 320)
	m.RecordAudio(relay.DirectionOutput, 960)
	m.RecordSendFailure()
	m.RecordReceiveFailure()
	m.RecordReceiveFailure()
	m.AddInboundQueued(3)
	m.AddInboundQueued(-1)
	m.RecordRejected("draining")

	if got := testutil.ToFloat64(m.AudioFramesTotal.WithLabelValues("input")); got != 2 {
		t.Fatalf("audio_frames_total{input}=%v, want 2", got)
	}
	if got := testutil.ToFloat64(m.AudioBytesTotal.WithLabelValues("input")); got != 640 {
		t.Fatalf("audio_bytes_total{input}=%v, want 640", got)
	}
	if got := testutil.ToFloat64(m.AudioBytesTotal.WithLabelValues("output")); got != 960 {
		t.Fatalf("audio_bytes_total{output}=%v, want 960", got)
	}
	if got := testutil.ToFloat64(m.RemoteFailuresTotal.WithLabelValues("receive")); got != 2 {
		t.Fatalf("remote_failures_total{receive}=%v, want 2", got)
	}
	if got := testutil.ToFloat64(m.InboundQueued); got != 2 {
		t.Fatalf("inbound_queue_frames=%v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RejectedTotal.WithLabelValues("draining")); got != 1 {
		t.Fatalf("upgrades_rejected_total{draining}=%v, want 1", got)
	}
}

func TestMetrics_HandlerExposesNamespace(t *testing.T) {
	m := New("")
	m.RecordSessionStart()

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	if !strings.Contains(string(body), "live_relay_sessions_active 1") {
		t.Fatalf("metrics body missing sessions gauge:\n%s", body)
	}
}

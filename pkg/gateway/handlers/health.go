package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/vango-go/live-relay/pkg/gateway/config"
	"github.com/vango-go/live-relay/pkg/gateway/live/protocol"
)

// APIStatusRunning is the /health-check payload status.
const APIStatusRunning = "✅ API is running!"

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// HealthCheckHandler serves the browser-facing status check.
type HealthCheckHandler struct{}

func (h HealthCheckHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": APIStatusRunning})
}

// DrainState reports whether the server is shutting down.
type DrainState interface {
	Draining() bool
}

type ReadyHandler struct {
	Config config.Config
	Drain  DrainState
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK       bool                 `json:"ok"`
		Model    string               `json:"model"`
		Draining bool                 `json:"draining"`
		AudioIn  protocol.AudioFormat `json:"audio_in"`
		AudioOut protocol.AudioFormat `json:"audio_out"`
		Issues   []string             `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	if h.Config.GoogleAPIKey == "" {
		issues = append(issues, "google api key is not configured")
	}
	if h.Config.Model == "" {
		issues = append(issues, "model is not configured")
	}
	if h.Config.OutboundQueueSize <= 0 {
		issues = append(issues, "outbound queue size must be > 0")
	}
	if h.Config.MaxFrameBytes <= 0 {
		issues = append(issues, "max frame bytes must be > 0")
	}
	if h.Config.MaxSendFailures <= 0 || h.Config.MaxReceiveFailures <= 0 {
		issues = append(issues, "failure limits must be > 0")
	}
	if h.Config.ConnectTimeout <= 0 || h.Config.WSWriteTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}

	draining := h.Drain != nil && h.Drain.Draining()
	ok := len(issues) == 0 && !draining
	status := http.StatusOK
	switch {
	case draining:
		status = http.StatusServiceUnavailable
	case !ok:
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, readyResp{
		OK:       ok,
		Model:    h.Config.Model,
		Draining: draining,
		AudioIn:  protocol.InputFormat,
		AudioOut: protocol.OutputFormat,
		Issues:   issues,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

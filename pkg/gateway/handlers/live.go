package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vango-go/live-relay/pkg/gateway/apierror"
	"github.com/vango-go/live-relay/pkg/gateway/config"
	"github.com/vango-go/live-relay/pkg/gateway/live/protocol"
	"github.com/vango-go/live-relay/pkg/gateway/live/sessions"
	"github.com/vango-go/live-relay/pkg/gateway/metrics"
	"github.com/vango-go/live-relay/pkg/gateway/mw"
	"github.com/vango-go/live-relay/pkg/relay"
)

// LiveAudioHandler handles /ws/live-audio websocket sessions.
type LiveAudioHandler struct {
	Config       config.Config
	Connector    relay.Connector
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	LiveSessions *sessions.Tracker

	// NewSessionID overrides session id generation in tests.
	NewSessionID func() string
}

func (h LiveAudioHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	if h.LiveSessions.Draining() {
		h.reject(w, "draining", http.StatusServiceUnavailable, &apierror.Error{
			Type:      apierror.ErrOverloaded,
			Message:   "server is draining",
			Code:      "draining",
			RequestID: reqID,
		})
		return
	}
	if !mw.OriginAllowed(h.Config.CORSAllowedOrigins, r.Header.Get("Origin")) {
		h.reject(w, "origin", http.StatusForbidden, &apierror.Error{
			Type:      apierror.ErrInvalidRequest,
			Message:   "origin is not allowed",
			Param:     "Origin",
			RequestID: reqID,
		})
		return
	}
	if !mw.IsWebSocketUpgrade(r) {
		h.reject(w, "not_upgrade", http.StatusUpgradeRequired, &apierror.Error{
			Type:      apierror.ErrInvalidRequest,
			Message:   "websocket upgrade required",
			Code:      "upgrade_required",
			RequestID: reqID,
		})
		return
	}
	if h.Connector == nil {
		h.reject(w, "unavailable", http.StatusServiceUnavailable, &apierror.Error{
			Type:      apierror.ErrAPI,
			Message:   "live relay is not configured",
			RequestID: reqID,
		})
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.recordRejected("upgrade")
		return
	}
	defer conn.Close()

	sessionID := h.newSessionID()
	logger := h.logger()

	var recorder relay.Recorder
	if h.Metrics != nil {
		recorder = h.Metrics
	}

	s, err := relay.New(relay.Dependencies{
		Conn:      conn,
		Connector: h.Connector,
		Logger:    logger,
		Recorder:  recorder,
		SessionID: sessionID,
		RequestID: reqID,
		Greeting:  protocol.StatusStarting,
		ErrorText: protocol.ErrorText,
		Config: relay.Config{
			OutboundQueueSize:             h.Config.OutboundQueueSize,
			MaxFrameBytes:                 h.Config.MaxFrameBytes,
			MaxAudioBytesPerSecond:        h.Config.MaxAudioBytesPerSecond,
			AudioBurstSeconds:             h.Config.AudioBurstSeconds,
			MaxConsecutiveSendFailures:    h.Config.MaxSendFailures,
			MaxConsecutiveReceiveFailures: h.Config.MaxReceiveFailures,
			ConnectTimeout:                h.Config.ConnectTimeout,
			PingInterval:                  h.Config.WSPingInterval,
			WriteTimeout:                  h.Config.WSWriteTimeout,
			ReadTimeout:                   h.Config.WSReadTimeout,
		},
	})
	if err != nil {
		logger.Error("live session init failed", "session_id", sessionID, "request_id", reqID, "error", err)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(protocol.ErrorText(errors.New("failed to initialize live session"))))
		return
	}

	unregister, ok := h.LiveSessions.Register(sessionID, sessions.Handle{
		Cancel: s.Cancel,
		Notify: s.SendText,
	})
	if !ok {
		// Drain started between the check above and the upgrade.
		_ = s.SendText(protocol.ShutdownText())
		s.Cancel()
		h.recordRejected("draining")
		return
	}
	defer unregister()

	if h.Metrics != nil {
		h.Metrics.RecordSessionStart()
	}
	started := time.Now()
	logger.Info("live session started", "session_id", sessionID, "request_id", reqID, "remote_addr", r.RemoteAddr)

	runErr := s.Run(context.WithoutCancel(r.Context()))

	duration := time.Since(started)
	state := s.TerminalState()
	if h.Metrics != nil {
		h.Metrics.RecordSessionEnd(h.Config.Model, state, duration)
	}
	if runErr != nil {
		apiErr, _ := apierror.FromError(runErr, reqID)
		logger.Warn("live session ended with error",
			"session_id", sessionID,
			"request_id", reqID,
			"state", state.String(),
			"code", apiErr.Code,
			"duration_ms", duration.Milliseconds(),
			"error", runErr,
		)
		return
	}
	logger.Info("live session ended",
		"session_id", sessionID,
		"request_id", reqID,
		"state", state.String(),
		"duration_ms", duration.Milliseconds(),
	)
}

func (h LiveAudioHandler) reject(w http.ResponseWriter, reason string, status int, apiErr *apierror.Error) {
	h.recordRejected(reason)
	apierror.Write(w, status, apiErr)
}

func (h LiveAudioHandler) recordRejected(reason string) {
	if h.Metrics != nil {
		h.Metrics.RecordRejected(reason)
	}
}

func (h LiveAudioHandler) newSessionID() string {
	if h.NewSessionID != nil {
		if id := h.NewSessionID(); id != "" {
			return id
		}
	}
	return "live_" + uuid.NewString()
}

func (h LiveAudioHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	apierror.Write(w, http.StatusMethodNotAllowed, &apierror.Error{
		Type:      apierror.ErrInvalidRequest,
		Message:   "method not allowed",
		Code:      "method_not_allowed",
		RequestID: reqID,
	})
}

package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vango-go/live-relay/pkg/gateway/config"
	"github.com/vango-go/live-relay/pkg/gateway/handlers"
	"github.com/vango-go/live-relay/pkg/gateway/live/protocol"
	"github.com/vango-go/live-relay/pkg/gateway/live/sessions"
	"github.com/vango-go/live-relay/pkg/gateway/metrics"
	"github.com/vango-go/live-relay/pkg/gateway/mw"
	"github.com/vango-go/live-relay/pkg/relay"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	connector    relay.Connector
	metrics      *metrics.Metrics
	liveSessions *sessions.Tracker
}

func New(cfg config.Config, logger *slog.Logger, connector relay.Connector) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:          cfg,
		logger:       logger,
		mux:          http.NewServeMux(),
		connector:    connector,
		metrics:      metrics.New(""),
		liveSessions: sessions.NewTracker(),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/", handlers.IndexHandler{Dir: s.cfg.StaticDir})
	s.mux.Handle("/static/", http.StripPrefix("/static/", handlers.StaticHandler(s.cfg.StaticDir)))

	s.mux.Handle("/health-check", handlers.HealthCheckHandler{})
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Drain: s.liveSessions})
	s.mux.Handle("/metrics", s.metrics.Handler())

	s.mux.Handle("/ws/live-audio", handlers.LiveAudioHandler{
		Config:       s.cfg,
		Connector:    s.connector,
		Logger:       s.logger,
		Metrics:      s.metrics,
		LiveSessions: s.liveSessions,
	})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg.CORSAllowedOrigins, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining makes /readyz report 503 and refuses new live sessions.
func (s *Server) SetDraining() {
	s.liveSessions.SetDraining(true)
}

func (s *Server) Draining() bool {
	return s.liveSessions.Draining()
}

// NotifyLiveSessionsDraining tells every connected client the server is going
// away. It returns the number of clients reached.
func (s *Server) NotifyLiveSessionsDraining() int {
	return s.liveSessions.NotifyAll(protocol.ShutdownText())
}

func (s *Server) LiveSessionCount() int {
	return s.liveSessions.Count()
}

func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.liveSessions.Wait(ctx)
}

func (s *Server) CancelLiveSessions() int {
	return s.liveSessions.CancelAll()
}

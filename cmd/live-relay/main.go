package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/vango-go/live-relay/internal/dotenv"
	"github.com/vango-go/live-relay/pkg/gateway/config"
	gatewayserver "github.com/vango-go/live-relay/pkg/gateway/server"
	"github.com/vango-go/live-relay/pkg/relay"
	"github.com/vango-go/live-relay/pkg/relay/gemini"
)

type relayDeps struct {
	loadConfig   func() (config.Config, error)
	newConnector func(context.Context, config.Config, *slog.Logger) (relay.Connector, error)
	newGateway   func(config.Config, *slog.Logger, relay.Connector) *gatewayserver.Server
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultRelayDeps() relayDeps {
	return relayDeps{
		loadConfig:   config.LoadFromEnv,
		newConnector: newGeminiConnector,
		newGateway:   gatewayserver.New,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func newGeminiConnector(ctx context.Context, cfg config.Config, logger *slog.Logger) (relay.Connector, error) {
	return gemini.NewConnector(ctx, cfg.Gemini(), logger)
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// buildLogger returns the process logger. When cfg.LogFile is set, records
// go to both stderr and the file; the returned close func releases the file.
func buildLogger(cfg config.Config, stderr io.Writer) (*slog.Logger, func() error, error) {
	out := stderr
	closeFn := func() error { return nil }
	if cfg.LogFile != "" {
		if dir := filepath.Dir(cfg.LogFile); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create log directory: %w", err)
			}
		}
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(stderr, f)
		closeFn = f.Close
	}

	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var handler slog.Handler
	switch cfg.LogFormat {
	case config.LogFormatJSON:
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler), closeFn, nil
}

func runRelay(ctx context.Context, stderr io.Writer, deps relayDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.newConnector == nil {
		return errors.New("missing newConnector dependency")
	}
	if deps.newGateway == nil {
		return errors.New("missing newGateway dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closeLog, err := buildLogger(cfg, stderr)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	connector, err := deps.newConnector(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("create live connector: %w", err)
	}

	gw := deps.newGateway(cfg, logger, connector)
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting live relay", "addr", cfg.Addr, "model", cfg.Model, "static_dir", cfg.StaticDir)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown requested", "cause", context.Cause(ctx))
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining()
	notified := gw.NotifyLiveSessionsDraining()
	logger.Info("draining live sessions", "sessions", gw.LiveSessionCount(), "notified", notified)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !gw.WaitLiveSessions(waitCtx) {
		cancelled := gw.CancelLiveSessions()
		logger.Warn("grace period expired; cancelled live sessions", "cancelled", cancelled)
		// Cancelled sessions close their remote ends before returning.
		cancelCtx, cancelWait := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		if !gw.WaitLiveSessions(cancelCtx) {
			logger.Error("live sessions still running after cancel", "sessions", gw.LiveSessionCount())
		}
		cancelWait()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("live relay stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps relayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "live-relay: %v\n", err)
		return 1
	}

	if err := runRelay(ctx, stderr, deps); err != nil {
		fmt.Fprintf(stderr, "live-relay: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultRelayDeps()))
}

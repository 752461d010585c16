package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateConnecting State = iota
	StateStreaming
	StateClosingClientGone
	StateClosingRemoteError
	StateClosingCancelled
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateClosingClientGone:
		return "client_gone"
	case StateClosingRemoteError:
		return "remote_error"
	case StateClosingCancelled:
		return "cancelled"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Config struct {
	OutboundQueueSize             int
	MaxFrameBytes                 int64
	MaxAudioBytesPerSecond        int
	AudioBurstSeconds             int
	MaxConsecutiveSendFailures    int
	MaxConsecutiveReceiveFailures int
	ConnectTimeout                time.Duration
	PingInterval                  time.Duration
	WriteTimeout                  time.Duration
	ReadTimeout                   time.Duration
}

type Dependencies struct {
	Conn      WSConn
	Connector Connector
	Logger    *slog.Logger
	Recorder  Recorder
	SessionID string
	RequestID string
	// Greeting, when set, is sent as a text frame before the remote session
	// is opened.
	Greeting string
	// ErrorText formats the text frame sent to the client on a fatal remote
	// error. Defaults to "Error: <message>".
	ErrorText func(err error) string
	Config    Config
}

// Session relays audio for exactly one client connection.
type Session struct {
	conn      *clientConn
	connector Connector
	logger    *slog.Logger
	recorder  Recorder
	id        string
	requestID string
	greeting  string
	errorText func(error) string
	cfg       Config
	pacer     *inboundPacer

	ctx    context.Context
	cancel context.CancelCauseFunc

	state    atomic.Int32
	terminal atomic.Int32
	started  atomic.Bool

	remote   RemoteSession
	outbound *OutboundQueue
	inbound  *InboundQueue

	teardownOnce sync.Once
	runErr       error
}

func New(deps Dependencies) (*Session, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Connector == nil {
		return nil, fmt.Errorf("connector is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Recorder == nil {
		deps.Recorder = noopRecorder{}
	}
	if deps.ErrorText == nil {
		deps.ErrorText = defaultErrorText
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = DefaultOutboundQueueSize
	}
	if deps.Config.MaxConsecutiveSendFailures <= 0 {
		deps.Config.MaxConsecutiveSendFailures = 5
	}
	if deps.Config.MaxConsecutiveReceiveFailures <= 0 {
		deps.Config.MaxConsecutiveReceiveFailures = 5
	}
	if deps.Config.ConnectTimeout <= 0 {
		deps.Config.ConnectTimeout = 10 * time.Second
	}
	if deps.Config.WriteTimeout <= 0 {
		deps.Config.WriteTimeout = 5 * time.Second
	}

	logger := deps.Logger
	if deps.SessionID != "" {
		logger = logger.With("session_id", deps.SessionID)
	}
	if deps.RequestID != "" {
		logger = logger.With("request_id", deps.RequestID)
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	s := &Session{
		conn:      newClientConn(deps.Conn, deps.Config.WriteTimeout),
		connector: deps.Connector,
		logger:    logger,
		recorder:  deps.Recorder,
		id:        deps.SessionID,
		requestID: deps.RequestID,
		greeting:  deps.Greeting,
		errorText: deps.ErrorText,
		cfg:       deps.Config,
		pacer:     newInboundPacer(deps.Config.MaxAudioBytesPerSecond, deps.Config.AudioBurstSeconds),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.state.Store(int32(StateConnecting))
	s.terminal.Store(int32(StateConnecting))
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

// TerminalState reports how the session ended: one of the closing states, or
// StateConnecting while it is still running.
func (s *Session) TerminalState() State { return State(s.terminal.Load()) }

// Cancel stops a running session. It is safe to call before, during or after
// Run.
func (s *Session) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel(errSessionCancelled)
}

// SendText writes a text frame to the client. It is safe to call concurrently
// with Run.
func (s *Session) SendText(text string) error {
	if s == nil {
		return nil
	}
	return s.conn.writeText(text)
}

// Run connects the remote session and relays audio until the client leaves,
// the remote fails or ctx is cancelled. Client departure and cancellation
// return nil; remote failures return the escalated error.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("session already started")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(s.ctx, func() { cancel(context.Cause(s.ctx)) })
	defer stop()

	s.conn.configureRead(s.cfg.MaxFrameBytes, s.cfg.ReadTimeout)

	if s.greeting != "" {
		if err := s.conn.writeText(s.greeting); err != nil {
			s.logger.Info("client gone before session start", "error", err)
			s.teardown(fmt.Errorf("%w: %w", ErrClientGone, err))
			s.state.Store(int32(StateClosed))
			return nil
		}
	}

	s.outbound = NewOutboundQueue(s.cfg.OutboundQueueSize)
	s.inbound = NewInboundQueue()

	var g errgroup.Group
	pump := func(name string, fn func(context.Context) error) {
		g.Go(func() error {
			err := fn(runCtx)
			if err == nil {
				err = fmt.Errorf("%s stopped", name)
			}
			s.logger.Debug("pump exited", "pump", name, "error", err)
			cancel(err)
			return nil
		})
	}

	// The reader runs during the handshake so a client that leaves early
	// cancels the connect. Frames it reads wait in the outbound queue.
	pump("read_client", s.readClient)

	connectCtx, cancelConnect := context.WithTimeout(runCtx, s.cfg.ConnectTimeout)
	remote, err := s.connector.Connect(connectCtx)
	cancelConnect()
	if err != nil {
		cause := fmt.Errorf("%w: %w", ErrConnect, err)
		if runCtx.Err() != nil {
			cause = context.Cause(runCtx)
		}
		cancel(cause)
		s.teardown(cause)
		_ = g.Wait()
		s.state.Store(int32(StateClosed))
		return s.runErr
	}

	s.remote = remote
	if runCtx.Err() == nil {
		s.state.Store(int32(StateStreaming))
		s.logger.Info("live session streaming")
	}

	pump("send_uplink", s.sendUplink)
	pump("receive_downlink", s.receiveDownlink)
	pump("write_client", s.writeClient)
	g.Go(func() error {
		<-runCtx.Done()
		s.teardown(context.Cause(runCtx))
		return nil
	})
	_ = g.Wait()

	if n := s.inbound.Len(); n > 0 {
		s.recorder.AddInboundQueued(-n)
	}
	s.state.Store(int32(StateClosed))
	return s.runErr
}

// teardown classifies the first cause, tells the client about fatal remote
// errors and closes both ends. Only the first call has any effect.
func (s *Session) teardown(cause error) {
	s.teardownOnce.Do(func() {
		state, runErr := classify(cause)
		s.terminal.Store(int32(state))
		s.state.Store(int32(state))
		s.runErr = runErr

		switch state {
		case StateClosingClientGone:
			if errors.Is(cause, ErrClientRead) {
				s.logger.Warn("live session ended by client read error", "error", cause)
			} else {
				s.logger.Info("live session ended: client disconnected")
			}
		case StateClosingCancelled:
			s.logger.Info("live session cancelled", "cause", cause)
		case StateClosingRemoteError:
			s.logger.Error("live session failed", "error", cause)
			if !s.conn.isClosed() {
				if err := s.conn.writeText(s.errorText(cause)); err != nil {
					s.logger.Debug("failed to send error text", "error", err)
				}
			}
		}

		if s.remote != nil {
			if err := s.remote.Close(); err != nil {
				s.logger.Debug("remote close failed", "error", err)
			}
		}
		s.conn.close()
	})
}

func classify(cause error) (State, error) {
	switch {
	case cause == nil:
		return StateClosingCancelled, nil
	case errors.Is(cause, ErrClientGone), errors.Is(cause, ErrClientRead):
		return StateClosingClientGone, nil
	case errors.Is(cause, ErrConnect), errors.Is(cause, ErrRemoteClosed),
		errors.Is(cause, ErrUplinkFailed), errors.Is(cause, ErrDownlinkFailed):
		return StateClosingRemoteError, cause
	case isCancellation(cause), errors.Is(cause, context.DeadlineExceeded):
		return StateClosingCancelled, nil
	default:
		return StateClosingRemoteError, cause
	}
}

func defaultErrorText(err error) string {
	return "Error: " + err.Error()
}

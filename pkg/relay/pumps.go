package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// readClient forwards binary client frames to the outbound queue until the
// client goes away.
func (s *Session) readClient(ctx context.Context) error {
	for {
		messageType, data, err := s.conn.read()
		if err != nil {
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			s.conn.markClosed()
			if IsClientDisconnect(err) {
				return fmt.Errorf("%w: %w", ErrClientGone, err)
			}
			return fmt.Errorf("%w: %w", ErrClientRead, err)
		}
		if messageType != websocket.BinaryMessage {
			s.logger.Debug("ignoring non-binary client frame", "message_type", messageType, "bytes", len(data))
			continue
		}
		if err := s.pacer.wait(ctx, len(data)); err != nil {
			return err
		}
		if err := s.outbound.Push(ctx, OutboundItem{Data: data, MIMEType: AudioMIMEType}); err != nil {
			return err
		}
		s.recorder.RecordAudio(DirectionInput, len(data))
	}
}

// sendUplink drains the outbound queue into the remote session. Isolated send
// failures are absorbed; a closed remote or a run of failures ends the session.
func (s *Session) sendUplink(ctx context.Context) error {
	failures := 0
	for {
		item, err := s.outbound.Pop(ctx)
		if err != nil {
			return err
		}
		err = s.remote.SendAudio(ctx, item)
		if err == nil {
			failures = 0
			continue
		}
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		if IsRemoteClosed(err) {
			return fmt.Errorf("%w: %w", ErrRemoteClosed, err)
		}
		failures++
		s.recorder.RecordSendFailure()
		s.logger.Warn("uplink send failed", "error", err, "consecutive_failures", failures)
		if failures >= s.cfg.MaxConsecutiveSendFailures {
			return fmt.Errorf("%w after %d attempts: %w", ErrUplinkFailed, failures, err)
		}
	}
}

// receiveDownlink moves remote audio onto the inbound queue. Text is collected
// per turn for the log and never forwarded.
func (s *Session) receiveDownlink(ctx context.Context) error {
	failures := 0
	var caption strings.Builder
	for {
		resp, err := s.remote.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			if IsRemoteClosed(err) {
				return fmt.Errorf("%w: %w", ErrRemoteClosed, err)
			}
			failures++
			s.recorder.RecordReceiveFailure()
			s.logger.Warn("downlink receive failed", "error", err, "consecutive_failures", failures)
			if failures >= s.cfg.MaxConsecutiveReceiveFailures {
				return fmt.Errorf("%w after %d attempts: %w", ErrDownlinkFailed, failures, err)
			}
			continue
		}
		failures = 0

		if len(resp.Audio) > 0 {
			s.inbound.Push(resp.Audio)
			s.recorder.AddInboundQueued(1)
		}
		if resp.Text != "" {
			caption.WriteString(resp.Text)
		}
		if resp.Interrupted {
			if caption.Len() > 0 {
				s.logger.Info("turn text", "text", caption.String(), "interrupted", true)
				caption.Reset()
			}
			s.logger.Info("remote turn interrupted")
		}
		if resp.GoAway {
			s.logger.Warn("remote session going away")
		}
		if resp.TurnComplete {
			if caption.Len() > 0 {
				s.logger.Info("turn text", "text", caption.String())
				caption.Reset()
			}
			s.logger.Debug("turn complete")
		}
	}
}

// writeClient sends queued remote audio to the client and keeps the socket
// alive with pings. It stops when the connection is closed or a write fails.
func (s *Session) writeClient(ctx context.Context) error {
	var pingC <-chan time.Time
	if s.cfg.PingInterval > 0 {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		pingC = ticker.C
	}

	for {
		if data, ok := s.inbound.TryPop(); ok {
			s.recorder.AddInboundQueued(-1)
			if len(data) == 0 {
				continue
			}
			if s.conn.isClosed() {
				s.conn.close()
				return ErrClientGone
			}
			if err := s.conn.writeBinary(data); err != nil {
				s.conn.close()
				if ctx.Err() != nil {
					return context.Cause(ctx)
				}
				return fmt.Errorf("%w: %w", ErrClientGone, err)
			}
			s.recorder.RecordAudio(DirectionOutput, len(data))
			continue
		}

		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-pingC:
			if err := s.conn.ping(); err != nil {
				s.conn.close()
				if ctx.Err() != nil {
					return context.Cause(ctx)
				}
				return fmt.Errorf("%w: ping: %w", ErrClientGone, err)
			}
		case <-s.inbound.Ready():
		}
	}
}

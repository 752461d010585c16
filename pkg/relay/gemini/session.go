package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/vango-go/live-relay/pkg/relay"
	"google.golang.org/genai"
)

// liveSession is the subset of *genai.Session the adapter drives.
type liveSession interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

type session struct {
	live   liveSession
	logger *slog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ relay.RemoteSession = (*session)(nil)

func newSession(live liveSession, logger *slog.Logger) *session {
	if logger == nil {
		logger = slog.Default()
	}
	return &session{live: live, logger: logger}
}

func (s *session) SendAudio(ctx context.Context, item relay.OutboundItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return relay.ErrRemoteClosed
	}
	mimeType := item.MIMEType
	if mimeType == "" {
		mimeType = relay.AudioMIMEType
	}
	return s.live.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: item.Data, MIMEType: mimeType},
	})
}

// Receive blocks until the next server message. The genai socket read does not
// take a context; Close is what unblocks it.
func (s *session) Receive(context.Context) (relay.Response, error) {
	msg, err := s.live.Receive()
	if err != nil {
		if s.closed.Load() {
			return relay.Response{}, fmt.Errorf("%w: %w", relay.ErrRemoteClosed, err)
		}
		return relay.Response{}, err
	}
	if msg.SetupComplete != nil {
		s.logger.Debug("gemini setup complete")
	}
	if msg.GoAway != nil {
		s.logger.Warn("gemini go away", "time_left", msg.GoAway.TimeLeft)
	}
	return toResponse(msg), nil
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.live.Close()
	})
	return s.closeErr
}

// toResponse flattens one server message. Inline audio parts are concatenated
// in order; thought parts are dropped.
func toResponse(msg *genai.LiveServerMessage) relay.Response {
	var out relay.Response
	if msg == nil {
		return out
	}
	out.GoAway = msg.GoAway != nil

	content := msg.ServerContent
	if content == nil {
		return out
	}
	out.TurnComplete = content.TurnComplete
	out.Interrupted = content.Interrupted

	var text strings.Builder
	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			if part == nil || part.Thought {
				continue
			}
			if blob := part.InlineData; blob != nil && len(blob.Data) > 0 && isAudio(blob.MIMEType) {
				out.Audio = append(out.Audio, blob.Data...)
			}
			if part.Text != "" {
				text.WriteString(part.Text)
			}
		}
	}
	if t := content.OutputTranscription; t != nil && t.Text != "" {
		text.WriteString(t.Text)
	}
	out.Text = text.String()
	return out
}

func isAudio(mimeType string) bool {
	return mimeType == "" || strings.HasPrefix(strings.ToLower(mimeType), "audio/")
}

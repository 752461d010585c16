package relay

import "context"

// AudioMIMEType tags every frame forwarded to the remote session.
const AudioMIMEType = "audio/pcm"

// OutboundItem is one client audio frame on its way to the remote session.
type OutboundItem struct {
	Data     []byte
	MIMEType string
}

// Response is one unit read from the remote stream. A turn is the run of
// responses up to and including one with TurnComplete set.
type Response struct {
	Audio        []byte
	Text         string
	TurnComplete bool
	Interrupted  bool
	GoAway       bool
}

// RemoteSession is an open bidirectional live-audio session.
//
// SendAudio and Receive are called from different goroutines. Close must be
// safe to call more than once and must unblock a pending Receive.
type RemoteSession interface {
	SendAudio(ctx context.Context, item OutboundItem) error
	Receive(ctx context.Context) (Response, error)
	Close() error
}

// Connector opens remote sessions.
type Connector interface {
	Connect(ctx context.Context) (RemoteSession, error)
}

// Recorder receives per-frame observations. Implementations must be safe for
// concurrent use.
type Recorder interface {
	RecordAudio(direction string, bytes int)
	RecordSendFailure()
	RecordReceiveFailure()
	AddInboundQueued(delta int)
}

const (
	DirectionInput  = "input"
	DirectionOutput = "output"
)

type noopRecorder struct{}

func (noopRecorder) RecordAudio(string, int) {}
func (noopRecorder) RecordSendFailure()      {}
func (noopRecorder) RecordReceiveFailure()   {}
func (noopRecorder) AddInboundQueued(int)    {}

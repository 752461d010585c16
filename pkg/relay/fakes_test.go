package relay

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type wsFrame struct {
	messageType int
	data        []byte
	err         error
}

type fakeWSConn struct {
	reads chan wsFrame

	mu         sync.Mutex
	writes     []wsFrame
	controls   []int
	readLimit  int64
	writeErr   error
	closeCalls int

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeWSConn() *fakeWSConn {
	return &fakeWSConn{
		reads:  make(chan wsFrame, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeWSConn) ReadMessage() (int, []byte, error) {
	select {
	case frame := <-f.reads:
		if frame.err != nil {
			return 0, nil, frame.err
		}
		return frame.messageType, frame.data, nil
	case <-f.closed:
		return 0, nil, net.ErrClosed
	}
}

func (f *fakeWSConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.closed:
		return net.ErrClosed
	default:
	}
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, wsFrame{messageType: messageType, data: append([]byte(nil), data...)})
	return nil
}

func (f *fakeWSConn) WriteControl(messageType int, _ []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controls = append(f.controls, messageType)
	return nil
}

func (f *fakeWSConn) SetReadDeadline(time.Time) error  { return nil }
func (f *fakeWSConn) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeWSConn) SetPongHandler(func(string) error) {}

func (f *fakeWSConn) SetReadLimit(limit int64) {
	f.mu.Lock()
	f.readLimit = limit
	f.mu.Unlock()
}

func (f *fakeWSConn) Close() error {
	f.mu.Lock()
	f.closeCalls++
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeWSConn) sendBinary(data []byte) {
	f.reads <- wsFrame{messageType: websocket.BinaryMessage, data: data}
}

func (f *fakeWSConn) sendText(text string) {
	f.reads <- wsFrame{messageType: websocket.TextMessage, data: []byte(text)}
}

func (f *fakeWSConn) leave(code int) {
	f.reads <- wsFrame{err: &websocket.CloseError{Code: code}}
}

func (f *fakeWSConn) framesOfType(messageType int) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, w := range f.writes {
		if w.messageType == messageType {
			out = append(out, w.data)
		}
	}
	return out
}

func (f *fakeWSConn) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

type remoteEvent struct {
	resp Response
	err  error
}

type fakeRemote struct {
	events chan remoteEvent

	mu       sync.Mutex
	sent     []OutboundItem
	sendErrs []error

	closeCalls atomic.Int32
	closed     chan struct{}
	closeOnce  sync.Once
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		events: make(chan remoteEvent, 64),
		closed: make(chan struct{}),
	}
}

func (r *fakeRemote) SendAudio(_ context.Context, item OutboundItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sendErrs) > 0 {
		err := r.sendErrs[0]
		r.sendErrs = r.sendErrs[1:]
		if err != nil {
			return err
		}
	}
	r.sent = append(r.sent, item)
	return nil
}

func (r *fakeRemote) Receive(context.Context) (Response, error) {
	select {
	case ev := <-r.events:
		return ev.resp, ev.err
	case <-r.closed:
		return Response{}, io.EOF
	}
}

func (r *fakeRemote) Close() error {
	r.closeCalls.Add(1)
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}

func (r *fakeRemote) emit(resp Response) { r.events <- remoteEvent{resp: resp} }

func (r *fakeRemote) fail(err error) { r.events <- remoteEvent{err: err} }

func (r *fakeRemote) sentItems() []OutboundItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]OutboundItem(nil), r.sent...)
}

type fakeConnector struct {
	remote *fakeRemote
	err    error
	calls  atomic.Int32
}

func (c *fakeConnector) Connect(context.Context) (RemoteSession, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.remote, nil
}

// blockingConnector holds Connect until its context ends.
type blockingConnector struct {
	entered chan struct{}
	once    sync.Once

	mu    sync.Mutex
	cause error
}

func newBlockingConnector() *blockingConnector {
	return &blockingConnector{entered: make(chan struct{})}
}

func (c *blockingConnector) Connect(ctx context.Context) (RemoteSession, error) {
	c.once.Do(func() { close(c.entered) })
	<-ctx.Done()
	err := context.Cause(ctx)
	c.mu.Lock()
	c.cause = err
	c.mu.Unlock()
	return nil, err
}

func (c *blockingConnector) seenCause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

type countingRecorder struct {
	mu            sync.Mutex
	audioBytes    map[string]int
	audioFrames   map[string]int
	sendFailures  int
	recvFailures  int
	inboundQueued int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{audioBytes: map[string]int{}, audioFrames: map[string]int{}}
}

func (r *countingRecorder) RecordAudio(direction string, bytes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audioBytes[direction] += bytes
	r.audioFrames[direction]++
}

func (r *countingRecorder) RecordSendFailure() {
	r.mu.Lock()
	r.sendFailures++
	r.mu.Unlock()
}

func (r *countingRecorder) RecordReceiveFailure() {
	r.mu.Lock()
	r.recvFailures++
	r.mu.Unlock()
}

func (r *countingRecorder) AddInboundQueued(delta int) {
	r.mu.Lock()
	r.inboundQueued += delta
	r.mu.Unlock()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// logBuffer is a goroutine-safe sink for a JSON logger.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *logBuffer) logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(b, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type runResult struct {
	err error
}

func startSession(t *testing.T, deps Dependencies) (*Session, <-chan runResult) {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = discardLogger()
	}
	s, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	done := make(chan runResult, 1)
	go func() {
		done <- runResult{err: s.Run(context.Background())}
	}()
	return s, done
}

func waitRun(t *testing.T, done <-chan runResult) error {
	t.Helper()
	select {
	case res := <-done:
		return res.err
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not return")
		return nil
	}
}

package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/gorilla/websocket"
)

var (
	// ErrClientGone marks the expected end of a session: the browser went away.
	ErrClientGone = errors.New("client disconnected")
	// ErrClientRead wraps an unexpected client read failure.
	ErrClientRead = errors.New("client read failed")
	// ErrRemoteClosed means the remote live session closed its stream.
	ErrRemoteClosed = errors.New("remote session closed")
	// ErrConnect wraps a failure to open the remote live session.
	ErrConnect = errors.New("connect remote session")
	// ErrUplinkFailed is returned after too many consecutive send failures.
	ErrUplinkFailed = errors.New("uplink send failed repeatedly")
	// ErrDownlinkFailed is returned after too many consecutive receive failures.
	ErrDownlinkFailed = errors.New("downlink receive failed repeatedly")

	errSessionCancelled = errors.New("session cancelled")
)

var clientCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
	websocket.CloseAbnormalClosure,
}

// IsClientDisconnect reports whether err is the ordinary way a browser leaves:
// a close frame, a dropped TCP connection or a socket closed by teardown.
func IsClientDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrClientGone) {
		return true
	}
	if websocket.IsCloseError(err, clientCloseCodes...) {
		return true
	}
	return isClosedTransport(err)
}

// IsRemoteClosed reports whether err means the remote stream is finished, as
// opposed to a single bad message.
func IsRemoteClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRemoteClosed) {
		return true
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return true
	}
	return isClosedTransport(err)
}

func isClosedTransport(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	// gorilla reports a write on a reset peer without a typed error.
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset by peer")
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, errSessionCancelled)
}

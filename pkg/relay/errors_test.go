package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/gorilla/websocket"
)

func TestIsClientDisconnect(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"normal close", &websocket.CloseError{Code: websocket.CloseNormalClosure}, true},
		{"going away", &websocket.CloseError{Code: websocket.CloseGoingAway}, true},
		{"no status", &websocket.CloseError{Code: websocket.CloseNoStatusReceived}, true},
		{"eof", io.EOF, true},
		{"wrapped net closed", fmt.Errorf("read: %w", net.ErrClosed), true},
		{"client gone sentinel", ErrClientGone, true},
		{"policy violation", &websocket.CloseError{Code: websocket.ClosePolicyViolation}, false},
		{"other", errors.New("read limit exceeded"), false},
	}
	for _, tc := range cases {
		if got := IsClientDisconnect(tc.err); got != tc.want {
			t.Fatalf("%s: IsClientDisconnect()=%v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestIsRemoteClosed(t *testing.T) {
	if !IsRemoteClosed(&websocket.CloseError{Code: websocket.CloseInternalServerErr}) {
		t.Fatalf("close error should count as remote closed")
	}
	if !IsRemoteClosed(fmt.Errorf("receive: %w", io.EOF)) {
		t.Fatalf("wrapped EOF should count as remote closed")
	}
	if !IsRemoteClosed(ErrRemoteClosed) {
		t.Fatalf("sentinel should count as remote closed")
	}
	if IsRemoteClosed(errors.New("invalid json")) {
		t.Fatalf("decode error should not count as remote closed")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		cause   error
		want    State
		wantErr bool
	}{
		{fmt.Errorf("%w: eof", ErrClientGone), StateClosingClientGone, false},
		{fmt.Errorf("%w: bad frame", ErrClientRead), StateClosingClientGone, false},
		{errSessionCancelled, StateClosingCancelled, false},
		{context.Canceled, StateClosingCancelled, false},
		{fmt.Errorf("%w: %w", ErrConnect, context.DeadlineExceeded), StateClosingRemoteError, true},
		{fmt.Errorf("%w: eof", ErrRemoteClosed), StateClosingRemoteError, true},
		{ErrUplinkFailed, StateClosingRemoteError, true},
		{ErrDownlinkFailed, StateClosingRemoteError, true},
	}
	for _, tc := range cases {
		state, err := classify(tc.cause)
		if state != tc.want || (err != nil) != tc.wantErr {
			t.Fatalf("classify(%v)=(%v, %v), want (%v, err=%v)", tc.cause, state, err, tc.want, tc.wantErr)
		}
	}
}

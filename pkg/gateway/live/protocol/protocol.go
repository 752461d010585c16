// Package protocol holds the browser-facing wire contract of the live relay
// endpoint: status and error text frames, and the PCM formats carried in
// binary frames.
package protocol

import (
	"errors"
	"strings"
)

const (
	// StatusStarting is the first frame a client receives after upgrade.
	StatusStarting = "✅ Gemini Live Audio session starting..."

	// ErrorPrefix starts every fatal error text frame.
	ErrorPrefix = "Error: "

	// ShutdownMessage is sent to connected clients when the server drains.
	ShutdownMessage = "server is shutting down"
)

// AudioFormat describes the PCM shape of binary frames in one direction.
type AudioFormat struct {
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
}

var (
	// InputFormat is client microphone audio sent to the relay.
	InputFormat = AudioFormat{Encoding: "pcm_s16le", SampleRateHz: 16000, Channels: 1}
	// OutputFormat is model speech written back to the client.
	OutputFormat = AudioFormat{Encoding: "pcm_s16le", SampleRateHz: 24000, Channels: 1}
)

// BytesPerSecond returns the byte rate of f at 16 bits per sample.
func (f AudioFormat) BytesPerSecond() int {
	channels := f.Channels
	if channels <= 0 {
		channels = 1
	}
	return f.SampleRateHz * channels * 2
}

// ErrorText renders err as a client error frame.
func ErrorText(err error) string {
	if err == nil {
		return ErrorPrefix + "unknown error"
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		msg = "unknown error"
	}
	return ErrorPrefix + msg
}

// ShutdownText is the error frame sent when the server drains.
func ShutdownText() string {
	return ErrorText(errors.New(ShutdownMessage))
}

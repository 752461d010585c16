package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/live-relay/pkg/gateway/live/protocol"
	"github.com/vango-go/live-relay/pkg/relay/gemini"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	Addr      string
	StaticDir string

	// CORS and WebSocket origin allowlist. Empty allows every origin.
	CORSAllowedOrigins map[string]struct{}

	// Gemini Live.
	GoogleAPIKey        string
	Model               string
	SystemInstruction   string
	Voice               string
	DisableThinking     bool
	OutputTranscription bool
	APIVersion          string
	GeminiBaseURL       string

	// Relay sessions.
	OutboundQueueSize      int
	MaxFrameBytes          int64
	MaxAudioBytesPerSecond int
	AudioBurstSeconds      int
	MaxSendFailures        int
	MaxReceiveFailures     int
	ConnectTimeout         time.Duration
	WSPingInterval         time.Duration
	WSWriteTimeout         time.Duration
	WSReadTimeout          time.Duration

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration

	LogLevel  slog.Level
	LogFormat LogFormat
	LogFile   string
}

func LoadFromEnv() (Config, error) {
	var env envReader
	cfg := Config{
		Addr:                   envOr("RELAY_ADDR", ":8000"),
		StaticDir:              envOr("RELAY_STATIC_DIR", "static"),
		CORSAllowedOrigins:     make(map[string]struct{}),
		GoogleAPIKey:           envOr("GOOGLE_API_KEY", envOr("GEMINI_API_KEY", "")),
		Model:                  envOr("RELAY_MODEL", gemini.DefaultModel),
		SystemInstruction:      envOr("RELAY_SYSTEM_INSTRUCTION", gemini.DefaultSystemInstruction),
		Voice:                  envOr("RELAY_VOICE", ""),
		DisableThinking:        env.boolOr("RELAY_DISABLE_THINKING", true),
		OutputTranscription:    env.boolOr("RELAY_OUTPUT_TRANSCRIPTION", false),
		APIVersion:             envOr("RELAY_API_VERSION", gemini.DefaultAPIVersion),
		GeminiBaseURL:          envOr("RELAY_GEMINI_BASE_URL", ""),
		OutboundQueueSize:      env.intOr("RELAY_OUTBOUND_QUEUE_SIZE", 5),
		MaxFrameBytes:          env.int64Or("RELAY_MAX_FRAME_BYTES", 64*1024),
		MaxAudioBytesPerSecond: env.intOr("RELAY_MAX_AUDIO_BPS", 0),
		AudioBurstSeconds:      env.intOr("RELAY_AUDIO_BURST_SECONDS", 1),
		MaxSendFailures:        env.intOr("RELAY_MAX_SEND_FAILURES", 5),
		MaxReceiveFailures:     env.intOr("RELAY_MAX_RECEIVE_FAILURES", 5),
		ConnectTimeout:         env.durationOr("RELAY_CONNECT_TIMEOUT", 10*time.Second),
		WSPingInterval:         env.durationOr("RELAY_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:         env.durationOr("RELAY_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadTimeout:          env.durationOr("RELAY_WS_READ_TIMEOUT", 0),
		ReadHeaderTimeout:      env.durationOr("RELAY_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:    env.durationOr("RELAY_SHUTDOWN_GRACE_PERIOD", 15*time.Second),
		LogFormat:              LogFormat(strings.ToLower(envOr("RELAY_LOG_FORMAT", string(LogFormatText)))),
		LogFile:                envOr("RELAY_LOG_FILE", ""),
	}
	if err := env.err(); err != nil {
		return Config{}, err
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(envOr("RELAY_LOG_LEVEL", "info"))); err != nil {
		return Config{}, fmt.Errorf("RELAY_LOG_LEVEL must be one of debug|info|warn|error")
	}
	switch cfg.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return Config{}, fmt.Errorf("RELAY_LOG_FORMAT must be one of text|json")
	}

	for _, origin := range splitCSV(os.Getenv("RELAY_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.GoogleAPIKey == "" {
		return Config{}, fmt.Errorf("GOOGLE_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return Config{}, fmt.Errorf("RELAY_MODEL must not be empty")
	}
	if cfg.OutboundQueueSize <= 0 {
		return Config{}, fmt.Errorf("RELAY_OUTBOUND_QUEUE_SIZE must be > 0")
	}
	if cfg.MaxFrameBytes <= 0 {
		return Config{}, fmt.Errorf("RELAY_MAX_FRAME_BYTES must be > 0")
	}
	if cfg.MaxAudioBytesPerSecond < 0 {
		return Config{}, fmt.Errorf("RELAY_MAX_AUDIO_BPS must be >= 0")
	}
	// Pacing below real-time input would throttle ordinary speech.
	if minBPS := protocol.InputFormat.BytesPerSecond(); cfg.MaxAudioBytesPerSecond > 0 && cfg.MaxAudioBytesPerSecond < minBPS {
		return Config{}, fmt.Errorf("RELAY_MAX_AUDIO_BPS must be 0 or >= %d", minBPS)
	}
	if cfg.MaxAudioBytesPerSecond > 0 && cfg.AudioBurstSeconds < 1 {
		return Config{}, fmt.Errorf("RELAY_AUDIO_BURST_SECONDS must be >= 1 when RELAY_MAX_AUDIO_BPS is set")
	}
	if cfg.MaxSendFailures <= 0 {
		return Config{}, fmt.Errorf("RELAY_MAX_SEND_FAILURES must be > 0")
	}
	if cfg.MaxReceiveFailures <= 0 {
		return Config{}, fmt.Errorf("RELAY_MAX_RECEIVE_FAILURES must be > 0")
	}
	if cfg.ConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("RELAY_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("RELAY_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("RELAY_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSReadTimeout < 0 {
		return Config{}, fmt.Errorf("RELAY_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.WSReadTimeout > 0 && cfg.WSReadTimeout <= cfg.WSPingInterval {
		return Config{}, fmt.Errorf("RELAY_WS_READ_TIMEOUT must be greater than RELAY_WS_PING_INTERVAL")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("RELAY_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("RELAY_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

// Gemini returns the connector settings derived from cfg.
func (c Config) Gemini() gemini.Config {
	return gemini.Config{
		APIKey:              c.GoogleAPIKey,
		Model:               c.Model,
		APIVersion:          c.APIVersion,
		BaseURL:             c.GeminiBaseURL,
		SystemInstruction:   c.SystemInstruction,
		Voice:               c.Voice,
		DisableThinking:     c.DisableThinking,
		OutputTranscription: c.OutputTranscription,
	}
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

// envReader parses typed values and remembers every malformed one so
// LoadFromEnv can report them together.
type envReader struct {
	errs []error
}

func (r *envReader) invalid(key, want string) {
	r.errs = append(r.errs, fmt.Errorf("%s must be %s", key, want))
}

func (r *envReader) err() error {
	return errors.Join(r.errs...)
}

func (r *envReader) int64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		r.invalid(key, "an integer")
		return def
	}
	return n
}

func (r *envReader) intOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		r.invalid(key, "an integer")
		return def
	}
	return n
}

func (r *envReader) boolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		r.invalid(key, "a boolean")
		return def
	}
}

func (r *envReader) durationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		r.invalid(key, "a duration like 5s")
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

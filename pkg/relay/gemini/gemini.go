// Package gemini connects relay sessions to the Gemini Live API through
// google.golang.org/genai.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vango-go/live-relay/pkg/relay"
	"google.golang.org/genai"
)

const (
	DefaultModel      = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultAPIVersion = "v1alpha"

	DefaultSystemInstruction = "You are a helpful and friendly AI assistant.\n" +
		"Your default tone is helpful, engaging, and clear, with a touch of optimistic wit.\n" +
		"Anticipate user needs by clarifying ambiguous questions and always conclude your responses with an engaging follow-up question to keep the conversation flowing."
)

// genai only names the user and model roles.
const systemRole genai.Role = "system"

type Config struct {
	APIKey     string
	Model      string
	APIVersion string
	// BaseURL overrides the Gemini endpoint. A ws:// or wss:// scheme is kept
	// as-is for the live socket.
	BaseURL             string
	SystemInstruction   string
	Voice               string
	DisableThinking     bool
	OutputTranscription bool
}

// Connector opens Gemini Live sessions. One Connector is shared by every
// relay session in the process.
type Connector struct {
	client *genai.Client
	cfg    Config
	logger *slog.Logger
}

var _ relay.Connector = (*Connector)(nil)

func NewConnector(ctx context.Context, cfg Config, logger *slog.Logger) (*Connector, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	if strings.TrimSpace(cfg.APIVersion) == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			APIVersion: cfg.APIVersion,
			BaseURL:    strings.TrimSpace(cfg.BaseURL),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Connector{client: client, cfg: cfg, logger: logger}, nil
}

// Connect dials a live session. The genai dialer does not take a context, so
// a dial that outlives ctx is closed as soon as it completes.
func (c *Connector) Connect(ctx context.Context) (relay.RemoteSession, error) {
	type dialResult struct {
		session *genai.Session
		err     error
	}
	done := make(chan dialResult, 1)
	go func() {
		s, err := c.client.Live.Connect(ctx, c.cfg.Model, c.connectConfig())
		done <- dialResult{session: s, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		c.logger.Debug("gemini live session connected", "model", c.cfg.Model)
		return newSession(res.session, c.logger), nil
	case <-ctx.Done():
		go func() {
			if res := <-done; res.session != nil {
				_ = res.session.Close()
			}
		}()
		return nil, context.Cause(ctx)
	}
}

func (c *Connector) connectConfig() *genai.LiveConnectConfig {
	cfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if instruction := strings.TrimSpace(c.cfg.SystemInstruction); instruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(instruction, systemRole)
	}
	if c.cfg.DisableThinking {
		budget := int32(0)
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: &budget}
	}
	if voice := strings.TrimSpace(c.cfg.Voice); voice != "" {
		cfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		}
	}
	if c.cfg.OutputTranscription {
		cfg.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return cfg
}

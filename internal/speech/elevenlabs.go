// Package speech turns agent text into audio/mpeg through an
// ElevenLabs-compatible text-to-speech API.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var log = logging.Logger("voyage/speech")

var tracer = otel.Tracer("github.com/petervdpas/voyage/internal/speech")

const (
	DefaultBaseURL = "https://api.elevenlabs.io"
	DefaultModelID = "eleven_monolingual_v1"

	maxAudioBytes = 16 * 1024 * 1024
	maxErrorBytes = 4 * 1024
)

var ErrMissingAPIKey = errors.New("missing API key")

// StatusError is a non-2xx answer from the synthesis service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("speech synthesis failed: %d %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Synthesizer produces audio/mpeg bytes for text in the given voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

// Config configures a Client.
type Config struct {
	BaseURL         string
	APIKey          string
	ModelID         string
	Stability       float64
	SimilarityBoost float64
	Timeout         time.Duration
	HTTPClient      *http.Client
}

// Client calls POST {base}/v1/text-to-speech/{voiceId}.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultModelID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, http: hc}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool {
	return strings.TrimSpace(c.cfg.APIKey) != ""
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// Synthesize returns the full audio for text. Non-2xx responses come back
// as *StatusError.
func (c *Client) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "speech.synthesize")
	defer span.End()
	span.SetAttributes(attribute.String("speech.voice", voiceID), attribute.Int("speech.chars", len(text)))

	audio, err := c.synthesize(ctx, text, voiceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesize")
		return nil, err
	}
	span.SetAttributes(attribute.Int("speech.bytes", len(audio)))
	return audio, nil
}

func (c *Client) synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if !c.Configured() {
		return nil, ErrMissingAPIKey
	}
	if strings.TrimSpace(voiceID) == "" {
		return nil, errors.New("voice id is required")
	}

	body, err := json.Marshal(ttsRequest{
		Text:    text,
		ModelID: c.cfg.ModelID,
		VoiceSettings: voiceSettings{
			Stability:       c.cfg.Stability,
			SimilarityBoost: c.cfg.SimilarityBoost,
		},
	})
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		log.Warnf("synthesis failed for voice %s: %d", voiceID, resp.StatusCode)
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(msg)}
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	return audio, nil
}

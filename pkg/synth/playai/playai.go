// Package playai provides a PlayAI-backed one-shot synthesis provider using
// the PlayAI TTS HTTP API. It implements the synth.Provider interface.
package playai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/voxread/voxread/pkg/synth"
)

// Compile-time assertion that Provider satisfies synth.Provider.
var _ synth.Provider = (*Provider)(nil)

const (
	defaultModel  = "Play3.0-mini"
	defaultFormat = "mp3"
)

// Option is a functional option for configuring the PlayAI Provider.
type Option func(*Provider)

// WithModel sets the PlayAI model ID (e.g. "Play3.0-mini").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithHTTPClient overrides the HTTP client. Primarily used in tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements synth.Provider backed by the PlayAI TTS API.
type Provider struct {
	baseURL    string
	apiKey     string
	userID     string
	model      string
	httpClient *http.Client
}

// New creates a new PlayAI Provider. baseURL is the API root (e.g.
// "https://api.play.ai/api/v1"); apiKey and userID must be non-empty.
func New(baseURL, apiKey, userID string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("playai: apiKey must not be empty")
	}
	if userID == "" {
		return nil, errors.New("playai: userID must not be empty")
	}
	p := &Provider{
		baseURL:    baseURL,
		apiKey:     apiKey,
		userID:     userID,
		model:      defaultModel,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ttsRequest is the JSON body sent to POST /tts/stream.
type ttsRequest struct {
	Text        string  `json:"text"`
	Model       string  `json:"model"`
	Voice       string  `json:"voice"`
	Format      string  `json:"format"`
	Speed       float64 `json:"speed,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// errorResponse is the JSON body PlayAI returns on failure.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Synthesize issues one TTS request and returns the full audio payload.
func (p *Provider) Synthesize(ctx context.Context, req synth.Request) (synth.Audio, error) {
	if req.Text == "" {
		return synth.Audio{}, errors.New("playai: text must not be empty")
	}

	body := ttsRequest{
		Text:        req.Text,
		Model:       p.model,
		Voice:       req.Voice.Value,
		Format:      defaultFormat,
		Speed:       req.Voice.Speed,
		Temperature: req.Voice.Temperature,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return synth.Audio{}, fmt.Errorf("playai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/tts/stream", bytes.NewReader(payload))
	if err != nil {
		return synth.Audio{}, fmt.Errorf("playai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("X-User-Id", p.userID)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return synth.Audio{}, fmt.Errorf("playai: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var er errorResponse
		if decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&er); decodeErr == nil {
			msg := er.Error
			if msg == "" {
				msg = er.Message
			}
			if msg != "" {
				return synth.Audio{}, fmt.Errorf("playai: status %d: %s", resp.StatusCode, msg)
			}
		}
		return synth.Audio{}, fmt.Errorf("playai: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return synth.Audio{}, fmt.Errorf("playai: read audio: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mp3"
	}
	return synth.Audio{Data: data, ContentType: contentType}, nil
}

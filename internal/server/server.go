// Package server exposes the voxread HTTP API: the conversation endpoint
// driving turn-based voice sessions, the one-shot text-to-speech endpoint,
// and the operational endpoints (health, readiness, metrics).
package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxread/voxread/internal/health"
	"github.com/voxread/voxread/internal/observe"
	"github.com/voxread/voxread/internal/session"
	"github.com/voxread/voxread/pkg/agent"
	"github.com/voxread/voxread/pkg/synth"
)

// Synthesizer runs one text-to-audio job. Satisfied by *synth.Pipeline.
type Synthesizer interface {
	Run(ctx context.Context, job synth.Job) (synth.Audio, error)
}

// Config holds the collaborators the server needs. Agent, Sessions, and
// Synth are required; the rest default sensibly.
type Config struct {
	// Agent dials new voice-agent sessions for the conversation endpoint.
	Agent agent.Provider

	// Sessions is the registry holding live sessions between requests.
	Sessions *session.Registry

	// Synth runs text-to-speech jobs for the /api/tts endpoint.
	Synth Synthesizer

	// OutputFormat is passed to the agent on connect. Defaults to "mp3".
	OutputFormat string

	// Voices is the list of voices offered on /api/voices.
	Voices []synth.VoiceConfig

	// Metrics records request instrumentation. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Health serves /healthz and /readyz. Defaults to a checker-less handler.
	Health *health.Handler
}

// Server is the voxread HTTP API. Construct with [New] and mount via
// [Server.Handler].
type Server struct {
	agent        agent.Provider
	sessions     *session.Registry
	synth        Synthesizer
	outputFormat string
	voices       []synth.VoiceConfig
	metrics      *observe.Metrics
	handler      http.Handler
}

// New creates a Server with all routes registered.
func New(cfg Config) *Server {
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "mp3"
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Health == nil {
		cfg.Health = health.New()
	}

	s := &Server{
		agent:        cfg.Agent,
		sessions:     cfg.Sessions,
		synth:        cfg.Synth,
		outputFormat: cfg.OutputFormat,
		voices:       cfg.Voices,
		metrics:      cfg.Metrics,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/conversation", s.handleConversation)
	mux.HandleFunc("POST /api/tts", s.handleTTS)
	mux.HandleFunc("GET /api/voices", s.handleVoices)
	mux.Handle("GET /metrics", promhttp.Handler())
	cfg.Health.Register(mux)

	s.handler = observe.Middleware(cfg.Metrics)(mux)
	return s
}

// Handler returns the fully wired HTTP handler, including the observability
// middleware.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// writeJSON encodes v with the given status. Encoding errors are ignored:
// the status line is already on the wire.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the JSON error shape of the conversation endpoint.
type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Success: false, Error: msg})
}

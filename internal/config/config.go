// Package config provides the configuration schema and loader for the
// voxread server.
package config

import (
	"time"

	"github.com/voxread/voxread/pkg/synth"
)

// LogLevel controls log verbosity for the voxread server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for voxread.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig        `yaml:"server"`
	Agent    AgentConfig         `yaml:"agent"`
	TTS      TTSConfig           `yaml:"tts"`
	Sessions SessionsConfig      `yaml:"sessions"`
	Voices   []synth.VoiceConfig `yaml:"voices"`
}

// ServerConfig holds network and logging settings for the voxread server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AgentConfig holds the connection settings for the conversational voice
// agent websocket endpoint.
type AgentConfig struct {
	// WSURL is the websocket endpoint root (e.g. "wss://api.play.ai/v1/talk").
	WSURL string `yaml:"ws_url"`

	// AgentID selects the remote agent; it is appended to WSURL when dialling.
	AgentID string `yaml:"agent_id"`

	// APIKey authenticates the setup handshake.
	APIKey string `yaml:"api_key"`

	// OutputFormat is the requested reply audio format. Defaults to "mp3".
	OutputFormat string `yaml:"output_format"`

	// TurnTimeout bounds one conversational turn. Defaults to 30s if zero.
	TurnTimeout time.Duration `yaml:"turn_timeout"`
}

// TTSConfig holds the one-shot synthesis API settings.
type TTSConfig struct {
	// APIURL is the HTTP API root (e.g. "https://api.play.ai/api/v1").
	APIURL string `yaml:"api_url"`

	// APIKey is the bearer token for the TTS API.
	APIKey string `yaml:"api_key"`

	// UserID is sent as the X-User-Id header.
	UserID string `yaml:"user_id"`

	// Model selects the synthesis model. Defaults to "Play3.0-mini".
	Model string `yaml:"model"`

	// FallbackURLs lists additional API roots tried, in order, when the
	// primary endpoint's circuit breaker is open.
	FallbackURLs []string `yaml:"fallback_urls"`

	// ChunkTimeout bounds one per-chunk synthesis request. Defaults to 15s
	// if zero.
	ChunkTimeout time.Duration `yaml:"chunk_timeout"`

	// MaxChunkLength is the maximum chunk size in bytes handed to the
	// synthesis API. Defaults to 1500 if zero.
	MaxChunkLength int `yaml:"max_chunk_length"`
}

// SessionsConfig tunes the idle-session sweeper.
type SessionsConfig struct {
	// SweepInterval is the sweep cadence. Defaults to 5 minutes if zero.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// IdleThreshold is the inactivity age after which a session is
	// reclaimed. Defaults to 15 minutes if zero.
	IdleThreshold time.Duration `yaml:"idle_threshold"`
}

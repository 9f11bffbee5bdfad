package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Agent
	if cfg.Agent.WSURL != "" && cfg.Agent.AgentID == "" {
		errs = append(errs, errors.New("agent.agent_id is required when agent.ws_url is set"))
	}
	if cfg.Agent.WSURL != "" && cfg.Agent.APIKey == "" {
		errs = append(errs, errors.New("agent.api_key is required when agent.ws_url is set"))
	}
	if cfg.Agent.TurnTimeout < 0 {
		errs = append(errs, errors.New("agent.turn_timeout must not be negative"))
	}

	// TTS
	if cfg.TTS.APIURL != "" {
		if cfg.TTS.APIKey == "" {
			errs = append(errs, errors.New("tts.api_key is required when tts.api_url is set"))
		}
		if cfg.TTS.UserID == "" {
			errs = append(errs, errors.New("tts.user_id is required when tts.api_url is set"))
		}
	}
	if cfg.TTS.ChunkTimeout < 0 {
		errs = append(errs, errors.New("tts.chunk_timeout must not be negative"))
	}
	if cfg.TTS.MaxChunkLength < 0 {
		errs = append(errs, errors.New("tts.max_chunk_length must not be negative"))
	}

	// Sessions
	if cfg.Sessions.SweepInterval < 0 {
		errs = append(errs, errors.New("sessions.sweep_interval must not be negative"))
	}
	if cfg.Sessions.IdleThreshold < 0 {
		errs = append(errs, errors.New("sessions.idle_threshold must not be negative"))
	}

	// Voices
	for i, v := range cfg.Voices {
		if v.Value == "" {
			errs = append(errs, fmt.Errorf("voices[%d].value must not be empty", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %w", errors.Join(errs...))
	}
	return nil
}

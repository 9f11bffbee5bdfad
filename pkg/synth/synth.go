// Package synth provides text-to-speech synthesis for long text blocks: a
// deterministic sentence-boundary chunker, a sequential per-chunk pipeline
// with progress reporting, and a content-addressed audio cache.
//
// The Provider interface is the abstraction over any one-shot synthesis
// backend. Implementations must be safe for concurrent use.
package synth

import "context"

// VoiceConfig identifies a synthesis voice and its tuning parameters.
type VoiceConfig struct {
	// Value is the provider's voice identifier (for PlayAI, a manifest URL).
	Value string `yaml:"value" json:"value"`

	// Name is the human-readable voice name shown to users.
	Name string `yaml:"name" json:"name,omitempty"`

	// Speed is the playback speed multiplier. Zero means provider default.
	Speed float64 `yaml:"speed" json:"speed,omitempty"`

	// Temperature controls synthesis variability. Zero means provider default.
	Temperature float64 `yaml:"temperature" json:"temperature,omitempty"`
}

// Request is one synthesis call. Chunk metadata is informational: it lets the
// backend correlate rate-limit behaviour with a multi-chunk job.
type Request struct {
	Text  string
	Voice VoiceConfig

	// ChunkIndex is the 1-based position of this request within a chunked
	// job, or zero for a standalone request.
	ChunkIndex int

	// ChunkTotal is the number of chunks in the job, or zero for a
	// standalone request.
	ChunkTotal int
}

// Audio is a synthesised audio payload.
type Audio struct {
	Data        []byte
	ContentType string
}

// Provider is the abstraction over any one-shot TTS backend.
//
// Synthesize issues exactly one synthesis call for req and returns the full
// audio payload. It must respect ctx cancellation; the pipeline bounds each
// call with a per-chunk deadline.
type Provider interface {
	Synthesize(ctx context.Context, req Request) (Audio, error)
}

package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/voxread/voxread/internal/observe"
	"github.com/voxread/voxread/pkg/synth"
)

// ttsRequest is the JSON body of the one-shot synthesis endpoint.
type ttsRequest struct {
	Text        string            `json:"text"`
	VoiceConfig synth.VoiceConfig `json:"voiceConfig"`
}

// ttsError is the JSON error shape of the synthesis endpoint.
type ttsError struct {
	Error string `json:"error"`
}

// handleTTS converts a text block into a single audio payload through the
// chunked synthesis pipeline.
func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ttsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ttsError{Error: "Invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, ttsError{Error: "Text is required"})
		return
	}

	job := synth.Job{
		Text:  req.Text,
		Voice: req.VoiceConfig,
		Key:   ttsCacheKey(req),
	}

	start := time.Now()
	audio, err := s.synth.Run(ctx, job)
	s.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordProviderError(ctx, "playai", "tts")
		observe.Logger(ctx).Error("synthesis failed", "err", err)

		status := http.StatusInternalServerError
		var chunkErr *synth.ChunkError
		if errors.As(err, &chunkErr) && errors.Is(chunkErr.Err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		writeJSON(w, status, ttsError{Error: "Synthesis failed: " + err.Error()})
		return
	}
	s.metrics.RecordProviderRequest(ctx, "playai", "tts", "ok")

	contentType := audio.ContentType
	if contentType == "" {
		contentType = "audio/mp3"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio.Data)
}

// ttsCacheKey derives a content-addressed cache key for a one-shot synthesis
// request. The endpoint has no document identity, so the text itself is the
// document: identical text in the same voice replays the cached audio.
func ttsCacheKey(req ttsRequest) synth.Key {
	sum := sha256.Sum256([]byte(req.Text))
	return synth.Key{
		Document: hex.EncodeToString(sum[:]),
		Voice:    req.VoiceConfig,
	}
}

// handleVoices lists the voices a client may pass as voiceConfig.
func (s *Server) handleVoices(w http.ResponseWriter, _ *http.Request) {
	voices := s.voices
	if voices == nil {
		voices = []synth.VoiceConfig{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"voices": voices})
}

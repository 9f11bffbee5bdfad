package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/voxread/voxread/internal/observe"
	"github.com/voxread/voxread/internal/session"
	"github.com/voxread/voxread/pkg/agent"
)

// maxUploadBytes bounds the multipart form held in memory per request.
const maxUploadBytes = 32 << 20

// handleConversation dispatches the multipart conversation endpoint by its
// action field: connect opens a session, speak runs one turn, disconnect
// tears the session down.
func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid form data")
		return
	}

	switch action := r.FormValue("action"); action {
	case "connect":
		s.handleConnect(w, r)
	case "speak":
		s.handleSpeak(w, r)
	case "disconnect":
		s.handleDisconnect(w, r)
	default:
		writeError(w, http.StatusBadRequest, "Unknown action: "+action)
	}
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sess, err := s.agent.Connect(ctx, agent.SessionConfig{OutputFormat: s.outputFormat})
	if err != nil {
		s.metrics.RecordProviderError(ctx, "playai", "agent")
		observe.Logger(ctx).Error("agent connect failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to connect: "+err.Error())
		return
	}

	id := session.NewID()
	if err := s.sessions.Register(id, sess); err != nil {
		_ = sess.Close()
		writeError(w, http.StatusInternalServerError, "Failed to register session")
		return
	}
	s.metrics.ActiveSessions.Add(ctx, 1)
	observe.Logger(ctx).Info("session connected", "session_id", id)

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"sessionId": id,
	})
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.FormValue("sessionId")

	file, _, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No audio file provided")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read audio file")
		return
	}

	sess, err := s.sessions.Get(id)
	if err != nil {
		writeError(w, http.StatusBadRequest, "No active session found")
		return
	}

	start := time.Now()
	turn, err := sess.Speak(ctx, audio)
	s.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordProviderRequest(ctx, "playai", "agent", "error")
		observe.Logger(ctx).Error("turn failed", "session_id", id, "err", err)

		// A dead transport cannot serve further turns; drop the session so
		// the client reconnects instead of retrying into the same error.
		if errors.Is(err, agent.ErrSessionClosed) {
			if s.sessions.Remove(id) == nil {
				s.metrics.ActiveSessions.Add(ctx, -1)
			}
		}
		writeError(w, http.StatusInternalServerError, "Turn failed: "+err.Error())
		return
	}
	s.metrics.RecordProviderRequest(ctx, "playai", "agent", "ok")

	if err := s.sessions.Touch(id); err != nil {
		slog.Debug("touch after turn", "session_id", id, "err", err)
	}

	contentType := turn.ContentType
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Response-Text", headerSafe(turn.Transcript))
	w.Header().Set("X-Session-Id", id)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(turn.Audio)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.FormValue("sessionId")

	if err := s.sessions.Remove(id); err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	s.metrics.ActiveSessions.Add(ctx, -1)
	observe.Logger(ctx).Info("session disconnected", "session_id", id)

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Session disconnected",
	})
}

// headerSafe collapses a transcript onto one line. Header values must not
// contain CR or LF.
func headerSafe(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

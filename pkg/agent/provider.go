// Package agent defines the Provider interface for remote voice-agent backends.
//
// A voice agent is a real-time conversational service that accepts recorded
// speech and answers with synthesised speech plus a text transcript. The
// central abstraction is Session: a persistent, multiplexed connection over
// which the client runs one conversational turn at a time.
//
// Sessions are designed to be long-lived (minutes) and are owned by exactly
// one registry entry at a time. All implementations must be safe for
// concurrent use.
package agent

import "context"

// Turn is the result of one request/response cycle within a session: the
// agent's spoken reply plus the transcript accumulated while the turn was in
// flight. A Turn exists only for the duration of one Speak call and is never
// persisted.
type Turn struct {
	// Audio is the agent's synthesised reply. Always non-empty on success.
	Audio []byte

	// ContentType is the MIME type of Audio (e.g. "audio/mpeg").
	ContentType string

	// Transcript is the text of the agent's reply as reported by the remote
	// side. It may be empty when the transcript event had not arrived by the
	// time the audio resolved the turn; transcripts arriving later are not
	// retrofitted into an already-returned Turn.
	Transcript string
}

// SessionConfig is the initial configuration for a new agent session.
type SessionConfig struct {
	// OutputFormat is the requested audio format for agent replies
	// (e.g. "mp3"). Sent in the setup handshake.
	OutputFormat string
}

// Session represents one open connection to the remote voice agent.
//
// A session runs at most one turn at a time: Speak returns ErrTurnInFlight
// when called while another turn is unresolved. Callers must call Close when
// the session is no longer needed; Close is idempotent.
type Session interface {
	// Speak sends one recorded utterance to the agent and blocks until the
	// agent's spoken reply resolves the turn, the turn times out, the remote
	// side reports an error, or ctx is cancelled.
	//
	// Speak may be called before the remote side has acknowledged the setup
	// handshake; in that case the input is queued and sent exactly once when
	// the acknowledgment is observed.
	Speak(ctx context.Context, audio []byte) (*Turn, error)

	// Alive reports whether the session's transport is still usable. A
	// session whose transport has failed stays registered until removed, but
	// Speak on it fails fast with ErrSessionClosed.
	Alive() bool

	// Close terminates the session and releases the underlying transport.
	// An in-flight turn fails with ErrSessionClosed. Calling Close more than
	// once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any voice-agent backend.
//
// Implementations must be safe for concurrent use; the serving layer opens
// one session per connected client.
type Provider interface {
	// Connect establishes a new session. It returns once the transport is
	// open and the setup handshake has been written; the remote side's
	// acknowledgment may arrive asynchronously afterwards and is allowed to
	// race with the first turn. The caller owns the Session and must Close it.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)
}

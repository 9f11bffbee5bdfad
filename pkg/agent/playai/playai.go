// Package playai implements the agent.Provider interface for the PlayAI
// conversational websocket API.
//
// It establishes a bidirectional WebSocket connection to a PlayAI agent
// endpoint and exchanges tag-discriminated JSON messages: an outbound "setup"
// handshake carrying the API key and desired output format, an outbound
// "audioIn" message per conversational turn, and inbound "init",
// "audioStream", "onAgentTranscript" and "error" events. Audio is transmitted
// as base64-encoded bytes in both directions.
package playai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voxread/voxread/pkg/agent"
)

// Compile-time assertions that Provider and Session satisfy the agent interfaces.
var _ agent.Provider = (*Provider)(nil)
var _ agent.Session = (*Session)(nil)

const (
	defaultTurnTimeout  = 30 * time.Second
	defaultOutputFormat = "mp3"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithTurnTimeout overrides the default 30 s wall-clock limit for one turn.
// Useful in tests to keep suite execution fast.
func WithTurnTimeout(d time.Duration) Option {
	return func(p *Provider) { p.turnTimeout = d }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements agent.Provider for the PlayAI websocket API.
type Provider struct {
	apiKey      string
	agentID     string
	baseURL     string
	turnTimeout time.Duration
}

// New creates a new PlayAI Provider. baseURL is the websocket endpoint root
// (e.g. "wss://api.play.ai/v1/talk"); the agent id is appended as a path
// segment when dialling.
func New(baseURL, agentID, apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:      apiKey,
		agentID:     agentID,
		baseURL:     baseURL,
		turnTimeout: defaultTurnTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect establishes a new session with the agent. It dials the websocket,
// immediately writes the setup handshake, and returns once both succeed. The
// remote side's "init" acknowledgment arrives asynchronously and may race the
// first Speak call; a turn issued before the acknowledgment queues its input
// and sends it the moment "init" is observed.
func (p *Provider) Connect(ctx context.Context, cfg agent.SessionConfig) (agent.Session, error) {
	wsURL := fmt.Sprintf("%s/%s", p.baseURL, p.agentID)

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("playai: dial: %w", err)
	}

	format := cfg.OutputFormat
	if format == "" {
		format = defaultOutputFormat
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	s := &Session{
		conn:        conn,
		turnTimeout: p.turnTimeout,
		done:        make(chan struct{}),
		ctx:         sessCtx,
		cancel:      sessCancel,
	}

	// A failed local write is a transport-class connect failure; ErrSetupRejected
	// is reserved for the remote explicitly refusing the handshake.
	setup := setupMessage{Type: "setup", APIKey: p.apiKey, OutputFormat: format}
	if err := s.writeJSON(setup); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("playai: write setup: %w", err)
	}

	go s.receiveLoop()
	go s.keepaliveLoop()

	return s, nil
}

// ── Protocol message types ─────────────────────────────────────────────────────

type setupMessage struct {
	Type         string `json:"type"`
	APIKey       string `json:"apiKey"`
	OutputFormat string `json:"outputFormat"`
}

type audioInMessage struct {
	Type string `json:"type"`
	Data string `json:"data"` // base64-encoded
}

// serverEvent is the union of all inbound event shapes, discriminated by Type.
type serverEvent struct {
	Type string `json:"type"`

	// audioStream fields.
	Data   string `json:"data,omitempty"` // base64-encoded
	Format string `json:"format,omitempty"`

	// onAgentTranscript fields. The remote side is inconsistent about which
	// field carries the text; Message takes precedence, then Text, then
	// Transcript.
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Message    string `json:"message,omitempty"`

	// error fields (Message is shared with transcripts above).
	Code int `json:"code,omitempty"`
}

// ── Session ────────────────────────────────────────────────────────────────────

// Session is an open PlayAI websocket session. It runs at most one turn at a
// time and is safe for concurrent use.
type Session struct {
	conn        *websocket.Conn
	turnTimeout time.Duration

	mu          sync.Mutex
	initialized bool
	turn        *turnState
	closed      bool
	errVal      error

	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// outcome is the tagged result of one turn: exactly one of turn or err is set.
type outcome struct {
	turn *agent.Turn
	err  error
}

// turnState tracks one in-flight turn. It lives from the Speak call that
// created it until that call returns; resolution is delivered through the
// buffered result channel so that a resolution losing the race against the
// timeout neither blocks the receive loop nor leaks.
type turnState struct {
	// queued holds the input audio when the session was not yet initialized
	// at Speak time. It is sent exactly once when "init" is observed.
	queued []byte
	sent   bool

	// best is the largest audio payload seen so far. The turn resolves as
	// soon as best is non-empty ("first good chunk wins" — later, possibly
	// fuller chunks are deliberately discarded).
	best       []byte
	bestFormat string

	transcript string
	resolved   bool
	result     chan outcome
}

// Speak sends one recorded utterance and blocks until the turn resolves,
// times out, or fails. Only one turn may be in flight per session; concurrent
// calls fail with agent.ErrTurnInFlight.
//
// Transcript events that arrive before the resolving audio chunk are merged
// into the returned Turn; a transcript arriving after resolution is dropped.
func (s *Session) Speak(ctx context.Context, audio []byte) (*agent.Turn, error) {
	s.mu.Lock()
	if s.closed || s.errVal != nil {
		err := s.errVal
		s.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("playai: %w: %w", agent.ErrSessionClosed, err)
		}
		return nil, agent.ErrSessionClosed
	}
	if s.turn != nil {
		s.mu.Unlock()
		return nil, agent.ErrTurnInFlight
	}

	t := &turnState{result: make(chan outcome, 1)}
	sendNow := s.initialized
	if sendNow {
		t.sent = true
	} else {
		t.queued = audio
	}
	s.turn = t
	s.mu.Unlock()

	// The turn is detached on every exit path so no handler outlives its
	// Speak call.
	defer s.detach(t)

	if sendNow {
		if err := s.sendAudio(audio); err != nil {
			return nil, fmt.Errorf("playai: send audio: %w", agent.ErrSessionClosed)
		}
	}

	timer := time.NewTimer(s.turnTimeout)
	defer timer.Stop()

	select {
	case out := <-t.result:
		return out.turn, out.err
	case <-timer.C:
		return nil, agent.ErrTurnTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, agent.ErrSessionClosed
	}
}

// Alive reports whether the transport is still usable.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.errVal == nil
}

// Close terminates the session and fails any in-flight turn with
// agent.ErrSessionClosed. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	t := s.turn
	s.turn = nil
	if t != nil {
		s.resolveLocked(t, outcome{err: agent.ErrSessionClosed})
	}
	s.mu.Unlock()

	s.closeOnce.Do(func() {
		s.cancel()    // unblocks receiveLoop and keepaliveLoop
		close(s.done) // unblocks any Speak still selecting
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// detach removes t as the session's in-flight turn if it still is. Called
// from every Speak exit path; a resolution racing in after detach lands in
// t's buffered channel and is garbage collected with it.
func (s *Session) detach(t *turnState) {
	s.mu.Lock()
	if s.turn == t {
		s.turn = nil
	}
	s.mu.Unlock()
}

// resolveLocked delivers the outcome for t exactly once. s.mu must be held.
func (s *Session) resolveLocked(t *turnState, out outcome) {
	if t.resolved {
		return
	}
	t.resolved = true
	t.result <- out // buffered; never blocks
}

func (s *Session) sendAudio(audio []byte) error {
	msg := audioInMessage{
		Type: "audioIn",
		Data: base64.StdEncoding.EncodeToString(audio),
	}
	return s.writeJSON(msg)
}

// writeJSON marshals v and writes it as a text WebSocket frame.
func (s *Session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("playai: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// ── Receive path ───────────────────────────────────────────────────────────────

// receiveLoop reads frames from the websocket and dispatches them by tag. It
// exits when the connection fails or the session is closed; a transport
// failure fails the in-flight turn and marks the session dead so the next
// Speak fails fast.
func (s *Session) receiveLoop() {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return // session closed locally
			}
			s.fail(fmt.Errorf("playai: read: %w", err))
			return
		}

		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			// A malformed frame fails the turn that was waiting on it but
			// leaves the connection up, matching the remote protocol's
			// per-turn error contract.
			s.failTurn(agent.ErrInvalidResponse)
			continue
		}

		s.handleEvent(&ev)
	}
}

func (s *Session) handleEvent(ev *serverEvent) {
	switch ev.Type {
	case "init":
		s.handleInit()
	case "audioStream":
		s.handleAudio(ev)
	case "onAgentTranscript":
		s.handleTranscript(ev)
	case "error":
		s.handleError(ev)
	}
}

// handleInit marks the session initialized and flushes a queued first turn.
func (s *Session) handleInit() {
	s.mu.Lock()
	s.initialized = true
	var queued []byte
	t := s.turn
	if t != nil && !t.sent {
		t.sent = true
		queued = t.queued
		t.queued = nil
	}
	s.mu.Unlock()

	// Send outside the lock: a slow write must not stall event dispatch.
	if queued != nil {
		if err := s.sendAudio(queued); err != nil {
			s.failTurn(fmt.Errorf("playai: send queued audio: %w", agent.ErrSessionClosed))
		}
	}
}

// handleAudio applies the chunk selection policy: keep the largest payload
// seen so far and resolve the turn as soon as one is non-empty. Chunks
// arriving after resolution, or outside any turn, are dropped.
func (s *Session) handleAudio(ev *serverEvent) {
	payload, err := base64.StdEncoding.DecodeString(ev.Data)
	if err != nil {
		s.failTurn(agent.ErrInvalidResponse)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.turn
	if t == nil || t.resolved {
		return
	}

	if len(payload) > len(t.best) {
		t.best = payload
		t.bestFormat = ev.Format
	}
	if len(t.best) == 0 {
		return
	}

	format := t.bestFormat
	if format == "" {
		format = "audio/mpeg"
	}
	s.resolveLocked(t, outcome{turn: &agent.Turn{
		Audio:       t.best,
		ContentType: format,
		Transcript:  t.transcript,
	}})
}

// handleTranscript records the agent's transcript text for the in-flight
// turn. It never resolves a turn by itself.
func (s *Session) handleTranscript(ev *serverEvent) {
	text := ev.Message
	if text == "" {
		text = ev.Text
	}
	if text == "" {
		text = ev.Transcript
	}
	if text == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.turn
	if t == nil || t.resolved {
		return
	}
	t.transcript = text
}

// handleError fails the in-flight turn with the remote error. An error event
// arriving before the setup acknowledgment, with no turn in flight, marks the
// whole session dead.
func (s *Session) handleError(ev *serverEvent) {
	remote := &agent.RemoteError{Code: ev.Code, Message: ev.Message}

	s.mu.Lock()
	t := s.turn
	if t != nil {
		s.resolveLocked(t, outcome{err: remote})
		s.mu.Unlock()
		return
	}
	if !s.initialized && s.errVal == nil {
		s.errVal = fmt.Errorf("%w: %w", agent.ErrSetupRejected, remote)
	} else if s.errVal == nil {
		s.errVal = remote
	}
	s.mu.Unlock()
}

// failTurn fails the in-flight turn, if any, with err.
func (s *Session) failTurn(err error) {
	s.mu.Lock()
	if t := s.turn; t != nil {
		s.resolveLocked(t, outcome{err: err})
	}
	s.mu.Unlock()
}

// fail marks the session dead and fails the in-flight turn. Used when the
// transport itself breaks, so the next Speak fails fast instead of hanging.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.errVal == nil {
		s.errVal = err
	}
	if t := s.turn; t != nil {
		s.resolveLocked(t, outcome{err: fmt.Errorf("%w: %w", agent.ErrSessionClosed, err)})
		s.turn = nil
	}
	s.mu.Unlock()
}

// keepaliveLoop sends WebSocket pings while the session is open.
func (s *Session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

// Package playback implements the client-side playback controller for
// synthesised page audio.
//
// A Controller owns at most one live audio Resource at a time and drives the
// observable state machine idle → processing → speaking ⇄ paused → idle.
// Synthesis results are obtained from a synth pipeline; audio output goes
// through a Sink so tests and alternative audio backends can be plugged in.
//
// All exported methods are safe for concurrent use.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/voxread/voxread/pkg/synth"
)

// State is the externally observable playback state.
type State int

const (
	// StateIdle means no audio is loaded or playing.
	StateIdle State = iota

	// StateProcessing means a synthesis job is running for the current page.
	StateProcessing

	// StateSpeaking means audio is playing.
	StateSpeaking

	// StatePaused means audio is paused and retains its position.
	StatePaused
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// ErrNoText is returned by Play when there is no text to read.
var ErrNoText = errors.New("playback: no text to read")

// Resource is one playing (or paused) audio stream. A Controller holds at
// most one Resource and guarantees Release is called on every exit path.
type Resource interface {
	// Pause halts playback, retaining the position.
	Pause() error

	// Resume continues playback from the paused position.
	Resume() error

	// Stop halts playback and resets the position to the start.
	Stop() error

	// Release frees the underlying audio buffer. The Resource is unusable
	// afterwards. Idempotent.
	Release() error

	// Done returns a channel closed when playback reaches the natural end
	// of the audio.
	Done() <-chan struct{}
}

// Sink turns an audio payload into a playing Resource. Implementations must
// start playback before returning.
type Sink interface {
	Play(ctx context.Context, audio synth.Audio) (Resource, error)
}

// Synthesizer is the pipeline dependency of a Controller. *synth.Pipeline
// satisfies it.
type Synthesizer interface {
	Run(ctx context.Context, job synth.Job) (synth.Audio, error)
}

// Option is a functional option for configuring a Controller.
type Option func(*Controller)

// WithCache attaches the audio cache the controller owns. The controller
// drops the whole cache when its document changes.
func WithCache(c *synth.Cache) Option {
	return func(ctl *Controller) { ctl.cache = c }
}

// Controller mediates between user intent (play/pause/stop), the synthesis
// pipeline, and the audio sink.
type Controller struct {
	pipeline Synthesizer
	sink     Sink
	cache    *synth.Cache

	mu       sync.Mutex
	state    State
	resource Resource
	document string
	page     int
	voice    synth.VoiceConfig

	// gen is bumped on every stop, page change and document change. A
	// synthesis result or end-of-audio event carrying a stale generation is
	// discarded, so nothing arriving after a stop can resurrect playback.
	gen uint64
}

// NewController creates a Controller in the idle state.
func NewController(pipeline Synthesizer, sink Sink, opts ...Option) *Controller {
	ctl := &Controller{
		pipeline: pipeline,
		sink:     sink,
		state:    StateIdle,
	}
	for _, o := range opts {
		o(ctl)
	}
	return ctl
}

// State returns the current playback state.
func (ctl *Controller) State() State {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.state
}

// SetVoice selects the voice for subsequent Play calls. Cached audio for
// other voices stays valid; the cache key includes the voice.
func (ctl *Controller) SetVoice(v synth.VoiceConfig) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	ctl.voice = v
}

// SetPage moves to a different page of the current document. Playback is
// force-stopped from any state; cached audio for other pages is kept.
func (ctl *Controller) SetPage(page int) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if page == ctl.page {
		return
	}
	ctl.page = page
	ctl.forceStopLocked()
}

// SetDocument switches to a different document. Playback is force-stopped
// from any state and the whole audio cache is dropped, so no stale audio can
// play after the swap.
func (ctl *Controller) SetDocument(document string) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if document == ctl.document {
		return
	}
	ctl.document = document
	ctl.page = 0
	ctl.forceStopLocked()
	if ctl.cache != nil {
		ctl.cache.Reset()
	}
}

// Play starts reading text aloud, or resumes paused audio.
//
// From idle it runs the synthesis pipeline (observable as the processing
// state) and starts playback on success; a pipeline failure returns the
// error with the controller back in idle. From paused it resumes the owned
// resource without re-synthesising. During processing or while already
// speaking, Play is a no-op.
func (ctl *Controller) Play(ctx context.Context, text string) error {
	ctl.mu.Lock()
	switch ctl.state {
	case StatePaused:
		err := ctl.resource.Resume()
		if err == nil {
			ctl.state = StateSpeaking
		}
		ctl.mu.Unlock()
		return err
	case StateProcessing, StateSpeaking:
		ctl.mu.Unlock()
		return nil
	}

	if text == "" {
		ctl.mu.Unlock()
		return ErrNoText
	}

	job := synth.Job{
		Text:  text,
		Voice: ctl.voice,
		Key: synth.Key{
			Document: ctl.document,
			Page:     ctl.page,
			Voice:    ctl.voice,
		},
	}
	gen := ctl.gen
	ctl.state = StateProcessing
	ctl.mu.Unlock()

	// Synthesis runs without the lock: page/document changes and state reads
	// must not block behind a slow network job.
	audio, err := ctl.pipeline.Run(ctx, job)

	ctl.mu.Lock()
	if ctl.gen != gen {
		// The page or document changed while synthesising. The result (or
		// its error) belongs to an abandoned job; the force-stop already
		// reset the state.
		ctl.mu.Unlock()
		slog.Debug("discarding stale synthesis result", "document", job.Key.Document, "page", job.Key.Page)
		return nil
	}
	if err != nil {
		ctl.state = StateIdle
		ctl.mu.Unlock()
		return fmt.Errorf("playback: synthesis: %w", err)
	}

	res, err := ctl.sink.Play(ctx, audio)
	if err != nil {
		ctl.state = StateIdle
		ctl.mu.Unlock()
		return fmt.Errorf("playback: start audio: %w", err)
	}
	ctl.resource = res
	ctl.state = StateSpeaking
	ctl.mu.Unlock()

	go ctl.watchEnd(res, gen)
	return nil
}

// Pause pauses playing audio, retaining its position. A no-op in any state
// other than speaking.
func (ctl *Controller) Pause() error {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if ctl.state != StateSpeaking {
		return nil
	}
	if err := ctl.resource.Pause(); err != nil {
		return err
	}
	ctl.state = StatePaused
	return nil
}

// Stop ends playback from speaking or paused, releasing the owned resource
// and resetting the position. It is a no-op while idle or processing; a
// running synthesis job is only abandoned by a page or document change.
func (ctl *Controller) Stop() error {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if ctl.state != StateSpeaking && ctl.state != StatePaused {
		return nil
	}
	ctl.forceStopLocked()
	return nil
}

// Close releases the owned resource from any state. Use on teardown.
func (ctl *Controller) Close() error {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	ctl.forceStopLocked()
	return nil
}

// forceStopLocked releases the owned resource (if any), resets the state to
// idle, and invalidates in-flight work by bumping the generation. ctl.mu must
// be held.
func (ctl *Controller) forceStopLocked() {
	ctl.gen++
	if ctl.resource != nil {
		if err := ctl.resource.Stop(); err != nil {
			slog.Warn("playback: stop resource", "err", err)
		}
		if err := ctl.resource.Release(); err != nil {
			slog.Warn("playback: release resource", "err", err)
		}
		ctl.resource = nil
	}
	ctl.state = StateIdle
}

// watchEnd waits for the natural end of res and returns the controller to
// idle, releasing the resource. A stale generation means the resource was
// already released by a stop or page change.
func (ctl *Controller) watchEnd(res Resource, gen uint64) {
	<-res.Done()

	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if ctl.gen != gen || ctl.resource != res {
		return
	}
	if err := res.Release(); err != nil {
		slog.Warn("playback: release resource", "err", err)
	}
	ctl.resource = nil
	ctl.state = StateIdle
}

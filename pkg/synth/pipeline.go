package synth

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultChunkTimeout   = 15 * time.Second
	defaultMaxChunkLength = 1500
)

// ChunkError reports the failure of one chunk within a synthesis job. The
// job is aborted at the failing chunk; no partial audio is returned.
type ChunkError struct {
	// Index is the 1-based position of the failed chunk.
	Index int

	// Err is the underlying synthesis or timeout error.
	Err error
}

// Error implements the error interface.
func (e *ChunkError) Error() string {
	return fmt.Sprintf("synth: chunk %d failed: %v", e.Index, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ChunkError) Unwrap() error { return e.Err }

// Progress reports how far a synthesis job has advanced. Completed counts
// finished chunks; Total is the chunk count for the whole job.
type Progress struct {
	Completed int
	Total     int
}

// Job is one request to turn a block of text into a single audio payload.
type Job struct {
	Text  string
	Voice VoiceConfig

	// Key identifies the job for cache purposes. A zero Document disables
	// caching for this job.
	Key Key
}

// PipelineOption is a functional option for configuring a Pipeline.
type PipelineOption func(*Pipeline)

// WithChunkTimeout overrides the default 15 s per-chunk deadline.
func WithChunkTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) { p.chunkTimeout = d }
}

// WithMaxChunkLength overrides the default maximum chunk size in bytes.
func WithMaxChunkLength(n int) PipelineOption {
	return func(p *Pipeline) { p.maxChunkLen = n }
}

// WithProgress registers an observer invoked as the job advances: once with
// (0, total) before the first request, once after each completed chunk, and
// once with a complete progress value on a cache hit. The callback runs on
// the calling goroutine and must not block.
func WithProgress(fn func(Progress)) PipelineOption {
	return func(p *Pipeline) { p.onProgress = fn }
}

// WithCache attaches a cache consulted before any network request and
// populated after a successful job.
func WithCache(c *Cache) PipelineOption {
	return func(p *Pipeline) { p.cache = c }
}

// WithCacheLookup registers an observer invoked once per cache consultation
// with the lookup result. It fires only for jobs that carry a cache key on a
// pipeline with a cache attached. The callback runs on the calling goroutine
// and must not block.
func WithCacheLookup(fn func(ctx context.Context, hit bool)) PipelineOption {
	return func(p *Pipeline) { p.onCacheLookup = fn }
}

// Pipeline turns long text into one audio payload by chunking it and issuing
// one synthesis request per chunk, strictly sequentially. Sequencing is a
// correctness requirement twice over: the assembled audio must preserve
// chunk order, and the remote endpoint rate-limits concurrent requests.
//
// Identical jobs running concurrently are coalesced into one upstream
// sequence. Safe for concurrent use.
type Pipeline struct {
	provider      Provider
	cache         *Cache
	chunkTimeout  time.Duration
	maxChunkLen   int
	onProgress    func(Progress)
	onCacheLookup func(ctx context.Context, hit bool)
	group         singleflight.Group
}

// NewPipeline creates a Pipeline backed by provider. Options are applied in
// order.
func NewPipeline(provider Provider, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		provider:     provider,
		chunkTimeout: defaultChunkTimeout,
		maxChunkLen:  defaultMaxChunkLength,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run executes job and returns the assembled audio.
//
// A cache hit short-circuits chunking and synthesis entirely and reports
// progress as already complete. On a miss the chunks are synthesised in
// order under the per-chunk timeout; any failure aborts the job with a
// *ChunkError carrying the 1-based failing index, and chunks after the
// failing one are never requested.
func (p *Pipeline) Run(ctx context.Context, job Job) (Audio, error) {
	if p.cache != nil && job.Key.Document != "" {
		audio, ok := p.cache.Get(job.Key)
		p.reportCacheLookup(ctx, ok)
		if ok {
			slog.Debug("synthesis cache hit", "document", job.Key.Document, "page", job.Key.Page)
			p.reportProgress(Progress{Completed: 1, Total: 1})
			return audio, nil
		}
	}

	if job.Key.Document == "" {
		return p.run(ctx, job)
	}

	// Coalesce concurrent identical jobs into one upstream sequence.
	v, err, _ := p.group.Do(job.Key.digest(), func() (any, error) {
		return p.run(ctx, job)
	})
	if err != nil {
		return Audio{}, err
	}
	return v.(Audio), nil
}

func (p *Pipeline) run(ctx context.Context, job Job) (Audio, error) {
	chunks := Chunk(job.Text, p.maxChunkLen)
	total := len(chunks)
	p.reportProgress(Progress{Completed: 0, Total: total})
	if total == 0 {
		return Audio{}, nil
	}

	start := time.Now()
	var assembled bytes.Buffer
	contentType := ""

	for i, chunk := range chunks {
		audio, err := p.synthesizeChunk(ctx, job, chunk, i+1, total)
		if err != nil {
			return Audio{}, &ChunkError{Index: i + 1, Err: err}
		}
		assembled.Write(audio.Data)
		if contentType == "" {
			contentType = audio.ContentType
		}
		p.reportProgress(Progress{Completed: i + 1, Total: total})
	}

	result := Audio{Data: assembled.Bytes(), ContentType: contentType}
	if p.cache != nil && job.Key.Document != "" {
		p.cache.Put(job.Key, result)
	}

	slog.Debug("synthesis job complete",
		"document", job.Key.Document,
		"page", job.Key.Page,
		"chunks", total,
		"bytes", assembled.Len(),
		"duration", time.Since(start),
	)
	return result, nil
}

// synthesizeChunk issues one provider call bounded by the per-chunk timeout.
func (p *Pipeline) synthesizeChunk(ctx context.Context, job Job, text string, index, total int) (Audio, error) {
	chunkCtx, cancel := context.WithTimeout(ctx, p.chunkTimeout)
	defer cancel()

	return p.provider.Synthesize(chunkCtx, Request{
		Text:       text,
		Voice:      job.Voice,
		ChunkIndex: index,
		ChunkTotal: total,
	})
}

func (p *Pipeline) reportProgress(pr Progress) {
	if p.onProgress != nil {
		p.onProgress(pr)
	}
}

func (p *Pipeline) reportCacheLookup(ctx context.Context, hit bool) {
	if p.onCacheLookup != nil {
		p.onCacheLookup(ctx, hit)
	}
}

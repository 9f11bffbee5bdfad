package synth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeProvider records every request and answers from a scripted function.
type fakeProvider struct {
	mu       sync.Mutex
	requests []Request
	respond  func(req Request) (Audio, error)
}

func (f *fakeProvider) Synthesize(ctx context.Context, req Request) (Audio, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Audio{}, err
	}
	if f.respond != nil {
		return f.respond(req)
	}
	return Audio{Data: []byte(req.Text), ContentType: "audio/mp3"}, nil
}

func (f *fakeProvider) calls() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Request, len(f.requests))
	copy(out, f.requests)
	return out
}

func TestPipelineAssemblesChunksInOrder(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	var progress []Progress
	p := NewPipeline(provider,
		WithMaxChunkLength(10),
		WithProgress(func(pr Progress) { progress = append(progress, pr) }),
	)

	audio, err := p.Run(context.Background(), Job{Text: "One. Two! Three?"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got, want := string(audio.Data), "One. Two!Three?"; got != want {
		t.Errorf("assembled audio = %q, want %q", got, want)
	}
	if audio.ContentType != "audio/mp3" {
		t.Errorf("content type = %q, want audio/mp3", audio.ContentType)
	}

	calls := provider.calls()
	if len(calls) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(calls))
	}
	for i, c := range calls {
		if c.ChunkIndex != i+1 || c.ChunkTotal != 2 {
			t.Errorf("call %d chunk metadata = (%d, %d), want (%d, 2)", i, c.ChunkIndex, c.ChunkTotal, i+1)
		}
	}

	want := []Progress{{0, 2}, {1, 2}, {2, 2}}
	if len(progress) != len(want) {
		t.Fatalf("progress reports = %v, want %v", progress, want)
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Errorf("progress[%d] = %v, want %v", i, progress[i], want[i])
		}
	}
}

func TestPipelineFailFastOnChunkError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	provider := &fakeProvider{
		respond: func(req Request) (Audio, error) {
			if req.ChunkIndex == 2 {
				return Audio{}, boom
			}
			return Audio{Data: []byte(req.Text), ContentType: "audio/mp3"}, nil
		},
	}
	p := NewPipeline(provider, WithMaxChunkLength(10))

	_, err := p.Run(context.Background(), Job{Text: "One. Two! Three?"})
	var ce *ChunkError
	if !errors.As(err, &ce) {
		t.Fatalf("Run error = %v, want *ChunkError", err)
	}
	if ce.Index != 2 {
		t.Errorf("failing chunk index = %d, want 2", ce.Index)
	}
	if !errors.Is(err, boom) {
		t.Errorf("ChunkError does not wrap the cause: %v", err)
	}

	// Chunk 3 must never have been requested.
	if calls := provider.calls(); len(calls) != 2 {
		t.Errorf("provider calls = %d, want 2 (abort after failing chunk)", len(calls))
	}
}

func TestPipelineChunkTimeout(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{
		respond: func(req Request) (Audio, error) {
			time.Sleep(200 * time.Millisecond)
			return Audio{Data: []byte(req.Text)}, nil
		},
	}
	p := NewPipeline(provider, WithChunkTimeout(50*time.Millisecond))

	_, err := p.Run(context.Background(), Job{Text: "Slow sentence."})
	var ce *ChunkError
	if !errors.As(err, &ce) {
		t.Fatalf("Run error = %v, want *ChunkError", err)
	}
	if ce.Index != 1 {
		t.Errorf("failing chunk index = %d, want 1", ce.Index)
	}
}

func TestPipelineCacheHitSkipsNetwork(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	cache := NewCache()
	p := NewPipeline(provider, WithCache(cache))

	job := Job{
		Text:  "Cache me.",
		Voice: VoiceConfig{Value: "voice-a"},
		Key:   Key{Document: "doc.pdf", Page: 3, Voice: VoiceConfig{Value: "voice-a"}},
	}

	first, err := p.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	second, err := p.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if string(first.Data) != string(second.Data) {
		t.Errorf("cache returned different audio: %q vs %q", first.Data, second.Data)
	}
	if calls := provider.calls(); len(calls) != 1 {
		t.Errorf("provider calls = %d, want 1 (second run served from cache)", len(calls))
	}
}

func TestPipelineCacheLookupObserver(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	var lookups []bool
	p := NewPipeline(provider,
		WithCache(NewCache()),
		WithCacheLookup(func(_ context.Context, hit bool) { lookups = append(lookups, hit) }),
	)

	job := Job{
		Text: "Observe me.",
		Key:  Key{Document: "doc.pdf", Page: 1},
	}

	if _, err := p.Run(context.Background(), job); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if _, err := p.Run(context.Background(), job); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	want := []bool{false, true}
	if len(lookups) != len(want) {
		t.Fatalf("lookups = %v, want %v", lookups, want)
	}
	for i := range want {
		if lookups[i] != want[i] {
			t.Errorf("lookup[%d] = %v, want %v", i, lookups[i], want[i])
		}
	}

	// A job without a cache key never consults the cache, so the observer
	// must stay silent.
	if _, err := p.Run(context.Background(), Job{Text: "No key."}); err != nil {
		t.Fatalf("keyless Run: %v", err)
	}
	if len(lookups) != len(want) {
		t.Errorf("lookups after keyless run = %v, want %v", lookups, want)
	}
}

func TestPipelineCacheKeyIncludesVoice(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	cache := NewCache()
	p := NewPipeline(provider, WithCache(cache))

	base := Job{
		Text: "Same text.",
		Key:  Key{Document: "doc.pdf", Page: 1, Voice: VoiceConfig{Value: "voice-a"}},
	}
	other := base
	other.Key.Voice = VoiceConfig{Value: "voice-b"}

	if _, err := p.Run(context.Background(), base); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := p.Run(context.Background(), other); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls := provider.calls(); len(calls) != 2 {
		t.Errorf("provider calls = %d, want 2 (different voices must not share entries)", len(calls))
	}
}

func TestPipelineFailedJobNotCached(t *testing.T) {
	t.Parallel()

	var fail bool = true
	provider := &fakeProvider{
		respond: func(req Request) (Audio, error) {
			if fail {
				return Audio{}, fmt.Errorf("transient")
			}
			return Audio{Data: []byte(req.Text)}, nil
		},
	}
	cache := NewCache()
	p := NewPipeline(provider, WithCache(cache))

	job := Job{Text: "Retry me.", Key: Key{Document: "doc.pdf", Page: 1}}

	if _, err := p.Run(context.Background(), job); err == nil {
		t.Fatal("first Run succeeded, want failure")
	}
	if cache.Len() != 0 {
		t.Fatalf("cache entries after failed job = %d, want 0", cache.Len())
	}

	fail = false
	if _, err := p.Run(context.Background(), job); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if calls := provider.calls(); len(calls) != 2 {
		t.Errorf("provider calls = %d, want 2", len(calls))
	}
}

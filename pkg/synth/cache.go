package synth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
)

// Key identifies one cacheable synthesis result: a page of a document read in
// a specific voice. Two keys collide only when document, page and the full
// voice configuration all match.
type Key struct {
	// Document is an opaque identity for the source document (e.g. a file
	// name or content hash chosen by the caller).
	Document string

	// Page is the page index within the document.
	Page int

	// Voice is the voice the audio was synthesised with. Speed and
	// temperature participate in the key: re-tuning the voice must not
	// replay stale audio.
	Voice VoiceConfig
}

// digest derives the content-addressed cache key.
func (k Key) digest() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%s\x00%s\x00%s",
		k.Document,
		k.Page,
		k.Voice.Value,
		strconv.FormatFloat(k.Voice.Speed, 'f', -1, 64),
		strconv.FormatFloat(k.Voice.Temperature, 'f', -1, 64),
	)
	return hex.EncodeToString(h.Sum(nil))
}

// Cache is an in-memory audio cache scoped to one document's lifetime. It is
// owned by a single playback controller; entries for a document are dropped
// wholesale when that document changes. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]Audio
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]Audio)}
}

// Get returns the cached audio for key, if present.
func (c *Cache) Get(key Key) (Audio, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.entries[key.digest()]
	return a, ok
}

// Put stores audio under key, replacing any previous entry.
func (c *Cache) Put(key Key, audio Audio) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key.digest()] = audio
}

// Reset drops every entry. Called when the owning document changes so no
// stale audio can play after a document swap.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Audio)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

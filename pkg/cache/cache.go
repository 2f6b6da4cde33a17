// Package cache implements the shared response cache: a keyed store with
// per-entry TTL, a byte-size bound with oldest-first eviction, and
// request coalescing so concurrent identical requests trigger exactly one
// origin fetch.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Entry is one cached response. An entry is immutable once stored;
// staleness is checked lazily on lookup rather than by a background
// sweep, so the worst-case staleness equals the TTL.
type Entry struct {
	// Key is the cache key the entry was stored under.
	Key string

	// Status is the origin's HTTP status code.
	Status int

	// Header is the origin's response header set.
	Header http.Header

	// Body is the full response body.
	Body []byte

	// CreatedAt is when the entry was populated.
	CreatedAt time.Time

	// TTL is how long past CreatedAt the entry stays servable.
	TTL time.Duration

	// Transient marks an entry that must be served but not retained,
	// set by producers when origin directives forbid caching.
	Transient bool
}

// Expired reports whether the entry is past its TTL.
func (e *Entry) Expired() bool {
	return time.Now().After(e.CreatedAt.Add(e.TTL))
}

// size is the entry's contribution to the cache's byte bound.
func (e *Entry) size() int64 {
	n := int64(len(e.Body))
	for k, vs := range e.Header {
		n += int64(len(k))
		for _, v := range vs {
			n += int64(len(v))
		}
	}
	return n
}

// Recorder receives cache events for the metrics surface. Implementations
// must be safe for concurrent use.
type Recorder interface {
	CacheHit()
	CacheMiss()
	CacheEviction()
}

// nopRecorder is used when no metrics collector is wired in.
type nopRecorder struct{}

func (nopRecorder) CacheHit()      {}
func (nopRecorder) CacheMiss()     {}
func (nopRecorder) CacheEviction() {}

// Cache is a TTL-bounded response store with request coalescing. All
// methods are safe for concurrent use; the entry map is guarded by one
// mutex while in-flight origin fetches are coordinated per-key by a
// singleflight group, so waiters on one key never block other keys.
type Cache struct {
	ttl      time.Duration
	maxBytes int64
	recorder Recorder

	mu      sync.Mutex
	entries map[string]*Entry
	size    int64

	flight singleflight.Group
}

// New creates a cache with the given default TTL and aggregate byte
// bound. recorder may be nil.
func New(ttl time.Duration, maxBytes int64, recorder Recorder) *Cache {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Cache{
		ttl:      ttl,
		maxBytes: maxBytes,
		recorder: recorder,
		entries:  make(map[string]*Entry),
	}
}

// Lookup returns the entry for key if present and not expired. Expired
// entries are removed on the spot.
func (c *Cache) Lookup(key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if entry.Expired() {
		c.removeLocked(key, entry)
		return nil, false
	}
	return entry, true
}

// FetchOrPopulate returns the cached entry for key, or invokes producer
// exactly once to populate it while concurrent callers for the same key
// wait for that single invocation's result. Producer errors are returned
// to every waiter and nothing is stored.
func (c *Cache) FetchOrPopulate(key string, producer func() (*Entry, error)) (*Entry, error) {
	if entry, ok := c.Lookup(key); ok {
		c.recorder.CacheHit()
		return entry, nil
	}
	c.recorder.CacheMiss()

	v, err, _ := c.flight.Do(key, func() (interface{}, error) {
		// A waiter may have queued behind a leader that already
		// populated the entry.
		if entry, ok := c.Lookup(key); ok {
			return entry, nil
		}

		entry, err := producer()
		if err != nil {
			return nil, err
		}
		entry.Key = key
		if entry.Transient {
			return entry, nil
		}
		if entry.TTL == 0 {
			entry.TTL = c.ttl
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now()
		}
		c.store(entry)
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry), nil
}

// Store inserts an entry directly, evicting oldest entries as needed.
func (c *Cache) Store(entry *Entry) {
	if entry.TTL == 0 {
		entry.TTL = c.ttl
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	c.store(entry)
}

func (c *Cache) store(entry *Entry) {
	entrySize := entry.size()
	if entrySize > c.maxBytes {
		// Entry alone exceeds the bound; serve it but do not retain it.
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[entry.Key]; ok {
		c.removeLocked(entry.Key, old)
	}
	c.entries[entry.Key] = entry
	c.size += entrySize

	// Opportunistic eviction: drop oldest entries until under bound.
	for c.size > c.maxBytes {
		oldestKey, oldest := c.oldestLocked(entry.Key)
		if oldest == nil {
			break
		}
		c.removeLocked(oldestKey, oldest)
		c.recorder.CacheEviction()
	}
}

// oldestLocked returns the oldest entry other than exclude. Caller holds
// the lock.
func (c *Cache) oldestLocked(exclude string) (string, *Entry) {
	var oldestKey string
	var oldest *Entry
	for key, entry := range c.entries {
		if key == exclude {
			continue
		}
		if oldest == nil || entry.CreatedAt.Before(oldest.CreatedAt) {
			oldestKey = key
			oldest = entry
		}
	}
	return oldestKey, oldest
}

func (c *Cache) removeLocked(key string, entry *Entry) {
	delete(c.entries, key)
	c.size -= entry.size()
}

// Len returns the number of resident entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// SizeBytes returns the aggregate size of resident entries.
func (c *Cache) SizeBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Key builds a cache key from the request method, path, and raw query,
// plus the values of the configured vary headers in order. The key is
// hashed so arbitrarily long URLs stay fixed-size.
func Key(method, path, rawQuery string, header http.Header, varyHeaders []string) string {
	var b strings.Builder
	b.WriteString(method)
	b.WriteByte(' ')
	b.WriteString(path)
	b.WriteByte('?')
	b.WriteString(rawQuery)
	for _, name := range varyHeaders {
		b.WriteByte('\n')
		b.WriteString(name)
		b.WriteByte(':')
		if header != nil {
			b.WriteString(header.Get(name))
		}
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

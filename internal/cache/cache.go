// Package cache implements the cacheability gate and LRU response store
// (C3): request/response-directive enforcement, TTL-based freshness,
// size-bounded eviction, and concurrent-access discipline.
package cache

import (
	"bytes"
	"container/list"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/snappy"

	"github.com/arrowlane/gatekeeper/internal/httpmsg"
)

// DefaultTTL is the default freshness window, per spec.md §4.3.
const DefaultTTL = 300 * time.Second

// Config tunes the cache's caps and storage behavior. Zero-value Config
// (via NewCache's caller) should not be used; see NewConfig for defaults.
type Config struct {
	MaxEntries  int
	MaxBytes    int64
	TTL         time.Duration
	Compression bool
}

// NewConfig returns a Config with the spec's defaults: a 10000-entry
// cap, a 64 MiB byte cap, 300s TTL, compression on.
func NewConfig() Config {
	return Config{
		MaxEntries:  10000,
		MaxBytes:    64 << 20,
		TTL:         DefaultTTL,
		Compression: true,
	}
}

type entry struct {
	key        string
	status     int
	headers    *httpmsg.Headers
	raw        []byte // the captured bytes, snappy-compressed if cfg.Compression
	compressed bool
	insertedAt time.Time
	length     int // byte count charged against MaxBytes (len(raw) as stored)
	hits       int64
}

// Cache is the LRU + TTL response store described in spec.md §3/§4.3.
type Cache struct {
	cfg Config

	mu         sync.Mutex
	ll         *list.List // MRU at Back, LRU at Front
	items      map[string]*list.Element
	totalBytes int64
	hits       int64
	misses     int64
}

// NewCache constructs an empty Cache.
func NewCache(cfg Config) *Cache {
	return &Cache{
		cfg:   cfg,
		ll:    list.New(),
		items: make(map[string]*list.Element),
	}
}

// Key builds the CacheKey triple (method, host, path) into the string
// used as the map key: uppercased method, lowercased host; ports and
// schemes play no part, per spec.md §3.
func Key(method, host, path string) string {
	return strings.ToUpper(method) + " " + strings.ToLower(host) + " " + path
}

// RequestCacheable is the request-side cacheability gate (spec.md
// §4.3): GET only, no Authorization header, and Cache-Control contains
// neither no-store nor no-cache.
func RequestCacheable(method string, headers *httpmsg.Headers) bool {
	if !strings.EqualFold(method, "GET") {
		return false
	}
	if headers.Has("Authorization") {
		return false
	}
	if headers.ContainsDirective("Cache-Control", "no-store") || headers.ContainsDirective("Cache-Control", "no-cache") {
		return false
	}
	return true
}

var cacheableStatuses = map[int]bool{200: true, 301: true, 302: true, 304: true}

// responseCacheable is the response-side cacheability gate (spec.md
// §4.3): status in {200,301,302,304} and Cache-Control contains
// neither no-store nor private.
func responseCacheable(status int, headers *httpmsg.Headers) bool {
	if !cacheableStatuses[status] {
		return false
	}
	if headers.ContainsDirective("Cache-Control", "no-store") || headers.ContainsDirective("Cache-Control", "private") {
		return false
	}
	return true
}

// Get looks up key. On a fresh hit it moves the entry to the MRU end and
// returns its bytes, status, and headers. On a miss or expiry eviction
// it returns ok=false. The critical section performs no I/O; any
// decompression happens after the lock is released, against the
// entry's immutable stored bytes.
func (c *Cache) Get(key string) (raw []byte, status int, headers *httpmsg.Headers, ok bool) {
	c.mu.Lock()

	el, found := c.items[key]
	if !found {
		c.misses++
		c.mu.Unlock()
		return nil, 0, nil, false
	}

	e := el.Value.(*entry)
	if time.Since(e.insertedAt) >= c.cfg.TTL {
		c.removeElementLocked(el)
		c.misses++
		c.mu.Unlock()
		return nil, 0, nil, false
	}

	c.ll.MoveToBack(el)
	e.hits++
	c.hits++
	storedRaw := e.raw
	compressed := e.compressed
	st := e.status
	hdrs := e.headers
	c.mu.Unlock()

	if compressed {
		decoded, err := snappy.Decode(nil, storedRaw)
		if err != nil {
			return nil, 0, nil, false
		}
		return decoded, st, hdrs, true
	}
	return storedRaw, st, hdrs, true
}

// Put inserts the captured response bytes for key, if cacheable.
// CacheInsertRejected (uncacheable or malformed) is silent: the caller's
// response is still delivered regardless of what Put decides.
func (c *Cache) Put(key string, raw []byte) {
	status, headers, bodyOK := extractStatusAndHeaders(raw)
	if !bodyOK {
		return
	}
	if !responseCacheable(status, headers) {
		return
	}

	stored := raw
	compressed := false
	if c.cfg.Compression {
		stored = snappy.Encode(nil, raw)
		compressed = true
	}

	e := &entry{
		key:        key,
		status:     status,
		headers:    headers,
		raw:        stored,
		compressed: compressed,
		insertedAt: time.Now(),
		length:     len(stored),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, exists := c.items[key]; exists {
		c.removeElementLocked(old)
	}

	for c.ll.Len() >= c.cfg.MaxEntries && c.ll.Len() > 0 {
		c.evictFrontLocked()
	}

	el := c.ll.PushBack(e)
	c.items[key] = el
	c.totalBytes += int64(e.length)

	for c.totalBytes > c.cfg.MaxBytes && c.ll.Len() > 0 {
		c.evictFrontLocked()
	}
}

func (c *Cache) evictFrontLocked() {
	front := c.ll.Front()
	if front == nil {
		return
	}
	c.removeElementLocked(front)
}

func (c *Cache) removeElementLocked(el *list.Element) {
	e := el.Value.(*entry)
	c.ll.Remove(el)
	delete(c.items, e.key)
	c.totalBytes -= int64(e.length)
}

// Stats is the point-in-time snapshot spec.md §4.3 requires.
type Stats struct {
	Entries    int
	TotalBytes int64
	Hits       int64
	Misses     int64
	HitRate    float64
}

// Stats returns a consistent snapshot of the cache's counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var rate float64
	if denom := c.hits + c.misses; denom > 0 {
		rate = float64(c.hits) / float64(denom)
	}

	return Stats{
		Entries:    c.ll.Len(),
		TotalBytes: c.totalBytes,
		Hits:       c.hits,
		Misses:     c.misses,
		HitRate:    rate,
	}
}

// extractStatusAndHeaders locates the header/body split in a captured
// response, per spec.md §4.3: split on "\r\n\r\n", take the second
// token of the status line as the status code, and parse header lines
// identically to the request parser. A malformed header region refuses
// the insert.
func extractStatusAndHeaders(raw []byte) (status int, headers *httpmsg.Headers, ok bool) {
	idx := bytes.Index(raw, []byte("\r\n\r\n"))
	if idx < 0 {
		return 0, nil, false
	}
	headerRegion := raw[:idx]
	lines := bytes.Split(headerRegion, []byte("\r\n"))
	if len(lines) == 0 {
		return 0, nil, false
	}

	statusLine := strings.Fields(string(lines[0]))
	if len(statusLine) < 2 {
		return 0, nil, false
	}
	code, err := strconv.Atoi(statusLine[1])
	if err != nil {
		return 0, nil, false
	}

	h := httpmsg.NewHeaders()
	for _, line := range lines[1:] {
		if len(line) == 0 {
			continue
		}
		name, value, found := strings.Cut(string(line), ":")
		if !found {
			continue
		}
		h.Set(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	return code, h, true
}

// String renders the snapshot as one line (entries, bytes, hits, misses,
// hit rate), used by the shutdown summary (C11).
func (s Stats) String() string {
	return fmt.Sprintf("entries=%d bytes=%d hits=%d misses=%d hit_rate=%.3f",
		s.Entries, s.TotalBytes, s.Hits, s.Misses, s.HitRate)
}

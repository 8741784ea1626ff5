package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/arrowlane/gatekeeper/internal/httpmsg"
)

func okResponse(body string) []byte {
	return []byte(fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: %d\r\n\r\n%s", len(body), body))
}

func TestRequestCacheableGate(t *testing.T) {
	h := httpmsg.NewHeaders()
	if !RequestCacheable("GET", h) {
		t.Fatal("bare GET should be cacheable")
	}
	if RequestCacheable("POST", h) {
		t.Fatal("POST must not be cacheable")
	}

	withAuth := httpmsg.NewHeaders()
	withAuth.Set("Authorization", "Bearer xyz")
	if RequestCacheable("GET", withAuth) {
		t.Fatal("Authorization header must disqualify a request")
	}

	noStore := httpmsg.NewHeaders()
	noStore.Set("Cache-Control", "no-store")
	if RequestCacheable("GET", noStore) {
		t.Fatal("no-store must disqualify a request")
	}
}

func TestPutAndGetRoundTrip(t *testing.T) {
	c := NewCache(NewConfig())
	key := Key("GET", "example.test", "/a")
	raw := okResponse("hello")

	c.Put(key, raw)

	got, status, headers, ok := c.Get(key)
	if !ok {
		t.Fatal("expected hit after Put")
	}
	if status != 200 {
		t.Errorf("status = %d, want 200", status)
	}
	if headers.Get("Content-Type") != "text/plain" {
		t.Errorf("Content-Type = %q", headers.Get("Content-Type"))
	}
	if string(got) != string(raw) {
		t.Errorf("round-tripped bytes differ:\n got: %q\nwant: %q", got, raw)
	}
}

func TestPutRejectsUncacheableStatus(t *testing.T) {
	c := NewCache(NewConfig())
	key := Key("GET", "example.test", "/missing")
	raw := []byte("HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n")

	c.Put(key, raw)

	if _, _, _, ok := c.Get(key); ok {
		t.Fatal("404 response should not be cached")
	}
}

func TestPutRejectsNoStoreResponse(t *testing.T) {
	c := NewCache(NewConfig())
	key := Key("GET", "example.test", "/a")
	raw := []byte("HTTP/1.1 200 OK\r\nCache-Control: no-store\r\nContent-Length: 0\r\n\r\n")

	c.Put(key, raw)

	if _, _, _, ok := c.Get(key); ok {
		t.Fatal("no-store response should not be cached")
	}
}

func TestGetExpiresAfterTTL(t *testing.T) {
	cfg := NewConfig()
	cfg.TTL = 10 * time.Millisecond
	c := NewCache(cfg)
	key := Key("GET", "example.test", "/a")

	c.Put(key, okResponse("x"))
	time.Sleep(20 * time.Millisecond)

	if _, _, _, ok := c.Get(key); ok {
		t.Fatal("expected entry to expire past TTL")
	}
	if stats := c.Stats(); stats.Entries != 0 {
		t.Errorf("expired entry should be evicted on access, entries = %d", stats.Entries)
	}
}

func TestEvictsLRUWhenEntryCapExceeded(t *testing.T) {
	cfg := NewConfig()
	cfg.MaxEntries = 2
	c := NewCache(cfg)

	c.Put(Key("GET", "a.test", "/"), okResponse("a"))
	c.Put(Key("GET", "b.test", "/"), okResponse("b"))
	// Touch "a" so "b" becomes the LRU victim.
	c.Get(Key("GET", "a.test", "/"))
	c.Put(Key("GET", "c.test", "/"), okResponse("c"))

	if _, _, _, ok := c.Get(Key("GET", "b.test", "/")); ok {
		t.Fatal("expected b.test to be evicted as least-recently-used")
	}
	if _, _, _, ok := c.Get(Key("GET", "a.test", "/")); !ok {
		t.Fatal("expected a.test to survive (recently touched)")
	}
	if _, _, _, ok := c.Get(Key("GET", "c.test", "/")); !ok {
		t.Fatal("expected c.test to be present")
	}
}

func TestEvictsWhenByteCapExceeded(t *testing.T) {
	cfg := NewConfig()
	cfg.Compression = false
	first := okResponse("aaaaaaaaaa")
	cfg.MaxBytes = int64(len(first)) // only one entry fits
	c := NewCache(cfg)

	c.Put(Key("GET", "a.test", "/"), first)
	c.Put(Key("GET", "b.test", "/"), okResponse("bbbbbbbbbb"))

	if _, _, _, ok := c.Get(Key("GET", "a.test", "/")); ok {
		t.Fatal("expected a.test to be evicted once byte cap was exceeded")
	}
	if stats := c.Stats(); stats.Entries != 1 {
		t.Errorf("entries = %d, want 1", stats.Entries)
	}
}

func TestStatsTracksHitsAndMisses(t *testing.T) {
	c := NewCache(NewConfig())
	key := Key("GET", "a.test", "/")
	c.Put(key, okResponse("x"))

	c.Get(key)
	c.Get(Key("GET", "nope.test", "/"))

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats = %+v, want hits=1 misses=1", stats)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("hit rate = %f, want 0.5", stats.HitRate)
	}
}

func TestCompressionRoundTrip(t *testing.T) {
	cfg := NewConfig()
	cfg.Compression = true
	c := NewCache(cfg)
	key := Key("GET", "a.test", "/")
	raw := okResponse("this is the body that gets snappy-compressed on store")

	c.Put(key, raw)

	got, _, _, ok := c.Get(key)
	if !ok {
		t.Fatal("expected hit")
	}
	if string(got) != string(raw) {
		t.Errorf("decompressed bytes differ from original")
	}
}

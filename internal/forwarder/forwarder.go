// Package forwarder implements the cleartext request path (C4): origin
// dial, request relay, response capture-and-stream, and the cache
// write-back for cacheable traffic.
package forwarder

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/arrowlane/gatekeeper/internal/cache"
	"github.com/arrowlane/gatekeeper/internal/httpmsg"
)

// DefaultTimeout is used when a caller passes a zero idleTimeout to
// Forward, matching spec.md §4.4's 45s default for both the origin dial
// and the per-read idle budget.
const DefaultTimeout = 45 * time.Second

const readChunkSize = 4096

// Result describes the outcome of Forward, for the caller's log line.
type Result struct {
	StatusCode   int
	BytesWritten int
	TimedOut     bool
}

// Forward dials host:port, relays req, and streams the origin's response
// back to client while buffering it for an optional cache write. c may
// be nil, in which case no caching is attempted. idleTimeout bounds both
// the origin dial and every individual read from the origin while
// capturing its response; a zero idleTimeout falls back to
// DefaultTimeout. An idle origin past this budget ends the capture
// rather than erroring, per spec.md §4.4.
func Forward(client net.Conn, req *httpmsg.Request, c *cache.Cache, idleTimeout time.Duration) (Result, error) {
	if idleTimeout <= 0 {
		idleTimeout = DefaultTimeout
	}

	origin, err := net.DialTimeout("tcp", net.JoinHostPort(req.Host, portString(req.Port)), idleTimeout)
	if err != nil {
		writeBadGateway(client)
		return Result{StatusCode: 502}, fmt.Errorf("dial origin: %w", err)
	}
	defer origin.Close()

	if _, err := origin.Write(req.Serialize()); err != nil {
		writeBadGateway(client)
		return Result{StatusCode: 502}, fmt.Errorf("write to origin: %w", err)
	}

	return captureAndStream(client, origin, req, c, idleTimeout)
}

func captureAndStream(client, origin net.Conn, req *httpmsg.Request, c *cache.Cache, idleTimeout time.Duration) (Result, error) {
	var captured bytes.Buffer
	buf := make([]byte, readChunkSize)
	bytesWritten := 0
	timedOut := false

	for {
		origin.SetReadDeadline(time.Now().Add(idleTimeout))
		n, err := origin.Read(buf)
		if n > 0 {
			captured.Write(buf[:n])
			if _, werr := client.Write(buf[:n]); werr != nil {
				return Result{StatusCode: statusFromCapture(captured.Bytes()), BytesWritten: bytesWritten}, fmt.Errorf("write to client: %w", werr)
			}
			bytesWritten += n
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				timedOut = true
				break
			}
			if err == io.EOF {
				break
			}
			return Result{StatusCode: statusFromCapture(captured.Bytes()), BytesWritten: bytesWritten, TimedOut: false}, fmt.Errorf("read from origin: %w", err)
		}
	}

	status := statusFromCapture(captured.Bytes())

	if !timedOut && c != nil && shouldCache(req) && captured.Len() > 0 {
		c.Put(cache.Key(req.Method, req.Host, req.Path), captured.Bytes())
	}

	return Result{StatusCode: status, BytesWritten: bytesWritten, TimedOut: timedOut}, nil
}

func shouldCache(req *httpmsg.Request) bool {
	return cache.RequestCacheable(req.Method, req.Headers)
}

// ServeFromCache writes a cached response verbatim to client, returning
// the number of bytes written.
func ServeFromCache(client net.Conn, raw []byte) (int, error) {
	n, err := client.Write(raw)
	return n, err
}

func statusFromCapture(raw []byte) int {
	idx := bytes.Index(raw, []byte("\r\n"))
	if idx < 0 {
		return 0
	}
	var version string
	var code int
	if _, err := fmt.Sscanf(string(raw[:idx]), "%s %d", &version, &code); err != nil {
		return 0
	}
	return code
}

func writeBadGateway(client net.Conn) {
	client.Write([]byte("HTTP/1.1 502 Bad Gateway\r\n\r\n"))
}

func portString(p int) string {
	return fmt.Sprintf("%d", p)
}

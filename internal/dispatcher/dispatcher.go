// Package dispatcher implements the connection dispatcher (C6): the
// accept-loop glue that parses each inbound request, applies domain
// policy, and routes to the cleartext forwarder or the CONNECT tunnel.
package dispatcher

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/arrowlane/gatekeeper/internal/cache"
	"github.com/arrowlane/gatekeeper/internal/forwarder"
	"github.com/arrowlane/gatekeeper/internal/httpmsg"
	"github.com/arrowlane/gatekeeper/internal/observer"
	"github.com/arrowlane/gatekeeper/internal/policy"
	"github.com/arrowlane/gatekeeper/internal/tunnel"
)

// DefaultIdleTimeout is used when a Dispatcher is constructed with a
// zero IdleTimeout, matching spec.md §4.6's 45s default for the parser
// deadline, the forwarder's dial/capture budget, and the tunnel's dial
// budget.
const DefaultIdleTimeout = 45 * time.Second

// Dispatcher wires C1 (policy), C3 (cache), and C7 (observer) into the
// per-connection handling loop.
type Dispatcher struct {
	Policy      *policy.Policy
	Cache       *cache.Cache
	Log         observer.Logger
	Metrics     observer.Metrics
	IdleTimeout time.Duration
}

// New constructs a Dispatcher from its collaborators. Cache may be nil
// to disable caching outright. idleTimeout governs the parser deadline,
// the forwarder's dial/capture budget, and the tunnel's dial budget; a
// zero value falls back to DefaultIdleTimeout.
func New(p *policy.Policy, c *cache.Cache, log observer.Logger, m observer.Metrics, idleTimeout time.Duration) *Dispatcher {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Dispatcher{Policy: p, Cache: c, Log: log, Metrics: m, IdleTimeout: idleTimeout}
}

// Handle services one accepted connection end to end, guaranteeing the
// connection is closed on every exit path and exactly one RequestEvent
// is logged.
func (d *Dispatcher) Handle(conn net.Conn) {
	defer conn.Close()

	clientAddr := "unknown"
	if conn.RemoteAddr() != nil {
		clientAddr = conn.RemoteAddr().String()
	}

	conn.SetReadDeadline(time.Now().Add(d.IdleTimeout))
	req, err := httpmsg.ParseRequest(bufio.NewReader(conn))
	conn.SetReadDeadline(time.Time{})

	if err != nil {
		d.handleParseFailure(conn, clientAddr, err)
		return
	}

	if d.Policy != nil && d.Policy.Match(req.Host) {
		d.handleBlocked(conn, clientAddr, req)
		return
	}

	if req.Method == httpmsg.MethodConnect {
		d.handleConnect(conn, clientAddr, req)
		return
	}
	d.handleCleartext(conn, clientAddr, req)
}

func (d *Dispatcher) handleParseFailure(conn net.Conn, clientAddr string, err error) {
	status := 400
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		status = 408
	}

	resp := fmt.Sprintf("HTTP/1.1 %d %s\r\n\r\n", status, httpStatusText(status))
	n, _ := conn.Write([]byte(resp))

	d.Log.LogRequest(observer.RequestEvent{
		ClientAddr:   clientAddr,
		RequestLine:  "",
		Action:       observer.ActionAllowed,
		StatusCode:   status,
		BytesWritten: n,
	})
}

func (d *Dispatcher) handleBlocked(conn net.Conn, clientAddr string, req *httpmsg.Request) {
	body, contentType := blockedBody(req)
	resp := fmt.Sprintf("HTTP/1.1 403 Forbidden\r\nContent-Type: %s\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		contentType, len(body), body)
	n, _ := conn.Write([]byte(resp))

	if d.Metrics != nil {
		d.Metrics.RecordRequest(req.Host, true)
	}
	d.Log.LogRequest(observer.RequestEvent{
		ClientAddr:   clientAddr,
		Host:         req.Host,
		Port:         req.Port,
		RequestLine:  req.RequestLine(),
		Action:       observer.ActionBlocked,
		StatusCode:   403,
		BytesWritten: n,
	})
}

// blockedBody picks a plain-text body for scripted clients (curl,
// wget) and an HTML body for browsers, per spec.md §6.
func blockedBody(req *httpmsg.Request) (body string, contentType string) {
	ua := strings.ToLower(req.Headers.Get("User-Agent"))
	if strings.Contains(ua, "curl") || strings.Contains(ua, "wget") {
		return "403 Forbidden\nAccess blocked by proxy server.\n", "text/plain"
	}
	return "<html><head><title>403 Forbidden</title></head>" +
		"<body><h1>403 Forbidden</h1></body></html>", "text/html; charset=utf-8"
}

func (d *Dispatcher) handleConnect(conn net.Conn, clientAddr string, req *httpmsg.Request) {
	result, err := tunnel.Relay(conn, req.Host, req.Port, d.IdleTimeout)

	status := 200
	if err != nil || !result.Established {
		status = 502
	}

	if d.Metrics != nil {
		d.Metrics.RecordRequest(req.Host, false)
	}
	d.Log.LogRequest(observer.RequestEvent{
		ClientAddr:  clientAddr,
		Host:        req.Host,
		Port:        req.Port,
		RequestLine: req.RequestLine(),
		Action:      observer.ActionAllowed,
		StatusCode:  status,
		// Tunneled payloads are opaque; byte counts are not tracked for
		// CONNECT traffic.
		BytesWritten: 0,
	})
}

func (d *Dispatcher) handleCleartext(conn net.Conn, clientAddr string, req *httpmsg.Request) {
	if d.Cache != nil && cache.RequestCacheable(req.Method, req.Headers) {
		key := cache.Key(req.Method, req.Host, req.Path)
		if raw, _, _, ok := d.Cache.Get(key); ok {
			n, _ := forwarder.ServeFromCache(conn, raw)
			if d.Metrics != nil {
				d.Metrics.RecordRequest(req.Host, false)
			}
			d.Log.LogRequest(observer.RequestEvent{
				ClientAddr:  clientAddr,
				Host:        req.Host,
				Port:        req.Port,
				RequestLine: req.RequestLine(),
				Action:      observer.ActionCached,
				// spec.md §4.4 step 1 hardcodes 200 for the CACHED log
				// line regardless of the entry's actual stored status.
				StatusCode:   200,
				BytesWritten: n,
			})
			return
		}
	}

	result, err := forwarder.Forward(conn, req, d.Cache, d.IdleTimeout)

	logStatus := result.StatusCode
	if result.TimedOut {
		// The client already received whatever bytes streamed before the
		// origin went idle; the log still records the capture as a
		// gateway timeout per the timed-out/streamed distinction.
		logStatus = 504
	}
	if err != nil && result.StatusCode == 0 {
		logStatus = 502
	}

	if d.Metrics != nil {
		d.Metrics.RecordRequest(req.Host, false)
	}
	d.Log.LogRequest(observer.RequestEvent{
		ClientAddr:   clientAddr,
		Host:         req.Host,
		Port:         req.Port,
		RequestLine:  req.RequestLine(),
		Action:       observer.ActionAllowed,
		StatusCode:   logStatus,
		BytesWritten: result.BytesWritten,
	})
}

func httpStatusText(code int) string {
	switch code {
	case 400:
		return "Bad Request"
	case 408:
		return "Request Timeout"
	default:
		return "Error"
	}
}

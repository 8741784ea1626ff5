package forwarder

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/arrowlane/gatekeeper/internal/cache"
	"github.com/arrowlane/gatekeeper/internal/httpmsg"
)

func parseReq(t *testing.T, raw string) *httpmsg.Request {
	t.Helper()
	req, err := httpmsg.ParseRequest(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("parsing fixture request: %v", err)
	}
	return req
}

// fakeOrigin starts a listener that writes resp once a request arrives,
// then closes. It returns the host and port to dial.
func fakeOrigin(t *testing.T, resp string) (host string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		conn.Read(buf)
		conn.Write([]byte(resp))
	}()
	t.Cleanup(func() { ln.Close() })

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func TestForwardRelaysOriginResponse(t *testing.T) {
	const body = "hello from origin"
	resp := "HTTP/1.1 200 OK\r\nContent-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body

	host, port := fakeOrigin(t, resp)
	req := parseReq(t, "GET / HTTP/1.1\r\nHost: example.test\r\n\r\n")
	req.Host = host
	req.Port = port

	clientSide, proxySide := net.Pipe()
	defer clientSide.Close()

	done := make(chan struct {
		res Result
		err error
	}, 1)
	go func() {
		res, err := Forward(proxySide, req, nil, 0)
		done <- struct {
			res Result
			err error
		}{res, err}
	}()

	clientSide.SetReadDeadline(time.Now().Add(5 * time.Second))
	received, _ := io.ReadAll(io.LimitReader(clientSide, int64(len(resp))))

	r := <-done
	if r.err != nil {
		t.Fatalf("Forward error: %v", r.err)
	}
	if r.res.StatusCode != 200 {
		t.Errorf("status = %d, want 200", r.res.StatusCode)
	}
	if !strings.Contains(string(received), body) {
		t.Errorf("client did not receive origin body: %q", received)
	}
}

func TestForwardCachesCacheableGET(t *testing.T) {
	const body = "cacheable body"
	resp := "HTTP/1.1 200 OK\r\nContent-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body

	host, port := fakeOrigin(t, resp)
	req := parseReq(t, "GET /thing HTTP/1.1\r\nHost: example.test\r\n\r\n")
	req.Host = host
	req.Port = port

	c := cache.NewCache(cache.NewConfig())

	clientSide, proxySide := net.Pipe()
	defer clientSide.Close()

	go func() {
		io.Copy(io.Discard, clientSide)
	}()

	if _, err := Forward(proxySide, req, c, 0); err != nil {
		t.Fatalf("Forward error: %v", err)
	}

	key := cache.Key(req.Method, req.Host, req.Path)
	if _, _, _, ok := c.Get(key); !ok {
		t.Fatal("expected cacheable GET response to be stored")
	}
}

func TestForwardDialFailureWritesBadGateway(t *testing.T) {
	req := parseReq(t, "GET / HTTP/1.1\r\nHost: example.test\r\n\r\n")
	req.Host = "127.0.0.1"
	req.Port = 1 // nothing listening; expect immediate refusal

	clientSide, proxySide := net.Pipe()
	defer clientSide.Close()

	resultCh := make(chan Result, 1)
	go func() {
		res, _ := Forward(proxySide, req, nil, 0)
		resultCh <- res
	}()

	clientSide.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 512)
	n, _ := clientSide.Read(buf)

	res := <-resultCh
	if res.StatusCode != 502 {
		t.Errorf("status = %d, want 502", res.StatusCode)
	}
	if !strings.Contains(string(buf[:n]), "502") {
		t.Errorf("expected 502 response line, got %q", buf[:n])
	}
}

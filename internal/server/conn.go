package server

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"ippserv/internal/logging"
	"ippserv/internal/resource"
)

const allowedMethods = "GET, HEAD, OPTIONS, POST"

// conn carries the per-connection state machine. A connection owns at
// most one in-flight request/response pair and is confined to its own
// goroutine.
type conn struct {
	srv    *Server
	rwc    net.Conn
	br     *bufio.Reader
	bw     *bufio.Writer
	number int
	remote string
	isTLS  bool

	// Current request.
	method  string
	target  string
	proto   string
	major   int
	minor   int
	header  textproto.MIMEHeader
	body    io.Reader
	user    string
	closing bool
}

func (s *Server) serveConn(nc net.Conn) {
	c := &conn{
		srv:    s,
		rwc:    nc,
		number: s.System.NextClientID(),
		remote: remoteHost(nc),
	}
	defer nc.Close()
	c.br = bufio.NewReader(nc)
	c.bw = bufio.NewWriter(nc)
	logging.Debugf("[Client %d] Accepted connection from %s", c.number, c.remote)

	// TLS auto-detect on the very first byte: anything that does not
	// look like a plaintext HTTP method is assumed to be a TLS
	// ClientHello on the same port.
	if s.TLSConfig != nil && !s.Config.TLSRequired {
		_ = nc.SetReadDeadline(time.Now().Add(s.idleTimeout()))
		first, err := c.br.Peek(1)
		if err != nil {
			return
		}
		if !isMethodStart(first[0]) {
			if !c.startTLS() {
				return
			}
		}
	} else if s.TLSConfig != nil && s.Config.TLSRequired {
		if !c.startTLS() {
			return
		}
	}

	for c.handleRequest() {
	}
	logging.Debugf("[Client %d] Closing connection", c.number)
}

func (s *Server) idleTimeout() time.Duration {
	if s.Config.IdleTimeout > 0 {
		return s.Config.IdleTimeout
	}
	return 30 * time.Second
}

// startTLS wraps the socket in a server-side TLS session, keeping any
// bytes already buffered.
func (c *conn) startTLS() bool {
	tc := tls.Server(&bufferedConn{Conn: c.rwc, r: c.br}, c.srv.TLSConfig)
	if err := tc.Handshake(); err != nil {
		logging.Debugf("[Client %d] TLS handshake failed: %v", c.number, err)
		return false
	}
	c.rwc = tc
	c.br = bufio.NewReader(tc)
	c.bw = bufio.NewWriter(tc)
	c.isTLS = true
	return true
}

// bufferedConn replays bytes held by the peek reader before touching
// the socket again.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) {
	return b.r.Read(p)
}

func isMethodStart(b byte) bool {
	switch b {
	case 'G', 'H', 'P', 'O', 'D', 'T', 'C':
		return true
	}
	return false
}

// handleRequest reads and answers one HTTP request. It returns false
// when the connection should close.
func (c *conn) handleRequest() bool {
	_ = c.rwc.SetDeadline(time.Now().Add(c.srv.idleTimeout()))

	tp := textproto.NewReader(c.br)
	line, err := tp.ReadLine()
	if err != nil {
		return false
	}
	if line == "" {
		// Tolerate one stray CRLF between requests.
		line, err = tp.ReadLine()
		if err != nil {
			return false
		}
	}
	if !c.parseRequestLine(line) {
		c.sendError(http.StatusBadRequest, "Bad request line")
		return false
	}

	c.header, err = tp.ReadMIMEHeader()
	if err != nil {
		c.sendError(http.StatusBadRequest, "Bad request headers")
		return false
	}
	c.closing = strings.EqualFold(c.header.Get("Connection"), "close") ||
		(c.major == 1 && c.minor == 0)

	// HTTP/1.1 requires a valid Host.
	if c.major == 1 && c.minor >= 1 {
		if !c.validHost(c.header.Get("Host")) {
			c.sendError(http.StatusBadRequest, "Bad or missing Host header")
			return false
		}
	}

	// In-place TLS upgrade, unless TLS is off system-wide.
	if c.wantsTLSUpgrade() && !c.isTLS && c.srv.TLSConfig != nil {
		c.writeHead(http.StatusSwitchingProtocols, 0, "", [][2]string{
			{"Connection", "Upgrade"},
			{"Upgrade", "TLS/1.2,TLS/1.3"},
		})
		_ = c.bw.Flush()
		return c.startTLS()
	}

	c.body = c.bodyReader()

	// Expectations apply to methods that carry a body.
	if expect := c.header.Get("Expect"); expect != "" && (c.method == "POST" || c.method == "PUT") {
		if strings.EqualFold(expect, "100-continue") {
			fmt.Fprintf(c.bw, "HTTP/%d.%d 100 Continue\r\n\r\n", c.major, c.minor)
			if err := c.bw.Flush(); err != nil {
				return false
			}
		} else {
			c.sendError(http.StatusExpectationFailed, "Unsupported expectation")
			return false
		}
	}

	keep := c.dispatch()

	// Drain whatever body the client over-sent so the next request
	// line starts on a clean boundary.
	if c.body != nil {
		_, _ = io.Copy(io.Discard, c.body)
		c.body = nil
	}
	if err := c.bw.Flush(); err != nil {
		return false
	}
	return keep && !c.closing
}

func (c *conn) parseRequestLine(line string) bool {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return false
	}
	c.method = parts[0]
	c.target = parts[1]
	c.proto = parts[2]
	switch c.proto {
	case "HTTP/1.0":
		c.major, c.minor = 1, 0
	case "HTTP/1.1":
		c.major, c.minor = 1, 1
	default:
		return false
	}
	return c.method != "" && c.target != ""
}

// validHost accepts the configured server name and aliases, localhost,
// numeric addresses and mDNS ".local" names.
func (c *conn) validHost(host string) bool {
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.Trim(host, "[]"))
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	if net.ParseIP(host) != nil {
		return true
	}
	if strings.HasSuffix(strings.TrimSuffix(host, "."), ".local") {
		return true
	}
	if strings.EqualFold(host, c.srv.Config.ServerName) {
		return true
	}
	for _, alias := range c.srv.Config.ServerAlias {
		if strings.EqualFold(host, alias) {
			return true
		}
	}
	return false
}

func (c *conn) wantsTLSUpgrade() bool {
	if !strings.Contains(strings.ToLower(c.header.Get("Connection")), "upgrade") {
		return false
	}
	return strings.Contains(strings.ToUpper(c.header.Get("Upgrade")), "TLS")
}

// bodyReader wraps the request body per its framing headers.
func (c *conn) bodyReader() io.Reader {
	if strings.EqualFold(c.header.Get("Transfer-Encoding"), "chunked") {
		return httputil.NewChunkedReader(c.br)
	}
	if cl := c.header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n >= 0 {
			return io.LimitReader(c.br, n)
		}
	}
	return nil
}

// dispatch routes one parsed request by method. Returning false closes
// the connection.
func (c *conn) dispatch() bool {
	switch c.method {
	case "OPTIONS":
		c.writeHead(http.StatusOK, 0, "", [][2]string{{"Allow", allowedMethods}})
		c.logAccess(http.StatusOK, 0)
		return true
	case "HEAD", "GET":
		return c.handleResource()
	case "POST":
		return c.handlePost()
	default:
		c.writeHead(http.StatusMethodNotAllowed, 0, "", [][2]string{{"Allow", allowedMethods}})
		c.logAccess(http.StatusMethodNotAllowed, 0)
		return true
	}
}

func (c *conn) handleResource() bool {
	var res *resource.Resource
	if c.srv.Resources != nil {
		res = c.srv.Resources.Find(c.target)
	}
	if res == nil {
		c.sendError(http.StatusNotFound, "Not found")
		return true
	}

	if ims := c.header.Get("If-Modified-Since"); ims != "" {
		if t, err := http.ParseTime(ims); err == nil && !res.ModifiedSince(t) {
			c.writeHead(http.StatusNotModified, 0, "", nil)
			c.logAccess(http.StatusNotModified, 0)
			return true
		}
	}

	if res.Dynamic() {
		status, ctype, payload := res.Handler(c.method, nil)
		if c.method == "HEAD" {
			c.writeHead(status, len(payload), ctype, nil)
			c.logAccess(status, 0)
			return true
		}
		c.writeBody(status, ctype, payload, nil)
		return true
	}

	data, err := res.Content()
	if err != nil {
		c.sendError(http.StatusInternalServerError, "Cannot read resource")
		return true
	}
	hdr := [][2]string{{"Last-Modified", res.LastModified.UTC().Format(http.TimeFormat)}}
	if c.method == "HEAD" {
		c.writeHead(http.StatusOK, len(data), res.MIMEType, hdr)
		c.logAccess(http.StatusOK, 0)
		return true
	}
	c.writeBody(http.StatusOK, res.MIMEType, data, hdr)
	return true
}

func (c *conn) handlePost() bool {
	ctype := c.header.Get("Content-Type")
	if strings.HasPrefix(ctype, "application/ipp") {
		return c.handleIPP()
	}

	var res *resource.Resource
	if c.srv.Resources != nil {
		res = c.srv.Resources.Find(c.target)
	}
	if res != nil && res.Dynamic() {
		var body []byte
		if c.body != nil {
			body, _ = io.ReadAll(io.LimitReader(c.body, 1<<20))
		}
		status, rtype, payload := res.Handler(c.method, body)
		c.writeBody(status, rtype, payload, nil)
		return true
	}

	c.sendError(http.StatusBadRequest, "Unsupported POST")
	return true
}

// writeHead emits the status line and common headers. contentLength of
// -1 omits the Content-Length header.
func (c *conn) writeHead(status, contentLength int, contentType string, extra [][2]string) {
	fmt.Fprintf(c.bw, "HTTP/%d.%d %d %s\r\n", c.major, c.minor, status, http.StatusText(status))
	fmt.Fprintf(c.bw, "Date: %s\r\n", time.Now().UTC().Format(http.TimeFormat))
	fmt.Fprintf(c.bw, "Server: ippserv/1.0\r\n")
	if contentType != "" {
		fmt.Fprintf(c.bw, "Content-Type: %s\r\n", contentType)
	}
	if contentLength >= 0 {
		fmt.Fprintf(c.bw, "Content-Length: %d\r\n", contentLength)
	}
	for _, h := range extra {
		fmt.Fprintf(c.bw, "%s: %s\r\n", h[0], h[1])
	}
	fmt.Fprintf(c.bw, "\r\n")
}

func (c *conn) writeBody(status int, contentType string, payload []byte, extra [][2]string) {
	c.writeHead(status, len(payload), contentType, extra)
	if c.method != "HEAD" {
		_, _ = c.bw.Write(payload)
	}
	c.logAccess(status, len(payload))
}

// sendError answers with a small plain-text body; transport-level
// errors close the connection afterwards via the caller.
func (c *conn) sendError(status int, message string) {
	payload := []byte(message + "\n")
	if c.major == 0 {
		c.major, c.minor = 1, 1
	}
	c.writeBody(status, "text/plain", payload, nil)
	_ = c.bw.Flush()
}

func (c *conn) logAccess(status, size int) {
	logging.Access(logging.AccessLine(c.remote, c.user, c.method, c.target, c.proto, status, size))
}

func remoteHost(nc net.Conn) string {
	addr := nc.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

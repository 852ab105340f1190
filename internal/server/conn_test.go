package server

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/OpenPrinting/goipp"
)

func startConn(t *testing.T, srv *Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	client, server := net.Pipe()
	go srv.serveConn(server)
	t.Cleanup(func() { client.Close() })
	return client, bufio.NewReader(client)
}

func readResponse(t *testing.T, br *bufio.Reader) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	resp.Body.Close()
	return resp, body
}

func TestConnMethodNotAllowedKeepsConnection(t *testing.T) {
	srv := newTestServer()
	client, br := startConn(t, srv)

	fmt.Fprintf(client, "DELETE /printers/test HTTP/1.1\r\nHost: localhost\r\n\r\n")
	resp, _ := readResponse(t, br)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if allow := resp.Header.Get("Allow"); allow != allowedMethods {
		t.Fatalf("Allow = %q", allow)
	}

	// The connection survives a method error.
	fmt.Fprintf(client, "OPTIONS / HTTP/1.1\r\nHost: localhost\r\n\r\n")
	resp, _ = readResponse(t, br)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("followup status = %d", resp.StatusCode)
	}
}

func TestConnRejectsBadHost(t *testing.T) {
	srv := newTestServer()
	client, br := startConn(t, srv)

	fmt.Fprintf(client, "GET / HTTP/1.1\r\nHost: evil.example.com\r\n\r\n")
	resp, _ := readResponse(t, br)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	client.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := br.ReadByte(); err != io.EOF {
		t.Fatalf("connection not closed after bad Host: %v", err)
	}
}

func TestConnAcceptsLocalHosts(t *testing.T) {
	srv := newTestServer()
	srv.Config.ServerAlias = []string{"печать.example.com"}

	for _, host := range []string{
		"localhost", "localhost:631", "127.0.0.1", "[::1]:631",
		"myprinter.local", "печать.example.com",
	} {
		client, br := startConn(t, srv)
		fmt.Fprintf(client, "OPTIONS / HTTP/1.1\r\nHost: %s\r\n\r\n", host)
		resp, _ := readResponse(t, br)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("host %q: status = %d", host, resp.StatusCode)
		}
		client.Close()
	}
}

func TestConnExpectationFailed(t *testing.T) {
	srv := newTestServer()
	client, br := startConn(t, srv)

	fmt.Fprintf(client, "POST /printers/test HTTP/1.1\r\nHost: localhost\r\n"+
		"Expect: 202-upgrade\r\nContent-Length: 5\r\n\r\n")
	resp, _ := readResponse(t, br)
	if resp.StatusCode != http.StatusExpectationFailed {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestConnExpectContinue(t *testing.T) {
	srv := newTestServer()
	mustPrinter(t, srv, "test", "/printers/test")
	client, br := startConn(t, srv)

	req := newTestMessage(goipp.OpValidateJob,
		goipp.MakeAttribute("printer-uri", goipp.TagURI,
			goipp.String("ipp://localhost/printers/test")))
	payload, err := req.EncodeBytes()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	fmt.Fprintf(client, "POST /printers/test HTTP/1.1\r\nHost: localhost\r\n"+
		"Content-Type: application/ipp\r\nExpect: 100-continue\r\n"+
		"Content-Length: %d\r\n\r\n", len(payload))

	cont, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatalf("read 100 response: %v", err)
	}
	if cont.StatusCode != http.StatusContinue {
		t.Fatalf("interim status = %d", cont.StatusCode)
	}

	client.Write(payload)
	resp, body := readResponse(t, br)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var ippResp goipp.Message
	if err := ippResp.DecodeBytes(body); err != nil {
		t.Fatalf("decode IPP response: %v", err)
	}
	if goipp.Status(ippResp.Code) != goipp.StatusOk {
		t.Fatalf("IPP status = %s", goipp.Status(ippResp.Code))
	}
}

func TestConnResourceGetAndNotModified(t *testing.T) {
	srv := newTestServer()
	srv.Resources.AddData("/icon.png", "image/png", []byte("fakepng"))
	client, br := startConn(t, srv)

	fmt.Fprintf(client, "GET /icon.png HTTP/1.1\r\nHost: localhost\r\n\r\n")
	resp, body := readResponse(t, br)
	if resp.StatusCode != http.StatusOK || string(body) != "fakepng" {
		t.Fatalf("status = %d body = %q", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("Content-Type = %q", ct)
	}

	since := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	fmt.Fprintf(client, "GET /icon.png HTTP/1.1\r\nHost: localhost\r\n"+
		"If-Modified-Since: %s\r\n\r\n", since)
	resp, _ = readResponse(t, br)
	if resp.StatusCode != http.StatusNotModified {
		t.Fatalf("status = %d, want 304", resp.StatusCode)
	}
}

// A request failing IPP validation still travels back as HTTP 200 and
// leaves the connection usable.
func TestConnIPPErrorKeepsConnection(t *testing.T) {
	srv := newTestServer()
	mustPrinter(t, srv, "test", "/printers/test")
	client, br := startConn(t, srv)

	bad := goipp.NewRequest(goipp.DefaultVersion, goipp.OpValidateJob, 7)
	bad.Operation.Add(goipp.MakeAttribute("attributes-charset",
		goipp.TagCharset, goipp.String("utf-8")))
	// attributes-natural-language deliberately missing.
	payload, err := bad.EncodeBytes()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	fmt.Fprintf(client, "POST /printers/test HTTP/1.1\r\nHost: localhost\r\n"+
		"Content-Type: application/ipp\r\nContent-Length: %d\r\n\r\n", len(payload))
	client.Write(payload)

	resp, body := readResponse(t, br)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("HTTP status = %d", resp.StatusCode)
	}
	var ippResp goipp.Message
	if err := ippResp.DecodeBytes(body); err != nil {
		t.Fatalf("decode IPP response: %v", err)
	}
	if goipp.Status(ippResp.Code) != goipp.StatusErrorBadRequest {
		t.Fatalf("IPP status = %s", goipp.Status(ippResp.Code))
	}
	if ippResp.RequestID != 7 {
		t.Fatalf("request-id = %d", ippResp.RequestID)
	}

	good := newTestMessage(goipp.OpValidateJob,
		goipp.MakeAttribute("printer-uri", goipp.TagURI,
			goipp.String("ipp://localhost/printers/test")))
	payload, err = good.EncodeBytes()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	fmt.Fprintf(client, "POST /printers/test HTTP/1.1\r\nHost: localhost\r\n"+
		"Content-Type: application/ipp\r\nContent-Length: %d\r\n\r\n", len(payload))
	client.Write(payload)

	resp, body = readResponse(t, br)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("HTTP status = %d", resp.StatusCode)
	}
	var okResp goipp.Message
	if err := okResp.DecodeBytes(body); err != nil {
		t.Fatalf("decode IPP response: %v", err)
	}
	if goipp.Status(okResp.Code) != goipp.StatusOk {
		t.Fatalf("IPP status = %s", goipp.Status(okResp.Code))
	}
}

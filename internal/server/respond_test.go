package server

import (
	"bufio"
	"bytes"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/OpenPrinting/goipp"

	"ippserv/internal/auth"
	"ippserv/internal/config"
	"ippserv/internal/logging"
	"ippserv/internal/resource"
	"ippserv/internal/system"
)

func newTestServer() *Server {
	sys := system.New("test", "localhost")
	sys.SetDefaultMaxActiveJobs(10)
	return &Server{
		Config:    config.Config{ServerName: "localhost"},
		System:    sys,
		Resources: resource.NewRegistry(),
		Auth:      auth.New(),
	}
}

func newTestConn(srv *Server) *conn {
	return &conn{
		srv:    srv,
		number: 1,
		remote: "127.0.0.1",
		method: "POST",
		major:  1,
		minor:  1,
		header: make(textproto.MIMEHeader),
	}
}

// newTestMessage builds a request with the required leading operation
// attributes already in place.
func newTestMessage(op goipp.Op, extra ...goipp.Attribute) *goipp.Message {
	msg := goipp.NewRequest(goipp.DefaultVersion, op, 1)
	msg.Operation.Add(goipp.MakeAttribute("attributes-charset",
		goipp.TagCharset, goipp.String("utf-8")))
	msg.Operation.Add(goipp.MakeAttribute("attributes-natural-language",
		goipp.TagLanguage, goipp.String("en")))
	for _, attr := range extra {
		msg.Operation.Add(attr)
	}
	return msg
}

func TestRespondStatusOnlyWorsens(t *testing.T) {
	srv := newTestServer()
	r := newIPPRequest(newTestConn(srv), newTestMessage(goipp.OpPrintJob), nil)

	r.Respond(goipp.StatusOkIgnoredOrSubstituted, "ignored something")
	r.Respond(goipp.StatusErrorBadRequest, "bad request")
	r.Respond(goipp.StatusOk, "all good")

	if got := goipp.Status(r.resp.Code); got != goipp.StatusErrorBadRequest {
		t.Fatalf("status = %s, want %s", got, goipp.StatusErrorBadRequest)
	}
	if r.statusMsg != "all good" {
		t.Fatalf("statusMsg = %q, want last message", r.statusMsg)
	}
}

func TestRespondEmptyFormatKeepsMessage(t *testing.T) {
	srv := newTestServer()
	r := newIPPRequest(newTestConn(srv), newTestMessage(goipp.OpPrintJob), nil)

	r.Respond(goipp.StatusErrorNotFound, "no such job")
	r.Respond(goipp.StatusErrorBadRequest, "")

	if r.statusMsg != "no such job" {
		t.Fatalf("statusMsg = %q, want previous message kept", r.statusMsg)
	}
}

func TestRespondUnsupportedCopiesAttribute(t *testing.T) {
	srv := newTestServer()
	r := newIPPRequest(newTestConn(srv), newTestMessage(goipp.OpPrintJob), nil)

	attr := goipp.MakeAttribute("finishings", goipp.TagEnum, goipp.Integer(4))
	r.RespondUnsupported(attr)

	if got := goipp.Status(r.resp.Code); got != goipp.StatusErrorAttributesOrValues {
		t.Fatalf("status = %s", got)
	}
	if len(r.resp.Unsupported) != 1 || r.resp.Unsupported[0].Name != "finishings" {
		t.Fatalf("unsupported group = %v", r.resp.Unsupported)
	}
}

func TestRespondIgnoredKeepsSuccess(t *testing.T) {
	srv := newTestServer()
	r := newIPPRequest(newTestConn(srv), newTestMessage(goipp.OpPrintJob), nil)

	r.RespondIgnored(goipp.MakeAttribute("job-priority",
		goipp.TagInteger, goipp.Integer(50)))

	if got := goipp.Status(r.resp.Code); got != goipp.StatusOkIgnoredOrSubstituted {
		t.Fatalf("status = %s", got)
	}
}

func TestSendLeadsWithCharsetAndLanguage(t *testing.T) {
	srv := newTestServer()
	c := newTestConn(srv)
	var buf bytes.Buffer
	c.bw = bufio.NewWriter(&buf)

	r := newIPPRequest(c, newTestMessage(goipp.OpGetPrinterAttributes), nil)
	r.Respond(goipp.StatusOk, "done")
	r.addGroup(goipp.TagPrinterGroup, goipp.Attributes{
		goipp.MakeAttribute("printer-name", goipp.TagName, goipp.String("test")),
	})
	if err := r.send(); err != nil {
		t.Fatalf("send: %v", err)
	}
	c.bw.Flush()

	raw := buf.Bytes()
	i := bytes.Index(raw, []byte("\r\n\r\n"))
	if i < 0 {
		t.Fatalf("no header/body boundary in %q", raw)
	}
	var resp goipp.Message
	if err := resp.DecodeBytes(raw[i+4:]); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RequestID != 1 {
		t.Fatalf("request-id = %d", resp.RequestID)
	}
	if len(resp.Operation) < 2 ||
		resp.Operation[0].Name != "attributes-charset" ||
		resp.Operation[1].Name != "attributes-natural-language" {
		t.Fatalf("operation group does not lead with charset/language: %v",
			resp.Operation)
	}
	if len(resp.Printer) != 1 || resp.Printer[0].Name != "printer-name" {
		t.Fatalf("printer group = %v", resp.Printer)
	}
}

func TestRespondLogsAtInfoLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "error_log")
	logging.Configure(path, "", 1<<20, "info")
	defer logging.Configure("", "", 0, "info")

	srv := newTestServer()
	r := newIPPRequest(newTestConn(srv), newTestMessage(goipp.OpValidateJob), nil)
	r.Respond(goipp.StatusErrorBadRequest, "missing attribute")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read error log: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, "missing attribute") {
		t.Fatalf("outcome not logged at info level: %q", line)
	}
	if !strings.HasPrefix(line, "I ") {
		t.Fatalf("log line mark = %q, want info", line)
	}
}

package server

import (
	"bytes"
	"encoding/base64"
	"testing"
	"time"

	"github.com/OpenPrinting/goipp"

	"ippserv/internal/device"
	"ippserv/internal/system"
)

type memDevice struct {
	uri string
	buf bytes.Buffer
}

func (d *memDevice) Write(p []byte) (int, error) { return d.buf.Write(p) }
func (d *memDevice) Close() error                { return nil }
func (d *memDevice) URI() string                 { return d.uri }

func useMemDevices(srv *Server) {
	srv.System.SetDeviceOpener(func(uri string, log device.LogFunc) (device.Device, error) {
		return &memDevice{uri: uri}, nil
	})
}

func waitState(t *testing.T, j *system.Job, want system.JobState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if j.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("job %d state = %s, want %s", j.ID(), j.State(), want)
}

func printerURIAttr(path string) goipp.Attribute {
	return goipp.MakeAttribute("printer-uri", goipp.TagURI,
		goipp.String("ipp://localhost"+path))
}

func runIPP(srv *Server, msg *goipp.Message, doc []byte) *ippRequest {
	var body *bytes.Reader
	if doc != nil {
		body = bytes.NewReader(doc)
	}
	r := newIPPRequest(newTestConn(srv), msg, nil)
	if body != nil {
		r.doc = body
	}
	r.username = "alice"
	if r.validate() {
		srv.route(r)
	}
	return r
}

func TestPrintJobEndToEnd(t *testing.T) {
	srv := newTestServer()
	useMemDevices(srv)
	p := mustPrinter(t, srv, "test", "/printers/test")

	msg := newTestMessage(goipp.OpPrintJob,
		printerURIAttr("/printers/test"),
		goipp.MakeAttribute("job-name", goipp.TagName, goipp.String("report")),
		goipp.MakeAttribute("document-format", goipp.TagMimeType,
			goipp.String("application/pdf")))

	r := runIPP(srv, msg, []byte("%PDF-1.4 test"))
	if got := goipp.Status(r.resp.Code); got != goipp.StatusOk {
		t.Fatalf("status = %s (%s)", got, r.statusMsg)
	}
	if len(r.groups) != 1 || r.groups[0].Tag != goipp.TagJobGroup {
		t.Fatalf("response groups = %v, want one job group", r.groups)
	}

	job := p.FindJob(1)
	if job == nil {
		t.Fatal("job not created")
	}
	if job.Name() != "report" || job.UserName() != "alice" {
		t.Fatalf("job identity = %q/%q", job.Name(), job.UserName())
	}
	waitState(t, job, system.JobStateCompleted)
}

func TestPrintJobWithoutDocument(t *testing.T) {
	srv := newTestServer()
	p := mustPrinter(t, srv, "test", "/printers/test")

	msg := newTestMessage(goipp.OpPrintJob, printerURIAttr("/printers/test"))
	r := runIPP(srv, msg, nil)
	if got := goipp.Status(r.resp.Code); got != goipp.StatusErrorBadRequest {
		t.Fatalf("status = %s", got)
	}
	if len(p.Jobs()) != 0 {
		t.Fatal("job must not be created without document data")
	}
}

func TestValidateJobChecksAdmission(t *testing.T) {
	srv := newTestServer()
	p := mustPrinter(t, srv, "test", "/printers/test")

	msg := newTestMessage(goipp.OpValidateJob, printerURIAttr("/printers/test"))
	r := runIPP(srv, msg, nil)
	if got := goipp.Status(r.resp.Code); got != goipp.StatusOk {
		t.Fatalf("status = %s", got)
	}
	if len(p.Jobs()) != 0 {
		t.Fatal("Validate-Job must not create a job")
	}

	p.SetAccepting(false)
	r = runIPP(srv, msg, nil)
	if got := goipp.Status(r.resp.Code); got != goipp.StatusErrorNotAcceptingJobs {
		t.Fatalf("status = %s", got)
	}
}

func TestCreateJobThenSendDocument(t *testing.T) {
	srv := newTestServer()
	useMemDevices(srv)
	p := mustPrinter(t, srv, "test", "/printers/test")

	create := newTestMessage(goipp.OpCreateJob,
		printerURIAttr("/printers/test"))
	r := runIPP(srv, create, nil)
	if got := goipp.Status(r.resp.Code); got != goipp.StatusOk {
		t.Fatalf("Create-Job status = %s", got)
	}
	job := p.FindJob(1)
	if job == nil {
		t.Fatal("job not created")
	}
	if job.HasDocument() {
		t.Fatal("Create-Job must not attach a document")
	}

	send := newTestMessage(goipp.OpSendDocument,
		printerURIAttr("/printers/test"),
		goipp.MakeAttribute("job-id", goipp.TagInteger, goipp.Integer(1)),
		goipp.MakeAttribute("last-document", goipp.TagBoolean, goipp.Boolean(true)))
	r = runIPP(srv, send, []byte("data"))
	if got := goipp.Status(r.resp.Code); got != goipp.StatusOk {
		t.Fatalf("Send-Document status = %s (%s)", got, r.statusMsg)
	}
	waitState(t, job, system.JobStateCompleted)

	// A second document on the same job is refused.
	r = runIPP(srv, send, []byte("more"))
	if got := goipp.Status(r.resp.Code); got != goipp.StatusErrorMultipleJobsNotSupported {
		t.Fatalf("second Send-Document status = %s", got)
	}
}

func TestGetJobsWhichJobs(t *testing.T) {
	srv := newTestServer()
	p := mustPrinter(t, srv, "test", "/printers/test")

	if _, err := p.CreateJob("pending", "alice"); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	j2, err := p.CreateJob("canceled", "alice")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	p.CancelJob(j2)

	get := func(which string) *ippRequest {
		msg := newTestMessage(goipp.OpGetJobs, printerURIAttr("/printers/test"))
		if which != "" {
			msg.Operation.Add(goipp.MakeAttribute("which-jobs",
				goipp.TagKeyword, goipp.String(which)))
		}
		return runIPP(srv, msg, nil)
	}

	if r := get(""); len(r.groups) != 1 {
		t.Fatalf("default which-jobs returned %d groups, want 1", len(r.groups))
	}
	if r := get("completed"); len(r.groups) != 1 {
		t.Fatalf("completed returned %d groups, want 1", len(r.groups))
	}
	if r := get("all"); len(r.groups) != 2 {
		t.Fatalf("all returned %d groups, want 2", len(r.groups))
	}
	if r := get("bogus"); goipp.Status(r.resp.Code) != goipp.StatusErrorAttributesOrValues {
		t.Fatalf("bogus which-jobs status = %s", goipp.Status(r.resp.Code))
	}
}

func TestHoldAndReleaseJob(t *testing.T) {
	srv := newTestServer()
	useMemDevices(srv)
	p := mustPrinter(t, srv, "test", "/printers/test")

	job, err := p.CreateJob("doc", "alice")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	hold := newTestMessage(goipp.OpHoldJob,
		printerURIAttr("/printers/test"),
		goipp.MakeAttribute("job-id", goipp.TagInteger, goipp.Integer(job.ID())))
	if r := runIPP(srv, hold, nil); goipp.Status(r.resp.Code) != goipp.StatusOk {
		t.Fatalf("Hold-Job status = %s", goipp.Status(r.resp.Code))
	}
	if job.State() != system.JobStateHeld {
		t.Fatalf("state = %s after hold", job.State())
	}

	job.SetDocument("application/octet-stream", []byte("x"))
	release := newTestMessage(goipp.OpReleaseJob,
		printerURIAttr("/printers/test"),
		goipp.MakeAttribute("job-id", goipp.TagInteger, goipp.Integer(job.ID())))
	if r := runIPP(srv, release, nil); goipp.Status(r.resp.Code) != goipp.StatusOk {
		t.Fatalf("Release-Job status = %s", goipp.Status(r.resp.Code))
	}
	waitState(t, job, system.JobStateCompleted)
}

func TestCancelJobAlreadyTerminal(t *testing.T) {
	srv := newTestServer()
	p := mustPrinter(t, srv, "test", "/printers/test")

	job, err := p.CreateJob("doc", "alice")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	p.CancelJob(job)

	msg := newTestMessage(goipp.OpCancelJob,
		printerURIAttr("/printers/test"),
		goipp.MakeAttribute("job-id", goipp.TagInteger, goipp.Integer(job.ID())))
	r := runIPP(srv, msg, nil)
	if got := goipp.Status(r.resp.Code); got != goipp.StatusErrorNotPossible {
		t.Fatalf("status = %s", got)
	}
}

func TestPausePrinterRequiresAdmin(t *testing.T) {
	srv := newTestServer()
	if err := srv.Auth.AddUser("admin", "secret", true); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	p := mustPrinter(t, srv, "test", "/printers/test")

	msg := newTestMessage(goipp.OpPausePrinter, printerURIAttr("/printers/test"))

	r := runIPP(srv, msg, nil)
	if got := goipp.Status(r.resp.Code); got != goipp.StatusErrorNotAuthorized {
		t.Fatalf("anonymous Pause-Printer status = %s", got)
	}
	if p.State() == system.PrinterStopped {
		t.Fatal("printer paused without authorization")
	}

	cred := base64.StdEncoding.EncodeToString([]byte("admin:secret"))
	c := newTestConn(srv)
	c.header.Set("Authorization", "Basic "+cred)
	r = newIPPRequest(c, msg, nil)
	if r.validate() {
		srv.route(r)
	}
	if got := goipp.Status(r.resp.Code); got != goipp.StatusOk {
		t.Fatalf("admin Pause-Printer status = %s", got)
	}
	if p.State() != system.PrinterStopped {
		t.Fatalf("printer state = %s after pause", p.State())
	}
}

func TestUnsupportedOperation(t *testing.T) {
	srv := newTestServer()
	mustPrinter(t, srv, "test", "/printers/test")

	msg := newTestMessage(goipp.OpRestartJob, printerURIAttr("/printers/test"))
	r := runIPP(srv, msg, nil)
	if got := goipp.Status(r.resp.Code); got != goipp.StatusErrorOperationNotSupported {
		t.Fatalf("status = %s", got)
	}
}

func TestGetSystemAttributes(t *testing.T) {
	srv := newTestServer()
	msg := newTestMessage(goipp.OpGetSystemAttributes,
		goipp.MakeAttribute("system-uri", goipp.TagURI,
			goipp.String("ipp://localhost/ipp/system")))

	r := runIPP(srv, msg, nil)
	if got := goipp.Status(r.resp.Code); got != goipp.StatusOk {
		t.Fatalf("status = %s", got)
	}
	if len(r.groups) != 1 || r.groups[0].Tag != goipp.TagSystemGroup {
		t.Fatalf("groups = %v, want one system group", r.groups)
	}
}

func TestCupsGetPrinters(t *testing.T) {
	srv := newTestServer()
	mustPrinter(t, srv, "a", "/printers/a")
	mustPrinter(t, srv, "b", "/printers/b")

	msg := newTestMessage(goipp.OpCupsGetPrinters)
	r := runIPP(srv, msg, nil)
	if got := goipp.Status(r.resp.Code); got != goipp.StatusOk {
		t.Fatalf("status = %s", got)
	}
	if len(r.groups) != 2 {
		t.Fatalf("got %d printer groups, want 2", len(r.groups))
	}
}

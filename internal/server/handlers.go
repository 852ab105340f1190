package server

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/OpenPrinting/goipp"

	"ippserv/internal/system"
)

const defaultFormat = "application/octet-stream"

// maxDocumentSize bounds a single spooled document.
const maxDocumentSize = 256 << 20

func (r *ippRequest) requirePrinter() bool {
	if r.printer == nil {
		r.Respond(goipp.StatusErrorNotPossible,
			"%s requires a printer target.", r.op.String())
		return false
	}
	return true
}

func (r *ippRequest) jobName() string {
	if name, ok := r.operationString("job-name"); ok && name != "" {
		return name
	}
	return "untitled"
}

func (r *ippRequest) documentFormat() string {
	if f, ok := r.operationString("document-format"); ok && f != "" {
		return f
	}
	return defaultFormat
}

func (r *ippRequest) respondCreateError(err error) {
	switch {
	case errors.Is(err, system.ErrNotAccepting):
		r.Respond(goipp.StatusErrorNotAcceptingJobs,
			"Printer %q is not accepting jobs.", r.printer.Name())
	case errors.Is(err, system.ErrTooManyJobs):
		r.Respond(goipp.StatusErrorBusy,
			"Printer %q has too many queued jobs.", r.printer.Name())
	case errors.Is(err, system.ErrDeleted):
		r.Respond(goipp.StatusErrorNotPossible,
			"Printer %q is being deleted.", r.printer.Name())
	default:
		r.Respond(goipp.StatusErrorInternal, "Cannot create job: %v.", err)
	}
}

func (r *ippRequest) readDocument() ([]byte, bool) {
	if r.doc == nil {
		return nil, false
	}
	data, err := io.ReadAll(io.LimitReader(r.doc, maxDocumentSize))
	if err != nil || len(data) == 0 {
		return nil, false
	}
	return data, true
}

func (r *ippRequest) printJob() {
	if !r.requirePrinter() {
		return
	}
	data, ok := r.readDocument()
	if !ok {
		r.Respond(goipp.StatusErrorBadRequest, "No document data.")
		return
	}
	job, err := r.printer.CreateJob(r.jobName(), r.username)
	if err != nil {
		r.respondCreateError(err)
		return
	}
	job.SetDocument(r.documentFormat(), data)
	r.printer.StartJob(job)
	r.Respond(goipp.StatusOk, "")
	r.addGroup(goipp.TagJobGroup, r.jobAttributes(job, nil))
}

// validateJob runs the admission checks of Print-Job without creating
// a job or consuming a document.
func (r *ippRequest) validateJob() {
	if !r.requirePrinter() {
		return
	}
	switch {
	case r.printer.Deleted():
		r.Respond(goipp.StatusErrorNotPossible,
			"Printer %q is being deleted.", r.printer.Name())
	case !r.printer.Accepting():
		r.Respond(goipp.StatusErrorNotAcceptingJobs,
			"Printer %q is not accepting jobs.", r.printer.Name())
	default:
		r.Respond(goipp.StatusOk, "")
	}
}

func (r *ippRequest) createJob() {
	if !r.requirePrinter() {
		return
	}
	job, err := r.printer.CreateJob(r.jobName(), r.username)
	if err != nil {
		r.respondCreateError(err)
		return
	}
	r.Respond(goipp.StatusOk, "")
	r.addGroup(goipp.TagJobGroup, r.jobAttributes(job, nil))
}

func (r *ippRequest) sendDocument() {
	if r.job.HasDocument() {
		r.Respond(goipp.StatusErrorMultipleJobsNotSupported,
			"Job %d already has a document.", r.job.ID())
		return
	}
	if r.job.State().Terminal() {
		r.Respond(goipp.StatusErrorNotPossible,
			"Job %d is already %s.", r.job.ID(), r.job.State())
		return
	}
	data, ok := r.readDocument()
	if !ok {
		// An empty final document just closes the job.
		if last, _ := r.operationString("last-document"); last == "true" {
			r.printer.CancelJob(r.job)
			r.Respond(goipp.StatusOk, "")
			r.addGroup(goipp.TagJobGroup, r.jobAttributes(r.job, nil))
			return
		}
		r.Respond(goipp.StatusErrorBadRequest, "No document data.")
		return
	}
	r.job.SetDocument(r.documentFormat(), data)
	if r.job.State() == system.JobStatePending {
		r.printer.StartJob(r.job)
	}
	r.Respond(goipp.StatusOk, "")
	r.addGroup(goipp.TagJobGroup, r.jobAttributes(r.job, nil))
}

func (r *ippRequest) cancelJob() {
	if r.job.State().Terminal() {
		r.Respond(goipp.StatusErrorNotPossible,
			"Job %d is already %s.", r.job.ID(), r.job.State())
		return
	}
	r.printer.CancelJob(r.job)
	r.Respond(goipp.StatusOk, "")
}

func (r *ippRequest) getJobAttributes() {
	requested := r.requestedAttributes()
	r.Respond(goipp.StatusOk, "")
	r.addGroup(goipp.TagJobGroup, r.jobAttributes(r.job, requested))
}

func (r *ippRequest) getJobs() {
	if !r.requirePrinter() {
		return
	}
	which, _ := r.operationString("which-jobs")
	var jobs []*system.Job
	switch which {
	case "", "not-completed":
		jobs = r.printer.ActiveJobs()
	case "completed":
		jobs = r.printer.CompletedJobs()
	case "all":
		jobs = r.printer.Jobs()
	default:
		if attr, ok := r.operationAttr("which-jobs"); ok {
			r.RespondUnsupported(attr)
		}
		return
	}

	limit, _ := r.operationInt("limit")
	if user, ok := r.operationString("my-jobs"); ok && user == "true" {
		jobs = filterByUser(jobs, r.username)
	}

	requested := r.requestedAttributes()
	r.Respond(goipp.StatusOk, "")
	for i, j := range jobs {
		if limit > 0 && i >= limit {
			break
		}
		r.addGroup(goipp.TagJobGroup, r.jobAttributes(j, requested))
	}
}

func filterByUser(jobs []*system.Job, user string) []*system.Job {
	out := jobs[:0]
	for _, j := range jobs {
		if j.UserName() == user {
			out = append(out, j)
		}
	}
	return out
}

func (r *ippRequest) holdJob() {
	if err := r.printer.HoldJob(r.job); err != nil {
		r.Respond(goipp.StatusErrorNotPossible, "%v.", err)
		return
	}
	r.Respond(goipp.StatusOk, "")
}

func (r *ippRequest) releaseJob() {
	if err := r.printer.ReleaseJob(r.job); err != nil {
		r.Respond(goipp.StatusErrorNotPossible, "%v.", err)
		return
	}
	r.Respond(goipp.StatusOk, "")
}

func (r *ippRequest) getPrinterAttributes() {
	if !r.requirePrinter() {
		return
	}
	requested := r.requestedAttributes()
	r.Respond(goipp.StatusOk, "")
	r.addGroup(goipp.TagPrinterGroup, r.printerAttributes(r.printer, requested))
}

func (r *ippRequest) pausePrinter() {
	if !r.requirePrinter() {
		return
	}
	r.printer.Pause()
	r.Respond(goipp.StatusOk, "")
}

func (r *ippRequest) resumePrinter() {
	if !r.requirePrinter() {
		return
	}
	r.printer.Resume()
	r.Respond(goipp.StatusOk, "")
}

func (r *ippRequest) cancelJobs() {
	if !r.requirePrinter() {
		return
	}
	r.printer.CancelAllJobs()
	r.Respond(goipp.StatusOk, "")
}

func (r *ippRequest) purgeJobs() {
	if !r.requirePrinter() {
		return
	}
	r.printer.CancelAllJobs()
	n := r.printer.PurgeJobs()
	r.Respond(goipp.StatusOk, "Purged %d jobs.", n)
}

func (r *ippRequest) getSystemAttributes() {
	sys := r.conn.srv.System
	var attrs goipp.Attributes
	attrs.Add(goipp.MakeAttribute("system-name",
		goipp.TagName, goipp.String(sys.Name())))
	attrs.Add(goipp.MakeAttribute("system-state",
		goipp.TagEnum, goipp.Integer(systemState(sys))))
	attrs.Add(goipp.MakeAttribute("system-up-time",
		goipp.TagInteger, goipp.Integer(int(time.Since(sys.Startup()).Seconds()))))
	attrs.Add(goipp.MakeAttribute("system-config-changed-date-time",
		goipp.TagDateTime, goipp.Time{Time: sys.Startup()}))
	attrs.Add(goipp.MakeAttribute("charset-configured",
		goipp.TagCharset, goipp.String("utf-8")))
	attrs.Add(goipp.MakeAttribute("natural-language-configured",
		goipp.TagLanguage, goipp.String("en")))
	r.Respond(goipp.StatusOk, "")
	r.addGroup(goipp.TagSystemGroup, attrs)
}

// systemState maps printer activity onto the system-state enum: idle
// unless some printer is processing.
func systemState(sys *system.System) int {
	for _, p := range sys.Printers() {
		if p.State() == system.PrinterProcessing {
			return 6
		}
	}
	return 3
}

func (r *ippRequest) cupsGetDefault() {
	p := r.conn.srv.System.DefaultPrinter()
	if p == nil {
		r.Respond(goipp.StatusErrorNotFound, "No default printer.")
		return
	}
	r.Respond(goipp.StatusOk, "")
	r.addGroup(goipp.TagPrinterGroup, r.printerAttributes(p, nil))
}

func (r *ippRequest) cupsGetPrinters() {
	printers := r.conn.srv.System.Printers()
	r.Respond(goipp.StatusOk, "")
	for _, p := range printers {
		r.addGroup(goipp.TagPrinterGroup, r.printerAttributes(p, nil))
	}
}

// requestedAttributes returns the requested-attributes keywords, or
// nil when the client wants everything.
func (r *ippRequest) requestedAttributes() map[string]bool {
	attr, ok := r.operationAttr("requested-attributes")
	if !ok {
		return nil
	}
	want := make(map[string]bool, len(attr.Values))
	for _, v := range attr.Values {
		kw := v.V.String()
		if kw == "all" {
			return nil
		}
		want[kw] = true
	}
	return want
}

func wanted(want map[string]bool, name string) bool {
	return want == nil || want[name]
}

// jobAttributes builds the job group for one job, filtered down to the
// requested attribute names.
func (r *ippRequest) jobAttributes(j *system.Job, want map[string]bool) goipp.Attributes {
	var attrs goipp.Attributes
	add := func(name string, tag goipp.Tag, v goipp.Value) {
		if wanted(want, name) {
			attrs.Add(goipp.MakeAttribute(name, tag, v))
		}
	}

	printerURI := r.objectURI(j.Printer().Resource())
	add("job-id", goipp.TagInteger, goipp.Integer(j.ID()))
	add("job-uri", goipp.TagURI,
		goipp.String(fmt.Sprintf("%s/%d", printerURI, j.ID())))
	add("job-printer-uri", goipp.TagURI, goipp.String(printerURI))
	add("job-name", goipp.TagName, goipp.String(j.Name()))
	add("job-originating-user-name", goipp.TagName, goipp.String(j.UserName()))
	add("job-state", goipp.TagEnum, goipp.Integer(int(j.State())))
	if wanted(want, "job-state-reasons") {
		attrs.Add(keywordAttr("job-state-reasons",
			system.JobReasonKeywords(j.Reasons())))
	}
	if f := j.Format(); f != "" {
		add("document-format", goipp.TagMimeType, goipp.String(f))
	}
	total, completed := j.Impressions()
	add("job-impressions", goipp.TagInteger, goipp.Integer(total))
	add("job-impressions-completed", goipp.TagInteger, goipp.Integer(completed))
	add("time-at-creation", goipp.TagInteger,
		goipp.Integer(j.Created().Unix()))
	add("date-time-at-creation", goipp.TagDateTime, goipp.Time{Time: j.Created()})
	if t := j.ProcessingStarted(); !t.IsZero() {
		add("date-time-at-processing", goipp.TagDateTime, goipp.Time{Time: t})
	}
	if t := j.Completed(); !t.IsZero() {
		add("date-time-at-completed", goipp.TagDateTime, goipp.Time{Time: t})
	}
	return attrs
}

// printerAttributes builds the printer group for one printer.
func (r *ippRequest) printerAttributes(p *system.Printer, want map[string]bool) goipp.Attributes {
	var attrs goipp.Attributes
	add := func(name string, tag goipp.Tag, v goipp.Value) {
		if wanted(want, name) {
			attrs.Add(goipp.MakeAttribute(name, tag, v))
		}
	}

	add("printer-name", goipp.TagName, goipp.String(p.Name()))
	add("printer-uri-supported", goipp.TagURI,
		goipp.String(r.objectURI(p.Resource())))
	add("printer-uuid", goipp.TagURI, goipp.String(p.UUID()))
	add("printer-state", goipp.TagEnum, goipp.Integer(int(p.State())))
	if wanted(want, "printer-state-reasons") {
		attrs.Add(keywordAttr("printer-state-reasons",
			system.PrinterReasonKeywords(p.Reasons())))
	}
	add("printer-is-accepting-jobs", goipp.TagBoolean, goipp.Boolean(p.Accepting()))
	add("device-uri", goipp.TagURI, goipp.String(p.DeviceURI()))
	add("queued-job-count", goipp.TagInteger, goipp.Integer(len(p.ActiveJobs())))
	add("printer-up-time", goipp.TagInteger,
		goipp.Integer(int(time.Since(r.conn.srv.System.Startup()).Seconds())))
	if wanted(want, "operations-supported") {
		attrs.Add(goipp.MakeAttr("operations-supported", goipp.TagEnum,
			goipp.Integer(goipp.OpPrintJob),
			goipp.Integer(goipp.OpValidateJob),
			goipp.Integer(goipp.OpCreateJob),
			goipp.Integer(goipp.OpSendDocument),
			goipp.Integer(goipp.OpCancelJob),
			goipp.Integer(goipp.OpGetJobAttributes),
			goipp.Integer(goipp.OpGetJobs),
			goipp.Integer(goipp.OpHoldJob),
			goipp.Integer(goipp.OpReleaseJob),
			goipp.Integer(goipp.OpGetPrinterAttributes),
			goipp.Integer(goipp.OpPausePrinter),
			goipp.Integer(goipp.OpResumePrinter),
			goipp.Integer(goipp.OpCancelJobs),
			goipp.Integer(goipp.OpPurgeJobs)))
	}
	add("charset-configured", goipp.TagCharset, goipp.String("utf-8"))
	add("charset-supported", goipp.TagCharset, goipp.String("utf-8"))
	add("natural-language-configured", goipp.TagLanguage, goipp.String("en"))
	add("document-format-default", goipp.TagMimeType, goipp.String(defaultFormat))
	if wanted(want, "document-format-supported") {
		attrs.Add(goipp.MakeAttr("document-format-supported", goipp.TagMimeType,
			goipp.String(defaultFormat),
			goipp.String("application/pdf"),
			goipp.String("image/pwg-raster"),
			goipp.String("image/urf")))
	}
	if wanted(want, "ipp-versions-supported") {
		attrs.Add(goipp.MakeAttr("ipp-versions-supported", goipp.TagKeyword,
			goipp.String("1.1"), goipp.String("2.0")))
	}
	return attrs
}

func keywordAttr(name string, keywords []string) goipp.Attribute {
	if len(keywords) == 0 {
		keywords = []string{"none"}
	}
	attr := goipp.Attribute{Name: name}
	for _, kw := range keywords {
		attr.Values.Add(goipp.TagKeyword, goipp.String(kw))
	}
	return attr
}

// objectURI forms an absolute URI for a resource path using the scheme
// and host the client used to reach us.
func (r *ippRequest) objectURI(resource string) string {
	scheme := "ipp"
	if r.conn.isTLS {
		scheme = "ipps"
	}
	host := r.conn.header.Get("Host")
	if host == "" {
		host = r.conn.srv.Config.ServerName
	}
	return scheme + "://" + host + "/" + strings.TrimPrefix(resource, "/")
}

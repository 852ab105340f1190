package server

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/OpenPrinting/goipp"
)

// requestGroups returns the attribute groups of a message in wire
// order, reconstructing them from the typed group fields when the
// message was built by hand rather than decoded.
func requestGroups(msg *goipp.Message) goipp.Groups {
	if len(msg.Groups) > 0 {
		return msg.Groups
	}
	var groups goipp.Groups
	add := func(tag goipp.Tag, attrs goipp.Attributes) {
		if len(attrs) > 0 {
			groups = append(groups, goipp.Group{Tag: tag, Attrs: attrs})
		}
	}
	add(goipp.TagOperationGroup, msg.Operation)
	add(goipp.TagJobGroup, msg.Job)
	add(goipp.TagPrinterGroup, msg.Printer)
	add(goipp.TagUnsupportedGroup, msg.Unsupported)
	add(goipp.TagSubscriptionGroup, msg.Subscription)
	add(goipp.TagEventNotificationGroup, msg.EventNotification)
	add(goipp.TagResourceGroup, msg.Resource)
	add(goipp.TagDocumentGroup, msg.Document)
	add(goipp.TagSystemGroup, msg.System)
	return groups
}

// validate runs the request well-formedness checks in order and
// resolves the target object. It returns false when the request must
// be answered without dispatching an operation handler.
func (r *ippRequest) validate() bool {
	msg := r.msg
	version := goipp.Version(msg.Version)

	if version.Major() < 1 || version.Major() > 2 {
		r.Respond(goipp.StatusErrorVersionNotSupported,
			"Unsupported IPP version %d.%d.", version.Major(), version.Minor())
		return false
	}

	if msg.RequestID == 0 {
		r.Respond(goipp.StatusErrorBadRequest, "Invalid request-id 0.")
		return false
	}

	groups := requestGroups(msg)
	if len(groups) == 0 {
		r.Respond(goipp.StatusErrorBadRequest, "Request has no attributes.")
		return false
	}

	// Group delimiter tags must not decrease. Tag zero delimiters are
	// accepted anywhere and do not advance the ordering check.
	last := goipp.TagZero
	for _, g := range groups {
		if g.Tag == goipp.TagZero {
			continue
		}
		if g.Tag < last {
			r.Respond(goipp.StatusErrorBadRequest,
				"Attribute groups are out of order (%s after %s).", g.Tag, last)
			return false
		}
		last = g.Tag
	}

	// The operation group must lead with attributes-charset and
	// attributes-natural-language, in that order and with those types.
	op := msg.Operation
	if len(groups) > 0 && groups[0].Tag == goipp.TagOperationGroup {
		op = groups[0].Attrs
	}
	okCharset := len(op) > 0 && op[0].Name == "attributes-charset" &&
		len(op[0].Values) > 0 && op[0].Values[0].T == goipp.TagCharset
	okLanguage := len(op) > 1 && op[1].Name == "attributes-natural-language" &&
		len(op[1].Values) > 0 && op[1].Values[0].T == goipp.TagLanguage
	if !okCharset || !okLanguage {
		r.Respond(goipp.StatusErrorBadRequest,
			"Missing required attributes-charset or attributes-natural-language.")
		return false
	}

	charset := strings.ToLower(op[0].Values[0].V.String())
	if charset != "utf-8" && charset != "us-ascii" {
		r.RespondUnsupported(op[0])
		return false
	}

	return r.resolveTarget()
}

// resolveTarget locates the system, printer or job addressed by the
// request URI attributes.
func (r *ippRequest) resolveTarget() bool {
	sys := r.conn.srv.System

	// Legacy CUPS operations address the server itself.
	switch r.op {
	case goipp.OpCupsGetDefault, goipp.OpCupsGetPrinters:
		r.isSystem = true
		return true
	}

	var uriAttr goipp.Attribute
	var uriKind string
	found := 0
	for _, name := range []string{"printer-uri", "job-uri", "system-uri"} {
		if attr, ok := r.operationAttr(name); ok {
			found++
			if found == 1 {
				uriAttr, uriKind = attr, name
			}
		}
	}
	if found == 0 {
		r.Respond(goipp.StatusErrorBadRequest, "Missing target URI attribute.")
		return false
	}
	if found > 1 {
		r.Respond(goipp.StatusErrorBadRequest,
			"Request has more than one target URI attribute.")
		return false
	}
	if len(uriAttr.Values) == 0 {
		r.Respond(goipp.StatusErrorBadRequest, "Empty %q value.", uriKind)
		return false
	}

	raw := uriAttr.Values[0].V.String()
	u, err := url.Parse(raw)
	if err != nil {
		r.Respond(goipp.StatusErrorBadRequest, "Bad %q value %q.", uriKind, raw)
		return false
	}
	path := u.Path
	if path == "" {
		path = "/"
	}

	if uriKind == "system-uri" {
		if path != "/ipp/system" {
			r.Respond(goipp.StatusErrorNotFound, "No system object at %q.", path)
			return false
		}
		r.isSystem = true
		return true
	}

	if uriKind == "job-uri" {
		// Job URIs end in a numeric job segment under the printer path.
		if i := strings.LastIndex(path, "/"); i > 0 {
			if id, err := strconv.Atoi(path[i+1:]); err == nil {
				printer := sys.FindPrinterByPath(path[:i])
				if printer == nil {
					r.Respond(goipp.StatusErrorNotFound, "No printer at %q.", path[:i])
					return false
				}
				r.printer = printer
				r.job = printer.FindJob(id)
				if r.job == nil {
					r.Respond(goipp.StatusErrorNotFound, "Job %d not found.", id)
					return false
				}
				return true
			}
		}
		r.Respond(goipp.StatusErrorBadRequest, "Bad job-uri %q.", raw)
		return false
	}

	printer := sys.FindPrinterByPath(path)
	if printer == nil {
		r.Respond(goipp.StatusErrorNotFound, "No printer at %q.", path)
		return false
	}
	r.printer = printer

	// Job operations addressed by printer-uri select the job with the
	// job-id operation attribute.
	if opTargetsJob(r.op) {
		id, ok := r.operationInt("job-id")
		if !ok {
			r.Respond(goipp.StatusErrorBadRequest, "Missing job-id attribute.")
			return false
		}
		r.job = printer.FindJob(id)
		if r.job == nil {
			r.Respond(goipp.StatusErrorNotFound, "Job %d not found.", id)
			return false
		}
	}
	return true
}

func opTargetsJob(op goipp.Op) bool {
	switch op {
	case goipp.OpSendDocument, goipp.OpCancelJob, goipp.OpGetJobAttributes,
		goipp.OpHoldJob, goipp.OpReleaseJob:
		return true
	}
	return false
}

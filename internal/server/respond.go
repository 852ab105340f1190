package server

import (
	"fmt"
	"io"
	"net/http"

	"github.com/OpenPrinting/goipp"

	"ippserv/internal/logging"
	"ippserv/internal/system"
)

// ippRequest is one decoded IPP request plus the response being
// accumulated for it. Handlers add attribute groups to resp and report
// outcomes through Respond; the final status is the worst status any
// handler reported.
type ippRequest struct {
	conn     *conn
	msg      *goipp.Message
	op       goipp.Op
	version  goipp.Version
	printer  *system.Printer
	job      *system.Job
	isSystem bool
	username string

	resp      *goipp.Message
	statusMsg string
	groups    []goipp.Group

	// doc is the remaining request body after the IPP message, used
	// by operations that carry document data.
	doc io.Reader
}

func newIPPRequest(c *conn, msg *goipp.Message, doc io.Reader) *ippRequest {
	version := goipp.Version(msg.Version)
	if version.Major() < 1 || version.Major() > 2 {
		version = goipp.DefaultVersion
	}
	r := &ippRequest{
		conn:    c,
		msg:     msg,
		op:      goipp.Op(msg.Code),
		version: version,
		doc:     doc,
		resp:    goipp.NewResponse(version, goipp.StatusOk, msg.RequestID),
	}
	r.resp.Operation.Add(goipp.MakeAttribute("attributes-charset",
		goipp.TagCharset, goipp.String("utf-8")))
	r.resp.Operation.Add(goipp.MakeAttribute("attributes-natural-language",
		goipp.TagLanguage, goipp.String("en")))
	return r
}

// Respond records an outcome. The response status only ever gets
// worse: a numerically greater status replaces the current one, a
// lesser one is kept. The status message is replaced in place so the
// reply carries exactly one.
func (r *ippRequest) Respond(status goipp.Status, format string, args ...interface{}) {
	if goipp.Code(status) > r.resp.Code {
		r.resp.Code = goipp.Code(status)
	}
	if format != "" {
		r.statusMsg = fmt.Sprintf(format, args...)
	}
	logging.Infof("[Client %d] %s: %s (%s)", r.conn.number,
		r.op.String(), goipp.Status(r.resp.Code).String(), r.statusMsg)
}

// RespondIgnored reports an attribute that was understood but ignored,
// copying it into the unsupported group.
func (r *ippRequest) RespondIgnored(attr goipp.Attribute) {
	r.resp.Unsupported.Add(attr)
	r.Respond(goipp.StatusOkIgnoredOrSubstituted, "Ignored %q.", attr.Name)
}

// RespondUnsupported rejects an attribute or value, copying it into
// the unsupported group.
func (r *ippRequest) RespondUnsupported(attr goipp.Attribute) {
	r.resp.Unsupported.Add(attr)
	r.Respond(goipp.StatusErrorAttributesOrValues,
		"Unsupported %q.", attr.Name)
}

// addGroup appends a whole attribute group to the response.
func (r *ippRequest) addGroup(tag goipp.Tag, attrs goipp.Attributes) {
	if len(attrs) > 0 {
		r.groups = append(r.groups, goipp.Group{Tag: tag, Attrs: attrs})
	}
}

// send serializes the accumulated response onto the HTTP connection.
// The encoder uses Groups exclusively once set, so the operation and
// unsupported groups are folded in here.
func (r *ippRequest) send() error {
	if r.statusMsg != "" {
		r.resp.Operation.Add(goipp.MakeAttribute("status-message",
			goipp.TagText, goipp.String(r.statusMsg)))
	}
	groups := goipp.Groups{{Tag: goipp.TagOperationGroup, Attrs: r.resp.Operation}}
	if len(r.resp.Unsupported) > 0 {
		groups = append(groups, goipp.Group{
			Tag: goipp.TagUnsupportedGroup, Attrs: r.resp.Unsupported,
		})
	}
	groups = append(groups, r.groups...)
	r.resp.Groups = groups

	data, err := r.resp.EncodeBytes()
	if err != nil {
		return fmt.Errorf("encode IPP response: %w", err)
	}
	logging.Infof("[Client %d] %s request-id=%d completed: %s",
		r.conn.number, r.op.String(), r.msg.RequestID,
		goipp.Status(r.resp.Code).String())
	r.conn.writeBody(http.StatusOK, "application/ipp", data, nil)
	return nil
}

// operationAttrs returns the request's operation group attributes.
func (r *ippRequest) operationAttrs() goipp.Attributes {
	for _, g := range requestGroups(r.msg) {
		if g.Tag == goipp.TagOperationGroup {
			return g.Attrs
		}
	}
	return nil
}

// operationAttr finds a named attribute in the operation group.
func (r *ippRequest) operationAttr(name string) (goipp.Attribute, bool) {
	for _, attr := range r.operationAttrs() {
		if attr.Name == name {
			return attr, true
		}
	}
	return goipp.Attribute{}, false
}

func (r *ippRequest) operationString(name string) (string, bool) {
	attr, ok := r.operationAttr(name)
	if !ok || len(attr.Values) == 0 {
		return "", false
	}
	return attr.Values[0].V.String(), true
}

func (r *ippRequest) operationInt(name string) (int, bool) {
	attr, ok := r.operationAttr(name)
	if !ok || len(attr.Values) == 0 {
		return 0, false
	}
	if v, ok := attr.Values[0].V.(goipp.Integer); ok {
		return int(v), true
	}
	return 0, false
}

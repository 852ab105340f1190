package server

import (
	"net/http"

	"github.com/OpenPrinting/goipp"

	"ippserv/internal/logging"
)

// handleIPP decodes one IPP request from the HTTP body, validates it,
// dispatches the operation and sends the accumulated response. IPP
// level failures still travel as HTTP 200; only undecodable payloads
// produce an HTTP error.
func (c *conn) handleIPP() bool {
	if c.body == nil {
		c.sendError(http.StatusBadRequest, "Missing IPP message body")
		return true
	}

	var msg goipp.Message
	if err := msg.Decode(c.body); err != nil {
		logging.Debugf("[Client %d] Bad IPP message: %v", c.number, err)
		c.sendError(http.StatusBadRequest, "Bad IPP message")
		return true
	}

	r := newIPPRequest(c, &msg, c.body)
	r.username = c.requestUser(r)
	c.user = r.username

	logging.Debugf("[Client %d] %s request-id=%d", c.number,
		r.op.String(), msg.RequestID)

	if r.validate() {
		c.srv.route(r)
	}
	if err := r.send(); err != nil {
		logging.Errorf("[Client %d] %v", c.number, err)
		return false
	}
	return true
}

// requestUser picks the acting user name, preferring authenticated
// credentials over the self-reported requesting-user-name.
func (c *conn) requestUser(r *ippRequest) string {
	if c.srv.Auth != nil {
		if name, ok := c.srv.Auth.Authenticate(c.header.Get("Authorization")); ok {
			return name
		}
	}
	if name, ok := r.operationString("requesting-user-name"); ok && name != "" {
		return name
	}
	return "anonymous"
}

// route dispatches a validated request to its operation handler.
func (s *Server) route(r *ippRequest) {
	if adminOnly(r.op) && s.Auth != nil &&
		!s.Auth.IsAuthorized(r.conn.header.Get("Authorization")) {
		r.Respond(goipp.StatusErrorNotAuthorized,
			"Administrative credentials required for %s.", r.op.String())
		return
	}

	switch r.op {
	case goipp.OpPrintJob:
		r.printJob()
	case goipp.OpValidateJob:
		r.validateJob()
	case goipp.OpCreateJob:
		r.createJob()
	case goipp.OpSendDocument:
		r.sendDocument()
	case goipp.OpCancelJob:
		r.cancelJob()
	case goipp.OpGetJobAttributes:
		r.getJobAttributes()
	case goipp.OpGetJobs:
		r.getJobs()
	case goipp.OpHoldJob:
		r.holdJob()
	case goipp.OpReleaseJob:
		r.releaseJob()
	case goipp.OpGetPrinterAttributes:
		r.getPrinterAttributes()
	case goipp.OpPausePrinter:
		r.pausePrinter()
	case goipp.OpResumePrinter:
		r.resumePrinter()
	case goipp.OpCancelJobs:
		r.cancelJobs()
	case goipp.OpPurgeJobs:
		r.purgeJobs()
	case goipp.OpGetSystemAttributes:
		r.getSystemAttributes()
	case goipp.OpCupsGetDefault:
		r.cupsGetDefault()
	case goipp.OpCupsGetPrinters:
		r.cupsGetPrinters()
	default:
		r.Respond(goipp.StatusErrorOperationNotSupported,
			"Operation %s is not supported.", r.op.String())
	}
}

func adminOnly(op goipp.Op) bool {
	switch op {
	case goipp.OpPausePrinter, goipp.OpResumePrinter,
		goipp.OpCancelJobs, goipp.OpPurgeJobs:
		return true
	}
	return false
}

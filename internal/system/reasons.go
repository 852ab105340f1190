package system

import "strings"

// ReasonSet is a bitmask of state-reason keywords attached to printer
// and job state.
type ReasonSet uint32

func (r *ReasonSet) Add(bits ReasonSet)      { *r |= bits }
func (r *ReasonSet) Remove(bits ReasonSet)   { *r &^= bits }
func (r ReasonSet) Contains(bits ReasonSet) bool { return r&bits == bits }
func (r ReasonSet) Any(bits ReasonSet) bool  { return r&bits != 0 }

// Job state reasons.
const (
	JobReasonIncoming ReasonSet = 1 << iota
	JobReasonQueued
	JobReasonPrinting
	JobReasonProcessingToStopPoint
	JobReasonHoldUntilSpecified
	JobReasonCanceledByUser
	JobReasonAbortedBySystem
	JobReasonCompletedSuccessfully
	JobReasonCompletedWithErrors
	JobReasonCompletedWithWarnings
	JobReasonErrorsDetected
	JobReasonWarningsDetected
	JobReasonPrinterStopped
)

var jobReasonNames = []struct {
	bit  ReasonSet
	name string
}{
	{JobReasonIncoming, "job-incoming"},
	{JobReasonQueued, "job-queued"},
	{JobReasonPrinting, "job-printing"},
	{JobReasonProcessingToStopPoint, "processing-to-stop-point"},
	{JobReasonHoldUntilSpecified, "job-hold-until-specified"},
	{JobReasonCanceledByUser, "job-canceled-by-user"},
	{JobReasonAbortedBySystem, "aborted-by-system"},
	{JobReasonCompletedSuccessfully, "job-completed-successfully"},
	{JobReasonCompletedWithErrors, "job-completed-with-errors"},
	{JobReasonCompletedWithWarnings, "job-completed-with-warnings"},
	{JobReasonErrorsDetected, "errors-detected"},
	{JobReasonWarningsDetected, "warnings-detected"},
	{JobReasonPrinterStopped, "printer-stopped"},
}

// Printer state reasons.
const (
	PrinterReasonPaused ReasonSet = 1 << iota
	PrinterReasonConnectingToDevice
	PrinterReasonDeviceError
	PrinterReasonMediaEmpty
	PrinterReasonMediaJam
	PrinterReasonMediaNeeded
	PrinterReasonTonerLow
	PrinterReasonTonerEmpty
	PrinterReasonOther
)

var printerReasonNames = []struct {
	bit  ReasonSet
	name string
}{
	{PrinterReasonPaused, "paused"},
	{PrinterReasonConnectingToDevice, "connecting-to-device"},
	{PrinterReasonDeviceError, "device-error"},
	{PrinterReasonMediaEmpty, "media-empty"},
	{PrinterReasonMediaJam, "media-jam"},
	{PrinterReasonMediaNeeded, "media-needed"},
	{PrinterReasonTonerLow, "toner-low"},
	{PrinterReasonTonerEmpty, "toner-empty"},
	{PrinterReasonOther, "other"},
}

// JobReasonKeywords renders a job reason set as IPP keywords, "none"
// when empty.
func JobReasonKeywords(r ReasonSet) []string {
	return keywords(r, jobReasonNames)
}

// PrinterReasonKeywords renders a printer reason set as IPP keywords.
func PrinterReasonKeywords(r ReasonSet) []string {
	return keywords(r, printerReasonNames)
}

func keywords(r ReasonSet, table []struct {
	bit  ReasonSet
	name string
}) []string {
	out := []string{}
	for _, e := range table {
		if r.Contains(e.bit) {
			out = append(out, e.name)
		}
	}
	if len(out) == 0 {
		out = append(out, "none")
	}
	return out
}

// JobReasonString joins the keywords for logging and history rows.
func JobReasonString(r ReasonSet) string {
	return strings.Join(JobReasonKeywords(r), ",")
}

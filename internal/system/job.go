package system

import (
	"time"
)

// JobState follows the IPP job-state enum values.
type JobState int

const (
	JobStatePending    JobState = 3
	JobStateHeld       JobState = 4
	JobStateProcessing JobState = 5
	JobStateCanceled   JobState = 7
	JobStateAborted    JobState = 8
	JobStateCompleted  JobState = 9
)

var jobStateNames = map[JobState]string{
	JobStatePending:    "pending",
	JobStateHeld:       "pending-held",
	JobStateProcessing: "processing",
	JobStateCanceled:   "canceled",
	JobStateAborted:    "aborted",
	JobStateCompleted:  "completed",
}

func (s JobState) String() string {
	if n, ok := jobStateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Terminal reports whether no further transitions are possible.
func (s JobState) Terminal() bool {
	return s == JobStateCanceled || s == JobStateAborted || s == JobStateCompleted
}

// Job is a single print task. It holds only a non-owning reference to
// its printer; the printer owns the job for its whole life.
type Job struct {
	objectLock

	printer *Printer
	id      int

	name     string
	userName string
	format   string

	state      JobState
	reasons    ReasonSet
	isCanceled bool
	started    bool

	impressions          int
	impressionsCompleted int

	createdAt    time.Time
	processingAt time.Time
	completedAt  time.Time

	// Document payload, set before processing starts. Held jobs with
	// data present are treated like open-file jobs for cancelation.
	data    []byte
	hasData bool
}

func (j *Job) ID() int          { return j.id }
func (j *Job) Printer() *Printer { return j.printer }

func (j *Job) Name() string {
	j.RLock()
	defer j.RUnlock()
	return j.name
}

func (j *Job) UserName() string {
	j.RLock()
	defer j.RUnlock()
	return j.userName
}

func (j *Job) State() JobState {
	j.RLock()
	defer j.RUnlock()
	return j.state
}

func (j *Job) Reasons() ReasonSet {
	j.RLock()
	defer j.RUnlock()
	return j.reasons
}

func (j *Job) Canceled() bool {
	j.RLock()
	defer j.RUnlock()
	return j.isCanceled
}

func (j *Job) Created() time.Time {
	j.RLock()
	defer j.RUnlock()
	return j.createdAt
}

func (j *Job) Completed() time.Time {
	j.RLock()
	defer j.RUnlock()
	return j.completedAt
}

func (j *Job) Impressions() (total, completed int) {
	j.RLock()
	defer j.RUnlock()
	return j.impressions, j.impressionsCompleted
}

// SetDocument attaches the document payload and format. Impressions are
// counted as one per document since rendering is out of scope here.
func (j *Job) SetDocument(format string, data []byte) {
	j.Lock()
	defer j.Unlock()
	j.format = format
	j.data = data
	j.hasData = true
	if j.impressions == 0 {
		j.impressions = 1
	}
	j.reasons.Remove(JobReasonIncoming)
	j.reasons.Add(JobReasonQueued)
}

func (j *Job) Format() string {
	j.RLock()
	defer j.RUnlock()
	return j.format
}

func (j *Job) HasDocument() bool {
	j.RLock()
	defer j.RUnlock()
	return j.hasData
}

func (j *Job) ProcessingStarted() time.Time {
	j.RLock()
	defer j.RUnlock()
	return j.processingAt
}

// addCompletionReasons folds the accumulated error/warning bits into
// the terminal reason keywords.
func (j *Job) addCompletionReasons() {
	switch {
	case j.reasons.Contains(JobReasonErrorsDetected):
		j.reasons.Add(JobReasonCompletedWithErrors)
	case j.reasons.Contains(JobReasonWarningsDetected):
		j.reasons.Add(JobReasonCompletedWithWarnings)
	default:
		j.reasons.Add(JobReasonCompletedSuccessfully)
	}
}

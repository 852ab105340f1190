package system

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ippserv/internal/device"
)

// PrinterState follows the IPP printer-state enum values.
type PrinterState int

const (
	PrinterIdle       PrinterState = 3
	PrinterProcessing PrinterState = 4
	PrinterStopped    PrinterState = 5
)

func (s PrinterState) String() string {
	switch s {
	case PrinterIdle:
		return "idle"
	case PrinterProcessing:
		return "processing"
	case PrinterStopped:
		return "stopped"
	}
	return "unknown"
}

var (
	ErrNotAccepting = errors.New("printer is not accepting jobs")
	ErrTooManyJobs  = errors.New("too many active jobs")
	ErrDeleted      = errors.New("printer has been deleted")
)

// Printer represents one addressable device endpoint. The printer owns
// its jobs and, while a job is printing, the open device handle.
type Printer struct {
	objectLock

	system *System
	id     int
	name   string
	// resource is the URI path clients address this printer by.
	resource  string
	uuid      string
	deviceURI string

	state     PrinterState
	reasons   ReasonSet
	accepting bool
	isDeleted bool

	createdAt time.Time
	stateTime time.Time

	maxActiveJobs int
	// maxJobs caps allJobs; the oldest completed jobs fall off first.
	maxJobs   int
	nextJobID int

	// Collections, all ordered by descending job-id. A job is in
	// exactly one of active/completed, and always in all.
	activeJobs    []*Job
	completedJobs []*Job
	allJobs       []*Job

	// device is non-nil while open; deviceJob is the job that owns it.
	device    device.Device
	deviceJob *Job

	// Raw listener goroutines must quiesce before deletion finishes.
	listeners sync.WaitGroup
}

func (p *Printer) ID() int           { return p.id }
func (p *Printer) Name() string      { return p.name }
func (p *Printer) Resource() string  { return p.resource }
func (p *Printer) UUID() string      { return p.uuid }
func (p *Printer) System() *System   { return p.system }

func (p *Printer) DeviceURI() string {
	var uri string
	p.withRead(func() { uri = p.deviceURI })
	return uri
}

func (p *Printer) State() PrinterState {
	var st PrinterState
	p.withRead(func() { st = p.state })
	return st
}

func (p *Printer) Reasons() ReasonSet {
	var r ReasonSet
	p.withRead(func() { r = p.reasons })
	return r
}

func (p *Printer) Accepting() bool {
	var ok bool
	p.withRead(func() { ok = p.accepting })
	return ok
}

func (p *Printer) Deleted() bool {
	var del bool
	p.withRead(func() { del = p.isDeleted })
	return del
}

func (p *Printer) SetAccepting(accepting bool) {
	p.withWrite(func() { p.accepting = accepting })
}

// AddReasons merges printer state reasons (e.g. from an SNMP probe).
func (p *Printer) AddReasons(r ReasonSet) {
	p.withWrite(func() { p.reasons.Add(r) })
}

func (p *Printer) RemoveReasons(r ReasonSet) {
	p.withWrite(func() { p.reasons.Remove(r) })
}

// Pause stops the printer after the current job; queued jobs stay
// pending until Resume.
func (p *Printer) Pause() {
	p.Lock()
	p.state = PrinterStopped
	p.stateTime = time.Now()
	p.reasons.Add(PrinterReasonPaused)
	p.system.addEvent(EventPrinterStateChanged, p, nil, "printer paused")
	p.Unlock()
}

func (p *Printer) Resume() {
	p.Lock()
	p.reasons.Remove(PrinterReasonPaused)
	if p.state == PrinterStopped {
		if p.deviceJob != nil {
			p.state = PrinterProcessing
		} else {
			p.state = PrinterIdle
		}
		p.stateTime = time.Now()
	}
	p.system.addEvent(EventPrinterStateChanged, p, nil, "printer resumed")
	p.Unlock()
}

// CreateJob admits a new job. No job is created when the printer is not
// accepting, has been deleted, or the active set is full.
func (p *Printer) CreateJob(name, userName string) (*Job, error) {
	p.Lock()
	defer p.Unlock()

	if p.isDeleted {
		return nil, ErrDeleted
	}
	if !p.accepting {
		return nil, ErrNotAccepting
	}
	if p.maxActiveJobs > 0 && len(p.activeJobs) >= p.maxActiveJobs {
		return nil, ErrTooManyJobs
	}

	p.nextJobID++
	j := &Job{
		printer:   p,
		id:        p.nextJobID,
		name:      name,
		userName:  userName,
		state:     JobStatePending,
		createdAt: time.Now(),
	}
	j.reasons.Add(JobReasonIncoming)

	// Job ids only grow, so the newest job always goes first.
	p.activeJobs = append([]*Job{j}, p.activeJobs...)
	p.allJobs = append([]*Job{j}, p.allJobs...)

	p.system.addEvent(EventJobCreated, p, j, fmt.Sprintf("job %d created", j.id))
	return j, nil
}

// FindJob looks a job up by id across all jobs of this printer.
func (p *Printer) FindJob(id int) *Job {
	p.RLock()
	defer p.RUnlock()
	for _, j := range p.allJobs {
		if j.id == id {
			return j
		}
	}
	return nil
}

func (p *Printer) ActiveJobs() []*Job {
	p.RLock()
	defer p.RUnlock()
	return append([]*Job(nil), p.activeJobs...)
}

func (p *Printer) CompletedJobs() []*Job {
	p.RLock()
	defer p.RUnlock()
	return append([]*Job(nil), p.completedJobs...)
}

func (p *Printer) Jobs() []*Job {
	p.RLock()
	defer p.RUnlock()
	return append([]*Job(nil), p.allJobs...)
}

// HoldJob moves a pending job to pending-held.
func (p *Printer) HoldJob(j *Job) error {
	p.Lock()
	defer p.Unlock()
	j.Lock()
	defer j.Unlock()
	if j.state != JobStatePending {
		return fmt.Errorf("job %d is %s, cannot hold", j.id, j.state)
	}
	j.state = JobStateHeld
	j.reasons.Add(JobReasonHoldUntilSpecified)
	p.system.addEvent(EventJobStateChanged, p, j, "job held")
	return nil
}

// ReleaseJob moves a held job back to pending and kicks processing.
func (p *Printer) ReleaseJob(j *Job) error {
	p.Lock()
	j.Lock()
	if j.state != JobStateHeld {
		j.Unlock()
		p.Unlock()
		return fmt.Errorf("job %d is %s, cannot release", j.id, j.state)
	}
	j.state = JobStatePending
	j.reasons.Remove(JobReasonHoldUntilSpecified)
	p.system.addEvent(EventJobStateChanged, p, j, "job released")
	ready := j.hasData
	j.Unlock()
	p.Unlock()
	if ready {
		p.StartJob(j)
	}
	return nil
}

// CancelJob cancels one job. A job already printing is flagged and
// finishes cooperatively through its processing loop; anything else is
// moved straight to canceled.
func (p *Printer) CancelJob(j *Job) {
	p.Lock()
	p.cancelJobLocked(j)
	p.Unlock()
}

// CancelAllJobs applies CancelJob semantics to every active job.
func (p *Printer) CancelAllJobs() {
	p.Lock()
	for _, j := range append([]*Job(nil), p.activeJobs...) {
		p.cancelJobLocked(j)
	}
	p.Unlock()
}

// cancelJobLocked requires the printer write lock.
func (p *Printer) cancelJobLocked(j *Job) {
	j.Lock()
	if j.state.Terminal() {
		j.Unlock()
		return
	}
	if j.state == JobStateProcessing || (j.state == JobStateHeld && j.hasData) {
		j.isCanceled = true
		j.reasons.Add(JobReasonProcessingToStopPoint)
		p.system.addEvent(EventJobStateChanged, p, j, "job canceling")
		j.Unlock()
		return
	}
	j.state = JobStateCanceled
	j.reasons.Add(JobReasonCanceledByUser)
	j.completedAt = time.Now()
	j.Unlock()
	p.moveToCompletedLocked(j)
	p.system.addEvent(EventJobStateChanged, p, j, "job canceled")
}

// PurgeJobs removes terminal jobs from all collections.
func (p *Printer) PurgeJobs() int {
	p.Lock()
	defer p.Unlock()
	purged := len(p.completedJobs)
	p.completedJobs = nil
	remaining := p.allJobs[:0]
	for _, j := range p.allJobs {
		if j.State().Terminal() {
			continue
		}
		remaining = append(remaining, j)
	}
	p.allJobs = remaining
	return purged
}

// moveToCompletedLocked moves j from active to completed atomically.
// Caller holds the printer write lock; the job must not be locked.
func (p *Printer) moveToCompletedLocked(j *Job) {
	for i, a := range p.activeJobs {
		if a == j {
			p.activeJobs = append(p.activeJobs[:i], p.activeJobs[i+1:]...)
			break
		}
	}
	p.completedJobs = insertByID(p.completedJobs, j)

	// Keep the total job count bounded. Slices are ordered newest
	// first, so the oldest completed job sits at the tail.
	for p.maxJobs > 0 && len(p.allJobs) > p.maxJobs && len(p.completedJobs) > 0 {
		old := p.completedJobs[len(p.completedJobs)-1]
		p.completedJobs = p.completedJobs[:len(p.completedJobs)-1]
		for i, a := range p.allJobs {
			if a == old {
				p.allJobs = append(p.allJobs[:i], p.allJobs[i+1:]...)
				break
			}
		}
	}
}

// insertByID keeps the slice ordered by descending job id.
func insertByID(jobs []*Job, j *Job) []*Job {
	i := sort.Search(len(jobs), func(i int) bool {
		return jobs[i].id < j.id
	})
	jobs = append(jobs, nil)
	copy(jobs[i+1:], jobs[i:])
	jobs[i] = j
	return jobs
}

// Delete removes the printer from the system. If a job is printing, the
// removal is finalized by that job's processing goroutine.
func (p *Printer) Delete() {
	p.Lock()
	if p.isDeleted {
		p.Unlock()
		return
	}
	p.isDeleted = true
	p.accepting = false
	busy := p.deviceJob != nil
	p.Unlock()

	p.CancelAllJobs()
	p.listeners.Wait()

	if !busy {
		p.system.removePrinter(p)
	}
}

// newPrinterID and job bookkeeping live on the owning objects: the
// system assigns printer ids, each printer assigns its own job ids.
func newPrinter(s *System, id int, name, resource, deviceURI string, maxActive, maxJobs int) *Printer {
	return &Printer{
		system:        s,
		id:            id,
		name:          name,
		resource:      resource,
		uuid:          "urn:uuid:" + uuid.NewString(),
		deviceURI:     deviceURI,
		state:         PrinterIdle,
		accepting:     true,
		createdAt:     time.Now(),
		stateTime:     time.Now(),
		maxActiveJobs: maxActive,
		maxJobs:       maxJobs,
	}
}

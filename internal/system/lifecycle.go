package system

import (
	"fmt"
	"time"

	"ippserv/internal/device"
	"ippserv/internal/logging"
)

// Poll intervals for the device-acquisition loop. Variables so the
// tests can shrink them.
var (
	deviceWaitInterval  = 1 * time.Second
	deviceRetryInterval = 5 * time.Second
)

type acquireResult int

const (
	acquireOK acquireResult = iota
	acquireCanceled
	acquireDeleted
	acquireShutdown
)

// StartJob launches the processing goroutine for j. Starting a job
// twice is a no-op.
func (p *Printer) StartJob(j *Job) {
	j.Lock()
	if j.started || j.state.Terminal() {
		j.Unlock()
		return
	}
	j.started = true
	j.Unlock()
	go p.process(j)
}

// process drives one job from pending through a terminal state. It
// runs on its own goroutine and owns the device while printing.
func (p *Printer) process(j *Job) {
	p.Lock()

	j.Lock()
	if j.state.Terminal() {
		j.Unlock()
		p.Unlock()
		return
	}
	if j.isCanceled || p.isDeleted {
		j.Unlock()
		p.finishLocked(j, nil)
		return
	}
	j.state = JobStateProcessing
	j.processingAt = time.Now()
	j.reasons.Add(JobReasonPrinting)
	j.reasons.Remove(JobReasonQueued | JobReasonIncoming)
	j.Unlock()
	p.system.addEvent(EventJobStateChanged, p, j, fmt.Sprintf("job %d printing", j.id))

	// Acquire the device. The lock is released only around the
	// blocking waits and the open call itself.
	switch p.acquireDeviceLocked(j) {
	case acquireOK:
		// fall through with the device held
	case acquireShutdown:
		// Revert to pending so the job can resume after restart.
		j.Lock()
		j.state = JobStatePending
		j.reasons.Remove(JobReasonPrinting)
		j.reasons.Add(JobReasonQueued)
		j.Unlock()
		p.system.addEvent(EventJobStateChanged, p, j, fmt.Sprintf("job %d requeued for shutdown", j.id))
		p.Unlock()
		return
	default: // canceled or printer deleted
		p.finishLocked(j, nil)
		return
	}

	p.state = PrinterProcessing
	p.stateTime = time.Now()
	p.reasons.Remove(PrinterReasonConnectingToDevice | PrinterReasonDeviceError)
	p.system.addEvent(EventPrinterStateChanged, p, nil, "printer processing")
	dev := p.device
	p.Unlock()

	j.RLock()
	data := j.data
	j.RUnlock()

	// Synchronous device I/O, outside all locks.
	var ioErr error
	if len(data) > 0 && !j.Canceled() {
		_, ioErr = dev.Write(data)
	}

	j.Lock()
	if ioErr != nil {
		j.reasons.Add(JobReasonErrorsDetected)
	} else {
		j.impressionsCompleted = j.impressions
	}
	j.Unlock()

	p.Lock()
	p.finishLocked(j, ioErr)
}

// acquireDeviceLocked waits for and opens the physical device on behalf
// of j. Called and returned with the printer write lock held. Every
// wait iteration re-checks deletion, cancellation and system shutdown.
func (p *Printer) acquireDeviceLocked(j *Job) acquireResult {
	// Wait for any other job to release the device, polling once a
	// second.
	for {
		if r := p.checkAbortLocked(j); r != acquireOK {
			return r
		}
		if p.device != nil && p.deviceJob == nil {
			// Previous job finished and left the device open.
			p.deviceJob = j
			return acquireOK
		}
		if p.device == nil {
			break
		}
		p.Unlock()
		time.Sleep(deviceWaitInterval)
		p.Lock()
	}

	// Open the device, retrying until it comes up or the job dies.
	// The open failure is logged once per job to keep the error log
	// quiet while a printer is off.
	logged := false
	for {
		uri := p.deviceURI
		p.reasons.Add(PrinterReasonConnectingToDevice)
		p.Unlock()

		logFn := func(format string, args ...interface{}) {
			logging.Debugf("[device %s] %s", uri, fmt.Sprintf(format, args...))
		}
		dev, err := p.system.opener(uri, device.LogFunc(logFn))

		p.Lock()
		if err == nil {
			if r := p.checkAbortLocked(j); r != acquireOK {
				p.Unlock()
				_ = dev.Close()
				p.Lock()
				return r
			}
			p.device = dev
			p.deviceJob = j
			p.reasons.Remove(PrinterReasonConnectingToDevice | PrinterReasonDeviceError)
			return acquireOK
		}

		if !logged {
			logging.Errorf("Unable to open device %q for job %d: %v", uri, j.id, err)
			logged = true
		}
		p.state = PrinterStopped
		p.stateTime = time.Now()
		p.reasons.Add(PrinterReasonDeviceError)

		// Sleep out the retry interval in short slices so a cancel
		// is observed promptly.
		deadline := time.Now().Add(deviceRetryInterval)
		for {
			p.Unlock()
			time.Sleep(deviceWaitInterval)
			p.Lock()
			if r := p.checkAbortLocked(j); r != acquireOK {
				return r
			}
			if !time.Now().Before(deadline) {
				break
			}
		}
	}
}

// checkAbortLocked inspects the cooperative flags under the printer
// lock.
func (p *Printer) checkAbortLocked(j *Job) acquireResult {
	if p.isDeleted {
		return acquireDeleted
	}
	if j.Canceled() {
		return acquireCanceled
	}
	if !p.system.Running() {
		return acquireShutdown
	}
	return acquireOK
}

// finishLocked settles j into its terminal state and releases the
// device. Called with the printer write lock held; it unlocks.
func (p *Printer) finishLocked(j *Job, ioErr error) {
	now := time.Now()

	j.Lock()
	switch {
	case j.isCanceled:
		j.state = JobStateCanceled
		j.reasons.Add(JobReasonCanceledByUser)
	case p.isDeleted:
		j.state = JobStateAborted
		j.reasons.Add(JobReasonAbortedBySystem)
	case ioErr != nil:
		j.state = JobStateAborted
		j.reasons.Add(JobReasonAbortedBySystem | JobReasonErrorsDetected)
	case j.state == JobStateProcessing:
		j.state = JobStateCompleted
		j.addCompletionReasons()
	}
	j.completedAt = now
	j.reasons.Remove(JobReasonPrinting | JobReasonProcessingToStopPoint)
	rec := HistoryRecord{
		JobID:        j.id,
		PrinterID:    p.id,
		PrinterName:  p.name,
		Name:         j.name,
		UserName:     j.userName,
		Format:       j.format,
		State:        j.state.String(),
		Reasons:      JobReasonString(j.reasons),
		Impressions:  j.impressionsCompleted,
		CreatedAt:    j.createdAt,
		ProcessingAt: j.processingAt,
		CompletedAt:  j.completedAt,
	}
	finalState := j.state
	j.Unlock()

	p.moveToCompletedLocked(j)

	if p.deviceJob == j {
		p.deviceJob = nil
	}
	var closeDev device.Device
	if len(p.activeJobs) == 0 && p.device != nil {
		closeDev = p.device
		p.device = nil
	}
	if !p.isDeleted {
		if p.state == PrinterProcessing && p.deviceJob == nil {
			p.state = PrinterIdle
			p.stateTime = now
		}
	}
	p.system.addEvent(EventJobCompleted, p, j, fmt.Sprintf("job %d %s", j.id, finalState))

	deleted := p.isDeleted
	noneActive := len(p.activeJobs) == 0
	p.Unlock()

	if closeDev != nil {
		_ = closeDev.Close()
	}
	logging.Infof("Job %d on %q finished: %s", j.id, p.name, finalState)
	p.system.recordHistory(rec)

	// Deletion-in-flight: the last processing job finalizes the
	// printer removal instead of leaving it orphaned.
	if deleted && noneActive {
		p.system.removePrinter(p)
	}
}

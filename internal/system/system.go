package system

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"ippserv/internal/device"
	"ippserv/internal/logging"
)

// HistoryRecord is the snapshot handed to the history recorder when a
// job reaches a terminal state.
type HistoryRecord struct {
	JobID        int
	PrinterID    int
	PrinterName  string
	Name         string
	UserName     string
	Format       string
	State        string
	Reasons      string
	Impressions  int
	CreatedAt    time.Time
	ProcessingAt time.Time
	CompletedAt  time.Time
}

// HistoryRecorder persists terminal jobs. Implementations must tolerate
// being called from job-processing goroutines.
type HistoryRecorder interface {
	RecordJob(rec HistoryRecord) error
}

// DeviceOpener opens the physical transport behind a device URI. It is
// a field so tests can substitute a fake device layer.
type DeviceOpener func(uri string, log device.LogFunc) (device.Device, error)

// System is the process-wide registry of printers. It owns the printers
// exclusively; printers hold only a back-reference.
type System struct {
	objectLock

	name     string
	hostname string
	startup  time.Time

	printers      []*Printer
	nextPrinterID int
	nextClientID  int

	// running is atomic so job retry loops can poll it while holding
	// a printer lock without violating the system-then-printer lock
	// order.
	running atomic.Bool

	sinks   []EventSink
	history HistoryRecorder
	opener  DeviceOpener

	defaultMaxActive int
	defaultMaxJobs   int
}

func New(name, hostname string) *System {
	if strings.TrimSpace(hostname) == "" {
		hostname = "localhost"
	}
	s := &System{
		name:             name,
		hostname:         hostname,
		startup:          time.Now(),
		opener:           device.Open,
		defaultMaxActive: 1,
	}
	s.running.Store(true)
	return s
}

func (s *System) Name() string     { return s.name }
func (s *System) Hostname() string { return s.hostname }
func (s *System) Startup() time.Time { return s.startup }

// SetDeviceOpener replaces the device layer. Must be called before any
// job starts processing.
func (s *System) SetDeviceOpener(opener DeviceOpener) {
	if opener != nil {
		s.opener = opener
	}
}

// SetHistory attaches the completed-job recorder.
func (s *System) SetHistory(h HistoryRecorder) {
	s.Lock()
	s.history = h
	s.Unlock()
}

// SetDefaultMaxActiveJobs sets the admission bound applied to printers
// created afterwards; zero means unbounded.
func (s *System) SetDefaultMaxActiveJobs(n int) {
	s.withWrite(func() { s.defaultMaxActive = n })
}

// SetDefaultMaxJobs bounds how many jobs a printer keeps across all
// collections; the oldest completed jobs are dropped past the bound.
// Zero means unbounded.
func (s *System) SetDefaultMaxJobs(n int) {
	s.withWrite(func() { s.defaultMaxJobs = n })
}

// AddEventSink registers an event consumer.
func (s *System) AddEventSink(sink EventSink) {
	if sink == nil {
		return
	}
	s.Lock()
	s.sinks = append(s.sinks, sink)
	s.Unlock()
}

// Running reports whether the system is still accepting work. Job
// processing loops poll this between retries.
func (s *System) Running() bool {
	return s.running.Load()
}

// Shutdown stops the system. In-flight jobs observe the flag on their
// next poll and revert to pending for resumption after restart.
func (s *System) Shutdown() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.addEvent(EventSystemStopped, nil, nil, "system shutting down")
}

// NextClientID hands out connection numbers for logging.
func (s *System) NextClientID() int {
	s.Lock()
	defer s.Unlock()
	s.nextClientID++
	return s.nextClientID
}

// CreatePrinter registers a new printer endpoint. The resource path is
// derived from the name when not given.
func (s *System) CreatePrinter(name, resource, deviceURI string) (*Printer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("printer name must not be empty")
	}
	if resource == "" {
		resource = "/ipp/print/" + name
	}

	s.Lock()
	defer s.Unlock()
	for _, p := range s.printers {
		if p.name == name || p.resource == resource {
			return nil, fmt.Errorf("printer %q already exists", name)
		}
	}
	s.nextPrinterID++
	p := newPrinter(s, s.nextPrinterID, name, resource, deviceURI,
		s.defaultMaxActive, s.defaultMaxJobs)
	s.printers = append(s.printers, p)
	s.addEventLocked(EventPrinterCreated, p, nil, "printer created")
	logging.Infof("Added printer %q at %s (device %s)", name, resource, deviceURI)
	return p, nil
}

// Printers returns a snapshot of the registry.
func (s *System) Printers() []*Printer {
	s.RLock()
	defer s.RUnlock()
	return append([]*Printer(nil), s.printers...)
}

// FindPrinterByPath resolves a resource path, tolerating one trailing
// slash either way.
func (s *System) FindPrinterByPath(path string) *Printer {
	if path == "" {
		return nil
	}
	trimmed := strings.TrimSuffix(path, "/")
	s.RLock()
	defer s.RUnlock()
	for _, p := range s.printers {
		if p.resource == path || strings.TrimSuffix(p.resource, "/") == trimmed {
			return p
		}
	}
	return nil
}

func (s *System) FindPrinterByName(name string) *Printer {
	s.RLock()
	defer s.RUnlock()
	for _, p := range s.printers {
		if strings.EqualFold(p.name, name) {
			return p
		}
	}
	return nil
}

// DefaultPrinter is the oldest registered printer, if any.
func (s *System) DefaultPrinter() *Printer {
	s.RLock()
	defer s.RUnlock()
	if len(s.printers) == 0 {
		return nil
	}
	return s.printers[0]
}

// removePrinter drops p from the registry. Called from Delete or from
// the processing goroutine that finalizes a deletion-in-flight; a
// second call is a no-op.
func (s *System) removePrinter(p *Printer) {
	found := false
	s.Lock()
	for i, q := range s.printers {
		if q == p {
			s.printers = append(s.printers[:i], s.printers[i+1:]...)
			found = true
			break
		}
	}
	s.Unlock()
	if !found {
		return
	}
	s.addEvent(EventPrinterDeleted, p, nil, "printer deleted")
	logging.Infof("Deleted printer %q", p.name)
}

// addEvent dispatches to all sinks. Safe to call while holding printer
// or job locks because sinks are required not to block.
func (s *System) addEvent(kind EventKind, p *Printer, j *Job, msg string) {
	s.RLock()
	sinks := append([]EventSink(nil), s.sinks...)
	s.RUnlock()
	dispatchEvent(sinks, kind, p, j, msg)
}

// addEventLocked is addEvent for callers already holding the system
// lock.
func (s *System) addEventLocked(kind EventKind, p *Printer, j *Job, msg string) {
	dispatchEvent(s.sinks, kind, p, j, msg)
}

func dispatchEvent(sinks []EventSink, kind EventKind, p *Printer, j *Job, msg string) {
	ev := Event{Kind: kind, Message: msg, Time: time.Now()}
	if p != nil {
		ev.PrinterID = p.id
		ev.Printer = p.name
	}
	if j != nil {
		ev.JobID = j.id
	}
	for _, sink := range sinks {
		sink.AddEvent(ev)
	}
}

func (s *System) recordHistory(rec HistoryRecord) {
	s.RLock()
	h := s.history
	s.RUnlock()
	if h == nil {
		return
	}
	if err := h.RecordJob(rec); err != nil {
		logging.Errorf("Unable to record job %d history: %v", rec.JobID, err)
	}
}

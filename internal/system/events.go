package system

import "time"

// EventKind classifies a state-change notification.
type EventKind int

const (
	EventPrinterCreated EventKind = iota
	EventPrinterDeleted
	EventPrinterStateChanged
	EventJobCreated
	EventJobStateChanged
	EventJobCompleted
	EventSystemStopped
)

var eventNames = map[EventKind]string{
	EventPrinterCreated:      "printer-created",
	EventPrinterDeleted:      "printer-deleted",
	EventPrinterStateChanged: "printer-state-changed",
	EventJobCreated:          "job-created",
	EventJobStateChanged:     "job-state-changed",
	EventJobCompleted:        "job-completed",
	EventSystemStopped:       "system-stopped",
}

func (k EventKind) String() string {
	if s, ok := eventNames[k]; ok {
		return s
	}
	return "unknown"
}

// Event is an immutable notification record. PrinterID/JobID are
// snapshots so a consumer never has to touch the live objects.
type Event struct {
	Kind      EventKind
	PrinterID int
	JobID     int
	Printer   string
	Message   string
	Time      time.Time
}

// EventSink consumes events. AddEvent is called while the producer may
// still be holding object locks and therefore must not block.
type EventSink interface {
	AddEvent(ev Event)
}

// EventQueue is a bounded EventSink that drops the oldest entry when
// full, so producers never stall on a slow consumer.
type EventQueue struct {
	ch chan Event
}

func NewEventQueue(size int) *EventQueue {
	if size <= 0 {
		size = 100
	}
	return &EventQueue{ch: make(chan Event, size)}
}

func (q *EventQueue) AddEvent(ev Event) {
	for {
		select {
		case q.ch <- ev:
			return
		default:
		}
		select {
		case <-q.ch:
		default:
		}
	}
}

// Next returns the oldest queued event, or false when the queue is
// empty.
func (q *EventQueue) Next() (Event, bool) {
	select {
	case ev := <-q.ch:
		return ev, true
	default:
		return Event{}, false
	}
}

// Chan exposes the queue for select-based consumers.
func (q *EventQueue) Chan() <-chan Event {
	return q.ch
}

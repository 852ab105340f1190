package system

import "sync"

// objectLock is the reader/writer lock carried by every object reachable
// from more than one goroutine (system, printer, job). Reads take the
// shared lock, any field mutation takes the write lock. Lock order is
// system, then printer, then job.
type objectLock struct {
	sync.RWMutex
}

// withRead runs fn under the shared lock.
func (l *objectLock) withRead(fn func()) {
	l.RLock()
	defer l.RUnlock()
	fn()
}

// withWrite runs fn under the exclusive lock.
func (l *objectLock) withWrite(fn func()) {
	l.Lock()
	defer l.Unlock()
	fn()
}

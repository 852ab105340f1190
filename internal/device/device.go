// Package device is the transport layer between a printing job and the
// physical output. A device is exclusively owned by the job that opened
// it; serialization across jobs happens above this package.
package device

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
)

// LogFunc receives transport diagnostics from an open device.
type LogFunc func(format string, args ...interface{})

// Device is one open transport. Write pushes raw job bytes; Close
// releases the transport for the next job.
type Device interface {
	io.Writer
	io.Closer
	URI() string
}

// Opener creates a Device for one URI scheme.
type Opener func(u *url.URL, log LogFunc) (Device, error)

var registry struct {
	sync.RWMutex
	schemes map[string]Opener
}

// Register binds a URI scheme to an opener. Called from init in the
// per-scheme files.
func Register(scheme string, open Opener) {
	if scheme == "" || open == nil {
		return
	}
	registry.Lock()
	if registry.schemes == nil {
		registry.schemes = map[string]Opener{}
	}
	registry.schemes[strings.ToLower(scheme)] = open
	registry.Unlock()
}

// Open dispatches a device URI to the registered backend.
func Open(uri string, log LogFunc) (Device, error) {
	if log == nil {
		log = func(string, ...interface{}) {}
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid device uri %q: %w", uri, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		return nil, fmt.Errorf("device uri %q has no scheme", uri)
	}
	registry.RLock()
	open := registry.schemes[scheme]
	registry.RUnlock()
	if open == nil {
		return nil, fmt.Errorf("no backend for device scheme %q", scheme)
	}
	return open(u, log)
}

// Schemes lists the registered backends, for status reporting.
func Schemes() []string {
	registry.RLock()
	defer registry.RUnlock()
	out := make([]string, 0, len(registry.schemes))
	for s := range registry.schemes {
		out = append(out, s)
	}
	return out
}

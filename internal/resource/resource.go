// Package resource maps HTTP paths to static files, in-memory blobs,
// and dynamic callbacks served by the connection handler.
package resource

import (
	"os"
	"strings"
	"sync"
	"time"
)

// Callback produces a dynamic response body for GET or POST requests.
// Dynamic resources are always considered modified.
type Callback func(method string, body []byte) (status int, contentType string, payload []byte)

// Resource is one registered path. Exactly one of Data, FilePath or
// Handler is set.
type Resource struct {
	Path         string
	MIMEType     string
	Data         []byte
	FilePath     string
	Handler      Callback
	LastModified time.Time
}

func (r *Resource) Dynamic() bool { return r.Handler != nil }

// Registry holds the registered resources. Lookup tolerates one
// trailing slash in either direction.
type Registry struct {
	mu        sync.RWMutex
	resources map[string]*Resource
}

func NewRegistry() *Registry {
	return &Registry{resources: map[string]*Resource{}}
}

// AddData registers an in-memory blob.
func (reg *Registry) AddData(path, mimeType string, data []byte) {
	reg.add(&Resource{
		Path:         path,
		MIMEType:     mimeType,
		Data:         data,
		LastModified: time.Now(),
	})
}

// AddFile registers a file on disk; last-modified tracks the file.
func (reg *Registry) AddFile(path, mimeType, filePath string) {
	mod := time.Now()
	if info, err := os.Stat(filePath); err == nil {
		mod = info.ModTime()
	}
	reg.add(&Resource{
		Path:         path,
		MIMEType:     mimeType,
		FilePath:     filePath,
		LastModified: mod,
	})
}

// AddCallback registers a dynamic resource.
func (reg *Registry) AddCallback(path string, handler Callback) {
	reg.add(&Resource{Path: path, Handler: handler, LastModified: time.Now()})
}

func (reg *Registry) add(r *Resource) {
	if r.Path == "" {
		return
	}
	reg.mu.Lock()
	reg.resources[r.Path] = r
	reg.mu.Unlock()
}

// Remove drops a registered path.
func (reg *Registry) Remove(path string) {
	reg.mu.Lock()
	delete(reg.resources, path)
	reg.mu.Unlock()
}

// Find resolves a request path. "/foo" finds a resource registered at
// "/foo/" and the other way round.
func (reg *Registry) Find(path string) *Resource {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	if r, ok := reg.resources[path]; ok {
		return r
	}
	if strings.HasSuffix(path, "/") {
		if r, ok := reg.resources[strings.TrimSuffix(path, "/")]; ok {
			return r
		}
	} else if r, ok := reg.resources[path+"/"]; ok {
		return r
	}
	return nil
}

// Content returns the body bytes for a static resource.
func (r *Resource) Content() ([]byte, error) {
	if r.Data != nil {
		return r.Data, nil
	}
	if r.FilePath != "" {
		return os.ReadFile(r.FilePath)
	}
	return nil, nil
}

// ModifiedSince implements If-Modified-Since evaluation; dynamic
// resources never report unmodified.
func (r *Resource) ModifiedSince(t time.Time) bool {
	if r.Dynamic() {
		return true
	}
	return r.LastModified.After(t)
}

package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// RotatingFile writes log lines to a file and rotates to "<path>.O" when
// maxSize is reached, keeping a single backup the way cupsd does.
type RotatingFile struct {
	path    string
	maxSize int64
	mu      sync.Mutex
	mode    targetMode
}

type targetMode int

const (
	targetFile targetMode = iota
	targetStderr
	targetStdout
	targetDiscard
)

func NewRotatingFile(path string, maxSize int64) *RotatingFile {
	r := &RotatingFile{path: strings.TrimSpace(path), maxSize: maxSize}
	switch strings.ToLower(r.path) {
	case "", "none", "off":
		r.mode = targetDiscard
	case "stderr", "-":
		r.mode = targetStderr
	case "stdout":
		r.mode = targetStdout
	default:
		r.mode = targetFile
	}
	return r
}

func (r *RotatingFile) Enabled() bool {
	return r != nil && r.mode != targetDiscard
}

func (r *RotatingFile) WriteLine(line string) error {
	if r == nil {
		return nil
	}
	_, err := r.Write([]byte(line + "\n"))
	return err
}

func (r *RotatingFile) Write(p []byte) (int, error) {
	if r == nil {
		return len(p), nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.mode {
	case targetDiscard:
		return len(p), nil
	case targetStderr:
		return os.Stderr.Write(p)
	case targetStdout:
		return os.Stdout.Write(p)
	default:
	}

	if dir := filepath.Dir(r.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, err
		}
	}
	if err := r.rotateIfNeeded(int64(len(p))); err != nil {
		return 0, err
	}
	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.Write(p)
}

func (r *RotatingFile) rotateIfNeeded(next int64) error {
	if r.maxSize <= 0 {
		return nil
	}
	info, err := os.Stat(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Size()+next <= r.maxSize {
		return nil
	}
	backup := r.path + ".O"
	_ = os.Remove(backup)
	if err := os.Rename(r.path, backup); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

var _ io.Writer = (*RotatingFile)(nil)

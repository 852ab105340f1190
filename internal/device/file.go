package device

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

func init() {
	Register("file", openFile)
}

type fileDevice struct {
	uri string
	f   *os.File
}

func openFile(u *url.URL, log LogFunc) (Device, error) {
	target := u.Path
	if runtime.GOOS == "windows" && strings.HasPrefix(target, "/") && len(target) > 2 && target[2] == ':' {
		target = target[1:]
	}
	if target == "" {
		return nil, fmt.Errorf("invalid file uri %q", u.String())
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	log("opened file device %s", target)
	return &fileDevice{uri: u.String(), f: f}, nil
}

func (d *fileDevice) Write(p []byte) (int, error) { return d.f.Write(p) }
func (d *fileDevice) Close() error                { return d.f.Close() }
func (d *fileDevice) URI() string                 { return d.uri }

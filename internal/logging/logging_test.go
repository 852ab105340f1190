package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"info":    LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelError,
		"bogus":   LevelError,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRotatingFileRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "error_log")
	r := NewRotatingFile(path, 32)

	if err := r.WriteLine(strings.Repeat("x", 30)); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := r.WriteLine("second line that forces rotation"); err != nil {
		t.Fatalf("second write: %v", err)
	}

	if _, err := os.Stat(path + ".O"); err != nil {
		t.Fatalf("expected rotated backup: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read current log: %v", err)
	}
	if !strings.Contains(string(data), "second line") {
		t.Fatalf("current log missing new line: %q", data)
	}
}

func TestRotatingFileDisabled(t *testing.T) {
	for _, path := range []string{"", "none", "off"} {
		r := NewRotatingFile(path, 0)
		if r.Enabled() {
			t.Fatalf("NewRotatingFile(%q) should be disabled", path)
		}
		if err := r.WriteLine("dropped"); err != nil {
			t.Fatalf("disabled write should not fail: %v", err)
		}
	}
}

func TestLevelGate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "error_log")
	Configure(path, "", 0, "warn")
	defer Configure("stderr", "", 0, "info")

	Debugf("hidden %d", 1)
	Infof("hidden %d", 2)
	Warnf("kept %d", 3)
	Errorf("kept %d", 4)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "hidden") {
		t.Fatalf("level gate leaked: %q", out)
	}
	if !strings.Contains(out, "kept 3") || !strings.Contains(out, "kept 4") {
		t.Fatalf("missing warn/error lines: %q", out)
	}
}

func TestAccessLine(t *testing.T) {
	line := AccessLine("10.0.0.5", "", "POST", "/ipp/print", "HTTP/1.1", 200, 72)
	if !strings.HasPrefix(line, "10.0.0.5 - - [") {
		t.Fatalf("unexpected prefix: %q", line)
	}
	if !strings.Contains(line, "\"POST /ipp/print HTTP/1.1\" 200 72") {
		t.Fatalf("unexpected request section: %q", line)
	}
}

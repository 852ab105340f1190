package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level selects how much of the error log is written. The zero value
// (LevelError) keeps only hard failures.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "debug2":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	default:
		return LevelError
	}
}

type manager struct {
	errorLog  *RotatingFile
	accessLog *RotatingFile
	level     Level
}

var (
	globalMu sync.RWMutex
	global   = manager{level: LevelInfo}
)

// Configure points the error and access logs at their files. An empty
// path disables the corresponding log; "stderr" and "stdout" are
// honored the way cupsd honors them.
func Configure(errorPath, accessPath string, maxSize int64, level string) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global.errorLog = NewRotatingFile(errorPath, maxSize)
	global.accessLog = NewRotatingFile(accessPath, maxSize)
	global.level = ParseLevel(level)
}

func SetLevel(level Level) {
	globalMu.Lock()
	global.level = level
	globalMu.Unlock()
}

func enabled(level Level) (*RotatingFile, bool) {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if level > global.level {
		return nil, false
	}
	return global.errorLog, true
}

var levelMarks = map[Level]string{
	LevelError: "E",
	LevelWarn:  "W",
	LevelInfo:  "I",
	LevelDebug: "d",
}

func logf(level Level, format string, args ...interface{}) {
	log, ok := enabled(level)
	if !ok {
		return
	}
	line := fmt.Sprintf("%s [%s] %s",
		levelMarks[level],
		time.Now().Format("02/Jan/2006:15:04:05 -0700"),
		fmt.Sprintf(format, args...))
	if log != nil && log.Enabled() {
		_ = log.WriteLine(line)
		return
	}
	fmt.Fprintln(os.Stderr, line)
}

func Errorf(format string, args ...interface{}) { logf(LevelError, format, args...) }
func Warnf(format string, args ...interface{})  { logf(LevelWarn, format, args...) }
func Infof(format string, args ...interface{})  { logf(LevelInfo, format, args...) }
func Debugf(format string, args ...interface{}) { logf(LevelDebug, format, args...) }

// ErrorWriter exposes the error log as an io.Writer so the standard
// library logger can be pointed at it.
func ErrorWriter() io.Writer {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if global.errorLog != nil && global.errorLog.Enabled() {
		return global.errorLog
	}
	return os.Stderr
}

// Access appends one pre-formatted line to the access log.
func Access(line string) {
	globalMu.RLock()
	log := global.accessLog
	globalMu.RUnlock()
	if log != nil {
		_ = log.WriteLine(line)
	}
}

// AccessLine formats a common-log-format style line for one handled
// HTTP request on a connection.
func AccessLine(remote, user, method, uri, proto string, status, size int) string {
	if strings.TrimSpace(user) == "" {
		user = "-"
	}
	return fmt.Sprintf("%s - %s [%s] \"%s %s %s\" %d %d",
		remote, user,
		time.Now().Format("02/Jan/2006:15:04:05 -0700"),
		method, uri, proto, status, size)
}

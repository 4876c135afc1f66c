// Package logging provides file-based structured logging for the broker.
//
// The broker's stdout and stdin carry the framed peer channel, so no
// component may ever write log output to stdout. All logs go to a
// session-specific file under ~/.surf/logs/; if that directory cannot
// be created the logger falls back to stderr, which the browser ignores.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level is a log severity threshold.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a level name to a Level. Unknown names default to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Logger writes timestamped, component-tagged entries at or above a
// minimum level. Multiple components share one session log file.
type Logger struct {
	component string
	min       Level
	mu        sync.Mutex
	out       *log.Logger
	file      *os.File
	closeOnce sync.Once
}

var (
	sessionID     string
	sessionIDOnce sync.Once

	logDir  string
	dirOnce sync.Once
	dirErr  error

	fileOnce sync.Once
	logFile  *os.File
	fileErr  error
)

// SessionID returns the process-wide logging session id.
func SessionID() string {
	sessionIDOnce.Do(func() {
		sessionID = uuid.New().String()
	})
	return sessionID
}

func ensureLogDir() error {
	dirOnce.Do(func() {
		home, err := os.UserHomeDir()
		if err != nil {
			dirErr = fmt.Errorf("resolve home directory: %w", err)
			return
		}
		logDir = filepath.Join(home, ".surf", "logs")
		if err := os.MkdirAll(logDir, 0o750); err != nil {
			dirErr = fmt.Errorf("create log directory: %w", err)
		}
	})
	return dirErr
}

// sharedLogFile opens (once) the session log file shared by all components.
func sharedLogFile() (*os.File, error) {
	if err := ensureLogDir(); err != nil {
		return nil, err
	}
	fileOnce.Do(func() {
		path := filepath.Join(logDir, SessionID()+"-broker.log")
		logFile, fileErr = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	})
	if fileErr != nil {
		return nil, fmt.Errorf("open log file: %w", fileErr)
	}
	return logFile, nil
}

// New returns a logger for the named component. The minimum level comes
// from SURF_LOG_LEVEL (default info). File logging failures degrade to
// stderr rather than erroring: the broker must keep running without logs.
func New(component string) *Logger {
	min := ParseLevel(os.Getenv("SURF_LOG_LEVEL"))

	file, err := sharedLogFile()
	if err != nil {
		fallback := log.New(os.Stderr, "", 0)
		fallback.Printf("[%s] [WARN] file logging unavailable, using stderr: %v", component, err)
		return &Logger{component: component, min: min, out: fallback}
	}

	return &Logger{
		component: component,
		min:       min,
		out:       log.New(file, "", 0),
		file:      file,
	}
}

func (l *Logger) write(level Level, format string, v ...any) {
	if level < l.min {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := time.Now().Format("2006-01-02 15:04:05.000")
	l.out.Printf("[%s] [%s] [%s] %s", ts, l.component, level, fmt.Sprintf(format, v...))
}

// Debugf logs at debug level.
func (l *Logger) Debugf(format string, v ...any) { l.write(LevelDebug, format, v...) }

// Infof logs at info level.
func (l *Logger) Infof(format string, v ...any) { l.write(LevelInfo, format, v...) }

// Warnf logs at warn level.
func (l *Logger) Warnf(format string, v ...any) { l.write(LevelWarn, format, v...) }

// Errorf logs at error level.
func (l *Logger) Errorf(format string, v ...any) { l.write(LevelError, format, v...) }

// LogPath returns the session log file path, or "" in stderr fallback mode.
func (l *Logger) LogPath() string {
	if l.file == nil {
		return ""
	}
	return l.file.Name()
}

// Close flushes the underlying file, if any. Safe to call twice. The
// shared file itself stays open for other components.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.file != nil {
			err = l.file.Sync()
		}
	})
	return err
}

// Package logger provides the process-wide structured logger: stdout output,
// a bounded in-memory history for the admin UI, and a daily-rotated file sink.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const maxHistory = 500

// Entry is one recorded log line, kept for the admin live-log view.
type Entry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

var (
	Log zerolog.Logger

	mu          sync.Mutex
	history     []Entry
	broadcastCh chan Entry
	logFile     *os.File
	logFileDay  string
	dataDir     string
	logLocation *time.Location
)

func init() {
	logLocation = time.Local
	broadcastCh = make(chan Entry, 64)
	Log = zerolog.New(historyWriter{}).With().Timestamp().Logger()
}

// Init initializes the global logger. dir is the data directory the daily
// log file is written under; levelStr is one of debug/info/warn/error.
func Init(dir, levelStr string) error {
	mu.Lock()
	defer mu.Unlock()

	dataDir = dir
	if v := os.Getenv("TZ"); v != "" {
		if loc, err := time.LoadLocation(v); err == nil {
			logLocation = loc
		}
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("logger: create data dir: %w", err)
	}
	if err := openLogFileLocked(); err != nil {
		return err
	}

	level := parseLevel(levelStr)
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = "2006-01-02T15:04:05.000-07:00"

	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	Log = zerolog.New(zerolog.MultiLevelWriter(console, fileWriter{}, historyWriter{})).
		With().Timestamp().Logger().Level(level)
	return nil
}

func parseLevel(s string) zerolog.Level {
	switch s {
	case "debug", "DEBUG":
		return zerolog.DebugLevel
	case "warn", "WARN", "warning", "WARNING":
		return zerolog.WarnLevel
	case "error", "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetLevel changes the active log level at runtime, preserving the open
// log file handle.
func SetLevel(levelStr string) {
	mu.Lock()
	defer mu.Unlock()
	level := parseLevel(levelStr)
	zerolog.SetGlobalLevel(level)
	Log = Log.Level(level)
}

func openLogFileLocked() error {
	day := time.Now().In(logLocation).Format("2006-01-02")
	if logFile != nil && logFileDay == day {
		return nil
	}
	if logFile != nil {
		logFile.Close()
	}
	name := filepath.Join(dataDir, fmt.Sprintf("nzbstream-%s.log", day))
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("logger: open log file: %w", err)
	}
	logFile = f
	logFileDay = day
	return nil
}

type fileWriter struct{}

func (fileWriter) Write(p []byte) (int, error) {
	mu.Lock()
	defer mu.Unlock()
	if dataDir == "" {
		return len(p), nil
	}
	if err := openLogFileLocked(); err != nil {
		return len(p), nil
	}
	return logFile.Write(p)
}

type historyWriter struct{}

func (historyWriter) Write(p []byte) (int, error) {
	e := Entry{Time: time.Now().In(logLocation), Level: "info", Message: string(p)}
	mu.Lock()
	history = append(history, e)
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	mu.Unlock()

	select {
	case broadcastCh <- e:
	default:
	}
	return len(p), nil
}

// GetHistory returns a snapshot of the most recent log lines.
func GetHistory() []Entry {
	mu.Lock()
	defer mu.Unlock()
	out := make([]Entry, len(history))
	copy(out, history)
	return out
}

// Broadcast returns the channel the admin websocket handler drains for live updates.
func Broadcast() <-chan Entry {
	return broadcastCh
}

// Close flushes and closes the open log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

func Debug(msg string, kv ...interface{}) { event(Log.Debug(), msg, kv) }
func Info(msg string, kv ...interface{})  { event(Log.Info(), msg, kv) }
func Warn(msg string, kv ...interface{})  { event(Log.Warn(), msg, kv) }
func Error(msg string, kv ...interface{}) { event(Log.Error(), msg, kv) }
func Trace(msg string, kv ...interface{}) { event(Log.Trace(), msg, kv) }

func Fatal(msg string, kv ...interface{}) {
	event(Log.Error(), msg, kv)
	Close()
	os.Exit(1)
}

func event(e *zerolog.Event, msg string, kv []interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}

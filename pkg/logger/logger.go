package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"usenetstreamer/pkg/paths"
)

const timeLayout = "2006-01-02T15:04:05.000-07:00"

var Log = slog.New(slog.NewTextHandler(os.Stdout, nil))

var (
	history     []string
	historyMu   sync.RWMutex
	maxHistory  = 500
	logFile     *os.File
	logFileMu   sync.Mutex
	logLocation *time.Location
	locationMu  sync.RWMutex
	broadcastMu sync.RWMutex
	broadcastCh chan<- string
)

// SetBroadcast sets a channel to receive formatted log lines.
// Sends are non-blocking; lines are dropped when the channel is full.
func SetBroadcast(ch chan<- string) {
	broadcastMu.Lock()
	broadcastCh = ch
	broadcastMu.Unlock()
}

// ParseLevel maps a LOG_LEVEL string onto a slog level, defaulting to INFO.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init initializes the global logger
func Init(levelStr string) {
	level := ParseLevel(levelStr)

	tzEnv := os.Getenv("TZ")
	loc := time.Local
	if tzEnv != "" {
		if loaded, err := time.LoadLocation(tzEnv); err == nil {
			loc = loaded
		}
	}
	locationMu.Lock()
	logLocation = loc
	locationMu.Unlock()

	openLogFile(loc)

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String(slog.TimeKey, a.Value.Time().In(loc).Format(timeLayout))
			}
			return a
		},
	}

	Log = slog.New(&GlobalBroadcastHandler{Handler: slog.NewTextHandler(os.Stdout, opts)})
	slog.SetDefault(Log)

	Log.Debug("Logger initialized", "timezone", loc.String(), "tz_env", tzEnv, "level", level.String())
}

// openLogFile opens usenetstreamer-YYYY-MM-DD.log in the data dir (one file per day).
func openLogFile(loc *time.Location) {
	dataDir := paths.GetDataDir()
	name := fmt.Sprintf("usenetstreamer-%s.log", time.Now().In(loc).Format("2006-01-02"))

	logFileMu.Lock()
	defer logFileMu.Unlock()

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create log directory: %v\n", err)
		return
	}
	if logFile != nil {
		logFile.Close()
	}
	f, err := os.OpenFile(filepath.Join(dataDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v\n", name, err)
		logFile = nil
		return
	}
	logFile = f
}

// GlobalBroadcastHandler mirrors every record into the history ring, the
// daily log file and the broadcast channel before handing it to stdout.
type GlobalBroadcastHandler struct {
	slog.Handler
	attrs []slog.Attr
}

func (h *GlobalBroadcastHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &GlobalBroadcastHandler{Handler: h.Handler.WithAttrs(attrs), attrs: merged}
}

func (h *GlobalBroadcastHandler) WithGroup(name string) slog.Handler {
	return &GlobalBroadcastHandler{Handler: h.Handler.WithGroup(name), attrs: h.attrs}
}

func (h *GlobalBroadcastHandler) Handle(ctx context.Context, r slog.Record) error {
	locationMu.RLock()
	loc := logLocation
	locationMu.RUnlock()
	if loc == nil {
		loc = time.Local
	}

	var b strings.Builder
	fmt.Fprintf(&b, "time=%s level=%s msg=%q", r.Time.In(loc).Format(timeLayout), r.Level, r.Message)
	for _, a := range h.attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
		return true
	})
	msg := b.String()

	historyMu.Lock()
	if len(history) >= maxHistory {
		history = history[1:]
	}
	history = append(history, msg)
	historyMu.Unlock()

	err := h.Handler.Handle(ctx, r)

	logFileMu.Lock()
	if logFile != nil {
		fmt.Fprintln(logFile, msg)
	}
	logFileMu.Unlock()

	broadcastMu.RLock()
	ch := broadcastCh
	broadcastMu.RUnlock()
	if ch != nil {
		select {
		case ch <- msg:
		default:
		}
	}
	return err
}

// GetHistory returns a copy of the most recent log lines
func GetHistory() []string {
	historyMu.RLock()
	defer historyMu.RUnlock()
	cp := make([]string, len(history))
	copy(cp, history)
	return cp
}

// SetLevel updates the logger level at runtime
func SetLevel(levelStr string) {
	Init(levelStr)
}

// Close closes the log file if one is open
func Close() {
	logFileMu.Lock()
	defer logFileMu.Unlock()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

func Debug(msg string, args ...any) {
	Log.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Log.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	Log.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	Log.Error(msg, args...)
}

func Fatal(msg string, args ...any) {
	Log.Error(msg, args...)
	os.Exit(1)
}

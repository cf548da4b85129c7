package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var Log *slog.Logger

var (
	history    []string
	historyMu  sync.RWMutex
	maxHistory = 500

	broadcastCh chan<- string
	broadcastMu sync.RWMutex
)

// SetBroadcast sets a channel that receives formatted log lines.
// Sends are non-blocking; lines are dropped when the channel is full.
func SetBroadcast(ch chan<- string) {
	broadcastMu.Lock()
	broadcastCh = ch
	broadcastMu.Unlock()
}

// Init initializes the global logger at the given level.
func Init(levelStr string) {
	var level slog.Level
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	base := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	Log = slog.New(&broadcastHandler{Handler: base})
	slog.SetDefault(Log)
}

// broadcastHandler keeps a ring of recent log lines and forwards them
// to the broadcast channel for the live log stream.
type broadcastHandler struct {
	slog.Handler
}

func (h *broadcastHandler) Handle(ctx context.Context, r slog.Record) error {
	msg := fmt.Sprintf("time=%s level=%s msg=%q", r.Time.Format("2006-01-02T15:04:05.000-07:00"), r.Level, r.Message)
	r.Attrs(func(a slog.Attr) bool {
		msg += fmt.Sprintf(" %s=%v", a.Key, a.Value)
		return true
	})

	historyMu.Lock()
	if len(history) >= maxHistory {
		history = history[1:]
	}
	history = append(history, msg)
	historyMu.Unlock()

	broadcastMu.RLock()
	ch := broadcastCh
	broadcastMu.RUnlock()
	if ch != nil {
		select {
		case ch <- msg:
		default:
		}
	}

	return h.Handler.Handle(ctx, r)
}

// GetHistory returns a copy of the retained log lines.
func GetHistory() []string {
	historyMu.RLock()
	defer historyMu.RUnlock()
	cp := make([]string, len(history))
	copy(cp, history)
	return cp
}

// Helper functions for easy access
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

// Package logging is the daemon's ambient logging surface (SPEC_FULL.md
// §4.15): log/slog fanned out with github.com/samber/slog-multi to a
// stderr text handler and a ring buffer, so server_log()-style
// introspection can retrieve recent log lines without re-reading stderr.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	slogmulti "github.com/samber/slog-multi"
)

const ringSize = 512

// ring is a fixed-capacity circular buffer of formatted log lines, fed by
// a slog.Handler so every Printf/Fatalf call also lands here regardless
// of the stderr handler's own level filtering.
type ring struct {
	mu     sync.Mutex
	lines  []string
	next   int
	filled bool
}

func (r *ring) push(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.lines) < ringSize {
		r.lines = append(r.lines, line)
		return
	}
	r.lines[r.next] = line
	r.next = (r.next + 1) % ringSize
	r.filled = true
}

// Recent returns up to ringSize most recent lines, oldest first.
func (r *ring) Recent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.filled {
		out := make([]string, len(r.lines))
		copy(out, r.lines)
		return out
	}
	out := make([]string, 0, ringSize)
	out = append(out, r.lines[r.next:]...)
	out = append(out, r.lines[:r.next]...)
	return out
}

// ringHandler adapts ring to slog.Handler, recording a plain-text
// rendering of each record.
type ringHandler struct {
	r *ring
}

func (h *ringHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *ringHandler) Handle(_ context.Context, rec slog.Record) error {
	line := fmt.Sprintf("%s %s %s", rec.Time.Format("15:04:05"), rec.Level, rec.Message)
	rec.Attrs(func(a slog.Attr) bool {
		line += fmt.Sprintf(" %s=%v", a.Key, a.Value)
		return true
	})
	h.r.push(line)
	return nil
}

func (h *ringHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *ringHandler) WithGroup(string) slog.Handler      { return h }

var (
	buffer = &ring{}
	logger = slog.New(slogmulti.Fanout(
		slog.NewTextHandler(os.Stderr, nil),
		&ringHandler{r: buffer},
	))
)

// Printf logs a formatted message at Info level, matching the teacher's
// log.Printf call sites one-for-one.
func Printf(format string, args ...any) {
	logger.Info(fmt.Sprintf(format, args...))
}

// Println logs a message at Info level.
func Println(args ...any) {
	logger.Info(fmt.Sprint(args...))
}

// Fatalf logs at Error level then exits, matching log.Fatalf's contract.
func Fatalf(format string, args ...any) {
	logger.Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}

// Recent returns recent log lines for server_log()-style introspection.
func Recent() []string {
	return buffer.Recent()
}

// Package prettylog is a colorized console handler for log/slog, based on
// https://dusted.codes/creating-a-pretty-console-logger-using-gos-slog-package
package prettylog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

const timeFormat = "15:04:05.000"

const reset = "\033[0m"

const (
	yellow   = 33
	cyan     = 36
	darkGray = 90
	lightRed = 91
	white    = 97
)

func colorize(colorCode int, v string) string {
	return fmt.Sprintf("\033[%dm%s%s", colorCode, v, reset)
}

type handler struct {
	level  slog.Level
	attrs  []slog.Attr
	output *os.File
}

// NewHandler returns a slog handler writing colorized single-line records
// to stderr.
func NewHandler(level slog.Level) slog.Handler {
	return &handler{level: level, output: os.Stderr}
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &handler{
		level:  h.level,
		attrs:  append(append([]slog.Attr{}, h.attrs...), attrs...),
		output: h.output,
	}
}

func (h *handler) WithGroup(string) slog.Handler {
	return h
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	level := r.Level.String() + ":"
	switch r.Level {
	case slog.LevelDebug:
		level = colorize(darkGray, level)
	case slog.LevelInfo:
		level = colorize(cyan, level)
	case slog.LevelWarn:
		level = colorize(yellow, level)
	case slog.LevelError:
		level = colorize(lightRed, level)
	}

	var b strings.Builder
	b.WriteString(colorize(darkGray, r.Time.Format(timeFormat)))
	b.WriteString(" ")
	b.WriteString(level)
	b.WriteString(" ")
	b.WriteString(colorize(white, r.Message))

	for _, a := range h.attrs {
		writeAttr(&b, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, a)
		return true
	})
	b.WriteString("\n")

	_, err := h.output.WriteString(b.String())
	return err
}

func writeAttr(b *strings.Builder, a slog.Attr) {
	value := a.Value.Any()
	if err, ok := value.(error); ok {
		value = err.Error()
	}
	b.WriteString(" ")
	b.WriteString(colorize(darkGray, fmt.Sprintf("%s=%v", a.Key, value)))
}

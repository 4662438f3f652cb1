// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger configures the process-wide slog logger.
//
// Records emitted from outside this module are dropped unless the level is
// debug, so library chatter does not drown the query and tool logs.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/term"
)

const modulePrefix = "github.com/kadirpekel/docqa"

// Output formats.
const (
	FormatSimple  = "simple"
	FormatVerbose = "verbose"
	FormatJSON    = "json"
)

var (
	mu            sync.RWMutex
	defaultLogger *slog.Logger
)

// ParseLevel converts a level name to slog.Level.
// Unknown names yield an error and the info level.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (valid: debug, info, warn, error)", levelStr)
	}
}

// Init installs a logger writing to output as the slog default.
//
// format is "simple" (level, message, attributes), "verbose" (adds a
// timestamp) or "json". Colours are used when output is a terminal.
func Init(level slog.Level, output *os.File, format string) {
	var w io.Writer = output
	if output == nil {
		output = os.Stderr
		w = os.Stderr
	}
	InitWriter(level, w, format, isTerminal(output))
}

// InitWriter is Init for an arbitrary writer.
func InitWriter(level slog.Level, w io.Writer, format string, color bool) {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch format {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	case FormatVerbose:
		handler = &lineHandler{out: w, level: level, color: color, timestamps: true, mu: &sync.Mutex{}}
	default:
		handler = &lineHandler{out: w, level: level, color: color, mu: &sync.Mutex{}}
	}

	l := slog.New(&moduleFilter{next: handler, minLevel: level})

	mu.Lock()
	defaultLogger = l
	mu.Unlock()
	slog.SetDefault(l)
}

// GetLogger returns the configured logger, initialising an info-level
// simple logger on stderr on first use.
func GetLogger() *slog.Logger {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l != nil {
		return l
	}
	Init(slog.LevelInfo, os.Stderr, FormatSimple)
	return GetLogger()
}

// OpenLogFile opens path for appending and returns a close func.
func OpenLogFile(path string) (*os.File, func(), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return file, func() { _ = file.Close() }, nil
}

func isTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// moduleFilter drops third-party records below debug level.
type moduleFilter struct {
	next     slog.Handler
	minLevel slog.Level
}

func (h *moduleFilter) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.minLevel && h.next.Enabled(ctx, level)
}

func (h *moduleFilter) Handle(ctx context.Context, record slog.Record) error {
	if h.minLevel > slog.LevelDebug && !fromModule(record.PC) {
		return nil
	}
	return h.next.Handle(ctx, record)
}

func (h *moduleFilter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &moduleFilter{next: h.next.WithAttrs(attrs), minLevel: h.minLevel}
}

func (h *moduleFilter) WithGroup(name string) slog.Handler {
	return &moduleFilter{next: h.next.WithGroup(name), minLevel: h.minLevel}
}

// fromModule reports whether pc belongs to this module. Records without a
// PC (slog.Record built by hand) are kept.
func fromModule(pc uintptr) bool {
	if pc == 0 {
		return true
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return true
	}
	return strings.HasPrefix(fn.Name(), modulePrefix)
}

// lineHandler writes one line per record: [time] LEVEL message k=v ...
type lineHandler struct {
	out        io.Writer
	level      slog.Level
	color      bool
	timestamps bool
	attrs      []slog.Attr
	group      string
	mu         *sync.Mutex
}

func (h *lineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *lineHandler) Handle(_ context.Context, record slog.Record) error {
	var buf strings.Builder

	if h.timestamps && !record.Time.IsZero() {
		buf.WriteString(record.Time.Format("2006/01/02 15:04:05 "))
	}

	level := levelName(record.Level)
	if h.color {
		buf.WriteString(levelColor(record.Level))
		buf.WriteString(level)
		buf.WriteString("\033[0m")
	} else {
		buf.WriteString(level)
	}
	buf.WriteByte(' ')
	buf.WriteString(record.Message)

	for _, a := range h.attrs {
		writeAttr(&buf, h.group, a)
	}
	record.Attrs(func(a slog.Attr) bool {
		writeAttr(&buf, h.group, a)
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, buf.String())
	return err
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *lineHandler) WithGroup(name string) slog.Handler {
	clone := *h
	if clone.group != "" {
		clone.group += "." + name
	} else {
		clone.group = name
	}
	return &clone
}

func writeAttr(buf *strings.Builder, group string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	buf.WriteByte(' ')
	if group != "" {
		buf.WriteString(group)
		buf.WriteByte('.')
	}
	buf.WriteString(a.Key)
	buf.WriteByte('=')
	buf.WriteString(a.Value.Resolve().String())
}

func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "\033[31m"
	case level >= slog.LevelWarn:
		return "\033[33m"
	case level >= slog.LevelInfo:
		return "\033[36m"
	default:
		return "\033[90m"
	}
}

// Package logging provides line-oriented console logging for the control plane
// and the node agent.
//
// Each line has the form:
//
//	LEVEL TIMESTAMP [component] message key=value ...
//
// Loggers derived with WithComponent or WithTraceID share the parent's output
// and serialize writes through it.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel parses a level name case-insensitively.
func ParseLevel(s string) (Level, error) {
	level := Level(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := levelPriority[level]; !ok {
		return "", fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

type sink struct {
	mu     sync.Mutex
	output io.Writer
}

// Logger writes leveled lines to a shared output.
type Logger struct {
	sink      *sink
	minLevel  Level
	component string
	traceID   string
}

// New creates a Logger writing INFO and above to stdout.
func New() *Logger {
	return &Logger{
		sink:     &sink{output: os.Stdout},
		minLevel: LevelInfo,
	}
}

// WithComponent returns a logger that tags lines with component.
func (l *Logger) WithComponent(component string) *Logger {
	derived := *l
	derived.component = component
	return &derived
}

// WithTraceID returns a logger that appends trace=<id> to every line.
func (l *Logger) WithTraceID(traceID string) *Logger {
	derived := *l
	derived.traceID = traceID
	return &derived
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer for this logger and every logger
// derived from the same root.
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	l.sink.output = w
	l.sink.mu.Unlock()
}

func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields renders fields as key=value pairs sorted by key.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}
	if l.traceID != "" {
		fieldStr += " trace=" + l.traceID
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.output.Write([]byte(line))
}

// --- Membership events ---

// NodeRegistered logs an accepted registration.
func (l *Logger) NodeRegistered(node, peer string) {
	l.Info("node_registered", map[string]interface{}{
		"node": node,
		"peer": peer,
	})
}

// RegistrationRejected logs a refused registration.
func (l *Logger) RegistrationRejected(node, peer, reason string) {
	l.Warn("registration_rejected", map[string]interface{}{
		"node":   node,
		"peer":   peer,
		"reason": reason,
	})
}

// HeartbeatIgnored logs a heartbeat for a node that is not registered.
func (l *Logger) HeartbeatIgnored(node string) {
	l.Debug("heartbeat_ignored", map[string]interface{}{
		"node": node,
	})
}

// StreamOpened logs the start of a heartbeat stream.
func (l *Logger) StreamOpened(session, peer string) {
	l.Debug("stream_opened", map[string]interface{}{
		"session": session,
		"peer":    peer,
	})
}

// StreamClosed logs the end of a heartbeat stream.
func (l *Logger) StreamClosed(session string, received, applied int, duration time.Duration, err error) {
	fields := map[string]interface{}{
		"session":  session,
		"received": received,
		"applied":  applied,
		"duration": duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Warn("stream_closed", fields)
		return
	}
	l.Debug("stream_closed", fields)
}

// StatusTransition logs a liveness change applied by a sweep.
func (l *Logger) StatusTransition(node, from, to string) {
	fields := map[string]interface{}{
		"node": node,
		"from": from,
		"to":   to,
	}
	if to == "READY" {
		l.Info("status_transition", fields)
		return
	}
	l.Warn("status_transition", fields)
}

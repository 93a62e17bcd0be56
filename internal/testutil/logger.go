// Package testutil provides shared fixtures and test doubles for progres-go
// tests.
package testutil

import (
	"strings"
	"sync"

	"github.com/turtacn/progres-go/internal/infrastructure/monitoring/logging"
)

// LogMessage is one entry captured by RecordingLogger.
type LogMessage struct {
	Level   string
	Message string
	Fields  []logging.Field
}

// Field returns the value of the named field, or nil.
func (m LogMessage) Field(key string) interface{} {
	for _, f := range m.Fields {
		if f.Key == key {
			return f.Value
		}
	}
	return nil
}

type logSink struct {
	mu       sync.Mutex
	messages []LogMessage
}

// RecordingLogger implements logging.Logger and keeps every entry. Children
// created by With and Named share the parent's records.
type RecordingLogger struct {
	sink   *logSink
	fields []logging.Field
}

func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{sink: &logSink{}}
}

func (l *RecordingLogger) log(level, msg string, fields []logging.Field) {
	all := append(append([]logging.Field{}, l.fields...), fields...)
	l.sink.mu.Lock()
	l.sink.messages = append(l.sink.messages, LogMessage{Level: level, Message: msg, Fields: all})
	l.sink.mu.Unlock()
}

func (l *RecordingLogger) Debug(msg string, fields ...logging.Field) { l.log("debug", msg, fields) }
func (l *RecordingLogger) Info(msg string, fields ...logging.Field)  { l.log("info", msg, fields) }
func (l *RecordingLogger) Warn(msg string, fields ...logging.Field)  { l.log("warn", msg, fields) }
func (l *RecordingLogger) Error(msg string, fields ...logging.Field) { l.log("error", msg, fields) }
func (l *RecordingLogger) Fatal(msg string, fields ...logging.Field) { l.log("fatal", msg, fields) }

func (l *RecordingLogger) With(fields ...logging.Field) logging.Logger {
	return &RecordingLogger{sink: l.sink, fields: append(append([]logging.Field{}, l.fields...), fields...)}
}

func (l *RecordingLogger) Named(string) logging.Logger { return l }

func (l *RecordingLogger) Sync() error { return nil }

// Messages returns a copy of everything logged so far.
func (l *RecordingLogger) Messages() []LogMessage {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return append([]LogMessage(nil), l.sink.messages...)
}

// Find returns the entries at level whose message contains substr.
func (l *RecordingLogger) Find(level, substr string) []LogMessage {
	var out []LogMessage
	for _, m := range l.Messages() {
		if m.Level == level && strings.Contains(m.Message, substr) {
			out = append(out, m)
		}
	}
	return out
}

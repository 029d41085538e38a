package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents the severity level of log messages
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string log level to a Level
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Field represents a structured logging field
type Field struct {
	Key   string
	Value interface{}
}

// String creates a string field
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an integer field
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Int64 creates an int64 field
func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a boolean field
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Duration creates a duration field
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

// Error creates an error field
func Error(err error) Field {
	return Field{Key: "error", Value: err.Error()}
}

// Any creates a field with any value
func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Logger defines the interface for structured logging
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

// StructuredLogger implements the Logger interface with structured logging
type StructuredLogger struct {
	level  Level
	output io.Writer
	fields map[string]interface{}
	mu     sync.Mutex
}

// New creates a new structured logger writing to stderr
func New(level Level) *StructuredLogger {
	return &StructuredLogger{
		level:  level,
		output: os.Stderr,
		fields: make(map[string]interface{}),
	}
}

// NewWithOutput creates a new structured logger with a custom output
func NewWithOutput(level Level, output io.Writer) *StructuredLogger {
	return &StructuredLogger{
		level:  level,
		output: output,
		fields: make(map[string]interface{}),
	}
}

// Debug logs a debug message
func (l *StructuredLogger) Debug(msg string, fields ...Field) {
	if l.level <= DebugLevel {
		l.log(DebugLevel, msg, fields...)
	}
}

// Info logs an info message
func (l *StructuredLogger) Info(msg string, fields ...Field) {
	if l.level <= InfoLevel {
		l.log(InfoLevel, msg, fields...)
	}
}

// Warn logs a warning message
func (l *StructuredLogger) Warn(msg string, fields ...Field) {
	if l.level <= WarnLevel {
		l.log(WarnLevel, msg, fields...)
	}
}

// Error logs an error message
func (l *StructuredLogger) Error(msg string, fields ...Field) {
	if l.level <= ErrorLevel {
		l.log(ErrorLevel, msg, fields...)
	}
}

// With creates a new logger with additional persistent fields
func (l *StructuredLogger) With(fields ...Field) Logger {
	newFields := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	for _, field := range fields {
		newFields[field.Key] = field.Value
	}

	return &StructuredLogger{
		level:  l.level,
		output: l.output,
		fields: newFields,
	}
}

func (l *StructuredLogger) log(level Level, msg string, fields ...Field) {
	var builder strings.Builder

	builder.WriteString(time.Now().UTC().Format("2006-01-02 15:04:05.000"))
	builder.WriteString(" [")
	builder.WriteString(level.String())
	builder.WriteString("] ")
	builder.WriteString(msg)

	if len(l.fields) > 0 || len(fields) > 0 {
		builder.WriteString(" {")
		first := true
		for k, v := range l.fields {
			if !first {
				builder.WriteString(", ")
			}
			builder.WriteString(k)
			builder.WriteString("=")
			builder.WriteString(fmt.Sprintf("%v", v))
			first = false
		}
		for _, field := range fields {
			if !first {
				builder.WriteString(", ")
			}
			builder.WriteString(field.Key)
			builder.WriteString("=")
			builder.WriteString(fmt.Sprintf("%v", field.Value))
			first = false
		}
		builder.WriteString("}")
	}

	builder.WriteString("\n")

	l.mu.Lock()
	l.output.Write([]byte(builder.String()))
	l.mu.Unlock()
}

// Nop returns a logger that discards all output (useful for testing)
func Nop() Logger {
	return NewWithOutput(ErrorLevel, io.Discard)
}

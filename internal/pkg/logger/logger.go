// Package logger provides structured JSON logging with automatic PII
// redaction. Lead emails and phone numbers never reach the logs in clear
// text.
package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// Logger emits structured JSON entries for one component.
type Logger struct {
	component string
}

var (
	mu        sync.Mutex
	minLevel  = INFO
	redactPII = true
)

// SetLevel sets the process-wide minimum log level.
func SetLevel(l Level) { minLevel = l }

// SetRedactPII enables or disables PII redaction.
func SetRedactPII(r bool) { redactPII = r }

// For returns a logger tagged with the given component name.
func For(component string) *Logger { return &Logger{component: component} }

// Debug emits a DEBUG-level entry.
func (l *Logger) Debug(msg string, fields ...interface{}) { l.log(DEBUG, msg, fields...) }

// Info emits an INFO-level entry.
func (l *Logger) Info(msg string, fields ...interface{}) { l.log(INFO, msg, fields...) }

// Warn emits a WARN-level entry.
func (l *Logger) Warn(msg string, fields ...interface{}) { l.log(WARN, msg, fields...) }

// Error emits an ERROR-level entry.
func (l *Logger) Error(msg string, fields ...interface{}) { l.log(ERROR, msg, fields...) }

var root = &Logger{}

// Debug emits a DEBUG-level entry on the root logger.
func Debug(msg string, fields ...interface{}) { root.log(DEBUG, msg, fields...) }

// Info emits an INFO-level entry on the root logger.
func Info(msg string, fields ...interface{}) { root.log(INFO, msg, fields...) }

// Warn emits a WARN-level entry on the root logger.
func Warn(msg string, fields ...interface{}) { root.log(WARN, msg, fields...) }

// Error emits an ERROR-level entry on the root logger.
func Error(msg string, fields ...interface{}) { root.log(ERROR, msg, fields...) }

func (l *Logger) log(level Level, msg string, fields ...interface{}) {
	if level < minLevel {
		return
	}

	entry := map[string]interface{}{
		"time":  time.Now().UTC().Format(time.RFC3339),
		"level": levelNames[level],
		"msg":   msg,
	}
	if l.component != "" {
		entry["component"] = l.component
	}

	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		val := fmt.Sprintf("%v", fields[i+1])
		if redactPII {
			val = redactValue(key, val)
		}
		entry[key] = val
	}

	data, _ := json.Marshal(entry)
	mu.Lock()
	fmt.Fprintln(os.Stderr, string(data))
	mu.Unlock()
}

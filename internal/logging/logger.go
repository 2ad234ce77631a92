package logging

import (
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Logger is the structured logger used across the provider.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
	Trace(msg string, fields map[string]any)

	// Named returns a logger for a subsystem, e.g. "ldap" or "accounts".
	Named(subsystem string) Logger
}

// Options configures the hclog backend.
type Options struct {
	Name   string
	Level  string // trace, debug, info, warn, error, off
	JSON   bool
	Output io.Writer
}

// HCLogger adapts hclog to Logger.
type HCLogger struct {
	hl hclog.Logger
}

// New creates a Logger writing through hclog.
func New(opts Options) *HCLogger {
	output := opts.Output
	if output == nil {
		output = os.Stderr
	}

	level := hclog.LevelFromString(opts.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}

	return &HCLogger{
		hl: hclog.New(&hclog.LoggerOptions{
			Name:       opts.Name,
			Level:      level,
			Output:     output,
			JSONFormat: opts.JSON,
		}),
	}
}

// NewNull returns a Logger that discards everything.
func NewNull() *HCLogger {
	return &HCLogger{hl: hclog.NewNullLogger()}
}

func (l *HCLogger) Debug(msg string, fields map[string]any) { l.hl.Debug(msg, flatten(fields)...) }
func (l *HCLogger) Info(msg string, fields map[string]any)  { l.hl.Info(msg, flatten(fields)...) }
func (l *HCLogger) Warn(msg string, fields map[string]any)  { l.hl.Warn(msg, flatten(fields)...) }
func (l *HCLogger) Error(msg string, fields map[string]any) { l.hl.Error(msg, flatten(fields)...) }
func (l *HCLogger) Trace(msg string, fields map[string]any) { l.hl.Trace(msg, flatten(fields)...) }

func (l *HCLogger) Named(subsystem string) Logger {
	return &HCLogger{hl: l.hl.Named(subsystem)}
}

// flatten turns a field map into hclog key/value pairs, sorted by key so
// output is stable.
func flatten(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}

	keys := slices.Sorted(maps.Keys(fields))
	args := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, k, fields[k])
	}
	return args
}

// LogOperation runs fn and logs its start, duration and outcome.
func LogOperation(logger Logger, operation string, fields map[string]any, fn func() error) error {
	start := time.Now()

	entry := make(map[string]any, len(fields)+1)
	maps.Copy(entry, fields)
	entry["operation"] = operation

	logger.Debug("Starting operation", entry)

	err := fn()

	exit := make(map[string]any, len(entry)+2)
	maps.Copy(exit, entry)
	exit["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		exit["error"] = err.Error()
		logger.Error("Operation failed", exit)
	} else {
		logger.Debug("Operation completed successfully", exit)
	}

	return err
}

// LogPerformance logs slow operations at a higher level.
func LogPerformance(logger Logger, operation string, duration time.Duration, fields map[string]any) {
	out := make(map[string]any, len(fields)+2)
	maps.Copy(out, fields)
	out["operation"] = operation
	out["duration_ms"] = duration.Milliseconds()

	switch {
	case duration > 5*time.Second:
		logger.Warn("Slow operation detected", out)
	case duration > time.Second:
		logger.Info("Operation performance", out)
	default:
		logger.Trace("Operation performance", out)
	}
}

var sensitiveKeys = map[string]bool{
	"password":        true,
	"passwd":          true,
	"secret":          true,
	"token":           true,
	"key":             true,
	"private_key":     true,
	"credential":      true,
	"credentials":     true,
	"search_password": true,
}

// SanitizeFields removes sensitive information from log fields.
func SanitizeFields(fields map[string]any) map[string]any {
	sanitized := make(map[string]any, len(fields))

	for k, v := range fields {
		if sensitiveKeys[strings.ToLower(k)] {
			sanitized[k] = "[REDACTED]"
			continue
		}
		if str, ok := v.(string); ok && containsSensitivePattern(str) {
			sanitized[k] = "[REDACTED]"
			continue
		}
		sanitized[k] = v
	}

	return sanitized
}

func containsSensitivePattern(s string) bool {
	patterns := []string{
		"password=",
		"passwd=",
		"secret=",
		"token=",
		"key=",
	}

	lower := strings.ToLower(s)
	for _, pattern := range patterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}

	return false
}

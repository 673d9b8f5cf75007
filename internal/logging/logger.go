// Package logging wraps logrus with the fields a backup run reports: the
// run id, the programs executed and the outcome of every table.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel is the user-facing verbosity.
type LogLevel string

const (
	LogLevelQuiet   LogLevel = "quiet"   // errors only
	LogLevelNormal  LogLevel = "normal"  // one line per table
	LogLevelVerbose LogLevel = "verbose" // plus every command executed
	LogLevelDebug   LogLevel = "debug"   // plus caller information
)

var logrusLevels = map[LogLevel]logrus.Level{
	LogLevelQuiet:   logrus.ErrorLevel,
	LogLevelNormal:  logrus.InfoLevel,
	LogLevelVerbose: logrus.DebugLevel,
	LogLevelDebug:   logrus.TraceLevel,
}

type contextKey string

const runIDKey contextKey = "run_id"

// Logger is a logrus logger that knows the verbosity it was built with.
type Logger struct {
	*logrus.Logger
	level LogLevel
}

// Config holds logger configuration. A nil Output means stderr; LogFile, when
// set, receives a copy of every line.
type Config struct {
	Level      LogLevel
	Output     io.Writer
	Format     string // "text" or "json"
	ShowCaller bool
	LogFile    string
}

// NewLogger creates a logger from config.
func NewLogger(config Config) (*Logger, error) {
	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	if config.LogFile != "" {
		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec // user-chosen log path
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.LogFile, err)
		}
		out = io.MultiWriter(out, file)
	}

	level, ok := logrusLevels[config.Level]
	if !ok {
		level = logrus.InfoLevel
	}

	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(level)
	l.SetReportCaller(config.ShowCaller)
	l.SetFormatter(newFormatter(config.Format, config.ShowCaller))

	return &Logger{Logger: l, level: config.Level}, nil
}

func newFormatter(format string, showCaller bool) logrus.Formatter {
	var prettyCaller func(*runtime.Frame) (string, string)
	if showCaller {
		prettyCaller = func(f *runtime.Frame) (string, string) {
			return f.Function + "()", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
		}
	}

	if format == "json" {
		return &logrus.JSONFormatter{TimestampFormat: time.RFC3339, CallerPrettyfier: prettyCaller}
	}
	return &logrus.TextFormatter{
		FullTimestamp:    true,
		TimestampFormat:  "2006-01-02 15:04:05",
		CallerPrettyfier: prettyCaller,
	}
}

// NewDefaultLogger logs text at the normal level to stderr.
func NewDefaultLogger() *Logger {
	logger, _ := NewLogger(Config{Level: LogLevelNormal})
	return logger
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	logger, _ := NewLogger(Config{Level: LogLevelQuiet, Output: io.Discard})
	return logger
}

// Verbosity returns the level the logger was built with.
func (l *Logger) Verbosity() LogLevel {
	return l.level
}

// WithContext returns an entry carrying the run id stored in ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithContext(ctx)
	if runID := GetRunIDFromContext(ctx); runID != "" {
		entry = entry.WithField(string(runIDKey), runID)
	}
	return entry
}

// WithFields returns an entry with fields.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.Logger.WithFields(fields)
}

// outcome logs success at level and failure at error level, adding the
// error to fields.
func (l *Logger) outcome(ctx context.Context, fields logrus.Fields, err error, level logrus.Level, ok, failed string) {
	entry := l.WithContext(ctx).WithFields(fields)
	if err != nil {
		entry.WithField("error", err.Error()).Error(failed)
		return
	}
	entry.Log(level, ok)
}

// LogDatabaseConnection logs a connection attempt.
func (l *Logger) LogDatabaseConnection(host, database string, success bool, duration time.Duration, err error) {
	if !success && err == nil {
		err = fmt.Errorf("connection to %s failed", host)
	}
	l.outcome(context.Background(), logrus.Fields{
		"operation": "database_connection",
		"host":      host,
		"database":  database,
		"duration":  duration.String(),
		"success":   success,
	}, err, logrus.DebugLevel, "Database connection established", "Database connection failed")
}

// LogCommandExecution logs one external program invocation. commandLine must
// already have its password masked.
func (l *Logger) LogCommandExecution(ctx context.Context, commandLine string, duration time.Duration, err error) {
	l.outcome(ctx, logrus.Fields{
		"operation": "command_execution",
		"command":   commandLine,
		"duration":  duration.String(),
	}, err, logrus.DebugLevel, "Command finished", "Command failed")
}

// LogDump logs the outcome of dumping one table.
func (l *Logger) LogDump(ctx context.Context, database, table, outputPath string, duration time.Duration, err error) {
	l.outcome(ctx, logrus.Fields{
		"operation": "dump",
		"database":  database,
		"table":     table,
		"output":    outputPath,
		"duration":  duration.String(),
	}, err, logrus.InfoLevel, "Table dumped", "Table dump failed")
}

// LogRestore logs the outcome of restoring one table.
func (l *Logger) LogRestore(ctx context.Context, table, backupPath string, duration time.Duration, err error) {
	l.outcome(ctx, logrus.Fields{
		"operation": "restore",
		"table":     table,
		"backup":    backupPath,
		"duration":  duration.String(),
	}, err, logrus.InfoLevel, "Table restored", "Table restore failed")
}

// LogOperationStart logs the start of operation at debug level and returns
// the function that logs its end.
func (l *Logger) LogOperationStart(ctx context.Context, operation string, fields map[string]interface{}) func(error) {
	start := time.Now()

	logFields := logrus.Fields{"operation": operation}
	for k, v := range fields {
		logFields[k] = v
	}
	l.WithContext(ctx).WithFields(logFields).Debug("Operation started")

	return func(err error) {
		logFields["duration"] = time.Since(start).String()
		logFields["success"] = err == nil
		l.outcome(ctx, logFields, err, logrus.InfoLevel, "Operation completed", "Operation failed")
	}
}

// ContextWithRunID stores the id correlating the log lines of one invocation.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// GetRunIDFromContext returns the run id stored in ctx, if any.
func GetRunIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	runID, _ := ctx.Value(runIDKey).(string)
	return runID
}

// MaskPassword hides the value of a -p<password> or --password=<password>
// argument.
func MaskPassword(arg string) string {
	switch {
	case strings.HasPrefix(arg, "--password="):
		return "--password=***"
	case strings.HasPrefix(arg, "-p") && len(arg) > 2:
		return "-p***"
	default:
		return arg
	}
}

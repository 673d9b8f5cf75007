// Package errors types the failures of a backup run: the MySQL connection,
// the external client programs and the backup directory.
package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/go-sql-driver/mysql"
)

// ErrorType groups failures by what the user has to fix.
type ErrorType string

const (
	ErrorTypeConnection   ErrorType = "connection"
	ErrorTypeCommand      ErrorType = "command"
	ErrorTypeFilesystem   ErrorType = "filesystem"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypePermission   ErrorType = "permission"
	ErrorTypeTimeout      ErrorType = "timeout"
	ErrorTypeInterruption ErrorType = "interruption"
	ErrorTypeUnknown      ErrorType = "unknown"
)

// AppError is an error carrying its type, a user-facing message and
// key/value context for logs.
type AppError struct {
	Type        ErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
	UserMessage string
}

func (e *AppError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, " (caused by: %v)", e.Cause)
	}
	return b.String()
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// GetUserMessage prefers the user-facing message over the technical one.
func (e *AppError) GetUserMessage() string {
	if e.UserMessage != "" {
		return e.UserMessage
	}
	return e.Message
}

// IsRecoverable reports whether retrying may succeed.
func (e *AppError) IsRecoverable() bool {
	return e.Recoverable
}

// WithContext attaches a key/value pair and returns e.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{}, 2)
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a non-recoverable error.
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{Type: errType, Message: message, Cause: cause}
}

// NewRecoverableError creates an error that Retry will try again.
func NewRecoverableError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{Type: errType, Message: message, Cause: cause, Recoverable: true}
}

// rule describes how a recognised failure is reported.
type rule struct {
	errType     ErrorType
	hint        string
	recoverable bool
}

func (r rule) build(message string, cause error) *AppError {
	return &AppError{
		Type:        r.errType,
		Message:     message,
		Cause:       cause,
		Recoverable: r.recoverable,
		UserMessage: r.hint,
	}
}

var mysqlRules = map[uint16]rule{
	1044: {ErrorTypePermission, "The MySQL user may not access this database", false},
	1045: {ErrorTypePermission, "Access denied - check the username and password", false},
	1049: {ErrorTypeValidation, "The database does not exist", false},
	1146: {ErrorTypeValidation, "The table does not exist", false},
	2002: {ErrorTypeConnection, "Cannot connect through the MySQL socket", true},
	2003: {ErrorTypeConnection, "Cannot connect to the MySQL server", true},
	2006: {ErrorTypeConnection, "The MySQL server has gone away", true},
	2013: {ErrorTypeConnection, "Lost connection to the MySQL server", true},
}

// stderrRules recognise messages printed by mysqldump, mysql and bzip2.
// The first matching fragment wins.
var stderrRules = []struct {
	fragment string
	rule
}{
	{"Access denied", rule{ErrorTypePermission, "Access denied - check the username and password", false}},
	{"Unknown database", rule{ErrorTypeValidation, "The database does not exist", false}},
	{"Couldn't find table", rule{ErrorTypeValidation, "The table does not exist", false}},
	{"doesn't exist", rule{ErrorTypeValidation, "The table does not exist", false}},
	{"Unknown MySQL server host", rule{ErrorTypeConnection, "Unknown MySQL server host", false}},
	{"Can't connect", rule{ErrorTypeConnection, "Cannot connect to the MySQL server", true}},
	{"Lost connection", rule{ErrorTypeConnection, "Lost connection to the MySQL server", true}},
	{"No space left on device", rule{ErrorTypeFilesystem, "The backup directory is full", false}},
	{"Permission denied", rule{ErrorTypePermission, "Permission denied on the backup file", false}},
}

func matchStderr(stderr string) (rule, bool) {
	for _, r := range stderrRules {
		if strings.Contains(stderr, r.fragment) {
			return r.rule, true
		}
	}
	return rule{}, false
}

// NewCommandError describes the failure of an external program. Known
// messages on its standard error refine the error type.
func NewCommandError(program string, cause error, stderr string) *AppError {
	stderr = strings.TrimSpace(stderr)

	message := program + " failed"
	if stderr != "" {
		message = program + ": " + stderr
	}

	var appErr *AppError
	if r, ok := matchStderr(stderr); ok {
		appErr = r.build(message, cause)
	} else {
		base := NewErrorClassifier().ClassifyError(cause)
		appErr = &AppError{
			Type:        base.Type,
			Message:     message,
			Cause:       cause,
			Recoverable: base.Recoverable,
			UserMessage: base.UserMessage,
		}
	}

	appErr.WithContext("program", program)
	if stderr != "" {
		appErr.WithContext("stderr", stderr)
	}
	return appErr
}

// ErrorClassifier turns arbitrary errors into AppErrors.
type ErrorClassifier struct {
	classifiers []func(error) *AppError
}

// NewErrorClassifier creates a classifier trying, in order, MySQL server
// errors, external programs, context errors, network and file system.
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{
		classifiers: []func(error) *AppError{
			classifyMySQL,
			classifyProcess,
			classifyContext,
			classifyNetwork,
			classifyPath,
		},
	}
}

// ClassifyError returns err as an AppError. Errors that already are
// AppErrors are returned unchanged.
func (c *ErrorClassifier) ClassifyError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	for _, classify := range c.classifiers {
		if classified := classify(err); classified != nil {
			return classified
		}
	}

	return &AppError{
		Type:        ErrorTypeUnknown,
		Message:     err.Error(),
		Cause:       err,
		UserMessage: "An unexpected error occurred",
	}
}

func classifyMySQL(err error) *AppError {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		r, ok := mysqlRules[mysqlErr.Number]
		if !ok {
			r = rule{ErrorTypeUnknown, fmt.Sprintf("MySQL error %d", mysqlErr.Number), false}
		}
		return r.build(mysqlErr.Message, err).WithContext("mysql_error_code", mysqlErr.Number)
	}

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return rule{ErrorTypeValidation, "No rows returned", false}.build("query returned no rows", err)
	case errors.Is(err, sql.ErrConnDone), errors.Is(err, mysql.ErrInvalidConn):
		return rule{ErrorTypeConnection, "The database connection was closed", true}.build("connection is closed", err)
	}
	return nil
}

func classifyProcess(err error) *AppError {
	switch {
	case errors.Is(err, exec.ErrNotFound):
		return rule{
			ErrorTypeCommand,
			"Program not found in PATH - install the MySQL client and bzip2 or set the binaries section",
			false,
		}.build("executable not found", err)
	case errors.Is(err, os.ErrPermission):
		var pathErr *os.PathError
		if errors.As(err, &pathErr) && pathErr.Op == "fork/exec" {
			return rule{ErrorTypePermission, "The program is not executable", false}.build("cannot execute program", err)
		}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		msg := fmt.Sprintf("exited with status %d", exitErr.ExitCode())
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return rule{ErrorTypeInterruption, "The program was interrupted", false}.
				build(fmt.Sprintf("killed by %s", status.Signal()), err)
		}
		return rule{ErrorTypeCommand, "The program reported an error", false}.
			build(msg, err).WithContext("exit_code", exitErr.ExitCode())
	}
	return nil
}

func classifyContext(err error) *AppError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return rule{ErrorTypeTimeout, "The operation timed out", true}.build("deadline exceeded", err)
	case errors.Is(err, context.Canceled):
		return rule{ErrorTypeInterruption, "The operation was cancelled", false}.build("operation cancelled", err)
	}
	return nil
}

func classifyNetwork(err error) *AppError {
	var netErr net.Error
	if !errors.As(err, &netErr) {
		return nil
	}
	if netErr.Timeout() {
		return rule{ErrorTypeTimeout, "The MySQL server did not answer in time", true}.build("network timeout", err)
	}
	return rule{ErrorTypeConnection, "Cannot reach the MySQL server", true}.build("network error", err)
}

func classifyPath(err error) *AppError {
	var pathErr *os.PathError
	if !errors.As(err, &pathErr) {
		return nil
	}

	var r rule
	switch {
	case errors.Is(err, os.ErrNotExist):
		r = rule{ErrorTypeFilesystem, "File or directory not found", false}
	case errors.Is(err, os.ErrPermission):
		r = rule{ErrorTypePermission, "Permission denied", false}
	case errors.Is(err, syscall.ENOSPC):
		r = rule{ErrorTypeFilesystem, "No space left on device", false}
	default:
		r = rule{ErrorTypeFilesystem, "File system error", false}
	}
	return r.build(fmt.Sprintf("%s %s", pathErr.Op, pathErr.Path), err).WithContext("path", pathErr.Path)
}

// RetryHandler retries recoverable failures with linear backoff.
type RetryHandler struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// NewDefaultRetryHandler retries three times, 100ms apart at first.
func NewDefaultRetryHandler() *RetryHandler {
	return &RetryHandler{Attempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// Retry calls fn until it succeeds, fails with a non-recoverable error, the
// attempts run out or ctx is done.
func (r *RetryHandler) Retry(ctx context.Context, fn func() error) error {
	classifier := NewErrorClassifier()
	var last *AppError
	attempts := 0

	for attempts < r.Attempts {
		attempts++
		err := fn()
		if err == nil {
			return nil
		}

		last = classifier.ClassifyError(err)
		if !last.Recoverable || attempts == r.Attempts {
			break
		}

		timer := time.NewTimer(r.backoff(attempts))
		select {
		case <-ctx.Done():
			timer.Stop()
			return NewAppError(ErrorTypeInterruption, "retry cancelled", ctx.Err()).
				WithContext("last_error", last.Error())
		case <-timer.C:
		}
	}

	if last == nil {
		return nil
	}
	return last.WithContext("attempts", attempts)
}

func (r *RetryHandler) backoff(attempt int) time.Duration {
	delay := r.BaseDelay * time.Duration(attempt)
	if r.MaxDelay > 0 && delay > r.MaxDelay {
		return r.MaxDelay
	}
	return delay
}

// IsRecoverableError reports whether err is worth retrying.
func IsRecoverableError(err error) bool {
	appErr := NewErrorClassifier().ClassifyError(err)
	return appErr != nil && appErr.Recoverable
}

// GetErrorType returns the type of err, or ErrorTypeUnknown.
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

// FormatUserError renders err for the terminal. When err carries a hint that
// its text does not already contain, the hint follows on its own line.
func FormatUserError(err error) string {
	text := err.Error()

	var appErr *AppError
	if !errors.As(err, &appErr) || appErr.Type == ErrorTypeUnknown {
		return text
	}
	if hint := appErr.UserMessage; hint != "" && !strings.Contains(text, hint) {
		return text + "\nHint: " + hint
	}
	return text
}

// WrapError classifies err and prefixes message. A nil err stays nil.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	classified := NewErrorClassifier().ClassifyError(err)
	return &AppError{
		Type:        classified.Type,
		Message:     message,
		Cause:       err,
		Context:     classified.Context,
		Recoverable: classified.Recoverable,
		UserMessage: classified.UserMessage,
	}
}

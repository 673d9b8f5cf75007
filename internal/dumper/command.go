package dumper

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	apperrors "mysql-table-backup/internal/errors"
	"mysql-table-backup/internal/logging"
)

// PasswordEnv is the variable the MySQL clients read the password from.
const PasswordEnv = "MYSQL_PWD"

// Command is an argument vector for an external program. It is never passed
// through a shell. Env entries (KEY=value) are added to the inherited
// environment.
type Command struct {
	Name string
	Args []string
	Env  []string
}

// String renders the command as a shell-like line for logs, with the
// password masked and arguments containing spaces or quotes single-quoted.
// A password passed through the environment shows as -p*** after the user
// flag, where the MySQL clients would take it on the command line.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Env)+len(c.Args)+2)
	hasPassword := false
	for _, kv := range c.Env {
		if strings.HasPrefix(kv, PasswordEnv+"=") {
			hasPassword = true
			continue
		}
		parts = append(parts, shellQuote(kv))
	}
	parts = append(parts, shellQuote(c.Name))

	passwordAt := -1
	if hasPassword {
		passwordAt = 0
		if len(c.Args) > 0 && strings.HasPrefix(c.Args[0], "-u") {
			passwordAt = 1
		}
	}
	for i, arg := range c.Args {
		if i == passwordAt {
			parts = append(parts, "-p***")
		}
		if masked := logging.MaskPassword(arg); masked != arg {
			parts = append(parts, masked)
			continue
		}
		parts = append(parts, shellQuote(arg))
	}
	if passwordAt == len(c.Args) {
		parts = append(parts, "-p***")
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`;&|<>()*?!#") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Executor runs external programs. Pipe connects the producer's stdout to
// the consumer's stdin and writes the consumer's stdout to outputPath. Run
// feeds stdinPath (when set) to the command.
type Executor interface {
	Pipe(ctx context.Context, producer, consumer Command, outputPath string) error
	Run(ctx context.Context, cmd Command, stdinPath string) error
}

// ExecExecutor is the default Executor using os/exec.
type ExecExecutor struct {
	logger *logging.Logger
}

// NewExecExecutor creates an executor that logs every invocation.
func NewExecExecutor(logger *logging.Logger) *ExecExecutor {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ExecExecutor{logger: logger}
}

// Pipe runs producer | consumer > outputPath.
func (e *ExecExecutor) Pipe(ctx context.Context, producer, consumer Command, outputPath string) (err error) {
	start := time.Now()
	line := producer.String() + " | " + consumer.String() + " > " + shellQuote(outputPath)
	defer func() { e.logger.LogCommandExecution(ctx, line, time.Since(start), err) }()

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o750); err != nil {
		return apperrors.WrapError(err, "failed to create backup directory")
	}

	output, err := os.Create(outputPath) //nolint:gosec // outputPath is built by the dumper
	if err != nil {
		return apperrors.WrapError(err, "failed to create backup file")
	}
	defer func() {
		if closeErr := output.Close(); closeErr != nil && err == nil {
			err = apperrors.WrapError(closeErr, "failed to close backup file")
		}
	}()

	pr, pw, err := os.Pipe()
	if err != nil {
		return apperrors.WrapError(err, "failed to create pipe")
	}

	var producerStderr, consumerStderr bytes.Buffer

	prod := command(ctx, producer)
	prod.Stdout = pw
	prod.Stderr = &producerStderr

	cons := command(ctx, consumer)
	cons.Stdin = pr
	cons.Stdout = output
	cons.Stderr = &consumerStderr

	if err := cons.Start(); err != nil {
		pr.Close()
		pw.Close()
		return commandError(consumer.Name, err, nil)
	}
	if err := prod.Start(); err != nil {
		pw.Close()
		pr.Close()
		_ = cons.Wait()
		return commandError(producer.Name, err, nil)
	}

	// The children hold their own copies of the pipe ends.
	pw.Close()
	pr.Close()

	prodErr := prod.Wait()
	consErr := cons.Wait()

	if prodErr != nil {
		return commandError(producer.Name, prodErr, producerStderr.Bytes())
	}
	if consErr != nil {
		return commandError(consumer.Name, consErr, consumerStderr.Bytes())
	}
	return output.Sync()
}

// Run runs cmd, feeding it stdinPath when set.
func (e *ExecExecutor) Run(ctx context.Context, cmd Command, stdinPath string) (err error) {
	start := time.Now()
	line := cmd.String()
	if stdinPath != "" {
		line += " < " + shellQuote(stdinPath)
	}
	defer func() { e.logger.LogCommandExecution(ctx, line, time.Since(start), err) }()

	c := command(ctx, cmd)
	var stderr bytes.Buffer
	c.Stderr = &stderr

	if stdinPath != "" {
		input, err := os.Open(stdinPath) //nolint:gosec // stdinPath is a located backup
		if err != nil {
			return apperrors.WrapError(err, "failed to open restore input")
		}
		defer input.Close()
		c.Stdin = input
	}

	if err := c.Run(); err != nil {
		return commandError(cmd.Name, err, stderr.Bytes())
	}
	return nil
}

func command(ctx context.Context, c Command) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	return cmd
}

func commandError(program string, err error, stderr []byte) error {
	return apperrors.NewCommandError(program, err, string(stderr))
}

// DryRunExecutor only logs what would be executed.
type DryRunExecutor struct {
	logger *logging.Logger
}

// NewDryRunExecutor creates an executor that performs no work.
func NewDryRunExecutor(logger *logging.Logger) *DryRunExecutor {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &DryRunExecutor{logger: logger}
}

// Pipe logs producer | consumer > outputPath.
func (d *DryRunExecutor) Pipe(ctx context.Context, producer, consumer Command, outputPath string) error {
	d.logger.WithContext(ctx).WithField("dry_run", true).
		Info(producer.String() + " | " + consumer.String() + " > " + shellQuote(outputPath))
	return nil
}

// Run logs cmd < stdinPath.
func (d *DryRunExecutor) Run(ctx context.Context, cmd Command, stdinPath string) error {
	line := cmd.String()
	if stdinPath != "" {
		line += " < " + shellQuote(stdinPath)
	}
	d.logger.WithContext(ctx).WithField("dry_run", true).Info(line)
	return nil
}

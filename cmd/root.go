package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"mysql-table-backup/internal/confirmation"
	"mysql-table-backup/internal/database"
	"mysql-table-backup/internal/display"
	"mysql-table-backup/internal/dumper"
	apperrors "mysql-table-backup/internal/errors"
	"mysql-table-backup/internal/logging"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// cli holds the state shared by all subcommands of one root command.
type cli struct {
	v           *viper.Viper
	cfgFile     string
	askPassword bool

	out       io.Writer
	in        io.Reader
	logOutput io.Writer

	// Overridable collaborators; nil selects the real implementation.
	executor     dumper.Executor
	newCounter   func(ctx context.Context, cfg database.ConnectionConfig, logger *logging.Logger) (dumper.RowCounter, io.Closer, error)
	readPassword func() (string, error)
}

// flagBindings maps viper keys to persistent flag names.
var flagBindings = map[string]string{
	"connection.host":     "host",
	"connection.port":     "port",
	"connection.username": "user",
	"connection.password": "password",
	"connection.socket":   "socket",
	"connection.database": "database",
	"backup.dir":          "backup-dir",
	"log.format":          "log-format",
	"log.file":            "log-file",
	"verbose":             "verbose",
	"quiet":               "quiet",
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&cli{
		v:   viper.New(),
		out: os.Stdout,
		in:  os.Stdin,
	})
}

func newRootCommand(c *cli) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mysql-table-backup",
		Short: "Back up and restore single MySQL tables with mysqldump",
		Long: `mysql-table-backup dumps MySQL tables into bzip2-compressed, timestamped
files and restores the newest backup of a table on demand.

Backups are named {database}_{table}_{YYYY-MM-DD-HHMMSS}.sql.bz2 and kept in the
backup directory (default "tmp"). A database ending in _production or
_development also finds backups made under its sibling name.

Examples:
  # Dump two tables
  mysql-table-backup dump users orders --database app_development

  # Dump only rows matching a condition
  mysql-table-backup dump users --where "created_at > '2024-01-01'"

  # Restore the newest backup of users, taken from production
  mysql-table-backup restore users --db app_production

  # Show what would run without touching anything
  mysql-table-backup restore users --dry-run`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.initConfig()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (default is ./"+configFileName+".yaml or $HOME/"+configFileName+".yaml)")
	flags.String("host", "", "MySQL server host")
	flags.Int("port", 0, "MySQL server port")
	flags.StringP("user", "u", "", "MySQL user name")
	flags.StringP("password", "p", "", "MySQL password (prefer --ask-password or the environment)")
	flags.String("socket", "", "MySQL unix socket")
	flags.StringP("database", "d", "", "database name")
	flags.BoolVar(&c.askPassword, "ask-password", false, "prompt for the MySQL password")
	flags.String("backup-dir", "", "directory holding backups (default \"tmp\")")
	flags.BoolP("verbose", "v", false, "enable verbose output")
	flags.BoolP("quiet", "q", false, "suppress non-error output")
	flags.String("log-format", "", "log format (text, json)")
	flags.String("log-file", "", "also write logs to this file")

	for key, name := range flagBindings {
		_ = c.v.BindPFlag(key, flags.Lookup(name))
	}

	rootCmd.AddCommand(
		newDumpCommand(c),
		newRestoreCommand(c),
		newListCommand(c),
		newConfigCommand(),
		newVersionCommand(),
	)

	return rootCmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		reportError(display.NewPrinter(display.ConfigFor(os.Stderr, false)), err)
		if errors.Is(err, context.Canceled) || errors.Is(err, confirmation.ErrInterrupted) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}

// reportError prints every failure joined into err, each followed by its hint
// when one is known.
func reportError(p *display.Printer, err error) {
	for _, failure := range failures(err) {
		for _, line := range strings.Split(apperrors.FormatUserError(failure), "\n") {
			p.Error("%s", line)
		}
	}
}

func failures(err error) []error {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return []error{err}
	}
	var errs []error
	for _, e := range joined.Unwrap() {
		errs = append(errs, failures(e)...)
	}
	return errs
}

// initConfig reads in the config file and environment variables.
func (c *cli) initConfig() error {
	setViperDefaults(c.v)

	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
	} else {
		c.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			c.v.AddConfigPath(home)
		}
		c.v.SetConfigType("yaml")
		c.v.SetConfigName(configFileName)
	}

	c.v.SetEnvPrefix(envPrefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	c.v.AutomaticEnv()

	if err := c.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if c.cfgFile != "" || !errors.As(err, &notFound) {
			return apperrors.NewAppError(apperrors.ErrorTypeValidation, "failed to read config file", err)
		}
	}

	return nil
}

// session is the per-invocation state of a subcommand.
type session struct {
	ctx     context.Context
	cancel  context.CancelFunc
	config  *Config
	logger  *logging.Logger
	printer *display.Printer
}

func (c *cli) newSession(cmd *cobra.Command) (*session, error) {
	if c.askPassword {
		read := c.readPassword
		if read == nil {
			read = promptPassword
		}
		password, err := read()
		if err != nil {
			return nil, err
		}
		c.v.Set("connection.password", password)
	}

	config, err := buildConfig(c.v)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeValidation, "configuration error", err)
	}

	level := logging.LogLevel(config.Log.Level)
	logger, err := logging.NewLogger(logging.Config{
		Level:      level,
		Output:     c.logOutput,
		Format:     config.Log.Format,
		ShowCaller: level == logging.LogLevelDebug,
		LogFile:    config.Log.File,
	})
	if err != nil {
		return nil, apperrors.WrapError(err, "failed to initialize logger")
	}

	if used := c.v.ConfigFileUsed(); used != "" {
		logger.Debugf("Using config file: %s", used)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	ctx = logging.ContextWithRunID(ctx, uuid.NewString())

	return &session{
		ctx:     ctx,
		cancel:  cancel,
		config:  config,
		logger:  logger,
		printer: c.newPrinter(level == logging.LogLevelQuiet),
	}, nil
}

func (s *session) close() {
	s.cancel()
}

func (c *cli) newPrinter(quiet bool) *display.Printer {
	return display.NewPrinter(display.ConfigFor(c.out, quiet))
}

func (c *cli) newDumper(s *session, dryRun bool) (*dumper.Dumper, error) {
	opts, err := s.config.DumperOptions()
	if err != nil {
		return nil, err
	}

	switch {
	case dryRun:
		return dumper.NewWithExecutor(opts, s.logger, dumper.NewDryRunExecutor(s.logger)), nil
	case c.executor != nil:
		return dumper.NewWithExecutor(opts, s.logger, c.executor), nil
	default:
		return dumper.New(opts, s.logger), nil
	}
}

func (c *cli) connectCounter(s *session) (dumper.RowCounter, io.Closer, error) {
	if c.newCounter != nil {
		return c.newCounter(s.ctx, s.config.Connection, s.logger)
	}
	svc := database.NewService(s.logger)
	if err := svc.Connect(s.ctx, s.config.Connection); err != nil {
		return nil, nil, err
	}
	return svc, svc, nil
}

func promptPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", apperrors.NewAppError(apperrors.ErrorTypeValidation, "--ask-password requires an interactive terminal", nil)
	}

	fmt.Fprint(os.Stderr, "Enter password: ")
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", apperrors.WrapError(err, "failed to read password")
	}
	return string(password), nil
}

// tableRefs turns table arguments into references; no arguments selects the
// whole database.
func tableRefs(args []string) []dumper.TableRef {
	if len(args) == 0 {
		return []dumper.TableRef{dumper.NamedTable("")}
	}
	return dumper.NamedTables(args...)
}

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "mysql-table-backup version %s\n", version)
			fmt.Fprintf(out, "Built: %s\n", buildTime)
			fmt.Fprintf(out, "Commit: %s\n", gitCommit)
			fmt.Fprintf(out, "Go version: %s\n", goVersion)
		},
	}
}

func newConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Generate a sample configuration file",
		Long: `Print a configuration template that can be used with the --config flag
or saved as ` + configFileName + `.yaml.

Examples:
  mysql-table-backup config > ` + configFileName + `.yaml`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			sample, err := sampleConfig()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), sample)
			return nil
		},
	}
}

// Package dumper backs up and restores single MySQL tables by running
// mysqldump and the mysql client, keeping bzip2-compressed, timestamped
// files in a local backup directory.
package dumper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"mysql-table-backup/internal/database"
	apperrors "mysql-table-backup/internal/errors"
	"mysql-table-backup/internal/logging"
)

// DefaultBackupDir is where backups are written when no directory is configured.
const DefaultBackupDir = "tmp"

// Binaries names the external programs. Empty fields use the defaults.
type Binaries struct {
	Mysqldump string `mapstructure:"mysqldump" yaml:"mysqldump"`
	Mysql     string `mapstructure:"mysql" yaml:"mysql"`
	Bzip2     string `mapstructure:"bzip2" yaml:"bzip2"`
	Bunzip2   string `mapstructure:"bunzip2" yaml:"bunzip2"`
}

// DefaultBinaries returns the program names looked up in PATH.
func DefaultBinaries() Binaries {
	return Binaries{
		Mysqldump: "mysqldump",
		Mysql:     "mysql",
		Bzip2:     "bzip2",
		Bunzip2:   "bunzip2",
	}
}

func (b Binaries) withDefaults() Binaries {
	d := DefaultBinaries()
	if b.Mysqldump == "" {
		b.Mysqldump = d.Mysqldump
	}
	if b.Mysql == "" {
		b.Mysql = d.Mysql
	}
	if b.Bzip2 == "" {
		b.Bzip2 = d.Bzip2
	}
	if b.Bunzip2 == "" {
		b.Bunzip2 = d.Bunzip2
	}
	return b
}

// Options configures a Dumper.
type Options struct {
	Connection database.ConnectionConfig
	BackupDir  string
	Binaries   Binaries
	// RestoreCommand replaces the default `mysql <credentials> <database>`.
	RestoreCommand []string
	// Location is the time zone of backup timestamps; local time when nil.
	Location *time.Location
	// Now is the clock; time.Now when nil.
	Now func() time.Time
}

// DumpOptions applies to a whole Dump batch.
type DumpOptions struct {
	// Where is passed to every table as --where=<expr>.
	Where string
}

// RestoreOptions applies to a whole Restore batch.
type RestoreOptions struct {
	// Database overrides the candidates searched for backups.
	Database string
}

// RestorePlanItem is the backup Restore would use for one table.
type RestorePlanItem struct {
	Ref    TableRef
	Table  string
	Backup string
	Found  bool
}

// Dumper runs dumps and restores one table at a time. It is not safe for
// concurrent use.
type Dumper struct {
	config         database.ConnectionConfig
	backupDir      string
	binaries       Binaries
	restoreCommand []string
	location       *time.Location
	now            func() time.Time
	executor       Executor
	logger         *logging.Logger

	outputFilenames []string
}

// New creates a Dumper running real programs.
func New(opts Options, logger *logging.Logger) *Dumper {
	return NewWithExecutor(opts, logger, NewExecExecutor(logger))
}

// NewWithExecutor creates a Dumper with a custom executor.
func NewWithExecutor(opts Options, logger *logging.Logger, executor Executor) *Dumper {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	d := &Dumper{
		config:          opts.Connection,
		backupDir:       opts.BackupDir,
		binaries:        opts.Binaries.withDefaults(),
		restoreCommand:  opts.RestoreCommand,
		location:        opts.Location,
		now:             opts.Now,
		executor:        executor,
		logger:          logger,
		outputFilenames: []string{},
	}

	if d.backupDir == "" {
		d.backupDir = DefaultBackupDir
	}
	if d.location == nil {
		d.location = time.Local
	}
	if d.now == nil {
		d.now = time.Now
	}

	return d
}

// Database returns the configured database name.
func (d *Dumper) Database() string {
	return d.config.Database
}

// BackupDir returns the directory backups are written to and searched in.
func (d *Dumper) BackupDir() string {
	return d.backupDir
}

// Credentials returns the client flags derived from the connection
// configuration. Absent values are omitted. The password is not among them;
// see CredentialsEnv.
func (d *Dumper) Credentials() []string {
	var args []string

	if username := d.config.EffectiveUsername(); username != "" {
		args = append(args, "-u"+username)
	}
	if d.config.Host != "" {
		args = append(args, "-h"+d.config.Host)
	}
	if d.config.Port != 0 {
		args = append(args, "-P"+strconv.Itoa(d.config.Port))
	}
	if d.config.Socket != "" {
		args = append(args, "-S"+d.config.Socket)
	}

	return args
}

// CredentialsEnv passes the password through the environment so it never
// shows up in the process list.
func (d *Dumper) CredentialsEnv() []string {
	if d.config.Password == "" {
		return nil
	}
	return []string{PasswordEnv + "=" + d.config.Password}
}

// DumpCommand builds mysqldump <credentials> <database> [<table>] --lock-tables=false [--where=<expr>].
func (d *Dumper) DumpCommand(table, where string) Command {
	args := d.Credentials()
	args = append(args, d.config.Database)
	if table != "" {
		args = append(args, table)
	}
	args = append(args, "--lock-tables=false")
	if where != "" {
		args = append(args, "--where="+where)
	}
	return Command{Name: d.binaries.Mysqldump, Args: args, Env: d.CredentialsEnv()}
}

// CompressCommand reads stdin and writes bzip2 data to stdout.
func (d *Dumper) CompressCommand() Command {
	return Command{Name: d.binaries.Bzip2, Args: []string{"-c"}}
}

// DecompressCommand unpacks path next to itself, keeping the archive and
// overwriting a previous unpacked copy.
func (d *Dumper) DecompressCommand(path string) Command {
	return Command{Name: d.binaries.Bunzip2, Args: []string{"-k", "-f", path}}
}

// RestoreCommand is the same for every table; the SQL file decides what
// gets restored.
func (d *Dumper) RestoreCommand() Command {
	if len(d.restoreCommand) > 0 {
		return Command{Name: d.restoreCommand[0], Args: append([]string{}, d.restoreCommand[1:]...)}
	}
	args := d.Credentials()
	args = append(args, d.config.Database)
	return Command{Name: d.binaries.Mysql, Args: args, Env: d.CredentialsEnv()}
}

// OutputFile generates a new backup path for table and records it.
func (d *Dumper) OutputFile(table string) string {
	path := filepath.Join(d.backupDir, BackupFileName(d.config.Database, table, d.now().In(d.location)))
	d.outputFilenames = append(d.outputFilenames, path)
	return d.outputFilenames[len(d.outputFilenames)-1]
}

// OutputFilenames returns every path generated by this Dumper, in order.
func (d *Dumper) OutputFilenames() []string {
	return append([]string{}, d.outputFilenames...)
}

// ListBackups returns every backup of table, oldest first. Without db the
// configured database and its environment sibling are searched.
func (d *Dumper) ListBackups(table, db string) ([]BackupFile, error) {
	candidates := []string{db}
	if db == "" {
		candidates = DatabaseCandidates(d.config.Database)
	}
	files, err := findBackups(d.backupDir, candidates, table)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeValidation, "invalid backup pattern", err)
	}
	return files, nil
}

// LatestFile returns the backup with the greatest timestamp segment. Ties
// go to the most recently modified file, then to the greatest path.
func (d *Dumper) LatestFile(table, db string) (string, bool, error) {
	files, err := d.ListBackups(table, db)
	if err != nil {
		return "", false, err
	}
	if len(files) == 0 {
		return "", false, nil
	}
	return files[len(files)-1].Path, true, nil
}

// Dump writes one compressed backup per table, skipping model references
// without rows. It returns the references processed. A failing table does
// not stop the batch; failures are joined into the returned error.
func (d *Dumper) Dump(ctx context.Context, refs []TableRef, opts DumpOptions) ([]TableRef, error) {
	resolved, err := ResolveTables(ctx, refs, true)
	if err != nil {
		return nil, err
	}

	done := d.logger.LogOperationStart(ctx, "dump", map[string]interface{}{
		"database": d.config.Database,
		"tables":   len(resolved),
	})

	processed := make([]TableRef, 0, len(resolved))
	var errs []error

	for _, rt := range resolved {
		if err := ctx.Err(); err != nil {
			errs = append(errs, apperrors.WrapError(err, "dump interrupted"))
			break
		}

		table := rt.Table()
		output := d.OutputFile(table)
		start := time.Now()

		err := d.executor.Pipe(ctx, d.DumpCommand(table, opts.Where), d.CompressCommand(), output)
		d.logger.LogDump(ctx, d.config.Database, table, output, time.Since(start), err)
		if err != nil {
			d.removePartial(ctx, output)
			errs = append(errs, fmt.Errorf("dump %s: %w", describe(table), err))
		}

		processed = append(processed, rt.Ref)
	}

	err = errors.Join(errs...)
	done(err)
	return processed, err
}

// PlanRestore locates the backup Restore would use for each reference.
func (d *Dumper) PlanRestore(ctx context.Context, refs []TableRef, opts RestoreOptions) ([]RestorePlanItem, error) {
	resolved, err := ResolveTables(ctx, refs, false)
	if err != nil {
		return nil, err
	}

	plan := make([]RestorePlanItem, 0, len(resolved))
	for _, rt := range resolved {
		table := rt.Table()
		file, found, err := d.LatestFile(table, opts.Database)
		if err != nil {
			return nil, fmt.Errorf("locate backup of %s: %w", describe(table), err)
		}
		plan = append(plan, RestorePlanItem{Ref: rt.Ref, Table: table, Backup: file, Found: found})
	}
	return plan, nil
}

// Restore loads the latest backup of every table. Tables without a backup
// are left out of the result, as are tables whose restore failed; those
// failures are joined into the returned error.
func (d *Dumper) Restore(ctx context.Context, refs []TableRef, opts RestoreOptions) ([]TableRef, error) {
	plan, err := d.PlanRestore(ctx, refs, opts)
	if err != nil {
		return nil, err
	}
	return d.ExecutePlan(ctx, plan)
}

// ExecutePlan restores the items of a plan produced by PlanRestore.
func (d *Dumper) ExecutePlan(ctx context.Context, plan []RestorePlanItem) ([]TableRef, error) {
	done := d.logger.LogOperationStart(ctx, "restore", map[string]interface{}{
		"database": d.config.Database,
		"tables":   len(plan),
	})

	restored := make([]TableRef, 0, len(plan))
	var errs []error

	for _, item := range plan {
		if !item.Found {
			d.logger.WithContext(ctx).WithField("table", describe(item.Table)).Warn("No backup found, skipping")
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, apperrors.WrapError(err, "restore interrupted"))
			break
		}

		start := time.Now()
		err := d.restoreFile(ctx, item.Backup)
		d.logger.LogRestore(ctx, describe(item.Table), item.Backup, time.Since(start), err)
		if err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", describe(item.Table), err))
			continue
		}

		restored = append(restored, item.Ref)
	}

	err := errors.Join(errs...)
	done(err)
	return restored, err
}

func (d *Dumper) restoreFile(ctx context.Context, backup string) error {
	if err := d.executor.Run(ctx, d.DecompressCommand(backup), ""); err != nil {
		return err
	}
	return d.executor.Run(ctx, d.RestoreCommand(), DecompressedPath(backup))
}

// DecompressedPath strips the .bz2 suffix.
func DecompressedPath(backup string) string {
	return strings.TrimSuffix(backup, ".bz2")
}

func (d *Dumper) removePartial(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		d.logger.WithContext(ctx).WithField("path", path).Warnf("Failed to remove partial backup: %v", err)
	}
}

func describe(table string) string {
	if table == "" {
		return "(whole database)"
	}
	return table
}

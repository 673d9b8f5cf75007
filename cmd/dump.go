package cmd

import (
	"os"

	"mysql-table-backup/internal/display"
	"mysql-table-backup/internal/dumper"

	"github.com/spf13/cobra"
)

func newDumpCommand(c *cli) *cobra.Command {
	var (
		where     string
		skipEmpty bool
		dryRun    bool
	)

	dumpCmd := &cobra.Command{
		Use:   "dump [table...]",
		Short: "Dump tables into compressed backup files",
		Long: `Dump each table with mysqldump, piped through bzip2, into
{backup-dir}/{database}_{table}_{YYYY-MM-DD-HHMMSS}.sql.bz2.

Without table arguments the whole database is dumped into
{backup-dir}/{database}_{YYYY-MM-DD-HHMMSS}.sql.bz2.

A failing table does not stop the others; its partial file is removed and the
command exits non-zero after the remaining tables are dumped.`,
		Example: `  mysql-table-backup dump users orders
  mysql-table-backup dump users --where "id > 1000"
  mysql-table-backup dump users sessions audit_log --skip-empty`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.newSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			d, err := c.newDumper(s, dryRun)
			if err != nil {
				return err
			}

			refs := tableRefs(args)
			if skipEmpty && len(args) > 0 {
				counter, closer, err := c.connectCounter(s)
				if err != nil {
					return err
				}
				defer closer.Close()
				refs = dumper.ModelReferences(counter, args...)
			}

			processed, dumpErr := d.Dump(s.ctx, refs, dumper.DumpOptions{Where: where})
			if processed != nil {
				reportDump(s.printer, d, len(refs), len(processed), dryRun)
			}
			return dumpErr
		},
	}

	dumpCmd.Flags().StringVar(&where, "where", "", "dump only rows matching this condition")
	dumpCmd.Flags().BoolVar(&skipEmpty, "skip-empty", false, "count rows first and skip empty tables")
	dumpCmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the commands without running them")

	return dumpCmd
}

func reportDump(p *display.Printer, d *dumper.Dumper, requested, processed int, dryRun bool) {
	if skipped := requested - processed; skipped > 0 {
		p.Info("Skipped %d empty table(s)", skipped)
	}

	if dryRun {
		for _, path := range d.OutputFilenames() {
			p.Info("Would write %s", path)
		}
		p.Success("Dry run: %d table(s) would be dumped", processed)
		return
	}

	written := 0
	for _, path := range d.OutputFilenames() {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		written++
		p.Success("Wrote %s (%s)", path, display.FormatSize(info.Size()))
	}

	if written == processed {
		p.Success("Dumped %d table(s) into %s", written, d.BackupDir())
		return
	}
	p.Warning("Dumped %d of %d table(s) into %s", written, processed, d.BackupDir())
}

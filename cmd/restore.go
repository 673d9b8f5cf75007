package cmd

import (
	"mysql-table-backup/internal/confirmation"
	"mysql-table-backup/internal/dumper"

	"github.com/spf13/cobra"
)

func newRestoreCommand(c *cli) *cobra.Command {
	var (
		db          string
		autoApprove bool
		dryRun      bool
	)

	restoreCmd := &cobra.Command{
		Use:   "restore [table...]",
		Short: "Restore tables from their newest backup",
		Long: `Restore each table from the backup with the newest timestamp.

Backups are searched under the configured database name and, for names ending
in _production or _development, under the sibling name as well. --db searches
a single other database name instead; data is always restored into the
configured database.

Tables without a backup are skipped. Without table arguments the newest
whole-database backup is restored.`,
		Example: `  mysql-table-backup restore users
  mysql-table-backup restore users orders --db app_production --auto-approve`,
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

			plan, err := d.PlanRestore(s.ctx, tableRefs(args), dumper.RestoreOptions{Database: db})
			if err != nil {
				return err
			}

			confirm := confirmation.NewConfirmationService(s.printer, c.in)
			if dryRun {
				confirm.DisplayRestorePlan(d.Database(), plan)
			} else {
				ok, err := confirm.ConfirmRestore(d.Database(), plan, autoApprove)
				if err != nil || !ok {
					return err
				}
			}

			restored, err := d.ExecutePlan(s.ctx, plan)
			if dryRun {
				s.printer.Success("Dry run: %d of %d table(s) would be restored", len(restored), len(plan))
				return err
			}
			if len(restored) == len(plan) {
				s.printer.Success("Restored %d table(s) into %s", len(restored), d.Database())
			} else {
				s.printer.Warning("Restored %d of %d table(s) into %s", len(restored), len(plan), d.Database())
			}
			return err
		},
	}

	restoreCmd.Flags().StringVar(&db, "db", "", "database name to take backups from")
	restoreCmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "restore without asking for confirmation")
	restoreCmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the commands without running them")

	return restoreCmd
}

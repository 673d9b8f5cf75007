package cmd

import (
	"os"

	"mysql-table-backup/internal/display"

	"github.com/spf13/cobra"
)

func newListCommand(c *cli) *cobra.Command {
	var db string

	listCmd := &cobra.Command{
		Use:   "list [table]",
		Short: "List the backups of a table",
		Long: `List the backups of a table, oldest first, marking the one restore would
use. Without a table the whole-database backups are listed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.newSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			d, err := c.newDumper(s, false)
			if err != nil {
				return err
			}

			table := ""
			if len(args) == 1 {
				table = args[0]
			}

			files, err := d.ListBackups(table, db)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				s.printer.Info("No backups found in %s", d.BackupDir())
				return nil
			}

			rows := make([]display.BackupRow, 0, len(files))
			for i, f := range files {
				row := display.BackupRow{Path: f.Path, ModTime: f.ModTime, Latest: i == len(files)-1}
				if info, err := os.Stat(f.Path); err == nil {
					row.Size = info.Size()
				}
				rows = append(rows, row)
			}
			s.printer.BackupTable(rows)
			return nil
		},
	}

	listCmd.Flags().StringVar(&db, "db", "", "database name to list backups of")

	return listCmd
}

package confirmation

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"mysql-table-backup/internal/display"
	"mysql-table-backup/internal/dumper"
)

// ErrInterrupted is returned when the prompt is cancelled by a signal.
var ErrInterrupted = errors.New("confirmation interrupted")

// ConfirmationService asks the user before a restore overwrites tables.
type ConfirmationService interface {
	ConfirmRestore(database string, plan []dumper.RestorePlanItem, autoApprove bool) (bool, error)
	DisplayRestorePlan(database string, plan []dumper.RestorePlanItem)
}

type confirmationService struct {
	printer *display.Printer
	reader  *bufio.Reader
	signals chan os.Signal
}

// NewConfirmationService reads answers from r, usually stdin.
func NewConfirmationService(printer *display.Printer, r io.Reader) ConfirmationService {
	return &confirmationService{
		printer: printer,
		reader:  bufio.NewReader(r),
	}
}

// ConfirmRestore shows the plan and prompts for confirmation. It returns
// false without prompting when nothing in the plan has a backup.
func (cs *confirmationService) ConfirmRestore(database string, plan []dumper.RestorePlanItem, autoApprove bool) (bool, error) {
	cs.DisplayRestorePlan(database, plan)

	if countFound(plan) == 0 {
		cs.printer.Warning("No backups found, nothing to restore")
		return false, nil
	}

	if autoApprove {
		cs.printer.Success("Auto-approving restore...")
		return true, nil
	}

	interrupt := cs.signals
	if interrupt == nil {
		interrupt = make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(interrupt)
	}

	type answer struct {
		input string
		err   error
	}

	for {
		answers := make(chan answer, 1)
		go func() {
			input, err := cs.prompt()
			answers <- answer{input: input, err: err}
		}()

		select {
		case <-interrupt:
			cs.printer.Warning("Restore cancelled by user")
			return false, ErrInterrupted
		case a := <-answers:
			if a.err != nil {
				return false, fmt.Errorf("failed to read user input: %w", a.err)
			}
			switch strings.ToLower(a.input) {
			case "y", "yes":
				return true, nil
			case "n", "no", "":
				cs.printer.Info("Restore cancelled")
				return false, nil
			default:
				cs.printer.Warning("Invalid input '%s'. Please enter 'y' for yes or 'n' for no.", a.input)
			}
		}
	}
}

// DisplayRestorePlan lists the backup each table would be restored from.
func (cs *confirmationService) DisplayRestorePlan(database string, plan []dumper.RestorePlanItem) {
	cs.printer.Println(cs.printer.Highlight(fmt.Sprintf("Restore into %s", database)))

	rows := make([][]string, 0, len(plan))
	for _, item := range plan {
		table := item.Table
		if table == "" {
			table = "(whole database)"
		}
		backup := item.Backup
		if !item.Found {
			backup = "no backup found"
		}
		rows = append(rows, []string{table, backup})
	}
	cs.printer.Table([]string{"TABLE", "BACKUP"}, rows)

	if missing := len(plan) - countFound(plan); missing > 0 {
		cs.printer.Warning("%d table(s) have no backup and will be skipped", missing)
	}
}

func (cs *confirmationService) prompt() (string, error) {
	cs.printer.Prompt("Existing data in these tables will be replaced. Continue? [y/N]: ")

	input, err := cs.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && input != "") {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

func countFound(plan []dumper.RestorePlanItem) int {
	n := 0
	for _, item := range plan {
		if item.Found {
			n++
		}
	}
	return n
}

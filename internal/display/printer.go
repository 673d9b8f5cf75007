// Package display renders command results for the terminal.
package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Icon has a Unicode symbol and an ASCII fallback.
type Icon struct {
	Unicode string
	ASCII   string
	Color   Color
}

var (
	IconSuccess = Icon{Unicode: "✓", ASCII: "[OK]", Color: ColorSuccess}
	IconInfo    = Icon{Unicode: "ℹ", ASCII: "[i]", Color: ColorInfo}
	IconWarning = Icon{Unicode: "⚠", ASCII: "[!]", Color: ColorWarning}
	IconError   = Icon{Unicode: "✗", ASCII: "[X]", Color: ColorError}
)

// Config controls a Printer.
type Config struct {
	Output     io.Writer
	UseColors  bool
	UseUnicode bool
	Quiet      bool
}

// ConfigFor detects the terminal capabilities of w.
func ConfigFor(w io.Writer, quiet bool) Config {
	return Config{
		Output:     w,
		UseColors:  DetectColorSupport(w),
		UseUnicode: DetectUnicodeSupport(w),
		Quiet:      quiet,
	}
}

// Printer writes status lines and tables. Quiet suppresses everything
// except errors and warnings.
type Printer struct {
	out     io.Writer
	colors  *colorSystem
	unicode bool
	quiet   bool
}

// NewPrinter creates a Printer.
func NewPrinter(cfg Config) *Printer {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	return &Printer{
		out:     cfg.Output,
		colors:  newColorSystem(cfg.UseColors),
		unicode: cfg.UseUnicode,
		quiet:   cfg.Quiet,
	}
}

func (p *Printer) icon(i Icon) string {
	symbol := i.ASCII
	if p.unicode {
		symbol = i.Unicode
	}
	return p.colors.Sprint(i.Color, symbol)
}

func (p *Printer) line(i Icon, format string, args ...interface{}) {
	fmt.Fprintf(p.out, "%s %s\n", p.icon(i), fmt.Sprintf(format, args...))
}

// Success prints a success line.
func (p *Printer) Success(format string, args ...interface{}) {
	if p.quiet {
		return
	}
	p.line(IconSuccess, format, args...)
}

// Info prints an informational line.
func (p *Printer) Info(format string, args ...interface{}) {
	if p.quiet {
		return
	}
	p.line(IconInfo, format, args...)
}

// Warning prints a warning line.
func (p *Printer) Warning(format string, args ...interface{}) {
	p.line(IconWarning, format, args...)
}

// Error prints an error line.
func (p *Printer) Error(format string, args ...interface{}) {
	p.line(IconError, "%s", p.colors.Sprintf(ColorError, format, args...))
}

// Println prints plain text.
func (p *Printer) Println(text string) {
	if p.quiet {
		return
	}
	fmt.Fprintln(p.out, text)
}

// Prompt prints text without a newline, even when quiet.
func (p *Printer) Prompt(text string) {
	fmt.Fprint(p.out, "\n"+p.Highlight(text))
}

// Highlight bolds text.
func (p *Printer) Highlight(text string) string {
	return p.colors.Sprint(ColorHighlight, text)
}

// Muted dims text.
func (p *Printer) Muted(text string) string {
	return p.colors.Sprint(ColorMuted, text)
}

// Table prints rows with left-aligned, padded columns. Color codes are not
// counted in the column widths, so cells should be plain text.
func (p *Printer) Table(headers []string, rows [][]string) {
	if p.quiet {
		return
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len([]rune(h))
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len([]rune(cell)) > widths[i] {
				widths[i] = len([]rune(cell))
			}
		}
	}

	render := func(cells []string, style func(string) string) {
		parts := make([]string, len(widths))
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			padded := cell + strings.Repeat(" ", widths[i]-len([]rune(cell)))
			if i == len(widths)-1 {
				padded = cell
			}
			parts[i] = style(padded)
		}
		fmt.Fprintln(p.out, strings.Join(parts, "  "))
	}

	render(headers, p.Highlight)
	for _, row := range rows {
		render(row, func(s string) string { return s })
	}
}

// BackupRow describes one backup file for BackupTable.
type BackupRow struct {
	Path    string
	Size    int64
	ModTime time.Time
	Latest  bool
}

// BackupTable lists backups, marking the one a restore would use.
func (p *Printer) BackupTable(rows []BackupRow) {
	table := make([][]string, 0, len(rows))
	for _, r := range rows {
		marker := ""
		if r.Latest {
			marker = "latest"
		}
		table = append(table, []string{
			r.Path,
			FormatSize(r.Size),
			r.ModTime.Format("2006-01-02 15:04:05"),
			marker,
		})
	}
	p.Table([]string{"FILE", "SIZE", "MODIFIED", ""}, table)
}

// FormatSize renders a byte count with a binary unit.
func FormatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// FormatDuration rounds d for display.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}

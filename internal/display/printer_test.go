package display

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPrinter(quiet bool) (*Printer, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewPrinter(Config{Output: &buf, Quiet: quiet}), &buf
}

func TestPrinter_StatusLines(t *testing.T) {
	p, buf := newTestPrinter(false)

	p.Success("Dumped %d table(s)", 2)
	p.Info("Backup directory: %s", "tmp")
	p.Warning("No backup found for %s", "users")
	p.Error("restore %s failed", "orders")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "[OK] Dumped 2 table(s)", lines[0])
	assert.Equal(t, "[i] Backup directory: tmp", lines[1])
	assert.Equal(t, "[!] No backup found for users", lines[2])
	assert.Equal(t, "[X] restore orders failed", lines[3])
}

func TestPrinter_QuietKeepsProblems(t *testing.T) {
	p, buf := newTestPrinter(true)

	p.Success("done")
	p.Info("info")
	p.Println("plain")
	p.Table([]string{"A"}, [][]string{{"x"}})
	p.Warning("careful")
	p.Error("broken")

	assert.Equal(t, "[!] careful\n[X] broken\n", buf.String())
}

func TestPrinter_Unicode(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(Config{Output: &buf, UseUnicode: true})

	p.Success("ok")
	assert.Equal(t, "✓ ok\n", buf.String())
}

func TestPrinter_Colors(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(Config{Output: &buf, UseColors: true})

	p.Warning("careful")
	assert.Contains(t, buf.String(), "\x1b[")

	plain, plainBuf := newTestPrinter(false)
	plain.Warning("careful")
	assert.NotContains(t, plainBuf.String(), "\x1b[")
}

func TestPrinter_BackupTable(t *testing.T) {
	p, buf := newTestPrinter(false)
	modified := time.Date(2024, 2, 29, 23, 59, 7, 0, time.UTC)

	p.BackupTable([]BackupRow{
		{Path: "tmp/app_users_2024-01-01-000000.sql.bz2", Size: 512, ModTime: modified},
		{Path: "tmp/app_users_2024-02-29-235907.sql.bz2", Size: 2048, ModTime: modified, Latest: true},
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "FILE"))
	assert.Contains(t, lines[1], "512 B")
	assert.NotContains(t, lines[1], "latest")
	assert.Contains(t, lines[2], "2.0 KiB")
	assert.Contains(t, lines[2], "2024-02-29 23:59:07")
	assert.True(t, strings.HasSuffix(lines[2], "latest"))
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatSize(tt.in))
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", FormatDuration(250*time.Millisecond+300*time.Microsecond))
	assert.Equal(t, "1.5s", FormatDuration(1520*time.Millisecond))
	assert.Equal(t, "2m3s", FormatDuration(2*time.Minute+3*time.Second+400*time.Millisecond))
}

func TestDetectColorSupport_NonFile(t *testing.T) {
	t.Setenv("FORCE_COLOR", "")
	assert.False(t, DetectColorSupport(&bytes.Buffer{}))

	t.Setenv("NO_COLOR", "1")
	t.Setenv("FORCE_COLOR", "1")
	assert.False(t, DetectColorSupport(&bytes.Buffer{}), "NO_COLOR wins")
}

func TestConfigFor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	var buf bytes.Buffer

	cfg := ConfigFor(&buf, true)

	assert.Same(t, &buf, cfg.Output)
	assert.False(t, cfg.UseColors)
	assert.True(t, cfg.Quiet)

	NewPrinter(cfg).Error("still shown")
	assert.Contains(t, buf.String(), "still shown")
}

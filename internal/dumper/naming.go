package dumper

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// TimestampLayout is the fixed-width, zero-padded stamp embedded in
	// backup file names. It sorts lexicographically in time order.
	TimestampLayout = "2006-01-02-150405"

	// BackupExtension is appended to every backup file name.
	BackupExtension = ".sql.bz2"

	timestampGlob = "[0-9][0-9][0-9][0-9]-[0-9][0-9]-[0-9][0-9]-[0-9][0-9][0-9][0-9][0-9][0-9]"
)

// Environment suffixes that are tried as fallbacks for each other when
// looking for a backup to restore.
var stages = []string{"production", "development"}

// BackupFile is one backup found on disk.
type BackupFile struct {
	Path    string
	ModTime time.Time
}

// SortKey is the last underscore separated segment of the file name: the
// timestamp plus extension.
func (b BackupFile) SortKey() string {
	return sortKey(b.Path)
}

func sortKey(path string) string {
	base := filepath.Base(path)
	return base[strings.LastIndex(base, "_")+1:]
}

// BackupFileName builds {database}[_{table}]_{timestamp}.sql.bz2.
func BackupFileName(database, table string, at time.Time) string {
	parts := []string{database}
	if table != "" {
		parts = append(parts, table)
	}
	parts = append(parts, at.Format(TimestampLayout))
	return strings.Join(parts, "_") + BackupExtension
}

// DatabaseCandidates lists the database names whose backups may be restored
// into database, most preferred first. app_production also tries
// app_development and vice versa.
func DatabaseCandidates(database string) []string {
	candidates := []string{database}

	parts := strings.Split(database, "_")
	last := parts[len(parts)-1]
	if !isStage(last) {
		return candidates
	}

	prefix := parts[:len(parts)-1]
	for _, stage := range stages {
		if stage == last {
			continue
		}
		sibling := append(append([]string{}, prefix...), stage)
		candidates = append(candidates, strings.Join(sibling, "_"))
	}
	return candidates
}

func isStage(s string) bool {
	for _, stage := range stages {
		if s == stage {
			return true
		}
	}
	return false
}

// backupGlob returns the pattern matching every backup of database/table in dir.
func backupGlob(dir, database, table string) string {
	parts := []string{escapeGlob(database)}
	if table != "" {
		parts = append(parts, escapeGlob(table))
	}
	parts = append(parts, timestampGlob)
	return filepath.Join(escapeGlob(dir), strings.Join(parts, "_")+BackupExtension)
}

// escapeGlob quotes the metacharacters of s so filepath.Glob matches it
// literally. Windows has no escape character, so there a one-rune class
// stands in.
func escapeGlob(s string) string {
	windows := filepath.Separator == '\\'
	var b strings.Builder
	for _, r := range s {
		switch {
		case windows && (r == '*' || r == '?' || r == '['):
			b.WriteString("[" + string(r) + "]")
			continue
		case !windows && strings.ContainsRune(`*?[]\`, r):
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// findBackups globs every candidate database and returns the union of the
// matches ordered oldest first: by sort key, then modification time, then path.
func findBackups(dir string, candidates []string, table string) ([]BackupFile, error) {
	seen := make(map[string]bool)
	var files []BackupFile

	for _, candidate := range candidates {
		matches, err := filepath.Glob(backupGlob(dir, candidate, table))
		if err != nil {
			return nil, err
		}
		for _, match := range matches {
			if seen[match] {
				continue
			}
			seen[match] = true

			file := BackupFile{Path: match}
			if info, err := os.Stat(match); err == nil {
				file.ModTime = info.ModTime()
			}
			files = append(files, file)
		}
	}

	sort.SliceStable(files, func(i, j int) bool {
		ki, kj := files[i].SortKey(), files[j].SortKey()
		if ki != kj {
			return ki < kj
		}
		if !files[i].ModTime.Equal(files[j].ModTime) {
			return files[i].ModTime.Before(files[j].ModTime)
		}
		return files[i].Path < files[j].Path
	})

	return files, nil
}

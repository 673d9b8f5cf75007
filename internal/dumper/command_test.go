package dumper

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	apperrors "mysql-table-backup/internal/errors"
	"mysql-table-backup/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	for _, name := range []string{"sh", "cat"} {
		if _, err := exec.LookPath(name); err != nil {
			t.Skipf("%s not available: %v", name, err)
		}
	}
}

func TestCommand_String(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{"plain", Command{Name: "bzip2", Args: []string{"-c"}}, "bzip2 -c"},
		{"password masked", Command{Name: "mysql", Args: []string{"-uroot", "-phunter2", "app"}}, "mysql -uroot -p*** app"},
		{"spaces quoted", Command{Name: "mysqldump", Args: []string{"app", "--where=id > 5"}}, "mysqldump app '--where=id > 5'"},
		{"single quote escaped", Command{Name: "mysqldump", Args: []string{"--where=name = 'x'"}}, `mysqldump '--where=name = '\''x'\'''`},
		{"empty argument", Command{Name: "mysql", Args: []string{""}}, "mysql ''"},
		{"password from env", Command{Name: "mysql", Args: []string{"-uroot", "app"}, Env: []string{"MYSQL_PWD=hunter2", "TZ=UTC"}}, "TZ=UTC mysql -uroot -p*** app"},
		{"password from env without user", Command{Name: "mysql", Args: []string{"app"}, Env: []string{"MYSQL_PWD=hunter2"}}, "mysql -p*** app"},
		{"password from env only", Command{Name: "mysql", Env: []string{"MYSQL_PWD=hunter2"}}, "mysql -p***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cmd.String())
		})
	}
}

func TestExecExecutor_Pipe(t *testing.T) {
	requireShell(t)

	output := filepath.Join(t.TempDir(), "nested", "app_users.sql.bz2")
	executor := NewExecExecutor(logging.NewNopLogger())

	err := executor.Pipe(context.Background(),
		Command{Name: "sh", Args: []string{"-c", "printf 'INSERT INTO users VALUES (1);'"}},
		Command{Name: "cat"},
		output)
	require.NoError(t, err)

	content, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO users VALUES (1);", string(content))
}

func TestExecExecutor_Pipe_ProducerFailure(t *testing.T) {
	requireShell(t)

	output := filepath.Join(t.TempDir(), "out.sql.bz2")
	executor := NewExecExecutor(logging.NewNopLogger())

	err := executor.Pipe(context.Background(),
		Command{Name: "sh", Args: []string{"-c", "echo 'Access denied for user' >&2; exit 2"}},
		Command{Name: "cat"},
		output)

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypePermission, apperrors.GetErrorType(err), "stderr refines the type")
	assert.Contains(t, err.Error(), "Access denied for user")
}

func TestExecExecutor_Pipe_MissingBinary(t *testing.T) {
	requireShell(t)

	executor := NewExecExecutor(logging.NewNopLogger())
	err := executor.Pipe(context.Background(),
		Command{Name: "definitely-not-mysqldump"},
		Command{Name: "cat"},
		filepath.Join(t.TempDir(), "out.sql.bz2"))

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeCommand, apperrors.GetErrorType(err))
}

func TestExecExecutor_Run_WithStdin(t *testing.T) {
	requireShell(t)

	dir := t.TempDir()
	input := filepath.Join(dir, "app_users.sql")
	copyPath := filepath.Join(dir, "copy.sql")
	require.NoError(t, os.WriteFile(input, []byte("DROP TABLE IF EXISTS users;"), 0o600))

	executor := NewExecExecutor(logging.NewNopLogger())
	err := executor.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "cat > " + copyPath}}, input)
	require.NoError(t, err)

	content, err := os.ReadFile(copyPath)
	require.NoError(t, err)
	assert.Equal(t, "DROP TABLE IF EXISTS users;", string(content))
}

func TestExecExecutor_Run_Failure(t *testing.T) {
	requireShell(t)

	executor := NewExecExecutor(logging.NewNopLogger())
	err := executor.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "exit 1"}}, "")

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeCommand, apperrors.GetErrorType(err))

	err = executor.Run(context.Background(), Command{Name: "cat"}, filepath.Join(t.TempDir(), "missing.sql"))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeFilesystem, apperrors.GetErrorType(err))
}

func TestDryRunExecutor(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.NewLogger(logging.Config{Level: logging.LogLevelNormal, Output: &buf})
	require.NoError(t, err)

	output := filepath.Join(t.TempDir(), "app_users.sql.bz2")
	executor := NewDryRunExecutor(logger)

	require.NoError(t, executor.Pipe(context.Background(),
		Command{Name: "mysqldump", Args: []string{"-psecret", "app", "users"}},
		Command{Name: "bzip2", Args: []string{"-c"}},
		output))
	require.NoError(t, executor.Run(context.Background(), Command{Name: "mysql", Args: []string{"app"}}, "tmp/app.sql"))

	assert.NoFileExists(t, output)
	logged := buf.String()
	assert.Contains(t, logged, "mysqldump -p*** app users | bzip2 -c")
	assert.Contains(t, logged, "mysql app < tmp/app.sql")
	assert.False(t, strings.Contains(logged, "secret"))
}

func TestExecExecutor_Run_PassesEnvironment(t *testing.T) {
	requireShell(t)

	out := filepath.Join(t.TempDir(), "pwd.txt")
	executor := NewExecExecutor(logging.NewNopLogger())
	err := executor.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", `printf '%s' "$MYSQL_PWD" > ` + out},
		Env:  []string{"MYSQL_PWD=hunter2"},
	}, "")
	require.NoError(t, err)

	content, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(content))
}

func TestExecExecutor_Pipe_ClosesOutput(t *testing.T) {
	requireShell(t)

	output := filepath.Join(t.TempDir(), "app_users.sql.bz2")
	executor := NewExecExecutor(logging.NewNopLogger())
	require.NoError(t, executor.Pipe(context.Background(),
		Command{Name: "sh", Args: []string{"-c", "printf done"}},
		Command{Name: "cat"},
		output))

	// The file is complete and closed once Pipe returns.
	require.NoError(t, os.Remove(output))
	assert.NoFileExists(t, output)
}

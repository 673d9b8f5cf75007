//go:build integration
// +build integration

package cmd

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const integrationDatabase = "table_backup_it_development"

type integrationConfig struct {
	Host     string
	Port     string
	User     string
	Password string
}

func getIntegrationConfig(t *testing.T) *integrationConfig {
	for _, bin := range []string{"mysqldump", "mysql", "bzip2", "bunzip2"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Logf("%s not available for integration tests: %v", bin, err)
			return nil
		}
	}

	config := &integrationConfig{
		Host:     envOr("MYSQL_TEST_HOST", "127.0.0.1"),
		Port:     envOr("MYSQL_TEST_PORT", "3306"),
		User:     envOr("MYSQL_TEST_USER", "root"),
		Password: envOr("MYSQL_TEST_PASSWORD", "password"),
	}

	db, err := sql.Open("mysql", config.dsn("mysql"))
	if err != nil {
		t.Logf("MySQL not available for integration tests: %v", err)
		return nil
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		t.Logf("MySQL not available for integration tests: %v", err)
		return nil
	}

	return config
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func (c *integrationConfig) dsn(database string) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s", c.User, c.Password, c.Host, c.Port, database)
}

func (c *integrationConfig) args() []string {
	return []string{"--host", c.Host, "--port", c.Port, "-u", c.User, "-p", c.Password, "-d", integrationDatabase}
}

func TestDumpRestoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}

	config := getIntegrationConfig(t)
	if config == nil {
		t.Skip("Integration test configuration not available")
	}

	admin, err := sql.Open("mysql", config.dsn("mysql"))
	require.NoError(t, err)
	defer admin.Close()

	_, err = admin.Exec("CREATE DATABASE IF NOT EXISTS " + integrationDatabase)
	require.NoError(t, err)
	defer admin.Exec("DROP DATABASE IF EXISTS " + integrationDatabase)

	db, err := sql.Open("mysql", config.dsn(integrationDatabase))
	require.NoError(t, err)
	defer db.Close()

	for _, stmt := range []string{
		`DROP TABLE IF EXISTS customers`,
		`DROP TABLE IF EXISTS sessions`,
		`CREATE TABLE customers (id INT PRIMARY KEY, name VARCHAR(100) NOT NULL)`,
		`CREATE TABLE sessions (id INT PRIMARY KEY)`,
		`INSERT INTO customers VALUES (1, 'Ada'), (2, 'Grace'), (3, 'Linus')`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}

	backupDir := filepath.Join(t.TempDir(), "backups")
	run := func(input string, args ...string) (string, error) {
		var out bytes.Buffer
		root := newRootCommand(&cli{
			v:         viper.New(),
			out:       &out,
			in:        strings.NewReader(input),
			logOutput: &bytes.Buffer{},
		})
		root.SetArgs(append(append(args, config.args()...), "--backup-dir", backupDir))
		err := root.Execute()
		return out.String(), err
	}

	t.Run("dump skips empty tables", func(t *testing.T) {
		out, err := run("", "dump", "customers", "sessions", "--skip-empty")
		require.NoError(t, err, out)

		files, err := filepath.Glob(filepath.Join(backupDir, integrationDatabase+"_*.sql.bz2"))
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Contains(t, files[0], integrationDatabase+"_customers_")
	})

	t.Run("restore brings rows back", func(t *testing.T) {
		_, err := db.Exec("DELETE FROM customers WHERE id > 1")
		require.NoError(t, err)

		out, err := run("y\n", "restore", "customers")
		require.NoError(t, err, out)

		var count int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM customers").Scan(&count))
		assert.Equal(t, 3, count)
	})

	t.Run("dump with where", func(t *testing.T) {
		time.Sleep(time.Second) // distinct timestamp
		out, err := run("", "dump", "customers", "--where", "id = 2")
		require.NoError(t, err, out)

		out, err = run("", "restore", "customers", "--auto-approve")
		require.NoError(t, err, out)

		var names []string
		rows, err := db.Query("SELECT name FROM customers ORDER BY id")
		require.NoError(t, err)
		defer rows.Close()
		for rows.Next() {
			var name string
			require.NoError(t, rows.Scan(&name))
			names = append(names, name)
		}
		assert.Equal(t, []string{"Grace"}, names)
	})

	t.Run("unknown table fails without leaving a file", func(t *testing.T) {
		_, err := run("", "dump", "does_not_exist")
		require.Error(t, err)

		files, _ := filepath.Glob(filepath.Join(backupDir, integrationDatabase+"_does_not_exist_*"))
		assert.Empty(t, files)
	})
}

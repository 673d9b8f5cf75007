package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"mysql-table-backup/internal/database"
	"mysql-table-backup/internal/dumper"
	"mysql-table-backup/internal/logging"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix      = "MYSQL_TABLE_BACKUP"
	configFileName = ".mysql-table-backup"
)

// Config is the complete CLI configuration, merged from the config file,
// environment variables and flags.
type Config struct {
	Connection database.ConnectionConfig `mapstructure:"connection" yaml:"connection"`
	Backup     BackupConfig              `mapstructure:"backup" yaml:"backup"`
	Binaries   dumper.Binaries           `mapstructure:"binaries" yaml:"binaries"`
	Restore    RestoreConfig             `mapstructure:"restore" yaml:"restore"`
	Log        LogConfig                 `mapstructure:"log" yaml:"log"`
}

// BackupConfig controls where backups are kept and how they are named.
type BackupConfig struct {
	Dir      string `mapstructure:"dir" yaml:"dir"`
	Timezone string `mapstructure:"timezone" yaml:"timezone"`
}

// RestoreConfig overrides the restore client invocation.
type RestoreConfig struct {
	Command []string `mapstructure:"command" yaml:"command"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// SetDefaults fills in unset values.
func (c *Config) SetDefaults() {
	c.Connection.SetDefaults()

	if c.Backup.Dir == "" {
		c.Backup.Dir = dumper.DefaultBackupDir
	}

	defaults := dumper.DefaultBinaries()
	if c.Binaries.Mysqldump == "" {
		c.Binaries.Mysqldump = defaults.Mysqldump
	}
	if c.Binaries.Mysql == "" {
		c.Binaries.Mysql = defaults.Mysql
	}
	if c.Binaries.Bzip2 == "" {
		c.Binaries.Bzip2 = defaults.Bzip2
	}
	if c.Binaries.Bunzip2 == "" {
		c.Binaries.Bunzip2 = defaults.Bunzip2
	}

	if c.Log.Level == "" {
		c.Log.Level = string(logging.LogLevelNormal)
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Connection.Validate(); err != nil {
		errs = append(errs, err)
	}

	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("invalid backup timezone '%s': %w", c.Backup.Timezone, err))
	}

	for i, arg := range c.Restore.Command {
		if strings.TrimSpace(arg) == "" {
			errs = append(errs, fmt.Errorf("restore command argument %d is empty", i))
		}
	}

	validLevels := []string{
		string(logging.LogLevelQuiet),
		string(logging.LogLevelNormal),
		string(logging.LogLevelVerbose),
		string(logging.LogLevelDebug),
	}
	if !contains(validLevels, c.Log.Level) {
		errs = append(errs, fmt.Errorf("invalid log level '%s', must be one of: %s", c.Log.Level, strings.Join(validLevels, ", ")))
	}

	validFormats := []string{"text", "json"}
	if !contains(validFormats, c.Log.Format) {
		errs = append(errs, fmt.Errorf("invalid log format '%s', must be one of: %s", c.Log.Format, strings.Join(validFormats, ", ")))
	}

	return errors.Join(errs...)
}

// Location returns the time zone of backup timestamps.
func (c *Config) Location() (*time.Location, error) {
	if c.Backup.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Backup.Timezone)
}

// DumperOptions maps the configuration onto the dumper.
func (c *Config) DumperOptions() (dumper.Options, error) {
	loc, err := c.Location()
	if err != nil {
		return dumper.Options{}, err
	}
	return dumper.Options{
		Connection:     c.Connection,
		BackupDir:      c.Backup.Dir,
		Binaries:       c.Binaries,
		RestoreCommand: c.Restore.Command,
		Location:       loc,
	}, nil
}

// setViperDefaults registers every key so AutomaticEnv can find it.
func setViperDefaults(v *viper.Viper) {
	v.SetDefault("connection.username", "")
	v.SetDefault("connection.user", "")
	v.SetDefault("connection.password", "")
	v.SetDefault("connection.host", "")
	v.SetDefault("connection.port", 0)
	v.SetDefault("connection.socket", "")
	v.SetDefault("connection.database", "")
	v.SetDefault("connection.timeout", "30s")
	v.SetDefault("backup.dir", dumper.DefaultBackupDir)
	v.SetDefault("backup.timezone", "")
	v.SetDefault("binaries.mysqldump", "mysqldump")
	v.SetDefault("binaries.mysql", "mysql")
	v.SetDefault("binaries.bzip2", "bzip2")
	v.SetDefault("binaries.bunzip2", "bunzip2")
	v.SetDefault("restore.command", []string{})
	v.SetDefault("log.level", string(logging.LogLevelNormal))
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("verbose", false)
	v.SetDefault("quiet", false)
}

// buildConfig unmarshals, defaults and validates the configuration held by v.
func buildConfig(v *viper.Viper) (*Config, error) {
	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	verbose, quiet := v.GetBool("verbose"), v.GetBool("quiet")
	if verbose && quiet {
		return nil, errors.New("--verbose and --quiet flags are mutually exclusive")
	}
	if verbose {
		config.Log.Level = string(logging.LogLevelVerbose)
	}
	if quiet {
		config.Log.Level = string(logging.LogLevelQuiet)
	}

	config.SetDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// sampleConfig renders a commented configuration template.
func sampleConfig() (string, error) {
	sample := Config{
		Connection: database.ConnectionConfig{
			Username: "root",
			Host:     "127.0.0.1",
			Port:     3306,
			Database: "app_development",
		},
		Backup:   BackupConfig{Dir: dumper.DefaultBackupDir},
		Binaries: dumper.DefaultBinaries(),
		Restore:  RestoreConfig{Command: []string{}},
		Log:      LogConfig{Level: string(logging.LogLevelNormal), Format: "text"},
	}

	body, err := yaml.Marshal(&sample)
	if err != nil {
		return "", fmt.Errorf("failed to render sample configuration: %w", err)
	}

	header := `# mysql-table-backup configuration
#
# Looked up as ` + configFileName + `.yaml in the working directory, then in $HOME.
# Every key can be set through the environment, e.g.
#   ` + envPrefix + `_CONNECTION_PASSWORD=secret
#   ` + envPrefix + `_BACKUP_DIR=/var/backups/mysql
#
# Optional keys not shown below:
#   connection.user      used when connection.username is empty
#   connection.password  prefer the environment or --ask-password
#   connection.socket    unix socket, takes precedence over host and port
#   connection.timeout   row counting connection timeout (default 30s)
#
# backup.timezone is an IANA zone name, local time when empty.
# restore.command is an argv list replacing "mysql <credentials> <database>".

`
	return header + string(body), nil
}

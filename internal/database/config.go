package database

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
)

// ConnectionConfig holds the connection parameters shared by the mysql client
// binaries and the row counting connection. Every field is optional; absent
// values simply omit the matching command line flag.
type ConnectionConfig struct {
	Username string        `mapstructure:"username" yaml:"username,omitempty"`
	User     string        `mapstructure:"user" yaml:"user,omitempty"`
	Password string        `mapstructure:"password" yaml:"password,omitempty"`
	Host     string        `mapstructure:"host" yaml:"host,omitempty"`
	Port     int           `mapstructure:"port" yaml:"port,omitempty"`
	Socket   string        `mapstructure:"socket" yaml:"socket,omitempty"`
	Database string        `mapstructure:"database" yaml:"database"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`
}

// EffectiveUsername returns username, falling back to user.
func (c ConnectionConfig) EffectiveUsername() string {
	if c.Username != "" {
		return c.Username
	}
	return c.User
}

// Validate checks the parameters needed to dump or restore.
func (c *ConnectionConfig) Validate() error {
	var errs []error

	if c.Database == "" {
		errs = append(errs, errors.New("database name is required"))
	}

	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, errors.New("port must be between 1 and 65535"))
	}

	if c.Timeout < 0 {
		errs = append(errs, errors.New("timeout must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("connection configuration validation failed: %w", errors.Join(errs...))
	}

	return nil
}

// SetDefaults fills in the connection timeout used when counting rows.
func (c *ConnectionConfig) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// DSN returns the Data Source Name for the row counting connection. A socket
// takes precedence over host and port, like the mysql client does.
func (c ConnectionConfig) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = c.EffectiveUsername()
	cfg.Passwd = c.Password
	cfg.DBName = c.Database
	cfg.Timeout = c.Timeout
	cfg.ParseTime = true

	switch {
	case c.Socket != "":
		cfg.Net = "unix"
		cfg.Addr = c.Socket
	default:
		host := c.Host
		if host == "" {
			host = "127.0.0.1"
		}
		port := c.Port
		if port == 0 {
			port = 3306
		}
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	}

	return cfg.FormatDSN()
}

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"mysql-table-backup/internal/errors"
	"mysql-table-backup/internal/logging"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

// Service owns the connection used to ask MySQL how many rows a table holds.
// It satisfies dumper.RowCounter.
type Service struct {
	db           *sql.DB
	logger       *logging.Logger
	retryHandler *errors.RetryHandler
}

// NewService creates a database service that is not yet connected
func NewService(logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Service{
		logger:       logger,
		retryHandler: errors.NewDefaultRetryHandler(),
	}
}

// NewServiceWithDB wraps an already opened connection
func NewServiceWithDB(db *sql.DB, logger *logging.Logger) *Service {
	s := NewService(logger)
	s.db = db
	return s
}

// Connect opens and pings the connection described by config, retrying
// recoverable failures.
func (s *Service) Connect(ctx context.Context, config ConnectionConfig) error {
	startTime := time.Now()
	config.SetDefaults()

	ctx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()

	var db *sql.DB
	err := s.retryHandler.Retry(ctx, func() error {
		var openErr error
		db, openErr = sql.Open("mysql", config.DSN())
		if openErr != nil {
			return errors.WrapError(openErr, "failed to open database connection")
		}

		db.SetMaxOpenConns(2)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(5 * time.Minute)

		if pingErr := db.PingContext(ctx); pingErr != nil {
			db.Close()
			return pingErr
		}
		return nil
	})

	s.logger.LogDatabaseConnection(config.Host, config.Database, err == nil, time.Since(startTime), err)
	if err != nil {
		return err
	}

	s.db = db
	return nil
}

// CountRows returns the number of rows in table.
func (s *Service) CountRows(ctx context.Context, table string) (int64, error) {
	if s.db == nil {
		return 0, errors.NewAppError(errors.ErrorTypeConnection, "database connection is not established", nil)
	}

	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", QuoteIdentifier(table))
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		appErr := errors.NewErrorClassifier().ClassifyError(err)
		return 0, errors.NewAppError(appErr.Type, fmt.Sprintf("failed to count rows of %s", table), err).
			WithContext("table", table)
	}

	s.logger.WithFields(map[string]interface{}{
		"table": table,
		"rows":  count,
	}).Debug("Counted table rows")

	return count, nil
}

// Close releases the connection
func (s *Service) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// QuoteIdentifier quotes a MySQL identifier, escaping embedded backticks.
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

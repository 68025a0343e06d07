package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// SQLConfig contains rule-table database configuration
type SQLConfig struct {
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	Table           string        `yaml:"table" mapstructure:"table"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// SQLSource reads the rule table from PostgreSQL
type SQLSource struct {
	db     *sqlx.DB
	table  string
	logger *zap.Logger
}

// NewSQLSource connects to the rule-table database
func NewSQLSource(config *SQLConfig, logger *zap.Logger) (*SQLSource, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	tableName := config.Table
	if tableName == "" {
		tableName = "filter_rules"
	}

	logger.Info("Rule table source initialized",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.String("table", tableName))

	return NewSQLSourceFromDB(db, tableName, logger), nil
}

// NewSQLSourceFromDB wraps an open connection
func NewSQLSourceFromDB(db *sqlx.DB, tableName string, logger *zap.Logger) *SQLSource {
	return &SQLSource{db: db, table: tableName, logger: logger}
}

// Name implements Source.
func (s *SQLSource) Name() string { return "sql" }

// Query returns the statement used to read the rule table.
func (s *SQLSource) Query() string {
	return fmt.Sprintf(`
		SELECT
			COALESCE(file, '')         AS file,
			COALESCE(key, '')          AS key,
			COALESCE("offset", '')     AS "offset",
			COALESCE(global, '')       AS global,
			COALESCE(exclude::text, '') AS exclude,
			COALESCE(swap_key, '')     AS swap_key,
			COALESCE(swap_offset, '')  AS swap_offset
		FROM %s
		ORDER BY file, key`, s.table)
}

// Rows implements Source.
func (s *SQLSource) Rows(ctx context.Context) ([]SheetRow, error) {
	var rows []SheetRow
	if err := s.db.SelectContext(ctx, &rows, s.Query()); err != nil {
		return nil, fmt.Errorf("failed to query rule table: %w", err)
	}

	s.logger.Debug("Rule table rows fetched", zap.Int("rows", len(rows)))
	return rows, nil
}

// Close closes the database connection
func (s *SQLSource) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// maskDatabaseURL hides the password in a connection URL
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	if colon < 0 || !strings.Contains(userPart[:colon], "//") {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}

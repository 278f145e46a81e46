// Package postgresql provides the PostgreSQL execution ledger.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/outflow/outflow/pkg/persistence"
	"github.com/outflow/outflow/pkg/persistence/sqlbase"

	// registers the "postgres" driver.
	_ "github.com/lib/pq"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db            *sql.DB
	logger        *slog.Logger
	flowRepo      *FlowRepository
	executionRepo *ExecutionRepository
	stageRepo     *StageRepository
	prospectRepo  *ProspectRepository
	importRepo    *ImportRepository
}

// NewPersistence connects to databaseURL, applies migrations and returns the ledger.
// A positive statementTimeout is enforced server side on every statement.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string, statementTimeout time.Duration) (*Persistence, error) {
	database, err := sql.Open("postgres", WithStatementTimeout(databaseURL, statementTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return New(database, logger), nil
}

// New wraps an open database without running migrations.
func New(database *sql.DB, logger *slog.Logger) *Persistence {
	return &Persistence{
		db:            database,
		logger:        logger,
		flowRepo:      NewFlowRepository(database, logger),
		executionRepo: NewExecutionRepository(database, logger),
		stageRepo:     NewStageRepository(database, logger),
		prospectRepo:  NewProspectRepository(database, logger),
		importRepo:    NewImportRepository(database, logger),
	}
}

// WithStatementTimeout adds the statement_timeout runtime parameter to a DSN.
func WithStatementTimeout(dsn string, timeout time.Duration) string {
	if timeout <= 0 {
		return dsn
	}

	millis := strconv.FormatInt(timeout.Milliseconds(), 10)

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		parsed, err := url.Parse(dsn)
		if err != nil {
			return dsn
		}

		query := parsed.Query()
		query.Set("statement_timeout", millis)
		parsed.RawQuery = query.Encode()

		return parsed.String()
	}

	return strings.TrimSpace(dsn + " statement_timeout=" + millis)
}

func (p *Persistence) FlowRepository() persistence.FlowRepository {
	return p.flowRepo
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executionRepo
}

func (p *Persistence) StageRepository() persistence.StageRepository {
	return p.stageRepo
}

func (p *Persistence) ProspectRepository() persistence.ProspectRepository {
	return p.prospectRepo
}

func (p *Persistence) ImportRepository() persistence.ImportRepository {
	return p.importRepo
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *value, Valid: true}
}

func timePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}

	t := value.Time.UTC()

	return &t
}

func nullFloat(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}

	return sql.NullFloat64{Float64: *value, Valid: true}
}

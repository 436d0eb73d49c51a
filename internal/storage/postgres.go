package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver

	"github.com/getupgraded/inbound-http-logger/internal/model"
	"github.com/getupgraded/inbound-http-logger/internal/pkg/errdef"
	"github.com/getupgraded/inbound-http-logger/internal/pkg/logger"
)

const pgTable = "inbound_request_logs"

// PostgresAdapter persists records with native JSONB columns so structured
// bodies are stored once, never re-serialized. It runs in one of two modes:
// reusing a connection pool the host already owns, or owning a named,
// independently-pooled connection for a supplied DSN.
type PostgresAdapter struct {
	dsn      string
	mu       sync.RWMutex
	db       *sqlx.DB
	shared   bool
	warnOnce sync.Once
}

// NewPostgres returns an adapter that will open its own named connection for
// dsn on EstablishConnection.
func NewPostgres(dsn string) *PostgresAdapter {
	return &PostgresAdapter{dsn: dsn}
}

// NewPostgresWithDB returns an adapter that reuses the host application's
// existing pool. EstablishConnection only prepares the schema; Close leaves
// the pool alone.
func NewPostgresWithDB(db *sqlx.DB) *PostgresAdapter {
	return &PostgresAdapter{db: db, shared: true}
}

func (a *PostgresAdapter) Name() string { return KindPostgres }

func (a *PostgresAdapter) Available() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.db != nil
}

func (a *PostgresAdapter) EstablishConnection(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		if a.dsn == "" {
			return errdef.Connection("postgres sink has neither an injected connection nor a location string", nil)
		}
		db, err := sqlx.ConnectContext(ctx, "pgx", a.dsn)
		if err != nil {
			return errdef.Connection("failed to connect to postgres sink", err)
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(1 * time.Hour)
		a.db = db
	}
	return a.ensureSchema(ctx)
}

func (a *PostgresAdapter) ensureSchema(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+pgTable+` (
			id BIGSERIAL PRIMARY KEY,
			request_id TEXT,
			method TEXT NOT NULL,
			url TEXT NOT NULL,
			ip_address TEXT,
			user_agent TEXT,
			referrer TEXT,
			request_headers JSONB,
			request_body JSONB,
			status_code INTEGER NOT NULL,
			response_headers JSONB,
			response_body JSONB,
			duration_ms DOUBLE PRECISION,
			loggable_type TEXT,
			loggable_id TEXT,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return errdef.Connection("failed to prepare postgres schema", err)
	}
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_` + pgTable + `_created_at ON ` + pgTable + `(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_` + pgTable + `_status_code ON ` + pgTable + `(status_code)`,
		`CREATE INDEX IF NOT EXISTS idx_` + pgTable + `_method ON ` + pgTable + `(method)`,
		`CREATE INDEX IF NOT EXISTS idx_` + pgTable + `_ip_address ON ` + pgTable + `(ip_address)`,
		`CREATE INDEX IF NOT EXISTS idx_` + pgTable + `_duration ON ` + pgTable + `(duration_ms)`,
		`CREATE INDEX IF NOT EXISTS idx_` + pgTable + `_failures ON ` + pgTable + `(created_at DESC) WHERE status_code >= 400`,
		`CREATE INDEX IF NOT EXISTS idx_` + pgTable + `_request_body ON ` + pgTable + ` USING GIN (request_body)`,
		`CREATE INDEX IF NOT EXISTS idx_` + pgTable + `_response_body ON ` + pgTable + ` USING GIN (response_body)`,
		`CREATE INDEX IF NOT EXISTS idx_` + pgTable + `_metadata ON ` + pgTable + ` USING GIN (metadata)`,
	}
	for _, stmt := range indexes {
		_, _ = a.db.ExecContext(ctx, stmt)
	}
	return nil
}

func (a *PostgresAdapter) conn() (*sqlx.DB, error) {
	a.mu.RLock()
	db := a.db
	a.mu.RUnlock()
	if db == nil {
		a.warnOnce.Do(func() {
			logger.Warn("postgres sink requested but no connection is established", "dsn_configured", a.dsn != "")
		})
		return nil, errdef.Connection("postgres sink connection is not established", nil)
	}
	return db, nil
}

func (a *PostgresAdapter) LogRequest(ctx context.Context, rec *model.LogRecord) error {
	if rec == nil {
		return nil
	}
	db, err := a.conn()
	if err != nil {
		return err
	}
	args, err := insertArgs(rec)
	if err != nil {
		return errdef.Persistence("failed to encode record", err)
	}
	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO `+pgTable+` (`+recordColumns+`)
		VALUES (`+strings.Join(placeholders, ",")+`)
	`, args...)
	if err != nil {
		return errdef.Persistence("failed to insert record", err)
	}
	return nil
}

// buildSearchQuery assembles the pushed-down search statement. The ILIKE
// needle is escaped so results stay equivalent to the naive MatchRecord scan.
func buildSearchQuery(q Query) (string, []any) {
	query := `SELECT ` + recordColumns + ` FROM ` + pgTable
	clauses := []string{}
	args := []any{}
	idx := 1

	if q.Text != "" {
		needle := "%" + escapeLike(q.Text) + "%"
		clauses = append(clauses, fmt.Sprintf(
			`(url ILIKE $%d ESCAPE '\' OR request_body::text ILIKE $%d ESCAPE '\' OR response_body::text ILIKE $%d ESCAPE '\')`,
			idx, idx+1, idx+2))
		args = append(args, needle, needle, needle)
		idx += 3
	}
	if len(q.Status) > 0 {
		ph := make([]string, len(q.Status))
		for i, status := range q.Status {
			ph[i] = fmt.Sprintf("$%d", idx)
			args = append(args, status)
			idx++
		}
		clauses = append(clauses, "status_code IN ("+strings.Join(ph, ",")+")")
	}
	if len(q.Methods) > 0 {
		ph := make([]string, len(q.Methods))
		for i, method := range q.Methods {
			ph[i] = fmt.Sprintf("upper($%d)", idx)
			args = append(args, method)
			idx++
		}
		clauses = append(clauses, "upper(method) IN ("+strings.Join(ph, ",")+")")
	}
	if q.IPAddress != "" {
		clauses = append(clauses, fmt.Sprintf("ip_address = $%d", idx))
		args = append(args, q.IPAddress)
		idx++
	}
	if q.LoggableType != "" {
		clauses = append(clauses, fmt.Sprintf("loggable_type = $%d", idx))
		args = append(args, q.LoggableType)
		idx++
	}
	if q.LoggableID != "" {
		clauses = append(clauses, fmt.Sprintf("loggable_id = $%d", idx))
		args = append(args, q.LoggableID)
		idx++
	}
	if !q.Since.IsZero() {
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", idx))
		args = append(args, q.Since)
		idx++
	}
	if !q.Until.IsZero() {
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", idx))
		args = append(args, q.Until)
		idx++
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", idx)
	args = append(args, q.limit())
	return query, args
}

func (a *PostgresAdapter) Search(ctx context.Context, q Query) ([]*model.LogRecord, error) {
	db, err := a.conn()
	if err != nil {
		return nil, err
	}
	query, args := buildSearchQuery(q)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errdef.Persistence("search failed", err)
	}
	defer rows.Close()

	records := make([]*model.LogRecord, 0, q.limit())
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errdef.Persistence("failed to scan record", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (a *PostgresAdapter) Analyze(ctx context.Context) (Stats, error) {
	db, err := a.conn()
	if err != nil {
		return Stats{}, err
	}
	var total, success, failure int64
	err = db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status_code >= 100 AND status_code < 400),
			COUNT(*) FILTER (WHERE status_code >= 400)
		FROM `+pgTable,
	).Scan(&total, &success, &failure)
	if err != nil {
		return Stats{}, errdef.Persistence("analyze failed", err)
	}
	return newStats(total, success, failure), nil
}

func (a *PostgresAdapter) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	db, err := a.conn()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, `DELETE FROM `+pgTable+` WHERE created_at < $1`, cutoffDate(olderThanDays))
	if err != nil {
		return 0, errdef.Persistence("cleanup failed", err)
	}
	return res.RowsAffected()
}

func (a *PostgresAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil || a.shared {
		// never close a pool the host owns
		a.db = nil
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

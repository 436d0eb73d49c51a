package storage

import (
	"context"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"

	_ "modernc.org/sqlite" // cgo-free sqlite driver

	"github.com/getupgraded/inbound-http-logger/internal/model"
	"github.com/getupgraded/inbound-http-logger/internal/pkg/errdef"
	"github.com/getupgraded/inbound-http-logger/internal/pkg/logger"
)

const sqliteTable = "inbound_request_logs"

// SQLiteAdapter is the embedded-file backend. Bodies are stored as redacted
// JSON text; search is a LIKE scan, semantically equivalent to the postgres
// adapter's pushed-down search.
type SQLiteAdapter struct {
	path     string
	mu       sync.RWMutex
	db       *sqlx.DB
	warnOnce sync.Once
}

// NewSQLite returns an adapter for a database file path (":memory:" works).
func NewSQLite(path string) *SQLiteAdapter {
	return &SQLiteAdapter{path: path}
}

func (a *SQLiteAdapter) Name() string { return KindSQLite }

func (a *SQLiteAdapter) Available() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.db != nil
}

func (a *SQLiteAdapter) EstablishConnection(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		if a.path == "" {
			return errdef.Connection("sqlite sink requires a database file path", nil)
		}
		db, err := sqlx.ConnectContext(ctx, "sqlite", a.path)
		if err != nil {
			return errdef.Connection("failed to open sqlite database", err)
		}
		// one writer; the file format serializes writes anyway
		db.SetMaxOpenConns(1)
		a.db = db
	}
	return a.ensureSchema(ctx)
}

func (a *SQLiteAdapter) ensureSchema(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+sqliteTable+` (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT,
			method TEXT NOT NULL,
			url TEXT NOT NULL,
			ip_address TEXT,
			user_agent TEXT,
			referrer TEXT,
			request_headers TEXT,
			request_body TEXT,
			status_code INTEGER NOT NULL,
			response_headers TEXT,
			response_body TEXT,
			duration_ms REAL,
			loggable_type TEXT,
			loggable_id TEXT,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return errdef.Connection("failed to prepare sqlite schema", err)
	}
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_` + sqliteTable + `_created_at ON ` + sqliteTable + `(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_` + sqliteTable + `_status_code ON ` + sqliteTable + `(status_code)`,
		`CREATE INDEX IF NOT EXISTS idx_` + sqliteTable + `_method ON ` + sqliteTable + `(method)`,
		`CREATE INDEX IF NOT EXISTS idx_` + sqliteTable + `_ip_address ON ` + sqliteTable + `(ip_address)`,
		`CREATE INDEX IF NOT EXISTS idx_` + sqliteTable + `_duration ON ` + sqliteTable + `(duration_ms)`,
		`CREATE INDEX IF NOT EXISTS idx_` + sqliteTable + `_failures ON ` + sqliteTable + `(created_at DESC) WHERE status_code >= 400`,
	}
	for _, stmt := range indexes {
		_, _ = a.db.ExecContext(ctx, stmt)
	}
	return nil
}

func (a *SQLiteAdapter) conn() (*sqlx.DB, error) {
	a.mu.RLock()
	db := a.db
	a.mu.RUnlock()
	if db == nil {
		a.warnOnce.Do(func() {
			logger.Warn("sqlite sink requested but no connection is established", "path", a.path)
		})
		return nil, errdef.Connection("sqlite sink connection is not established", nil)
	}
	return db, nil
}

func (a *SQLiteAdapter) LogRequest(ctx context.Context, rec *model.LogRecord) error {
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
	_, err = db.ExecContext(ctx, `
		INSERT INTO `+sqliteTable+` (`+recordColumns+`)
		VALUES (`+strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")+`)
	`, args...)
	if err != nil {
		return errdef.Persistence("failed to insert record", err)
	}
	return nil
}

func (a *SQLiteAdapter) Search(ctx context.Context, q Query) ([]*model.LogRecord, error) {
	db, err := a.conn()
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + recordColumns + ` FROM ` + sqliteTable
	clauses := []string{}
	args := []any{}

	if q.Text != "" {
		needle := "%" + escapeLike(strings.ToLower(q.Text)) + "%"
		clauses = append(clauses,
			`(lower(url) LIKE ? ESCAPE '\' OR lower(coalesce(request_body, '')) LIKE ? ESCAPE '\' OR lower(coalesce(response_body, '')) LIKE ? ESCAPE '\')`)
		args = append(args, needle, needle, needle)
	}
	if len(q.Status) > 0 {
		ph := make([]string, len(q.Status))
		for i, status := range q.Status {
			ph[i] = "?"
			args = append(args, status)
		}
		clauses = append(clauses, "status_code IN ("+strings.Join(ph, ",")+")")
	}
	if len(q.Methods) > 0 {
		ph := make([]string, len(q.Methods))
		for i, method := range q.Methods {
			ph[i] = "upper(?)"
			args = append(args, method)
		}
		clauses = append(clauses, "upper(method) IN ("+strings.Join(ph, ",")+")")
	}
	if q.IPAddress != "" {
		clauses = append(clauses, "ip_address = ?")
		args = append(args, q.IPAddress)
	}
	if q.LoggableType != "" {
		clauses = append(clauses, "loggable_type = ?")
		args = append(args, q.LoggableType)
	}
	if q.LoggableID != "" {
		clauses = append(clauses, "loggable_id = ?")
		args = append(args, q.LoggableID)
	}
	if !q.Since.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, q.Since)
	}
	if !q.Until.IsZero() {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, q.Until)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, q.limit())

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

func (a *SQLiteAdapter) Analyze(ctx context.Context) (Stats, error) {
	db, err := a.conn()
	if err != nil {
		return Stats{}, err
	}
	var total, success, failure int64
	err = db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status_code >= 100 AND status_code < 400 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END), 0)
		FROM `+sqliteTable,
	).Scan(&total, &success, &failure)
	if err != nil {
		return Stats{}, errdef.Persistence("analyze failed", err)
	}
	return newStats(total, success, failure), nil
}

func (a *SQLiteAdapter) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	db, err := a.conn()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, `DELETE FROM `+sqliteTable+` WHERE created_at < ?`, cutoffDate(olderThanDays))
	if err != nil {
		return 0, errdef.Persistence("cleanup failed", err)
	}
	return res.RowsAffected()
}

func (a *SQLiteAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

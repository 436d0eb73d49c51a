// Package storage defines the persistence contract for captured requests and
// its concrete backends: PostgreSQL (native JSONB), SQLite (embedded file),
// Redis (capped list) and an in-memory test sink.
package storage

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/getupgraded/inbound-http-logger/internal/model"
	"github.com/getupgraded/inbound-http-logger/internal/pkg/errdef"
)

// Backend kinds accepted by Open.
const (
	KindPostgres = "postgres"
	KindSQLite   = "sqlite"
	KindRedis    = "redis"
)

// Adapter is the persistence contract every sink implements. Write failures
// are returned, not swallowed; the service layer decides how loudly to react.
type Adapter interface {
	// Name identifies the adapter in logs and metrics.
	Name() string
	// Available reports whether the adapter holds a usable connection.
	Available() bool
	// EstablishConnection connects (or verifies an injected connection) and
	// prepares the schema. No-op when already connected.
	EstablishConnection(ctx context.Context) error
	// LogRequest persists one record.
	LogRequest(ctx context.Context, rec *model.LogRecord) error
	// Search returns records matching the query, newest first.
	Search(ctx context.Context, q Query) ([]*model.LogRecord, error)
	// Analyze returns aggregate counts and rates over all records.
	Analyze(ctx context.Context) (Stats, error)
	// Cleanup deletes records older than the cutoff and returns how many.
	Cleanup(ctx context.Context, olderThanDays int) (int64, error)
	Close() error
}

// Query is the search criteria shared by all backends. Zero fields are
// ignored. Text is a case-insensitive substring over URL and bodies.
type Query struct {
	Text         string
	Status       []int
	Methods      []string
	IPAddress    string
	LoggableType string
	LoggableID   string
	Since        time.Time
	Until        time.Time
	Limit        int
}

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > 1000 {
		return 100
	}
	return q.Limit
}

// Stats are the aggregates behind the analyze admin operation.
type Stats struct {
	Total       int64   `json:"total"`
	Success     int64   `json:"success"`
	Failure     int64   `json:"failure"`
	SuccessRate float64 `json:"success_rate"`
	FailureRate float64 `json:"failure_rate"`
}

func newStats(total, success, failure int64) Stats {
	s := Stats{Total: total, Success: success, Failure: failure}
	if total > 0 {
		s.SuccessRate = float64(success) / float64(total)
		s.FailureRate = float64(failure) / float64(total)
	}
	return s
}

// Open constructs an adapter for a backend kind and location string. It does
// not connect; EstablishConnection does. An unknown kind is a loud
// configuration error so misconfiguration surfaces before traffic flows.
func Open(kind, url string) (Adapter, error) {
	switch strings.ToLower(kind) {
	case KindPostgres, "postgresql", "pg":
		return NewPostgres(url), nil
	case KindSQLite, "sqlite3":
		return NewSQLite(url), nil
	case KindRedis:
		return NewRedis(url), nil
	default:
		return nil, errdef.Configurationf("unknown storage backend kind %q", kind)
	}
}

// MatchRecord implements the reference text-scan search semantics. Backends
// that push filtering into the database must stay equivalent to this.
func MatchRecord(rec *model.LogRecord, q Query) bool {
	if rec == nil {
		return false
	}
	if q.Text != "" {
		needle := strings.ToLower(q.Text)
		if !strings.Contains(strings.ToLower(rec.URL), needle) &&
			!strings.Contains(strings.ToLower(renderBody(rec.RequestBody)), needle) &&
			!strings.Contains(strings.ToLower(renderBody(rec.ResponseBody)), needle) {
			return false
		}
	}
	if len(q.Status) > 0 && !containsInt(q.Status, rec.StatusCode) {
		return false
	}
	if len(q.Methods) > 0 && !containsFold(q.Methods, rec.Method) {
		return false
	}
	if q.IPAddress != "" && rec.IPAddress != q.IPAddress {
		return false
	}
	if q.LoggableType != "" {
		if rec.Loggable == nil || rec.Loggable.Type != q.LoggableType {
			return false
		}
	}
	if q.LoggableID != "" {
		if rec.Loggable == nil || rec.Loggable.ID != q.LoggableID {
			return false
		}
	}
	if !q.Since.IsZero() && rec.CreatedAt.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && rec.CreatedAt.After(q.Until) {
		return false
	}
	return true
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike renders text as a literal LIKE fragment. Without it, % and _ in
// the search text act as wildcards and the SQL backends drift away from the
// reference scan. Clauses using the result must declare ESCAPE '\'.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func renderBody(v any) string {
	switch body := v.(type) {
	case nil:
		return ""
	case string:
		return body
	default:
		out, err := json.Marshal(body)
		if err != nil {
			return ""
		}
		return string(out)
	}
}

func containsInt(haystack []int, needle int) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

func containsFold(haystack []string, needle string) bool {
	for _, v := range haystack {
		if strings.EqualFold(v, needle) {
			return true
		}
	}
	return false
}

func cutoffDate(olderThanDays int) time.Time {
	return time.Now().UTC().AddDate(0, 0, -olderThanDays)
}

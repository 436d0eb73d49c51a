package model

import (
	"errors"
	"time"
)

var (
	ErrMissingMethod = errors.New("log record: http method is required")
	ErrMissingURL    = errors.New("log record: url is required")
	ErrMissingStatus = errors.New("log record: status code is required")
	ErrBadDuration   = errors.New("log record: duration must be non-negative")
)

// LoggableRef is a polymorphic reference to the domain object a request was
// acting on, e.g. {"Order", "42"}.
type LoggableRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// LogRecord represents one captured inbound request. Records are append-only:
// they are assembled in full at the end of a request and never mutated after
// that.
type LogRecord struct {
	RequestID       string            `json:"request_id"`
	Method          string            `json:"method"`
	URL             string            `json:"url"`
	IPAddress       string            `json:"ip_address"`
	UserAgent       string            `json:"user_agent"`
	Referrer        string            `json:"referrer"`
	RequestHeaders  map[string]string `json:"request_headers"`
	RequestBody     any               `json:"request_body,omitempty"`
	StatusCode      int               `json:"status_code"`
	ResponseHeaders map[string]string `json:"response_headers"`
	ResponseBody    any               `json:"response_body,omitempty"`
	DurationMS      float64           `json:"duration_ms"`
	Loggable        *LoggableRef      `json:"loggable,omitempty"`
	Metadata        map[string]any    `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Validate enforces the record invariants. Absence of a required field is a
// validation failure, never a silent drop.
func (r *LogRecord) Validate() error {
	if r.Method == "" {
		return ErrMissingMethod
	}
	if r.URL == "" {
		return ErrMissingURL
	}
	if r.StatusCode == 0 {
		return ErrMissingStatus
	}
	if r.DurationMS < 0 {
		return ErrBadDuration
	}
	return nil
}

// Success reports whether the recorded response was a non-error outcome.
func (r *LogRecord) Success() bool {
	return r.StatusCode >= 100 && r.StatusCode < 400
}

// Failure reports whether the recorded response was a client or server error.
func (r *LogRecord) Failure() bool {
	return r.StatusCode >= 400
}

package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/getupgraded/inbound-http-logger/internal/model"
)

// Column list shared by the SQL backends. Order matters and must match
// scanRecord below.
const recordColumns = `request_id, method, url, ip_address, user_agent, referrer,
	request_headers, request_body, status_code, response_headers, response_body,
	duration_ms, loggable_type, loggable_id, metadata, created_at`

// encodeJSON renders a value as JSON text for storage, nil for absent values.
// Structured bodies are encoded exactly once here; backends with native JSON
// columns ingest the text without a second encoding pass.
func encodeJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(out), nil
}

func decodeJSON(raw sql.NullString) any {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw.String), &v); err != nil {
		return raw.String
	}
	return v
}

func decodeHeaders(raw sql.NullString) map[string]string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var headers map[string]string
	if err := json.Unmarshal([]byte(raw.String), &headers); err != nil {
		return nil
	}
	return headers
}

func decodeMetadata(raw sql.NullString) map[string]any {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var metadata map[string]any
	if err := json.Unmarshal([]byte(raw.String), &metadata); err != nil {
		return nil
	}
	return metadata
}

// insertArgs flattens a record into the recordColumns order.
func insertArgs(rec *model.LogRecord) ([]any, error) {
	reqHeaders, err := encodeJSON(headersOrNil(rec.RequestHeaders))
	if err != nil {
		return nil, err
	}
	reqBody, err := encodeJSON(rec.RequestBody)
	if err != nil {
		return nil, err
	}
	respHeaders, err := encodeJSON(headersOrNil(rec.ResponseHeaders))
	if err != nil {
		return nil, err
	}
	respBody, err := encodeJSON(rec.ResponseBody)
	if err != nil {
		return nil, err
	}
	var metadata any
	if len(rec.Metadata) > 0 {
		if metadata, err = encodeJSON(rec.Metadata); err != nil {
			return nil, err
		}
	}
	var loggableType, loggableID any
	if rec.Loggable != nil {
		loggableType = rec.Loggable.Type
		loggableID = rec.Loggable.ID
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return []any{
		rec.RequestID, rec.Method, rec.URL, rec.IPAddress, rec.UserAgent, rec.Referrer,
		reqHeaders, reqBody, rec.StatusCode, respHeaders, respBody,
		rec.DurationMS, loggableType, loggableID, metadata, created,
	}, nil
}

func headersOrNil(h map[string]string) any {
	if len(h) == 0 {
		return nil
	}
	return h
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.LogRecord, error) {
	var (
		rec          model.LogRecord
		reqHeaders   sql.NullString
		reqBody      sql.NullString
		respHeaders  sql.NullString
		respBody     sql.NullString
		metadata     sql.NullString
		loggableType sql.NullString
		loggableID   sql.NullString
	)
	if err := row.Scan(
		&rec.RequestID,
		&rec.Method,
		&rec.URL,
		&rec.IPAddress,
		&rec.UserAgent,
		&rec.Referrer,
		&reqHeaders,
		&reqBody,
		&rec.StatusCode,
		&respHeaders,
		&respBody,
		&rec.DurationMS,
		&loggableType,
		&loggableID,
		&metadata,
		&rec.CreatedAt,
	); err != nil {
		return nil, err
	}
	rec.RequestHeaders = decodeHeaders(reqHeaders)
	rec.RequestBody = decodeJSON(reqBody)
	rec.ResponseHeaders = decodeHeaders(respHeaders)
	rec.ResponseBody = decodeJSON(respBody)
	rec.Metadata = decodeMetadata(metadata)
	if loggableType.Valid && loggableType.String != "" {
		rec.Loggable = &model.LoggableRef{Type: loggableType.String, ID: loggableID.String}
	}
	return &rec, nil
}

package storage

import (
	"testing"
	"time"

	"github.com/getupgraded/inbound-http-logger/internal/model"
	"github.com/getupgraded/inbound-http-logger/internal/pkg/errdef"
)

func TestOpenKnownKinds(t *testing.T) {
	for _, kind := range []string{"postgres", "postgresql", "pg", "sqlite", "sqlite3", "redis"} {
		a, err := Open(kind, "location")
		if err != nil {
			t.Fatalf("Open(%q) failed: %v", kind, err)
		}
		if a == nil {
			t.Fatalf("Open(%q) returned nil adapter", kind)
		}
	}
}

func TestOpenUnknownKindFailsLoudly(t *testing.T) {
	_, err := Open("mongodb", "mongodb://x")
	if err == nil {
		t.Fatal("unknown backend kind must be rejected")
	}
	if !errdef.IsKind(err, errdef.KindConfiguration) {
		t.Fatalf("expected a configuration error, got %v", err)
	}
}

func TestMatchRecordText(t *testing.T) {
	r := &model.LogRecord{
		Method:       "POST",
		URL:          "/api/users",
		StatusCode:   201,
		RequestBody:  map[string]any{"name": "Alice"},
		ResponseBody: `created ok`,
		CreatedAt:    time.Now().UTC(),
	}

	if !MatchRecord(r, Query{Text: "users"}) {
		t.Fatal("url substring must match")
	}
	if !MatchRecord(r, Query{Text: "alice"}) {
		t.Fatal("structured request body must match case-insensitively")
	}
	if !MatchRecord(r, Query{Text: "created"}) {
		t.Fatal("text response body must match")
	}
	if MatchRecord(r, Query{Text: "absent"}) {
		t.Fatal("non-matching text must not match")
	}
}

func TestMatchRecordCriteria(t *testing.T) {
	created := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	r := &model.LogRecord{
		Method:     "GET",
		URL:        "/orders/9",
		IPAddress:  "10.0.0.1",
		StatusCode: 404,
		Loggable:   &model.LoggableRef{Type: "Order", ID: "9"},
		CreatedAt:  created,
	}

	if !MatchRecord(r, Query{Status: []int{404, 500}}) {
		t.Fatal("status list must match")
	}
	if MatchRecord(r, Query{Status: []int{200}}) {
		t.Fatal("status mismatch must not match")
	}
	if !MatchRecord(r, Query{Methods: []string{"get"}}) {
		t.Fatal("method match is case-insensitive")
	}
	if MatchRecord(r, Query{IPAddress: "10.0.0.2"}) {
		t.Fatal("ip mismatch must not match")
	}
	if !MatchRecord(r, Query{LoggableType: "Order", LoggableID: "9"}) {
		t.Fatal("loggable reference must match")
	}
	if MatchRecord(r, Query{LoggableType: "User"}) {
		t.Fatal("loggable type mismatch must not match")
	}
	if !MatchRecord(r, Query{Since: created.Add(-time.Hour), Until: created.Add(time.Hour)}) {
		t.Fatal("date range must match")
	}
	if MatchRecord(r, Query{Since: created.Add(time.Hour)}) {
		t.Fatal("record before range must not match")
	}
}

package filter

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/getupgraded/inbound-http-logger/internal/config"
)

func testConfig() *config.Config {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

func TestShouldLogPath(t *testing.T) {
	cfg := testConfig()

	if ShouldLogPath(cfg, "") {
		t.Fatal("absent path must not be logged")
	}
	if ShouldLogPath(cfg, "/health") {
		t.Fatal("/health is default-excluded")
	}
	if ShouldLogPath(cfg, "/assets/app.js") {
		t.Fatal("static asset extensions are default-excluded")
	}
	if !ShouldLogPath(cfg, "/users") {
		t.Fatal("/users should be logged")
	}
	if !ShouldLogPath(cfg, "/healthcheck") {
		t.Fatal("pattern is anchored, /healthcheck should be logged")
	}
}

func TestShouldLogContentType(t *testing.T) {
	cfg := testConfig()

	cases := []struct {
		ct   string
		want bool
	}{
		{"", true}, // unknown type fails open
		{"application/json", true},
		{"application/json; charset=utf-8", true},
		{"TEXT/HTML", false},
		{"text/html; charset=utf-8", false},
		{"image/png", false}, // family wildcard
		{"video/mp4", false},
		{"application/xml", true},
	}
	for _, tc := range cases {
		if got := ShouldLogContentType(cfg, tc.ct); got != tc.want {
			t.Fatalf("ShouldLogContentType(%q) = %v, want %v", tc.ct, got, tc.want)
		}
	}
}

func TestEnabledForController(t *testing.T) {
	cfg := testConfig()
	cfg.ExcludedControllers = []string{"health"}
	cfg.ExcludedActions = map[string][]string{"sessions": {"refresh"}}

	if EnabledForController(cfg, "health", "") {
		t.Fatal("excluded controller must be disabled")
	}
	if EnabledForController(cfg, "sessions", "refresh") {
		t.Fatal("excluded action must be disabled")
	}
	if !EnabledForController(cfg, "sessions", "create") {
		t.Fatal("non-excluded action must be enabled")
	}
	if !EnabledForController(cfg, "", "anything") {
		t.Fatal("unidentified controller never suppresses on its own")
	}
}

func TestEnabledForControllerInclusionList(t *testing.T) {
	cfg := testConfig()
	cfg.IncludedActions = map[string][]string{"orders": {"create"}}

	if !EnabledForController(cfg, "orders", "create") {
		t.Fatal("listed action must be enabled")
	}
	if EnabledForController(cfg, "orders", "show") {
		t.Fatal("unlisted action must be disabled when an inclusion list is set")
	}
}

func TestFilterHeaders(t *testing.T) {
	cfg := testConfig()

	out := FilterHeaders(cfg, map[string]string{
		"Authorization": "Bearer xyz",
		"X-Api-Key":     "sk-123",
		"User-Agent":    "curl/8.0",
	})
	if out["Authorization"] != config.RedactionMarker {
		t.Fatalf("Authorization not redacted: %q", out["Authorization"])
	}
	if out["X-Api-Key"] != config.RedactionMarker {
		t.Fatalf("X-Api-Key not redacted: %q", out["X-Api-Key"])
	}
	if out["User-Agent"] != "curl/8.0" {
		t.Fatalf("User-Agent must pass through, got %q", out["User-Agent"])
	}
}

func TestFilterHeadersNilInput(t *testing.T) {
	out := FilterHeaders(testConfig(), nil)
	if out == nil || len(out) != 0 {
		t.Fatalf("nil input must yield an empty map, got %v", out)
	}
}

func TestRedactBodyNested(t *testing.T) {
	cfg := testConfig()
	raw := []byte(`{"user":{"name":"alice","password":"hunter2","keys":[{"api_key":"k1"},{"note":"ok"}]}}`)

	body := RedactBody(cfg, TryParse("application/json", raw))
	if !body.Structured {
		t.Fatal("expected structured parse")
	}
	user := body.Value.(map[string]any)["user"].(map[string]any)
	if user["password"] != config.RedactionMarker {
		t.Fatalf("password not redacted: %v", user["password"])
	}
	if user["name"] != "alice" {
		t.Fatalf("name must pass through: %v", user["name"])
	}
	keys := user["keys"].([]any)
	if keys[0].(map[string]any)["api_key"] != config.RedactionMarker {
		t.Fatal("api_key inside array not redacted")
	}
	if keys[1].(map[string]any)["note"] != "ok" {
		t.Fatal("note must pass through")
	}
}

func TestRedactBodyRoundTripLossless(t *testing.T) {
	cfg := testConfig()
	raw := []byte(`{"a":1,"b":[true,null,"x"],"c":{"d":2.5}}`)

	var original any
	if err := json.Unmarshal(raw, &original); err != nil {
		t.Fatal(err)
	}
	body := RedactBody(cfg, TryParse("application/json", raw))
	if !reflect.DeepEqual(body.Value, original) {
		t.Fatalf("body with no sensitive keys must round-trip losslessly: %v != %v", body.Value, original)
	}
}

func TestTryParseInvalidJSON(t *testing.T) {
	body := TryParse("application/json", []byte("not-json"))
	if body.Structured {
		t.Fatal("invalid json must stay unparsed")
	}
	if string(body.Raw) != "not-json" {
		t.Fatalf("unparsed body must keep original bytes: %q", body.Raw)
	}
	if body.Stored() != "not-json" {
		t.Fatalf("unparsed body stores raw text: %v", body.Stored())
	}
}

func TestTryParseForm(t *testing.T) {
	body := TryParse("application/x-www-form-urlencoded", []byte("name=alice&password=hunter2"))
	if !body.Structured {
		t.Fatal("form body must parse")
	}
	form := body.Value.(map[string]any)
	if form["name"] != "alice" {
		t.Fatalf("form value: %v", form["name"])
	}

	redacted := RedactBody(testConfig(), body)
	if redacted.Value.(map[string]any)["password"] != config.RedactionMarker {
		t.Fatal("form password not redacted")
	}
}

func TestTryParseJSONSuffix(t *testing.T) {
	body := TryParse("application/vnd.api+json", []byte(`{"ok":true}`))
	if !body.Structured {
		t.Fatal("+json suffix types must parse as json")
	}
}

func TestFilterBodyOversizePassthrough(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBodySize = 4
	raw := []byte(`{"password":"hunter2"}`)

	if got := FilterBody(cfg, raw); string(got) != string(raw) {
		t.Fatal("oversize body must pass through unfiltered")
	}
}

func TestFilterBodyRedacts(t *testing.T) {
	cfg := testConfig()
	out := FilterBody(cfg, []byte(`{"token":"abc","ok":1}`))

	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("output must stay valid json: %v", err)
	}
	if decoded["token"] != config.RedactionMarker {
		t.Fatalf("token not redacted: %v", decoded["token"])
	}
	if decoded["ok"] != float64(1) {
		t.Fatalf("ok must pass through: %v", decoded["ok"])
	}
}

func TestRedactBodyDepthBound(t *testing.T) {
	cfg := testConfig()
	// build a value deeper than the recursion bound
	deep := any("leaf")
	for i := 0; i < maxRedactDepth+5; i++ {
		deep = map[string]any{"level": deep}
	}
	body := RedactBody(cfg, Body{Value: deep, Structured: true})
	// walk down: past the bound everything collapses to the marker
	v := body.Value
	for i := 0; i < maxRedactDepth; i++ {
		m, ok := v.(map[string]any)
		if !ok {
			break
		}
		v = m["level"]
	}
	if v != config.RedactionMarker {
		t.Fatalf("expected marker at depth bound, got %v", v)
	}
}

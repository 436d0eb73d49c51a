// Package filter holds the pure decision and redaction functions of the
// capture pipeline. Every function takes a configuration snapshot and has no
// state of its own, so results are reproducible for a given Config.
package filter

import (
	"encoding/json"
	"net/url"
	"slices"
	"strings"

	"github.com/getupgraded/inbound-http-logger/internal/config"
)

// Recursion bound for body redaction. Structured bodies are finite in
// practice; the bound keeps a pathological or cyclic value from recursing
// forever, erring on the side of redaction.
const maxRedactDepth = 64

// ShouldLogPath reports whether a request path is admitted. An absent path or
// a match on any excluded pattern suppresses logging. Patterns are an
// unordered set; the first match short-circuits.
func ShouldLogPath(cfg *config.Config, path string) bool {
	if path == "" {
		return false
	}
	for _, re := range cfg.PathPatterns() {
		if re.MatchString(path) {
			return false
		}
	}
	return true
}

// ShouldLogContentType reports whether a content type is admitted. An unknown
// type fails open and is logged. Parameters (charset etc.) are stripped and
// the base type compared case-insensitively; "image/*" style entries match
// the whole family.
func ShouldLogContentType(cfg *config.Config, contentType string) bool {
	if contentType == "" {
		return true
	}
	base := baseContentType(contentType)
	for _, excluded := range cfg.ExcludedContentTypes {
		ex := strings.ToLower(strings.TrimSpace(excluded))
		if family, ok := strings.CutSuffix(ex, "/*"); ok {
			if strings.HasPrefix(base, family+"/") {
				return false
			}
			continue
		}
		if base == ex {
			return false
		}
	}
	return true
}

func baseContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// EnabledForController reports whether logging is on for a controller/action
// pair. An empty controller means dispatch detection failed, which never
// suppresses on its own.
func EnabledForController(cfg *config.Config, controller, action string) bool {
	if controller == "" {
		return true
	}
	if slices.Contains(cfg.ExcludedControllers, controller) {
		return false
	}
	if included, ok := cfg.IncludedActions[controller]; ok && len(included) > 0 {
		return action == "" || slices.Contains(included, action)
	}
	if action != "" && slices.Contains(cfg.ExcludedActions[controller], action) {
		return false
	}
	return true
}

// FilterHeaders redacts the value of every header whose lower-cased name
// contains a configured sensitive fragment. Substring matching is deliberate:
// header naming varies (Authorization, X-Auth-Token, ...) and over-redaction
// beats a leak. Nil input yields an empty map.
func FilterHeaders(cfg *config.Config, headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for name, value := range headers {
		if containsFragment(cfg.SensitiveHeaders, name) {
			out[name] = config.RedactionMarker
		} else {
			out[name] = value
		}
	}
	return out
}

func containsFragment(fragments []string, name string) bool {
	lower := strings.ToLower(name)
	for _, frag := range fragments {
		if frag == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(frag)) {
			return true
		}
	}
	return false
}

// Body is the tagged result of a parse attempt. Structured carries a decoded
// value ready for recursive redaction and native JSON storage; an unparsed
// body keeps the original bytes untouched. The fallback is a visible branch
// in the type, not an exception path.
type Body struct {
	Value      any
	Raw        []byte
	Structured bool
}

// Stored returns the value a record should carry for this body: the decoded
// structure, the raw text, or nil when there was nothing to capture.
func (b Body) Stored() any {
	if b.Structured {
		return b.Value
	}
	if len(b.Raw) == 0 {
		return nil
	}
	return string(b.Raw)
}

// TryParse decodes raw by its declared content type: JSON kinds decode to a
// structured value, form encoding to a flat map, anything else (or any parse
// failure) stays as raw text.
func TryParse(contentType string, raw []byte) Body {
	if len(raw) == 0 {
		return Body{}
	}
	base := baseContentType(contentType)
	switch {
	case isJSONType(base):
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return Body{Raw: raw}
		}
		return Body{Value: v, Structured: true}
	case base == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			return Body{Raw: raw}
		}
		form := make(map[string]any, len(values))
		for key, vals := range values {
			if len(vals) == 1 {
				form[key] = vals[0]
			} else {
				entries := make([]any, len(vals))
				for i, v := range vals {
					entries[i] = v
				}
				form[key] = entries
			}
		}
		return Body{Value: form, Structured: true}
	default:
		return Body{Raw: raw}
	}
}

func isJSONType(base string) bool {
	switch base {
	case "application/json", "text/json":
		return true
	}
	return strings.HasSuffix(base, "+json")
}

// RedactBody walks a structured body and replaces the value of every key
// whose lower-cased name contains a sensitive fragment. Unparsed bodies pass
// through unchanged.
func RedactBody(cfg *config.Config, b Body) Body {
	if !b.Structured {
		return b
	}
	return Body{Value: redactValue(cfg, b.Value, 0), Structured: true}
}

func redactValue(cfg *config.Config, v any, depth int) any {
	if depth >= maxRedactDepth {
		return config.RedactionMarker
	}
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for key, inner := range val {
			if containsFragment(cfg.SensitiveBodyKeys, key) {
				out[key] = config.RedactionMarker
				continue
			}
			out[key] = redactValue(cfg, inner, depth+1)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = redactValue(cfg, inner, depth+1)
		}
		return out
	default:
		return v
	}
}

// FilterBody is the adapter-level safety net over raw bytes: oversize bodies
// pass through unfiltered (the caller should already have decided not to
// capture them), JSON bodies are redacted and re-encoded, anything that fails
// to parse is returned unchanged.
func FilterBody(cfg *config.Config, raw []byte) []byte {
	if cfg.MaxBodySize > 0 && len(raw) > cfg.MaxBodySize {
		return raw
	}
	body := RedactBody(cfg, TryParse("application/json", raw))
	if !body.Structured {
		return raw
	}
	out, err := json.Marshal(body.Value)
	if err != nil {
		return raw
	}
	return out
}

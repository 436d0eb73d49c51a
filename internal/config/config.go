package config

import (
	"log/slog"
	"regexp"

	"github.com/getupgraded/inbound-http-logger/internal/pkg/errdef"
	"github.com/getupgraded/inbound-http-logger/internal/pkg/logger"
)

// RedactionMarker is the fixed placeholder substituted for any detected
// sensitive header or body value.
const RedactionMarker = "[FILTERED]"

// DefaultMaxBodySize caps captured request/response bodies at 10KB.
const DefaultMaxBodySize = 10000

// SinkConfig describes a secondary persistence destination: a location string
// plus the backend kind that should handle it.
type SinkConfig struct {
	URL  string `mapstructure:"url" json:"url"`
	Kind string `mapstructure:"kind" json:"kind"`
}

// Config holds every filtering rule, size limit and sink setting the capture
// pipeline consults. One logical instance exists per active scope: the process
// global, or a scoped override built from it.
//
// All predicates over a Config treat it as an immutable snapshot. Mutation
// happens only through Update (administrative) or on a private clone inside
// WithConfiguration.
type Config struct {
	Enabled              bool
	DebugLogging         bool
	MaxBodySize          int
	ExcludedPaths        []string
	ExcludedContentTypes []string
	SensitiveHeaders     []string
	SensitiveBodyKeys    []string
	ExcludedControllers  []string
	ExcludedActions      map[string][]string
	IncludedActions      map[string][]string
	Secondary            *SinkConfig
	Logger               *slog.Logger

	pathPatterns []*regexp.Regexp
}

// Default returns the out-of-the-box configuration. Logging is opt-in; the
// exclusion and redaction lists mirror what a web application almost always
// wants filtered.
func Default() *Config {
	return &Config{
		Enabled:     false,
		MaxBodySize: DefaultMaxBodySize,
		ExcludedPaths: []string{
			`^/health$`,
			`^/ping$`,
			`\.(ico|png|gif|jpg|jpeg|css|js|svg|map|woff2?)$`,
		},
		ExcludedContentTypes: []string{
			"text/html",
			"text/css",
			"text/javascript",
			"application/javascript",
			"image/*",
			"video/*",
			"audio/*",
			"font/*",
		},
		SensitiveHeaders: []string{
			"authorization",
			"cookie",
			"set-cookie",
			"x-api-key",
			"x-auth-token",
			"x-access-token",
			"bearer",
			"secret",
			"token",
		},
		SensitiveBodyKeys: []string{
			"password",
			"secret",
			"token",
			"api_key",
			"apikey",
			"access_token",
			"refresh_token",
			"private_key",
			"ssn",
			"credit_card",
			"cvv",
		},
		ExcludedActions: map[string][]string{},
		IncludedActions: map[string][]string{},
	}
}

// Clone returns a deep copy. Every mutable collection is copied by value so
// the clone can be mutated without the original observing anything. Compiled
// path patterns are shared: regexps are immutable.
func (c *Config) Clone() *Config {
	out := &Config{
		Enabled:              c.Enabled,
		DebugLogging:         c.DebugLogging,
		MaxBodySize:          c.MaxBodySize,
		ExcludedPaths:        copyStrings(c.ExcludedPaths),
		ExcludedContentTypes: copyStrings(c.ExcludedContentTypes),
		SensitiveHeaders:     copyStrings(c.SensitiveHeaders),
		SensitiveBodyKeys:    copyStrings(c.SensitiveBodyKeys),
		ExcludedControllers:  copyStrings(c.ExcludedControllers),
		ExcludedActions:      copyActionMap(c.ExcludedActions),
		IncludedActions:      copyActionMap(c.IncludedActions),
		Logger:               c.Logger,
		pathPatterns:         append([]*regexp.Regexp(nil), c.pathPatterns...),
	}
	if c.Secondary != nil {
		s := *c.Secondary
		out.Secondary = &s
	}
	return out
}

// Snapshot is a point-in-time copy produced by Backup and consumed by Restore.
type Snapshot struct {
	cfg *Config
}

// Backup captures the configuration by value.
func (c *Config) Backup() *Snapshot {
	return &Snapshot{cfg: c.Clone()}
}

// Restore replaces every field of c with the snapshot's values. It is a full
// rollback, never a merge.
func (c *Config) Restore(s *Snapshot) {
	if s == nil || s.cfg == nil {
		return
	}
	*c = *s.cfg.Clone()
}

// Validate checks the configuration and compiles the path exclusion patterns.
// It fails loudly: misconfiguration should surface here, at configure time,
// not during request handling.
func (c *Config) Validate() error {
	if c.MaxBodySize < 0 {
		return errdef.Configurationf("max body size must be non-negative, got %d", c.MaxBodySize)
	}
	compiled := make([]*regexp.Regexp, 0, len(c.ExcludedPaths))
	for _, pat := range c.ExcludedPaths {
		re, err := regexp.Compile(pat)
		if err != nil {
			return errdef.New(errdef.KindConfiguration, "invalid excluded path pattern "+pat, err)
		}
		compiled = append(compiled, re)
	}
	c.pathPatterns = compiled
	for controller := range c.IncludedActions {
		if _, both := c.ExcludedActions[controller]; both {
			return errdef.Configurationf(
				"controller %q configures both included and excluded actions; the lists are mutually exclusive", controller)
		}
	}
	if c.Secondary != nil {
		if c.Secondary.Kind == "" {
			return errdef.Configurationf("secondary sink requires a backend kind")
		}
		if c.Secondary.URL == "" {
			return errdef.Configurationf("secondary sink requires a location string")
		}
	}
	return nil
}

// PathPatterns returns the compiled exclusion patterns, compiling on demand
// when the configuration was mutated directly instead of via Validate.
// Patterns that fail to compile are skipped here; Validate is the loud path.
func (c *Config) PathPatterns() []*regexp.Regexp {
	if len(c.pathPatterns) == len(c.ExcludedPaths) {
		return c.pathPatterns
	}
	compiled := make([]*regexp.Regexp, 0, len(c.ExcludedPaths))
	for _, pat := range c.ExcludedPaths {
		if re, err := regexp.Compile(pat); err == nil {
			compiled = append(compiled, re)
		}
	}
	c.pathPatterns = compiled
	return compiled
}

// LoggerOrDefault returns the injected logger, falling back to the package
// global.
func (c *Config) LoggerOrDefault() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logger.Get()
}

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func copyActionMap(in map[string][]string) map[string][]string {
	if in == nil {
		return nil
	}
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}

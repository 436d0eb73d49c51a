package config

import (
	"context"
	"log/slog"
	"sync"
)

// The process-wide default configuration. Mutated only through Update, read
// through Effective. Readers receive the stored pointer and treat it as
// immutable; Update swaps in a validated clone (copy-on-write), so a request
// mid-flight keeps the snapshot it started with.
var (
	globalMu sync.RWMutex
	global   = mustDefault()
)

func mustDefault() *Config {
	c := Default()
	if err := c.Validate(); err != nil {
		panic(err)
	}
	return c
}

type ctxKey int

const overrideKey ctxKey = iota

// Effective returns the configuration a request should observe: the innermost
// scope override carried by ctx if any, otherwise the process global.
func Effective(ctx context.Context) *Config {
	if ctx != nil {
		if c, ok := ctx.Value(overrideKey).(*Config); ok {
			return c
		}
	}
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

// Global returns a copy of the process-wide configuration, bypassing any
// scope override. Intended for introspection and tests, not request handling.
func Global() *Config {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global.Clone()
}

// Update applies fn to a clone of the global configuration, validates the
// result and swaps it in. Validation failure leaves the global untouched.
func Update(fn func(*Config)) error {
	globalMu.Lock()
	defer globalMu.Unlock()
	next := global.Clone()
	fn(next)
	if err := next.Validate(); err != nil {
		return err
	}
	global = next
	return nil
}

// Replace installs cfg as the global configuration after validating it.
func Replace(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	globalMu.Lock()
	global = cfg.Clone()
	globalMu.Unlock()
	return nil
}

// ResetGlobal restores the built-in defaults. Test helper.
func ResetGlobal() {
	globalMu.Lock()
	global = mustDefault()
	globalMu.Unlock()
}

// FromContext reports the scope override carried by ctx, if any.
func FromContext(ctx context.Context) (*Config, bool) {
	if ctx == nil {
		return nil, false
	}
	c, ok := ctx.Value(overrideKey).(*Config)
	return c, ok
}

// Override names the settings a scoped block wants changed. Nil fields are
// left at the effective value; non-nil fields fully replace it. Collections
// replace wholesale, they do not merge.
type Override struct {
	Enabled              *bool
	DebugLogging         *bool
	MaxBodySize          *int
	ExcludedPaths        []string
	ExcludedContentTypes []string
	SensitiveHeaders     []string
	SensitiveBodyKeys    []string
	ExcludedControllers  []string
	ExcludedActions      map[string][]string
	IncludedActions      map[string][]string
	Secondary            *SinkConfig
	Logger               *slog.Logger
}

func (o Override) apply(c *Config) {
	if o.Enabled != nil {
		c.Enabled = *o.Enabled
	}
	if o.DebugLogging != nil {
		c.DebugLogging = *o.DebugLogging
	}
	if o.MaxBodySize != nil {
		c.MaxBodySize = *o.MaxBodySize
	}
	if o.ExcludedPaths != nil {
		c.ExcludedPaths = copyStrings(o.ExcludedPaths)
	}
	if o.ExcludedContentTypes != nil {
		c.ExcludedContentTypes = copyStrings(o.ExcludedContentTypes)
	}
	if o.SensitiveHeaders != nil {
		c.SensitiveHeaders = copyStrings(o.SensitiveHeaders)
	}
	if o.SensitiveBodyKeys != nil {
		c.SensitiveBodyKeys = copyStrings(o.SensitiveBodyKeys)
	}
	if o.ExcludedControllers != nil {
		c.ExcludedControllers = copyStrings(o.ExcludedControllers)
	}
	if o.ExcludedActions != nil {
		c.ExcludedActions = copyActionMap(o.ExcludedActions)
	}
	if o.IncludedActions != nil {
		c.IncludedActions = copyActionMap(o.IncludedActions)
	}
	if o.Secondary != nil {
		s := *o.Secondary
		c.Secondary = &s
	}
	if o.Logger != nil {
		c.Logger = o.Logger
	}
}

// WithConfiguration runs fn under a scope override: a full clone of the
// currently effective configuration with only the named overrides applied,
// carried in the derived context fn receives. Restoration is structural: the
// override dies with the derived context, so the prior configuration is
// back in force after fn returns, panics or fails. Nested calls shadow outer
// ones for their duration only, and concurrent goroutines never observe each
// other's overrides.
func WithConfiguration(ctx context.Context, o Override, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	scoped := Effective(ctx).Clone()
	o.apply(scoped)
	if err := scoped.Validate(); err != nil {
		return err
	}
	return fn(context.WithValue(ctx, overrideKey, scoped))
}

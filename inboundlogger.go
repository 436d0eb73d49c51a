package inboundlogger

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/getupgraded/inbound-http-logger/internal/config"
	"github.com/getupgraded/inbound-http-logger/internal/logctx"
	"github.com/getupgraded/inbound-http-logger/internal/middleware"
	"github.com/getupgraded/inbound-http-logger/internal/model"
	"github.com/getupgraded/inbound-http-logger/internal/pkg/logger"
	"github.com/getupgraded/inbound-http-logger/internal/service"
	"github.com/getupgraded/inbound-http-logger/internal/storage"
)

// Aliases so host applications only ever import this package.
type (
	Config      = config.Config
	Override    = config.Override
	SinkConfig  = config.SinkConfig
	Query       = storage.Query
	Stats       = storage.Stats
	Adapter     = storage.Adapter
	TestSink    = storage.TestSink
	LogRecord   = model.LogRecord
	LoggableRef = model.LoggableRef
	Store       = logctx.Store
	Callback    = logctx.Callback
)

// RedactionMarker is the placeholder stored in place of sensitive values.
const RedactionMarker = config.RedactionMarker

var defaultService = service.New(nil)

// Bool, Int: pointer helpers for Override fields.
func Bool(v bool) *bool { return &v }
func Int(v int) *int    { return &v }

// SetLogger injects the host's slog instance; all capture and persistence
// errors are reported through it.
func SetLogger(l *slog.Logger) {
	logger.SetLogger(l)
}

// Enable turns request capture on globally.
func Enable() error {
	return SetEnabled(true)
}

// Disable turns request capture off globally. The middleware keeps passing
// requests through untouched.
func Disable() error {
	return SetEnabled(false)
}

func SetEnabled(enabled bool) error {
	return config.Update(func(c *Config) { c.Enabled = enabled })
}

// Enabled reports the global enabled flag, ignoring scope overrides.
func Enabled() bool {
	return config.Global().Enabled
}

// Configure applies fn to a copy of the global configuration, validates it
// and swaps it in. Misconfiguration fails here, loudly, before traffic flows.
func Configure(fn func(*Config)) error {
	return config.Update(fn)
}

// GlobalConfig returns a copy of the global configuration, bypassing any
// scope override. Introspection only.
func GlobalConfig() *Config {
	return config.Global()
}

// WithConfiguration runs fn under a temporary, goroutine-isolated
// configuration override carried by the derived context fn receives. The
// prior configuration is back in force when fn returns, fails or panics.
func WithConfiguration(ctx context.Context, o Override, fn func(context.Context) error) error {
	return config.WithConfiguration(ctx, o, fn)
}

// SetMetadata attaches metadata to the current request's record, replacing
// any previously set map. A no-op outside a captured request.
func SetMetadata(ctx context.Context, m map[string]any) {
	logctx.SetMetadata(ctx, m)
}

// Metadata returns the metadata attached to the current request, if any.
func Metadata(ctx context.Context) map[string]any {
	return logctx.Metadata(ctx)
}

// SetLoggable associates the current request's record with a domain object.
func SetLoggable(ctx context.Context, loggableType, id string) {
	logctx.SetLoggable(ctx, loggableType, id)
}

// ClearContext resets the current request's context store. The middleware
// does this automatically on every exit path.
func ClearContext(ctx context.Context) {
	logctx.Clear(ctx)
}

// CallbackFunc wraps a literal context callback.
func CallbackFunc(fn func(*Store)) Callback {
	return logctx.Func(fn)
}

// NamedCallback references a callback registered with RegisterNamedCallback.
func NamedCallback(name string) Callback {
	return logctx.Named(name)
}

// RegisterNamedCallback registers fn under a name for NamedCallback use.
func RegisterNamedCallback(name string, fn func(*Store)) error {
	return logctx.DefaultRegistry.RegisterNamedCallback(name, fn)
}

// RegisterController declares a controller, an optional parent whose callback
// it inherits, and an optional callback of its own.
func RegisterController(name, parent string, cb Callback) error {
	return logctx.DefaultRegistry.RegisterController(name, parent, cb)
}

// Middleware returns the capture interceptor for the host's gin engine.
func Middleware() gin.HandlerFunc {
	return middleware.Capture(defaultService)
}

// Controller tags a route group with a logical controller name for exclusion
// rules and callback resolution.
func Controller(name string) gin.HandlerFunc {
	return middleware.Controller(name)
}

// ConnectPrimary opens and connects the primary sink for a backend kind and
// location string. Unknown kinds and unreachable backends fail immediately.
func ConnectPrimary(url, kind string) error {
	adapter, err := storage.Open(kind, url)
	if err != nil {
		return err
	}
	if err := adapter.EstablishConnection(context.Background()); err != nil {
		return err
	}
	defaultService.SetPrimary(adapter)
	return nil
}

// SetPrimaryAdapter installs an already constructed adapter as the primary
// sink, e.g. a test sink or a custom backend.
func SetPrimaryAdapter(a Adapter) {
	defaultService.SetPrimary(a)
}

// UsePostgresPool runs the primary sink over a connection pool the host
// already owns. The pool is never closed by this library.
func UsePostgresPool(db *sqlx.DB) error {
	adapter := storage.NewPostgresWithDB(db)
	if err := adapter.EstablishConnection(context.Background()); err != nil {
		return err
	}
	defaultService.SetPrimary(adapter)
	return nil
}

// EnableSecondarySink attaches an independent auxiliary sink. The named
// connection is established here, loudly: it never falls back to the primary
// connection.
func EnableSecondarySink(url, kind string) error {
	adapter, err := storage.Open(kind, url)
	if err != nil {
		return err
	}
	if err := adapter.EstablishConnection(context.Background()); err != nil {
		return err
	}
	if err := config.Update(func(c *Config) {
		c.Secondary = &config.SinkConfig{URL: url, Kind: kind}
	}); err != nil {
		_ = adapter.Close()
		return err
	}
	defaultService.SetSecondary(adapter)
	return nil
}

// DisableSecondarySink detaches and closes the auxiliary sink.
func DisableSecondarySink() error {
	if err := config.Update(func(c *Config) { c.Secondary = nil }); err != nil {
		return err
	}
	if old := defaultService.ClearSecondary(); old != nil {
		return old.Close()
	}
	return nil
}

// EnableTestSink attaches the in-memory assertion sink and returns it.
func EnableTestSink() *TestSink {
	return defaultService.EnableTestSink()
}

func DisableTestSink() {
	defaultService.DisableTestSink()
}

// TestRecords returns the records buffered by the test sink, newest first.
func TestRecords() []*LogRecord {
	sink := defaultService.TestSink()
	if sink == nil {
		return nil
	}
	return sink.All()
}

// Search queries the primary sink.
func Search(ctx context.Context, q Query) ([]*LogRecord, error) {
	return defaultService.Search(ctx, q)
}

// Analyze returns aggregate counts and success/error rates over the primary
// sink's records.
func Analyze(ctx context.Context) (Stats, error) {
	return defaultService.Analyze(ctx)
}

// Cleanup deletes records older than the given number of days from the
// primary sink and returns the count deleted.
func Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	return defaultService.Cleanup(ctx, olderThanDays)
}

// Shutdown closes every attached sink.
func Shutdown() error {
	return defaultService.Close()
}

// Service exposes the underlying fan-out service for host wiring that needs
// more than the package-level functions (e.g. mounting the admin handler).
func Service() *service.LogService {
	return defaultService
}

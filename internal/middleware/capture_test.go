package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getupgraded/inbound-http-logger/internal/config"
	"github.com/getupgraded/inbound-http-logger/internal/logctx"
	"github.com/getupgraded/inbound-http-logger/internal/model"
	"github.com/getupgraded/inbound-http-logger/internal/service"
	"github.com/getupgraded/inbound-http-logger/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setup(t *testing.T) (*service.LogService, *storage.TestSink) {
	t.Helper()
	config.ResetGlobal()
	t.Cleanup(config.ResetGlobal)
	require.NoError(t, config.Update(func(c *config.Config) { c.Enabled = true }))

	sink := storage.NewTestSink(0)
	svc := service.New(sink)
	return svc, sink
}

func perform(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestBasicCapture(t *testing.T) {
	svc, sink := setup(t)

	router := gin.New()
	router.Use(Capture(svc))
	router.GET("/users", func(c *gin.Context) {
		c.JSON(200, gin.H{"success": true})
	})

	rec := perform(router, httptest.NewRequest(http.MethodGet, "/users", nil))
	require.Equal(t, 200, rec.Code)

	records := sink.All()
	require.Len(t, records, 1)
	r := records[0]
	assert.Equal(t, "GET", r.Method)
	assert.Equal(t, "/users", r.URL)
	assert.Equal(t, 200, r.StatusCode)
	assert.GreaterOrEqual(t, r.DurationMS, 0.0)
	assert.NotEmpty(t, r.RequestID)
	assert.Equal(t, map[string]any{"success": true}, r.ResponseBody)
}

func TestDisabledPassthrough(t *testing.T) {
	svc, sink := setup(t)
	require.NoError(t, config.Update(func(c *config.Config) { c.Enabled = false }))

	router := gin.New()
	router.Use(Capture(svc))
	router.GET("/users", func(c *gin.Context) {
		c.Header("X-Custom", "yes")
		c.String(200, "exact body bytes")
	})

	rec := perform(router, httptest.NewRequest(http.MethodGet, "/users", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "exact body bytes", rec.Body.String())
	assert.Equal(t, "yes", rec.Header().Get("X-Custom"))
	assert.Zero(t, sink.Count())
}

func TestExcludedPathStillServed(t *testing.T) {
	svc, sink := setup(t)

	handled := false
	router := gin.New()
	router.Use(Capture(svc))
	router.GET("/health", func(c *gin.Context) {
		handled = true
		c.JSON(200, gin.H{"status": "ok"})
	})

	rec := perform(router, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, 200, rec.Code)
	assert.True(t, handled, "handler must always run")
	assert.Zero(t, sink.Count())
}

func TestHeaderRedaction(t *testing.T) {
	svc, sink := setup(t)

	router := gin.New()
	router.Use(Capture(svc))
	router.POST("/users", func(c *gin.Context) {
		c.JSON(201, gin.H{"ok": true})
	})

	req := httptest.NewRequest(http.MethodPost, "/users", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer xyz")
	req.Header.Set("User-Agent", "test-agent/1.0")
	perform(router, req)

	records := sink.All()
	require.Len(t, records, 1)
	assert.Equal(t, config.RedactionMarker, records[0].RequestHeaders["Authorization"])
	assert.Equal(t, "test-agent/1.0", records[0].RequestHeaders["User-Agent"])
}

func TestBodyKeyRedaction(t *testing.T) {
	svc, sink := setup(t)

	router := gin.New()
	router.Use(Capture(svc))
	router.POST("/login", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	req := httptest.NewRequest(http.MethodPost, "/login",
		strings.NewReader(`{"user":"alice","password":"hunter2","profile":{"api_key":"k"}}`))
	req.Header.Set("Content-Type", "application/json")
	perform(router, req)

	records := sink.All()
	require.Len(t, records, 1)
	body, ok := records[0].RequestBody.(map[string]any)
	require.True(t, ok, "json body must be stored structured")
	assert.Equal(t, "alice", body["user"])
	assert.Equal(t, config.RedactionMarker, body["password"])
	assert.Equal(t, config.RedactionMarker, body["profile"].(map[string]any)["api_key"])
}

func TestRequestBodySizeCap(t *testing.T) {
	svc, sink := setup(t)
	require.NoError(t, config.Update(func(c *config.Config) { c.MaxBodySize = 16 }))

	handlerSaw := ""
	router := gin.New()
	router.Use(Capture(svc))
	router.POST("/upload", func(c *gin.Context) {
		raw, _ := c.GetRawData()
		handlerSaw = string(raw)
		c.JSON(200, gin.H{"ok": true})
	})

	big := strings.Repeat("x", 100)
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(big))
	req.Header.Set("Content-Type", "text/plain")
	perform(router, req)

	// the handler still sees the full body after the capture read
	assert.Equal(t, big, handlerSaw)

	records := sink.All()
	require.Len(t, records, 1)
	assert.Nil(t, records[0].RequestBody, "oversize body recorded as absent")
	assert.Equal(t, "POST", records[0].Method)
	assert.Equal(t, "/upload", records[0].URL)
	assert.Equal(t, 200, records[0].StatusCode)
}

func TestResponseBodySuppressedFor204(t *testing.T) {
	svc, sink := setup(t)

	router := gin.New()
	router.Use(Capture(svc))
	router.DELETE("/users/1", func(c *gin.Context) {
		c.Status(204)
	})

	perform(router, httptest.NewRequest(http.MethodDelete, "/users/1", nil))

	records := sink.All()
	require.Len(t, records, 1)
	assert.Equal(t, 204, records[0].StatusCode)
	assert.Nil(t, records[0].ResponseBody)
}

func TestResponseBodySuppressedForRedirect(t *testing.T) {
	svc, sink := setup(t)

	router := gin.New()
	router.Use(Capture(svc))
	router.GET("/old", func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/new")
	})

	perform(router, httptest.NewRequest(http.MethodGet, "/old", nil))

	records := sink.All()
	require.Len(t, records, 1)
	assert.Equal(t, http.StatusFound, records[0].StatusCode)
	assert.Nil(t, records[0].ResponseBody)
}

func TestExcludedResponseContentType(t *testing.T) {
	svc, sink := setup(t)

	router := gin.New()
	router.Use(Capture(svc))
	router.GET("/page", func(c *gin.Context) {
		c.Data(200, "text/html; charset=utf-8", []byte("<html></html>"))
	})

	rec := perform(router, httptest.NewRequest(http.MethodGet, "/page", nil))
	assert.Equal(t, "<html></html>", rec.Body.String())
	assert.Zero(t, sink.Count())
}

func TestControllerExclusion(t *testing.T) {
	svc, sink := setup(t)
	require.NoError(t, config.Update(func(c *config.Config) {
		c.ExcludedControllers = []string{"admin"}
	}))

	router := gin.New()
	router.Use(Capture(svc))
	admin := router.Group("/admin", Controller("admin"))
	admin.GET("/stats", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})
	router.GET("/public", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	perform(router, httptest.NewRequest(http.MethodGet, "/admin/stats", nil))
	assert.Zero(t, sink.Count(), "excluded controller produces no record")

	perform(router, httptest.NewRequest(http.MethodGet, "/public", nil))
	assert.Equal(t, 1, sink.Count())
}

func TestMetadataAndLoggable(t *testing.T) {
	svc, sink := setup(t)

	router := gin.New()
	router.Use(Capture(svc))
	router.POST("/orders", func(c *gin.Context) {
		logctx.SetLoggable(c.Request.Context(), "Order", "42")
		logctx.SetMetadata(c.Request.Context(), map[string]any{"plan": "pro"})
		c.JSON(201, gin.H{"id": 42})
	})

	perform(router, httptest.NewRequest(http.MethodPost, "/orders", nil))

	records := sink.All()
	require.Len(t, records, 1)
	r := records[0]
	require.NotNil(t, r.Loggable)
	assert.Equal(t, "Order", r.Loggable.Type)
	assert.Equal(t, "42", r.Loggable.ID)
	assert.Equal(t, "pro", r.Metadata["plan"])
	assert.NotEmpty(t, r.Metadata["action"], "detected dispatch data is merged in")
}

func TestRequestIDPassthrough(t *testing.T) {
	svc, sink := setup(t)

	router := gin.New()
	router.Use(Capture(svc))
	router.GET("/users", func(c *gin.Context) { c.JSON(200, gin.H{}) })

	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	req.Header.Set("X-Request-ID", "corr-123")
	perform(router, req)

	records := sink.All()
	require.Len(t, records, 1)
	assert.Equal(t, "corr-123", records[0].RequestID)
}

type failingSink struct{}

func (failingSink) Name() string                                   { return "failing" }
func (failingSink) Available() bool                                { return true }
func (failingSink) EstablishConnection(context.Context) error      { return nil }
func (failingSink) LogRequest(context.Context, *model.LogRecord) error {
	panic("sink blew up")
}
func (failingSink) Search(context.Context, storage.Query) ([]*model.LogRecord, error) {
	return nil, nil
}
func (failingSink) Analyze(context.Context) (storage.Stats, error) { return storage.Stats{}, nil }
func (failingSink) Cleanup(context.Context, int) (int64, error)    { return 0, nil }
func (failingSink) Close() error                                   { return nil }

func TestFailingPrimarySinkDoesNotAffectResponse(t *testing.T) {
	config.ResetGlobal()
	t.Cleanup(config.ResetGlobal)
	require.NoError(t, config.Update(func(c *config.Config) { c.Enabled = true }))

	svc := service.New(failingSink{})

	router := gin.New()
	router.Use(Capture(svc))
	router.GET("/users", func(c *gin.Context) {
		c.JSON(200, gin.H{"success": true})
	})

	rec := perform(router, httptest.NewRequest(http.MethodGet, "/users", nil))
	assert.Equal(t, 200, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
}

func TestHandlerPanicPropagatesAndContextClears(t *testing.T) {
	svc, sink := setup(t)

	var store *logctx.Store
	router := gin.New()
	router.Use(Capture(svc))
	router.GET("/boom", func(c *gin.Context) {
		store = logctx.FromContext(c.Request.Context())
		store.SetMetadata(map[string]any{"will": "leak?"})
		panic("application failure")
	})

	panicked := func() (p bool) {
		defer func() {
			if recover() != nil {
				p = true
			}
		}()
		perform(router, httptest.NewRequest(http.MethodGet, "/boom", nil))
		return false
	}()

	assert.True(t, panicked, "application panic must propagate unchanged")
	require.NotNil(t, store)
	assert.Nil(t, store.Metadata(), "context store must be cleared on the panic path")
	assert.Zero(t, sink.Count())
}

func TestScopedOverrideAppliesToRequest(t *testing.T) {
	svc, sink := setup(t)
	require.NoError(t, config.Update(func(c *config.Config) { c.Enabled = false }))

	router := gin.New()
	router.Use(Capture(svc))
	router.GET("/users", func(c *gin.Context) { c.JSON(200, gin.H{}) })

	enabled := true
	err := config.WithConfiguration(context.Background(), config.Override{Enabled: &enabled}, func(ctx context.Context) error {
		req := httptest.NewRequest(http.MethodGet, "/users", nil).WithContext(ctx)
		perform(router, req)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sink.Count(), "request under an enabled override is captured")

	perform(router, httptest.NewRequest(http.MethodGet, "/users", nil))
	assert.Equal(t, 1, sink.Count(), "outside the scope the global disabled flag applies")
}

func TestRequestBodyRewoundForHandler(t *testing.T) {
	svc, _ := setup(t)

	var bound map[string]any
	router := gin.New()
	router.Use(Capture(svc))
	router.POST("/users", func(c *gin.Context) {
		require.NoError(t, c.BindJSON(&bound))
		c.JSON(201, gin.H{"ok": true})
	})

	req := httptest.NewRequest(http.MethodPost, "/users", bytes.NewReader([]byte(`{"name":"alice"}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := perform(router, req)

	assert.Equal(t, 201, rec.Code)
	assert.Equal(t, "alice", bound["name"])
}

func TestURLIncludesQueryString(t *testing.T) {
	svc, sink := setup(t)

	router := gin.New()
	router.Use(Capture(svc))
	router.GET("/search", func(c *gin.Context) { c.JSON(200, gin.H{}) })

	perform(router, httptest.NewRequest(http.MethodGet, "/search?q=go&page=2", nil))

	records := sink.All()
	require.Len(t, records, 1)
	assert.Equal(t, "/search?q=go&page=2", records[0].URL)
}

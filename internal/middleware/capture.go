package middleware

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/getupgraded/inbound-http-logger/internal/config"
	"github.com/getupgraded/inbound-http-logger/internal/filter"
	"github.com/getupgraded/inbound-http-logger/internal/logctx"
	"github.com/getupgraded/inbound-http-logger/internal/model"
	"github.com/getupgraded/inbound-http-logger/internal/pkg/errdef"
	"github.com/getupgraded/inbound-http-logger/internal/pkg/metrics"
	"github.com/getupgraded/inbound-http-logger/internal/service"
)

// ContextControllerKey tags a route group with a logical controller name, set
// by the Controller helper and read during admission and record assembly.
const ContextControllerKey = "inboundlogger.controller"

// bodyCaptureWriter wraps the ResponseWriter to capture the response body
// while every byte still passes through to the client. Capture stops once the
// size cap is exceeded; an oversize body is recorded as absent.
type bodyCaptureWriter struct {
	gin.ResponseWriter
	body      *bytes.Buffer
	limit     int
	truncated bool
}

func (w *bodyCaptureWriter) Write(b []byte) (int, error) {
	w.capture(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyCaptureWriter) WriteString(s string) (int, error) {
	w.capture([]byte(s))
	return w.ResponseWriter.WriteString(s)
}

func (w *bodyCaptureWriter) capture(b []byte) {
	if w.truncated {
		return
	}
	if w.limit > 0 && w.body.Len()+len(b) > w.limit {
		w.truncated = true
		w.body.Reset()
		return
	}
	w.body.Write(b)
}

// Controller names the route group it is attached to, so exclusion rules and
// context-callback resolution can address it.
func Controller(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ContextControllerKey, name)
		c.Next()
	}
}

// Capture is the request-logging interceptor. The wrapped handler always
// runs, with its request and response untouched; only the logging side
// effects are conditional. Two failure domains are kept strictly apart: an
// error or panic out of the handler propagates unchanged, while any fault in
// the capture machinery itself is contained here and only ever reaches the
// injected logger.
func Capture(svc *service.LogService) gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg := config.Effective(c.Request.Context())
		controller, action := dispatchTarget(c)

		// admission: cheap checks first, handler untouched either way
		switch {
		case !cfg.Enabled:
			metrics.RequestsSuppressed.WithLabelValues("disabled").Inc()
			c.Next()
			return
		case !filter.ShouldLogPath(cfg, c.Request.URL.Path):
			metrics.RequestsSuppressed.WithLabelValues("path").Inc()
			c.Next()
			return
		case !filter.EnabledForController(cfg, controller, action):
			metrics.RequestsSuppressed.WithLabelValues("controller").Inc()
			c.Next()
			return
		}

		ctx, store := logctx.WithStore(c.Request.Context())
		c.Request = c.Request.WithContext(ctx)
		// hard invariant: the store is cleared on every exit path, a handler
		// panic included, or stale context would attach to a later request
		defer store.Clear()

		var reqBody []byte
		if c.Request.Body != nil {
			var err error
			reqBody, err = io.ReadAll(c.Request.Body)
			if err != nil {
				capErr := errdef.Capture("failed to read request body", err)
				cfg.LoggerOrDefault().Warn("request body not captured", "error", capErr.Error())
				reqBody = nil
			}
			// rewind so the handler can still consume the body
			c.Request.Body = io.NopCloser(bytes.NewReader(reqBody))
		}

		blw := &bodyCaptureWriter{
			ResponseWriter: c.Writer,
			body:           &bytes.Buffer{},
			limit:          cfg.MaxBodySize,
		}
		c.Writer = blw

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		// the logging half runs under its own recover; a bug here must never
		// surface on the response path
		func() {
			defer func() {
				if r := recover(); r != nil {
					cfg.LoggerOrDefault().Error("request capture panicked", "panic", r)
				}
			}()
			logCapture(c, svc, cfg, store, reqBody, blw, duration)
		}()
	}
}

func logCapture(c *gin.Context, svc *service.LogService, cfg *config.Config, store *logctx.Store,
	reqBody []byte, blw *bodyCaptureWriter, duration time.Duration) {

	defer func(begun time.Time) {
		metrics.CaptureOverhead.Observe(time.Since(begun).Seconds())
	}(time.Now())

	// a Controller tag applied by a later middleware in the chain was not
	// visible at admission time; re-check exclusion with the final dispatch
	// target before assembling anything
	controller, action := dispatchTarget(c)
	if !filter.EnabledForController(cfg, controller, action) {
		metrics.RequestsSuppressed.WithLabelValues("controller").Inc()
		return
	}

	status := c.Writer.Status()
	respContentType := c.Writer.Header().Get("Content-Type")
	if !filter.ShouldLogContentType(cfg, respContentType) {
		metrics.RequestsSuppressed.WithLabelValues("content_type").Inc()
		return
	}

	rec := &model.LogRecord{
		RequestID:       requestID(c),
		Method:          c.Request.Method,
		URL:             c.Request.URL.RequestURI(),
		IPAddress:       c.ClientIP(),
		UserAgent:       c.Request.UserAgent(),
		Referrer:        c.Request.Referer(),
		RequestHeaders:  filter.FilterHeaders(cfg, flattenHeaders(c.Request.Header)),
		StatusCode:      status,
		ResponseHeaders: filter.FilterHeaders(cfg, flattenHeaders(c.Writer.Header())),
		DurationMS:      float64(duration) / float64(time.Millisecond),
		CreatedAt:       time.Now().UTC(),
	}

	if len(reqBody) > 0 && (cfg.MaxBodySize <= 0 || len(reqBody) <= cfg.MaxBodySize) {
		body := filter.RedactBody(cfg, filter.TryParse(c.ContentType(), reqBody))
		rec.RequestBody = body.Stored()
	}
	if captureResponseBody(status, blw) {
		body := filter.RedactBody(cfg, filter.TryParse(respContentType, blw.body.Bytes()))
		rec.ResponseBody = body.Stored()
	}

	// merge order: detected dispatch data, then callback contributions, then
	// whatever the handler set explicitly
	if cb := logctx.DefaultRegistry.Resolve(controller); cb != nil {
		cb(store)
	}
	metadata := map[string]any{}
	if controller != "" {
		metadata["controller"] = controller
	}
	if action != "" {
		metadata["action"] = action
	}
	for k, v := range store.Metadata() {
		metadata[k] = v
	}
	if len(metadata) > 0 {
		rec.Metadata = metadata
	}
	rec.Loggable = store.Loggable()

	metrics.RequestsCaptured.WithLabelValues(rec.Method).Inc()
	svc.Log(c.Request.Context(), cfg, rec)
}

func captureResponseBody(status int, blw *bodyCaptureWriter) bool {
	if status == 204 {
		return false
	}
	if status >= 300 && status < 400 {
		return false
	}
	if blw.truncated || blw.body.Len() == 0 {
		return false
	}
	return true
}

func requestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.New().String()
}

func flattenHeaders(h map[string][]string) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[name] = strings.Join(values, ", ")
	}
	return out
}

// dispatchTarget identifies the controller/action pair for the route. An
// explicit Controller tag wins; otherwise both are derived from the handler's
// symbol name, e.g. "pkg.(*UserHandler).Show-fm" -> ("UserHandler", "Show").
func dispatchTarget(c *gin.Context) (string, string) {
	name := c.HandlerName()
	name = strings.TrimSuffix(name, "-fm")
	segments := strings.Split(name, ".")
	action := ""
	controller := ""
	if len(segments) > 0 {
		action = segments[len(segments)-1]
	}
	if len(segments) > 1 {
		controller = strings.TrimSuffix(strings.TrimPrefix(segments[len(segments)-2], "(*"), ")")
	}
	if tagged, ok := c.Get(ContextControllerKey); ok {
		if s, ok := tagged.(string); ok && s != "" {
			controller = s
		}
	}
	return controller, action
}

package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/getupgraded/inbound-http-logger/internal/service"
	"github.com/getupgraded/inbound-http-logger/internal/storage"
)

// LogsHandler exposes the admin surface over HTTP: search, aggregate
// analysis and retention cleanup against the primary sink.
type LogsHandler struct {
	svc *service.LogService
}

func NewLogsHandler(svc *service.LogService) *LogsHandler {
	return &LogsHandler{svc: svc}
}

func (h *LogsHandler) Search(c *gin.Context) {
	q := storage.Query{
		Text:         c.Query("q"),
		IPAddress:    c.Query("ip"),
		LoggableType: c.Query("loggable_type"),
		LoggableID:   c.Query("loggable_id"),
	}
	for _, raw := range splitParam(c.Query("status")) {
		status, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status value: " + raw})
			return
		}
		q.Status = append(q.Status, status)
	}
	q.Methods = splitParam(c.Query("method"))
	if raw := c.Query("from"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from timestamp"})
			return
		}
		q.Since = ts
	}
	if raw := c.Query("to"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to timestamp"})
			return
		}
		q.Until = ts
	}
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			q.Limit = parsed
		}
	}

	records, err := h.svc.Search(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(records), "records": records})
}

func (h *LogsHandler) Analyze(c *gin.Context) {
	stats, err := h.svc.Analyze(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *LogsHandler) Cleanup(c *gin.Context) {
	days := 30
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid days value"})
			return
		}
		days = parsed
	}
	deleted, err := h.svc.Cleanup(c.Request.Context(), days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted, "older_than_days": days})
}

func splitParam(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

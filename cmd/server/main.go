package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	inboundlogger "github.com/getupgraded/inbound-http-logger"
	"github.com/getupgraded/inbound-http-logger/internal/config"
	"github.com/getupgraded/inbound-http-logger/internal/handler"
	"github.com/getupgraded/inbound-http-logger/internal/pkg/logger"
)

// Demo host application: a small gin API with the capture middleware
// installed, a sink wired from configuration, and the admin surface mounted
// under /admin.
func main() {
	// 1. Load Configuration
	app, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(app.Logging.Level)

	// 2. Initialize Persistence
	if err := inboundlogger.ConnectPrimary(app.Storage.URL, app.Storage.Kind); err != nil {
		log.Fatalf("Failed to connect primary sink: %v", err)
	}
	logger.Info("Connected primary sink", "kind", app.Storage.Kind)

	// 3. Apply capture configuration (fail fast on misconfiguration)
	captureCfg := app.Capture.Config()
	if err := inboundlogger.Configure(func(c *inboundlogger.Config) {
		*c = *captureCfg
	}); err != nil {
		log.Fatalf("Invalid capture configuration: %v", err)
	}
	if app.Capture.Secondary != nil {
		if err := inboundlogger.EnableSecondarySink(app.Capture.Secondary.URL, app.Capture.Secondary.Kind); err != nil {
			log.Fatalf("Failed to enable secondary sink: %v", err)
		}
	}

	// 4. Setup Router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(inboundlogger.Middleware())

	// Health Check (default-excluded from capture)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "service": "inbound-http-logger"})
	})

	// Demo endpoints showing context enrichment
	users := r.Group("/users")
	users.Use(inboundlogger.Controller("users"))
	users.GET("", func(c *gin.Context) {
		c.JSON(200, gin.H{"users": []string{"alice", "bob"}})
	})
	users.POST("", func(c *gin.Context) {
		var body map[string]any
		if err := c.BindJSON(&body); err != nil {
			return
		}
		inboundlogger.SetLoggable(c.Request.Context(), "User", "new")
		inboundlogger.SetMetadata(c.Request.Context(), map[string]any{"source": "demo"})
		c.JSON(201, gin.H{"created": true})
	})

	// Admin surface
	logs := handler.NewLogsHandler(inboundlogger.Service())
	admin := r.Group("/admin/logs")
	admin.GET("/search", logs.Search)
	admin.GET("/analyze", logs.Analyze)
	admin.POST("/cleanup", logs.Cleanup)

	// Metrics Endpoint
	if app.Metrics.Enabled {
		r.GET(app.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	// 5. Retention cleanup loop
	cleanupCtx, cancelCleanup := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-cleanupCtx.Done():
				return
			case <-ticker.C:
				deleted, err := inboundlogger.Cleanup(cleanupCtx, app.Storage.RetentionDays)
				if err != nil {
					logger.Error("Retention cleanup failed", "error", err.Error())
					continue
				}
				if deleted > 0 {
					logger.Info("Retention cleanup", "deleted", deleted)
				}
			}
		}
	}()

	srv := &http.Server{
		Addr:    ":" + app.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("Server starting", "port", app.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	cancelCleanup()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Forced shutdown", "error", err.Error())
	}
	if err := inboundlogger.Shutdown(); err != nil {
		logger.Error("Sink shutdown failed", "error", err.Error())
	}
}

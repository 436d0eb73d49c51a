// Package inboundlogger captures inbound HTTP requests and responses
// (method, URL, headers, bodies, status, timing and contextual metadata),
// applies security redaction and exclusion rules, and persists the result to
// one or more storage sinks without ever affecting the outcome of the request
// being logged.
//
// Install the middleware, connect a primary sink and enable capture:
//
//	inboundlogger.SetLogger(slog.Default())
//	if err := inboundlogger.ConnectPrimary("./requests.db", "sqlite"); err != nil {
//		log.Fatal(err)
//	}
//	r := gin.New()
//	r.Use(inboundlogger.Middleware())
//	_ = inboundlogger.Enable()
//
// Handlers can attach metadata and a domain-object reference to the record of
// the request they are serving:
//
//	inboundlogger.SetLoggable(c.Request.Context(), "Order", order.ID)
//	inboundlogger.SetMetadata(c.Request.Context(), map[string]any{"plan": "pro"})
//
// Scoped overrides never touch the shared configuration and are isolated per
// goroutine, which makes parallel tests with conflicting settings safe:
//
//	err := inboundlogger.WithConfiguration(ctx, inboundlogger.Override{
//		MaxBodySize: inboundlogger.Int(100),
//	}, func(ctx context.Context) error {
//		// requests handled under ctx observe the override
//		return nil
//	})
package inboundlogger

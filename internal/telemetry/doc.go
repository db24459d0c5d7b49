// Package telemetry provides OpenTelemetry instrumentation for issuerag.
//
// Tracing and metrics export over OTLP (gRPC or HTTP) to a collector.
// Export is disabled by default; with it off the otel globals stay no-op
// and spans cost nothing.
//
//	cfg := telemetry.ConfigFromApp(appCfg.Observability, version)
//	tel, err := telemetry.New(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Prometheus counters registered with promauto are served separately on
// the HTTP server's /metrics route.
//
// # Testing
//
//	tt := telemetry.NewTestTelemetry()
//	svc, _ := retrieval.NewService(cfg, retrieval.Deps{Tracer: tt.Tracer("test"), ...}, logger)
//	...
//	tt.AssertSpanExists(t, "retrieval.Query")
package telemetry

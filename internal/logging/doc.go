// Package logging wraps zap for issuerag.
//
// It adds a Trace level below Debug, console output on stdout or stderr
// teed with an OpenTelemetry bridge, correlation fields pulled from the
// context (trace, request, query and document IDs), key and pattern based
// redaction, and sampling that never drops errors.
//
//	cfg, err := logging.ConfigFromApp(appCfg.Logging)
//	logger, err := logging.NewLogger(cfg, otelLogProvider)
//	defer logger.Sync()
//
//	ctx = logging.WithQueryID(ctx, id)
//	logger.Info(ctx, "query served", zap.Int("results", n))
//
// Tests use NewTestLogger and its Assert helpers.
package logging

// Package observability provides structured logging, Prometheus metrics,
// health probes and OpenTelemetry tracing for the formula service.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("formula_id", id).Info("formula saved")
//
// Request scoped fields travel in the context:
//
//	ctx = observability.WithFormulaID(ctx, id)
//	observability.FromContext(ctx, logger).Warn("slow evaluation")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordRun(elapsed, nodes, err)
//
// All Record helpers accept a nil *Metrics.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version)
//	checker.AddDatabase("postgres", db)
//	checker.AddRedis("redis", client)
//
// # Tracing
//
//	ctx, span := observability.StartSpan(ctx, tracerName, "engine.Run")
//	defer func() { observability.EndSpan(span, err) }()
package observability

// Package observability provides the OpenTelemetry providers and the
// metric instruments shared by the MITDS core.
//
// Initialize once at startup:
//
//	obs, err := observability.New(ctx, &observability.Config{
//		ServiceName:  "mitds-core",
//		OTLPEndpoint: "otel-collector:4317",
//		SampleRate:   0.1,
//		Enabled:      true,
//	})
//	defer obs.Shutdown(ctx)
//
// The ingestion runner wraps each run:
//
//	ctx, done := obs.TrackRun(ctx, "sec_edgar")
//	defer done(runErr)
//
// and counts records as they land:
//
//	obs.RecordIngestedRecord(ctx, "sec_edgar", "created")
//
// Detectors record probe latency:
//
//	obs.RecordProbeDuration(ctx, "infra", time.Since(start))
//
// With Enabled false the provider is inert and every method is a no-op.
package observability

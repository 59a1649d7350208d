// Package instrumentation provides OpenTelemetry instrumentation for the
// identity-provider lookup proxy.
//
// It exposes pre-registered metric instruments for token grants, user lookups,
// provider API calls and the HTTP layer, and tracers for each layer. When
// disabled, no-op providers are used and recording costs nothing.
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "idp-lookup",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
// Meters are taken from the global OpenTelemetry meter provider, so an
// embedding application installs its exporter with otel.SetMeterProvider.
// Spans are recorded by an SDK tracer provider; pass Config.SpanExporter to
// ship them somewhere.
//
// # Security
//
// Never record access tokens, refresh tokens or client secrets as attributes.
// Lookup values may be personal data and are not recorded either; only the
// searched attribute name and the result count are.
package instrumentation

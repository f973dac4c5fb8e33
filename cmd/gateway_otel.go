//go:build otel

package cmd

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/cardswap/internal/config"
	"github.com/nextlevelbuilder/cardswap/internal/tracing/otelexport"
)

// initTracing installs the OTLP tracer provider when telemetry is enabled.
// Only compiled with -tags otel.
func initTracing(ctx context.Context, cfg *config.Config) func(context.Context) error {
	noop := func(context.Context) error { return nil }
	if !cfg.Telemetry.Enabled || cfg.Telemetry.Endpoint == "" {
		slog.Debug("OTel export available but not enabled (set telemetry.enabled + telemetry.endpoint)")
		return noop
	}

	provider, err := otelexport.New(ctx, otelexport.Config{
		Endpoint:       cfg.Telemetry.Endpoint,
		Protocol:       cfg.Telemetry.Protocol,
		Insecure:       cfg.Telemetry.Insecure,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		Headers:        cfg.Telemetry.Headers,
	})
	if err != nil {
		slog.Warn("failed to create OTel exporter", "error", err)
		return noop
	}

	provider.Install()
	slog.Info("OpenTelemetry OTLP export enabled",
		"endpoint", cfg.Telemetry.Endpoint,
		"protocol", cfg.Telemetry.Protocol,
	)
	return provider.Shutdown
}

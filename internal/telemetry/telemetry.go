// Package telemetry sets up OpenTelemetry metrics exported in Prometheus format.
package telemetry

import (
	"context"
	"fmt"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "github.com/book-expert/kokoro-tts"

// Outcome labels for synthesis requests.
const (
	OutcomeSuccess       = "success"
	OutcomeInvalidInput  = "invalid_input"
	OutcomeEmpty         = "empty_result"
	OutcomeProviderError = "provider_failure"
	OutcomeStorageError  = "storage_failure"
)

// Provider owns the meter provider and the Prometheus handler.
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	handler       http.Handler
	metrics       *Metrics
}

// Metrics holds the instruments recorded by the synthesis service.
type Metrics struct {
	requests     metric.Int64Counter
	chunks       metric.Int64Counter
	audioSeconds metric.Float64Histogram
}

// New creates a meter provider backed by a private Prometheus registry and
// installs it as the global meter provider.
func New(serviceName string) (*Provider, error) {
	registry := promclient.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)

	metrics, err := newMetrics(meterProvider.Meter(meterName))
	if err != nil {
		return nil, err
	}

	return &Provider{
		meterProvider: meterProvider,
		handler:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		metrics:       metrics,
	}, nil
}

// Handler serves the Prometheus scrape endpoint.
func (p *Provider) Handler() http.Handler {
	return p.handler
}

// Metrics returns the service instruments.
func (p *Provider) Metrics() *Metrics {
	return p.metrics
}

// Shutdown flushes and stops the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	err := p.meterProvider.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("failed to shut down meter provider: %w", err)
	}

	return nil
}

// NewNoopMetrics returns instruments that record nothing.
func NewNoopMetrics() *Metrics {
	metrics, _ := newMetrics(noop.NewMeterProvider().Meter(meterName))

	return metrics
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	requests, err := meter.Int64Counter(
		"tts.requests",
		metric.WithDescription("Synthesis requests by outcome."),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create requests counter: %w", err)
	}

	chunks, err := meter.Int64Counter(
		"tts.chunks",
		metric.WithDescription("Non-empty audio chunks assembled."),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create chunks counter: %w", err)
	}

	audioSeconds, err := meter.Float64Histogram(
		"tts.audio.duration",
		metric.WithDescription("Duration of synthesized audio."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio duration histogram: %w", err)
	}

	return &Metrics{
		requests:     requests,
		chunks:       chunks,
		audioSeconds: audioSeconds,
	}, nil
}

// RecordRequest counts one synthesis request with its outcome.
func (m *Metrics) RecordRequest(ctx context.Context, outcome string) {
	m.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordAudio records a successful synthesis.
func (m *Metrics) RecordAudio(ctx context.Context, chunks int, seconds float64) {
	m.chunks.Add(ctx, int64(chunks))
	m.audioSeconds.Record(ctx, seconds)
}

package license

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the validator's OpenTelemetry instruments. With no global
// meter provider installed these degrade to no-ops, so tests and offline
// tools need no metric setup.
type Metrics struct {
	validationsTotal  metric.Int64Counter
	activationsTotal  metric.Int64Counter
	signatureFailures metric.Int64Counter
}

func newMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter("fathomos/license")

	m := &Metrics{}
	m.validationsTotal, _ = meter.Int64Counter(
		"license_validations_total",
		metric.WithDescription("License validation cycles by resulting status"),
	)
	m.activationsTotal, _ = meter.Int64Counter(
		"license_activations_total",
		metric.WithDescription("License activation attempts by method and outcome"),
	)
	m.signatureFailures, _ = meter.Int64Counter(
		"license_signature_failures_total",
		metric.WithDescription("License signature verification failures"),
	)
	return m
}

func (m *Metrics) recordValidation(ctx context.Context, status Status) {
	if m == nil || m.validationsTotal == nil {
		return
	}
	m.validationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status.String())))
}

func (m *Metrics) recordActivation(ctx context.Context, method string, success bool) {
	if m == nil || m.activationsTotal == nil {
		return
	}
	m.activationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.Bool("success", success),
	))
}

func (m *Metrics) recordSignatureFailure(ctx context.Context) {
	if m == nil || m.signatureFailures == nil {
		return
	}
	m.signatureFailures.Add(ctx, 1)
}

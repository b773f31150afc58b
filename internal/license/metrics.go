package license

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the license-specific OpenTelemetry instruments.
type Metrics struct {
	ValidationAttempts metric.Int64Counter
	ValidationFailures metric.Int64Counter
	LicensesCreated    metric.Int64Counter
	TrialsCreated      metric.Int64Counter
	TrialsConverted    metric.Int64Counter
	Refunds            metric.Int64Counter
	Transfers          metric.Int64Counter
}

// NewMetrics creates all license instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error
	if m.ValidationAttempts, err = meter.Int64Counter("license.validation.attempts",
		metric.WithDescription("Total license validation attempts")); err != nil {
		return nil, err
	}
	if m.ValidationFailures, err = meter.Int64Counter("license.validation.failures",
		metric.WithDescription("Failed license validations by error code")); err != nil {
		return nil, err
	}
	if m.LicensesCreated, err = meter.Int64Counter("license.created",
		metric.WithDescription("Licenses created by platform")); err != nil {
		return nil, err
	}
	if m.TrialsCreated, err = meter.Int64Counter("license.trials.created",
		metric.WithDescription("Trial licenses created")); err != nil {
		return nil, err
	}
	if m.TrialsConverted, err = meter.Int64Counter("license.trials.converted",
		metric.WithDescription("Trials converted to full licenses")); err != nil {
		return nil, err
	}
	if m.Refunds, err = meter.Int64Counter("license.refunds",
		metric.WithDescription("Licenses deactivated by refund")); err != nil {
		return nil, err
	}
	if m.Transfers, err = meter.Int64Counter("license.transfers",
		metric.WithDescription("License device transfers")); err != nil {
		return nil, err
	}

	return m, nil
}

// recordValidation updates validation counters; safe on a nil receiver so
// the manager works without metrics wired (tests, CLI tools).
func (m *Metrics) recordValidation(ctx context.Context, code string) {
	if m == nil {
		return
	}
	m.ValidationAttempts.Add(ctx, 1)
	if code != "" {
		m.ValidationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
	}
}

func (m *Metrics) recordCreated(ctx context.Context, platform Platform) {
	if m == nil {
		return
	}
	m.LicensesCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("platform", string(platform))))
}

func (m *Metrics) recordTrialCreated(ctx context.Context) {
	if m == nil {
		return
	}
	m.TrialsCreated.Add(ctx, 1)
}

func (m *Metrics) recordTrialConverted(ctx context.Context) {
	if m == nil {
		return
	}
	m.TrialsConverted.Add(ctx, 1)
}

func (m *Metrics) recordRefund(ctx context.Context) {
	if m == nil {
		return
	}
	m.Refunds.Add(ctx, 1)
}

func (m *Metrics) recordTransfer(ctx context.Context) {
	if m == nil {
		return
	}
	m.Transfers.Add(ctx, 1)
}

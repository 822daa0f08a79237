package session

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

type metrics struct {
	renewals  metric.Int64Counter
	coalesced metric.Int64Counter
	retries   metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	renewals, err := meter.Int64Counter(
		"session.renewal.count",
		metric.WithDescription("Underlying renewal calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating renewal counter: %w", err)
	}

	coalesced, err := meter.Int64Counter(
		"session.renewal.coalesced",
		metric.WithDescription("Renewal requests that shared a single underlying call"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating coalesced counter: %w", err)
	}

	retries, err := meter.Int64Counter(
		"session.request.retry",
		metric.WithDescription("Requests re-issued after an authorization failure"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating retry counter: %w", err)
	}

	return &metrics{
		renewals:  renewals,
		coalesced: coalesced,
		retries:   retries,
	}, nil
}

// observeWaiters reports the number of callers attached to a running renewal.
func observeWaiters(meter metric.Meter, r *Renewer) error {
	_, err := meter.Int64ObservableGauge(
		"session.renewal.waiters",
		metric.WithDescription("Callers waiting on the in-flight renewal"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(r.Waiters())
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("creating waiters gauge: %w", err)
	}

	return nil
}

func (m *metrics) renewal(ctx context.Context, outcome string) {
	m.renewals.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

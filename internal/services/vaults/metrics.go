package vaults

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/TheMichaelB/strongroom/internal/services/vaults"

type cacheMetrics struct {
	hits      metric.Int64Counter
	misses    metric.Int64Counter
	pending   metric.Int64Counter
	evictions metric.Int64Counter
	failures  metric.Int64Counter
	attrs     metric.MeasurementOption
}

func newCacheMetrics(mp metric.MeterProvider, vault string) (*cacheMetrics, error) {
	meter := mp.Meter(meterName)
	m := &cacheMetrics{attrs: metric.WithAttributes(attribute.String("vault", vault))}

	var err error
	if m.hits, err = meter.Int64Counter("strongroom.cache.hits",
		metric.WithDescription("Item loads served from the decrypt cache")); err != nil {
		return nil, err
	}
	if m.misses, err = meter.Int64Counter("strongroom.cache.misses",
		metric.WithDescription("Item loads that started a decrypt")); err != nil {
		return nil, err
	}
	if m.pending, err = meter.Int64Counter("strongroom.cache.pending",
		metric.WithDescription("Item loads refused while a decrypt was in flight")); err != nil {
		return nil, err
	}
	if m.evictions, err = meter.Int64Counter("strongroom.cache.evictions",
		metric.WithDescription("Payloads evicted from the decrypt cache")); err != nil {
		return nil, err
	}
	if m.failures, err = meter.Int64Counter("strongroom.decrypt.failures",
		metric.WithDescription("Item decrypts that failed")); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *cacheMetrics) add(ctx context.Context, c metric.Int64Counter) {
	c.Add(ctx, 1, m.attrs)
}

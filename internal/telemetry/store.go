package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stratadb/strata/internal/objstore"
)

const storeScopeName = "github.com/stratadb/strata/objstore"

// InstrumentedClient wraps an objstore.Client with OTel tracing and
// metrics. Every call gets a span and is counted in strata.store.*
// metrics. Use WrapClient to create one; it returns the original client
// unchanged when telemetry is disabled.
type InstrumentedClient struct {
	inner  objstore.Client
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
	bytes  metric.Int64Counter
}

// WrapClient returns c decorated with OTel instrumentation.
// When telemetry is disabled, c is returned as-is with zero overhead.
func WrapClient(c objstore.Client) objstore.Client {
	if !Enabled() {
		return c
	}
	m := Meter(storeScopeName)
	ops, _ := m.Int64Counter("strata.store.operations",
		metric.WithDescription("Total object-store operations executed"),
	)
	dur, _ := m.Float64Histogram("strata.store.operation.duration",
		metric.WithDescription("Object-store operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("strata.store.errors",
		metric.WithDescription("Total object-store operation errors"),
	)
	bytes, _ := m.Int64Counter("strata.store.bytes",
		metric.WithDescription("Object body bytes moved, by direction"),
		metric.WithUnit("By"),
	)
	return &InstrumentedClient{
		inner:  c,
		tracer: Tracer(storeScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
		bytes:  bytes,
	}
}

// op starts a span and records a metric for the named store operation.
func (c *InstrumentedClient) op(ctx context.Context, name, key string) (context.Context, trace.Span, time.Time, []attribute.KeyValue) {
	attrs := []attribute.KeyValue{
		attribute.String("db.operation", name),
		attribute.String("strata.key", key),
	}
	ctx, span := c.tracer.Start(ctx, "store."+name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	c.ops.Add(ctx, 1, metric.WithAttributes(attrs...))
	return ctx, span, time.Now(), attrs
}

// done ends the span, records duration and optional error.
func (c *InstrumentedClient) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs []attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	c.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

func (c *InstrumentedClient) Put(ctx context.Context, key string, meta objstore.Metadata, body []byte, contentType string) error {
	ctx, span, t, attrs := c.op(ctx, "Put", key)
	err := c.inner.Put(ctx, key, meta, body, contentType)
	if err == nil {
		c.bytes.Add(ctx, int64(len(body)), metric.WithAttributes(attribute.String("direction", "out")))
	}
	c.done(ctx, span, t, err, attrs)
	return err
}

func (c *InstrumentedClient) Get(ctx context.Context, key string) (*objstore.Object, error) {
	ctx, span, t, attrs := c.op(ctx, "Get", key)
	obj, err := c.inner.Get(ctx, key)
	if err == nil {
		c.bytes.Add(ctx, int64(len(obj.Body)), metric.WithAttributes(attribute.String("direction", "in")))
	}
	c.done(ctx, span, t, err, attrs)
	return obj, err
}

func (c *InstrumentedClient) Head(ctx context.Context, key string) (*objstore.Object, error) {
	ctx, span, t, attrs := c.op(ctx, "Head", key)
	obj, err := c.inner.Head(ctx, key)
	c.done(ctx, span, t, err, attrs)
	return obj, err
}

func (c *InstrumentedClient) Delete(ctx context.Context, key string) error {
	ctx, span, t, attrs := c.op(ctx, "Delete", key)
	err := c.inner.Delete(ctx, key)
	c.done(ctx, span, t, err, attrs)
	return err
}

func (c *InstrumentedClient) List(ctx context.Context, prefix, token string, limit int) (*objstore.ListPage, error) {
	ctx, span, t, attrs := c.op(ctx, "List", prefix)
	page, err := c.inner.List(ctx, prefix, token, limit)
	if err == nil {
		span.SetAttributes(attribute.Int("strata.result.count", len(page.Keys)))
	}
	c.done(ctx, span, t, err, attrs)
	return page, err
}

func (c *InstrumentedClient) Close() error {
	return c.inner.Close()
}

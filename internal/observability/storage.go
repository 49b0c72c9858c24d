package observability

import (
	"context"
	"errors"
	"time"

	"ratekeeper/internal/models"
	"ratekeeper/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedStorage decorates a storage.Storage with one client span per
// call plus latency and error instruments.
type InstrumentedStorage struct {
	inner    storage.Storage
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewInstrumentedStorage wraps inner using the global tracer and meter
// providers, so Setup must run first for the data to be exported.
func NewInstrumentedStorage(inner storage.Storage) (*InstrumentedStorage, error) {
	tracer := otel.Tracer("ratekeeper/storage")
	meter := otel.Meter("ratekeeper/storage")

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of storage operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of storage operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStorage{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

// observe opens a span for op and returns the function that closes it,
// recording latency and counting failures. ErrNotFound is a miss, not a
// failure.
func (s *InstrumentedStorage) observe(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span, func(error)) {
	ctx, span := s.tracer.Start(ctx, "storage."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(attrs, attribute.String("storage.operation", op))...),
	)
	start := time.Now()
	opAttr := metric.WithAttributes(attribute.String("operation", op))

	return ctx, span, func(err error) {
		defer span.End()
		s.duration.Record(ctx, time.Since(start).Seconds(), opAttr)

		switch {
		case err == nil:
			span.SetStatus(codes.Ok, "")
		case errors.Is(err, storage.ErrNotFound):
			span.SetAttributes(attribute.Bool("storage.hit", false))
			span.SetStatus(codes.Ok, "")
		default:
			s.errors.Add(ctx, 1, opAttr)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
}

func (s *InstrumentedStorage) Get(ctx context.Context, key string) (*models.StateRecord, error) {
	ctx, _, done := s.observe(ctx, "Get", attribute.String("limiter.key", key))
	record, err := s.inner.Get(ctx, key)
	done(err)
	return record, err
}

func (s *InstrumentedStorage) Put(ctx context.Context, record *models.StateRecord) error {
	ctx, _, done := s.observe(ctx, "Put",
		attribute.String("limiter.key", record.Key),
		attribute.Int("record.size", len(record.Value)),
	)
	err := s.inner.Put(ctx, record)
	done(err)
	return err
}

func (s *InstrumentedStorage) Delete(ctx context.Context, key string) error {
	ctx, _, done := s.observe(ctx, "Delete", attribute.String("limiter.key", key))
	err := s.inner.Delete(ctx, key)
	done(err)
	return err
}

func (s *InstrumentedStorage) List(ctx context.Context) ([]*models.StateRecord, error) {
	ctx, span, done := s.observe(ctx, "List")
	records, err := s.inner.List(ctx)
	span.SetAttributes(attribute.Int("record.count", len(records)))
	done(err)
	return records, err
}

func (s *InstrumentedStorage) Ping(ctx context.Context) error {
	ctx, _, done := s.observe(ctx, "Ping")
	err := s.inner.Ping(ctx)
	done(err)
	return err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}

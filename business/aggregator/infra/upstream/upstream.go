// Package upstream is the HTTP plumbing shared by the aggregator adapters:
// rate limiting, circuit breaking, tracing and error classification.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/token-distributor/business/aggregator/domain"
	"github.com/fd1az/token-distributor/internal/apperror"
	"github.com/fd1az/token-distributor/internal/circuitbreaker"
	"github.com/fd1az/token-distributor/internal/httpclient"
	"github.com/fd1az/token-distributor/internal/logger"
	"github.com/fd1az/token-distributor/internal/ratelimit"
)

const (
	tracerName = "github.com/fd1az/token-distributor/business/aggregator"
	meterName  = "github.com/fd1az/token-distributor/business/aggregator"
)

// Config describes one provider endpoint.
type Config struct {
	Provider          domain.Provider
	BaseURL           string
	Timeout           time.Duration
	RequestsPerMinute int
	Headers           map[string]string
}

type upstreamMetrics struct {
	quotes       metric.Int64Counter
	quoteLatency metric.Float64Histogram
	builds       metric.Int64Counter
}

// Base is held by each adapter.
type Base struct {
	provider domain.Provider
	Client   httpclient.Client
	logger   logger.LoggerInterface
	limiter  *ratelimit.Limiter

	quoteCB *circuitbreaker.CircuitBreaker[*domain.RouteQuote]
	buildCB *circuitbreaker.CircuitBreaker[*domain.BuiltTx]

	tracer  trace.Tracer
	metrics *upstreamMetrics
}

func New(cfg Config, log logger.LoggerInterface) (*Base, error) {
	client, err := httpclient.NewInstrumentedClient(
		httpclient.WithBaseURL(cfg.BaseURL),
		httpclient.WithProviderName(string(cfg.Provider)),
		httpclient.WithRequestTimeout(cfg.Timeout),
		httpclient.WithHeaders(cfg.Headers),
	)
	if err != nil {
		return nil, fmt.Errorf("http client: %w", err)
	}

	b := &Base{
		provider: cfg.Provider,
		Client:   client,
		logger:   log,
		limiter:  ratelimit.New(cfg.RequestsPerMinute),
		tracer:   otel.Tracer(tracerName),
	}

	// A missing route is an answer, not an outage.
	cbCfg := circuitbreaker.DefaultConfig("aggregator-" + string(cfg.Provider))
	cbCfg.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, ErrNoRoute)
	}
	cbCfg.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Warn(context.Background(), "circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
	}
	b.quoteCB = circuitbreaker.New[*domain.RouteQuote](cbCfg)
	b.buildCB = circuitbreaker.New[*domain.BuiltTx](cbCfg)

	if err := b.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return b, nil
}

func (b *Base) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	b.metrics = &upstreamMetrics{}

	b.metrics.quotes, err = meter.Int64Counter(
		"aggregator_quotes_total",
		metric.WithDescription("Quote requests by provider and result"),
		metric.WithUnit("{quote}"),
	)
	if err != nil {
		return err
	}

	b.metrics.quoteLatency, err = meter.Float64Histogram(
		"aggregator_quote_latency_ms",
		metric.WithDescription("Quote round trip latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	b.metrics.builds, err = meter.Int64Counter(
		"aggregator_builds_total",
		metric.WithDescription("Build requests by provider and result"),
		metric.WithUnit("{build}"),
	)
	return err
}

func (b *Base) Provider() domain.Provider {
	return b.provider
}

// RunQuote runs fn under the limiter and breaker. Every failure comes back as
// QUOTE_UNAVAILABLE so the caller can move to the next provider.
func (b *Base) RunQuote(ctx context.Context, req domain.QuoteRequest, fn func(context.Context) (*domain.RouteQuote, error)) (*domain.RouteQuote, error) {
	ctx, span := b.tracer.Start(ctx, "aggregator.quote",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("provider", string(b.provider)),
			attribute.String("mode", string(req.Mode)),
			attribute.String("amount", req.Amount.String()),
		),
	)
	defer span.End()

	start := time.Now()
	result := "ok"
	defer func() {
		attrs := metric.WithAttributes(
			attribute.String("provider", string(b.provider)),
			attribute.String("result", result),
		)
		b.metrics.quotes.Add(ctx, 1, attrs)
		b.metrics.quoteLatency.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	}()

	if err := b.limiter.Wait(ctx); err != nil {
		result = "rate_limited"
		return nil, b.quoteUnavailable(span, err)
	}

	quote, err := b.quoteCB.Execute(func() (*domain.RouteQuote, error) {
		return fn(ctx)
	})
	if err != nil {
		result = "unavailable"
		if errors.Is(err, ErrNoRoute) {
			result = "no_route"
		}
		return nil, b.quoteUnavailable(span, err)
	}

	span.SetAttributes(
		attribute.String("amount_in", quote.AmountIn.String()),
		attribute.String("amount_out", quote.AmountOut.String()),
	)
	span.SetStatus(codes.Ok, "")
	return quote, nil
}

// RunBuild runs fn under the limiter and breaker; failures are BUILD_FAILED.
func (b *Base) RunBuild(ctx context.Context, route *domain.RouteQuote, fn func(context.Context) (*domain.BuiltTx, error)) (*domain.BuiltTx, error) {
	ctx, span := b.tracer.Start(ctx, "aggregator.build",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("provider", string(b.provider))),
	)
	defer span.End()

	if route == nil || route.Provider != b.provider {
		err := apperror.New(apperror.CodeBuildFailed, apperror.WithContext("route from another provider"))
		span.RecordError(err)
		return nil, err
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return nil, b.buildFailed(ctx, span, err)
	}

	tx, err := b.buildCB.Execute(func() (*domain.BuiltTx, error) {
		return fn(ctx)
	})
	if err != nil {
		return nil, b.buildFailed(ctx, span, err)
	}

	b.metrics.builds.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", string(b.provider)),
		attribute.Bool("success", true),
	))
	span.SetAttributes(attribute.String("to", tx.To.Hex()))
	span.SetStatus(codes.Ok, "")
	return tx, nil
}

func (b *Base) quoteUnavailable(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "quote unavailable")
	return apperror.New(apperror.CodeQuoteUnavailable,
		apperror.WithCause(err),
		apperror.WithContext(string(b.provider)))
}

func (b *Base) buildFailed(ctx context.Context, span trace.Span, err error) error {
	b.metrics.builds.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", string(b.provider)),
		attribute.Bool("success", false),
	))
	span.RecordError(err)
	span.SetStatus(codes.Error, "build failed")
	return apperror.New(apperror.CodeBuildFailed,
		apperror.WithCause(err),
		apperror.WithContext(string(b.provider)))
}

package httpclient

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type clientOptions struct {
	client         *http.Client
	meterProvider  metric.MeterProvider
	providerName   string
	roundTripper   http.RoundTripper
	requestTimeout time.Duration
	headers        map[string]string
	baseURL        string
	logBodies      bool
	tracer         trace.Tracer
}

// ClientOption configures an InstrumentedClient.
type ClientOption func(*clientOptions)

func newClientOptions(opts ...ClientOption) *clientOptions {
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *clientOptions) { o.client = c }
}

func WithMeterProvider(mp metric.MeterProvider) ClientOption {
	return func(o *clientOptions) { o.meterProvider = mp }
}

// WithProviderName labels metrics and spans.
func WithProviderName(name string) ClientOption {
	return func(o *clientOptions) { o.providerName = name }
}

func WithRoundTripper(rt http.RoundTripper) ClientOption {
	return func(o *clientOptions) { o.roundTripper = rt }
}

// WithRequestTimeout bounds every request end to end.
func WithRequestTimeout(timeout time.Duration) ClientOption {
	return func(o *clientOptions) { o.requestTimeout = timeout }
}

func WithHeaders(headers map[string]string) ClientOption {
	return func(o *clientOptions) { o.headers = headers }
}

func WithBaseURL(url string) ClientOption {
	return func(o *clientOptions) { o.baseURL = url }
}

// WithBodyTracing records request and response bodies as span events.
func WithBodyTracing(tracer trace.Tracer) ClientOption {
	return func(o *clientOptions) {
		o.tracer = tracer
		o.logBodies = true
	}
}

type requestOptions struct {
	responseErrorHandler ResponseErrorHandler
	labels               []Label
	redactHeaders        []string
}

// RequestOption configures a single request.
type RequestOption func(*requestOptions)

func newRequestOptions(opts ...RequestOption) *requestOptions {
	o := &requestOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ResponseErrorHandler maps a response to an error; nil means success.
type ResponseErrorHandler func(statusCode int, body []byte) error

func WithResponseErrorHandler(handler ResponseErrorHandler) RequestOption {
	return func(o *requestOptions) { o.responseErrorHandler = handler }
}

// Label is a metric attribute.
type Label struct {
	Key   string
	Value string
}

func NewLabel(key, value string) Label {
	return Label{Key: key, Value: value}
}

func WithLabels(labels ...Label) RequestOption {
	return func(o *requestOptions) { o.labels = labels }
}

// WithRedactedHeaders masks the named headers in span events.
func WithRedactedHeaders(names ...string) RequestOption {
	return func(o *requestOptions) { o.redactHeaders = names }
}

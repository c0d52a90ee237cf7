package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// ZerologLogger backs Logger with a structured github.com/rs/zerolog
	// logger. Key/value pairs are attached as fields; the message itself is
	// always logged under "msg".
	ZerologLogger struct {
		log zerolog.Logger
	}

	// PrometheusMetrics backs Metrics with github.com/prometheus/client_golang
	// collectors, registered lazily by name on first use.
	PrometheusMetrics struct {
		registry *prometheus.Registry

		mu         sync.Mutex
		counters   map[string]*prometheus.CounterVec
		histograms map[string]*prometheus.HistogramVec
		gauges     map[string]*prometheus.GaugeVec
	}

	// OtelTracer backs Tracer with go.opentelemetry.io/otel spans.
	OtelTracer struct {
		tracer trace.Tracer
	}

	otelSpan struct {
		span trace.Span
	}
)

// NewZerologLogger wraps an existing zerolog.Logger.
func NewZerologLogger(log zerolog.Logger) Logger {
	return &ZerologLogger{log: log}
}

func (l *ZerologLogger) log0(level zerolog.Level, ctx context.Context, msg string, keyvals []any) {
	ev := l.log.WithLevel(level)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, keyvals[i+1])
	}
	if traceID := traceIDFromContext(ctx); traceID != "" {
		ev = ev.Str("trace_id", traceID)
	}
	ev.Msg(msg)
}

func (l *ZerologLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	l.log0(zerolog.DebugLevel, ctx, msg, keyvals)
}
func (l *ZerologLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	l.log0(zerolog.InfoLevel, ctx, msg, keyvals)
}
func (l *ZerologLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	l.log0(zerolog.WarnLevel, ctx, msg, keyvals)
}
func (l *ZerologLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	l.log0(zerolog.ErrorLevel, ctx, msg, keyvals)
}

type traceIDKey struct{}

// ContextWithTraceID attaches a trace id so ZerologLogger can stamp log lines
// without every call site repeating "trace_id".
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

func traceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(traceIDKey{}).(string)
	return v
}

// NewPrometheusMetrics builds a Metrics recorder registered against the
// supplied registry (pass prometheus.NewRegistry() for isolated tests, or
// prometheus.DefaultRegisterer-wrapped registry in production).
func NewPrometheusMetrics(registry *prometheus.Registry) Metrics {
	return &PrometheusMetrics{
		registry:   registry,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

func tagPairs(tags []string) ([]string, prometheus.Labels) {
	labels := prometheus.Labels{}
	names := make([]string, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		names = append(names, tags[i])
		labels[tags[i]] = tags[i+1]
	}
	return names, labels
}

func (m *PrometheusMetrics) IncCounter(name string, value float64, tags ...string) {
	names, labels := tagPairs(tags)
	m.mu.Lock()
	c, ok := m.counters[name]
	if !ok {
		c = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: name}, names)
		m.registry.MustRegister(c)
		m.counters[name] = c
	}
	m.mu.Unlock()
	c.With(labels).Add(value)
}

func (m *PrometheusMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	names, labels := tagPairs(tags)
	m.mu.Lock()
	h, ok := m.histograms[name]
	if !ok {
		h = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: name}, names)
		m.registry.MustRegister(h)
		m.histograms[name] = h
	}
	m.mu.Unlock()
	h.With(labels).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordGauge(name string, value float64, tags ...string) {
	names, labels := tagPairs(tags)
	m.mu.Lock()
	g, ok := m.gauges[name]
	if !ok {
		g = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: name}, names)
		m.registry.MustRegister(g)
		m.gauges[name] = g
	}
	m.mu.Unlock()
	g.With(labels).Set(value)
}

// NewOtelTracer builds a Tracer backed by the global OTEL TracerProvider
// under the given instrumentation name.
func NewOtelTracer(name string) Tracer {
	return &OtelTracer{tracer: otel.Tracer(name)}
}

func (t *OtelTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	newCtx, span := t.tracer.Start(ctx, name, opts...)
	return newCtx, &otelSpan{span: span}
}

func (s *otelSpan) End(opts ...trace.SpanEndOption) { s.span.End(opts...) }

func (s *otelSpan) AddEvent(name string, attrs ...any) {
	s.span.AddEvent(name, trace.WithAttributes(kvToAttrs(attrs)...))
}

func (s *otelSpan) SetStatus(code codes.Code, description string) { s.span.SetStatus(code, description) }

func (s *otelSpan) RecordError(err error, opts ...trace.EventOption) { s.span.RecordError(err, opts...) }

func kvToAttrs(keyvals []any) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		switch v := keyvals[i+1].(type) {
		case string:
			attrs = append(attrs, attribute.String(key, v))
		case int:
			attrs = append(attrs, attribute.Int(key, v))
		case int64:
			attrs = append(attrs, attribute.Int64(key, v))
		case float64:
			attrs = append(attrs, attribute.Float64(key, v))
		case bool:
			attrs = append(attrs, attribute.Bool(key, v))
		default:
			attrs = append(attrs, attribute.String(key, ""))
		}
	}
	return attrs
}

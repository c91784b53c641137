package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	boardEventName   = "prism.board.request"
	boardEventDomain = "prism.board"
	boardSpanName    = "board.request"
	tracerName       = "prism-board/api"
)

var (
	boardRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prism_board_requests_total",
		Help: "Board requests by route and status code",
	}, []string{"route", "status"})

	boardStoreDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "prism_board_store_duration_seconds",
		Help:    "Order store latency per route",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"route"})

	boardRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prism_board_rejections_total",
		Help: "Rejected board writes by stage",
	}, []string{"route", "stage"})
)

// requestMetrics collects per-request timings and emits them once, both as
// a structured log entry and on the request span.
type requestMetrics struct {
	logger        *log.Logger
	span          trace.Span
	route         string
	start         time.Time
	authDuration  time.Duration
	storeDuration time.Duration
	column        string
	todos         int
	todosSet      bool
	errorStage    string
	storageReady  bool
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, route string) (*requestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, boardSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("http.route", route)),
	)
	return &requestMetrics{
		logger:       logger,
		span:         span,
		route:        route,
		start:        time.Now(),
		storageReady: true,
	}, spanCtx
}

func (m *requestMetrics) ObserveAuth(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *requestMetrics) ObserveStore(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.storeDuration = duration
}

func (m *requestMetrics) SetColumn(col string) {
	m.column = col
}

func (m *requestMetrics) SetTodos(count int) {
	if count < 0 {
		count = 0
	}
	m.todos = count
	m.todosSet = true
}

func (m *requestMetrics) SetStorageNotReady() {
	m.storageReady = false
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *requestMetrics) attributes(status int, err error) map[string]any {
	attrs := map[string]any{
		"http.route":                m.route,
		"http.status_code":          status,
		"prism.board.total_ms":      durationToMillis(time.Since(m.start)),
		"prism.board.storage_ready": m.storageReady,
	}
	if m.authDuration > 0 {
		attrs["prism.board.auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.storeDuration > 0 {
		attrs["prism.board.store_ms"] = durationToMillis(m.storeDuration)
	}
	if m.column != "" {
		attrs["prism.board.column"] = m.column
	}
	if m.todosSet {
		attrs["prism.board.todos"] = m.todos
	}
	if m.errorStage != "" {
		attrs["prism.board.error_stage"] = m.errorStage
	}
	if err != nil {
		attrs["error.message"] = err.Error()
	}
	return attrs
}

// Log records the outcome and ends the request span.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	attrs := m.attributes(status, err)
	severityText, severityNumber := severityForStatus(status, err)

	boardRequestsTotal.WithLabelValues(m.route, strconv.Itoa(status)).Inc()
	if m.storeDuration > 0 {
		boardStoreDuration.WithLabelValues(m.route).Observe(m.storeDuration.Seconds())
	}
	if m.errorStage != "" {
		boardRejections.WithLabelValues(m.route, m.errorStage).Inc()
	}

	if m.span != nil {
		kvs := toKeyValues(attrs)
		m.span.SetAttributes(kvs...)
		eventAttrs := append([]attribute.KeyValue{
			attribute.String("event.name", boardEventName),
			attribute.String("event.domain", boardEventDomain),
			attribute.String("severity_text", severityText),
			attribute.Int("severity_number", severityNumber),
		}, kvs...)
		m.span.AddEvent("observability.event", trace.WithAttributes(eventAttrs...))
		if err != nil || status >= http.StatusInternalServerError {
			desc := http.StatusText(status)
			if err != nil {
				desc = err.Error()
			}
			m.span.SetStatus(codes.Error, desc)
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      boardEventName,
		"event.domain":    boardEventDomain,
		"attributes":      attrs,
		"severity_text":   severityText,
		"severity_number": severityNumber,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}
	m.logger.WithFields(fields).Log(levelForSeverity(severityNumber), "observability.event")
}

// severityForStatus maps a response to OpenTelemetry log severity.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError, err != nil && status < http.StatusBadRequest:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	}
	return "INFO", 9
}

func levelForSeverity(n int) log.Level {
	switch {
	case n >= 17:
		return log.ErrorLevel
	case n >= 13:
		return log.WarnLevel
	}
	return log.InfoLevel
}

func toKeyValues(attrs map[string]any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			out = append(out, attribute.String(k, val))
		case bool:
			out = append(out, attribute.Bool(k, val))
		case int:
			out = append(out, attribute.Int(k, val))
		case float64:
			out = append(out, attribute.Float64(k, val))
		}
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}

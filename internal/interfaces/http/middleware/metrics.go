package middleware

import (
	"time"

	"github.com/erp/inventory-core/internal/infrastructure/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// errorCodeKey holds the error code a handler answered with.
const errorCodeKey = "icc.error_code"

// AttrErrorCode labels rejected requests by their API error code.
var AttrErrorCode = attribute.Key("icc.error_code")

// SetErrorCode records the error code of the response so that HTTPMetrics
// can count rejections such as INSUFFICIENT_AVAILABILITY by code.
func SetErrorCode(c *gin.Context, code string) {
	c.Set(errorCodeKey, code)
}

// HTTPMetricsConfig holds configuration for HTTP metrics middleware.
type HTTPMetricsConfig struct {
	MeterProvider *telemetry.MeterProvider
	Enabled       bool
	Logger        *zap.Logger
}

type httpInstruments struct {
	requests   *telemetry.Counter
	rejections *telemetry.Counter
	latency    *telemetry.Histogram
	inFlight   metric.Int64UpDownCounter
}

func newHTTPInstruments(meter metric.Meter) (*httpInstruments, error) {
	var (
		in  httpInstruments
		err error
	)
	if in.requests, err = telemetry.NewCounter(meter, "http_server_request_total",
		"HTTP requests by route and status", "{request}"); err != nil {
		return nil, err
	}
	if in.rejections, err = telemetry.NewCounter(meter, "http_server_rejections_total",
		"Requests answered with an API error, by error code", "{request}"); err != nil {
		return nil, err
	}
	if in.latency, err = telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "http_server_request_duration_seconds",
		Description: "HTTP request latency, including engine retries and lock waits",
		Unit:        "s",
		Boundaries:  telemetry.HTTPDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if in.inFlight, err = meter.Int64UpDownCounter("http_server_active_requests",
		metric.WithDescription("Requests being served"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	return &in, nil
}

// HTTPMetrics counts requests and rejections and records latency per route.
// It is a pass-through when metrics are disabled or the instruments cannot
// be created.
func HTTPMetrics(cfg HTTPMetricsConfig) gin.HandlerFunc {
	if !cfg.Enabled || cfg.MeterProvider == nil || !cfg.MeterProvider.IsEnabled() {
		return passThrough
	}
	return httpMetricsWithMeter(cfg.MeterProvider.Meter("http.server"), cfg.Logger)
}

// HTTPMetricsWithMeter is HTTPMetrics on an existing meter.
func HTTPMetricsWithMeter(meter metric.Meter) gin.HandlerFunc {
	return httpMetricsWithMeter(meter, nil)
}

func httpMetricsWithMeter(meter metric.Meter, log *zap.Logger) gin.HandlerFunc {
	in, err := newHTTPInstruments(meter)
	if err != nil {
		if log != nil {
			log.Warn("HTTP metrics disabled", zap.Error(err))
		}
		return passThrough
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		start := time.Now()
		in.inFlight.Add(ctx, 1)
		defer in.inFlight.Add(ctx, -1)

		c.Next()

		route := routePattern(c)
		status := c.Writer.Status()
		method := telemetry.AttrHTTPMethod.String(c.Request.Method)
		routeAttr := telemetry.AttrHTTPRoute.String(route)

		in.requests.Inc(ctx, method, routeAttr, telemetry.AttrHTTPStatusCode.Int(status))
		in.latency.RecordDuration(ctx, time.Since(start), method, routeAttr,
			attribute.String("http.status_class", StatusClass(status)))
		if code := c.GetString(errorCodeKey); code != "" {
			in.rejections.Inc(ctx, routeAttr, AttrErrorCode.String(code))
		}
	}
}

func passThrough(c *gin.Context) {
	c.Next()
}

// routePattern returns the matched route rather than the raw path, which
// would carry item and location ids.
func routePattern(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unknown"
}

// StatusClass groups a status code into its class.
func StatusClass(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 300 && statusCode < 400:
		return "3xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500 && statusCode < 600:
		return "5xx"
	default:
		return "other"
	}
}

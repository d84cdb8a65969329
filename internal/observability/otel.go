package observability

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"

	domainagg "github.com/yungbote/headless-lms/internal/domain/aggregates"
	"github.com/yungbote/headless-lms/internal/platform/envutil"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

const tracerName = "github.com/yungbote/headless-lms"

// Span attributes naming the course material and grading rows a span works on.
const (
	AttrCourseID        = attribute.Key("lms.course_id")
	AttrExamID          = attribute.Key("lms.exam_id")
	AttrChapterID       = attribute.Key("lms.chapter_id")
	AttrModuleID        = attribute.Key("lms.course_module_id")
	AttrPageID          = attribute.Key("lms.page_id")
	AttrExerciseID      = attribute.Key("lms.exercise_id")
	AttrSlideID         = attribute.Key("lms.exercise_slide_id")
	AttrExerciseType    = attribute.Key("lms.exercise_type")
	AttrGradingID       = attribute.Key("lms.grading_id")
	AttrGradingProgress = attribute.Key("lms.grading_progress")
	AttrRegradingID     = attribute.Key("lms.regrading_id")
	AttrWriteOp         = attribute.Key("lms.write_op")
	AttrErrorCode       = attribute.Key("lms.error_code")
)

// routeParams maps gin path parameters onto span attributes.
var routeParams = map[string]attribute.Key{
	"course_id":   AttrCourseID,
	"exam_id":     AttrExamID,
	"chapter_id":  AttrChapterID,
	"module_id":   AttrModuleID,
	"page_id":     AttrPageID,
	"exercise_id": AttrExerciseID,
	"slide_id":    AttrSlideID,
}

// ID formats a uuid attribute.
func ID(key attribute.Key, id uuid.UUID) attribute.KeyValue {
	return key.String(id.String())
}

// RouteAttributes returns attributes for the known path parameters that param
// resolves to a non-empty value, ordered by parameter name.
func RouteAttributes(param func(string) string) []attribute.KeyValue {
	names := make([]string, 0, len(routeParams))
	for name := range routeParams {
		names = append(names, name)
	}
	sort.Strings(names)
	var out []attribute.KeyValue
	for _, name := range names {
		if v := strings.TrimSpace(param(name)); v != "" {
			out = append(out, routeParams[name].String(v))
		}
	}
	return out
}

// MarkError records err on span with its domain error code. Errors without a
// code are reported as "internal".
func MarkError(span trace.Span, err error) {
	if err == nil {
		return
	}
	code := string(domainagg.CodeOf(err))
	if code == "" {
		code = string(domainagg.CodeInternal)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, code)
	span.SetAttributes(AttrErrorCode.String(code))
}

// EndSpan marks span with err, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	MarkError(span, err)
	span.End()
}

type OtelConfig struct {
	ServiceName string
	Environment string
	Version     string
}

var (
	otelOnce     sync.Once
	otelShutdown func(context.Context) error
)

func InitOTel(ctx context.Context, log *logger.Logger, cfg OtelConfig) func(context.Context) error {
	otelOnce.Do(func() {
		if !otelEnabled() {
			return
		}
		serviceName := strings.TrimSpace(cfg.ServiceName)
		if serviceName == "" {
			serviceName = "headless-lms"
		}
		res, err := resource.New(
			ctx,
			resource.WithAttributes(
				semconv.ServiceNameKey.String(serviceName),
				attribute.String("deployment.environment", strings.TrimSpace(cfg.Environment)),
				semconv.ServiceVersionKey.String(strings.TrimSpace(cfg.Version)),
			),
		)
		if err != nil && log != nil {
			log.Warn("otel resource init failed (continuing)", "error", err)
		}

		exporter, expErr := buildTraceExporter(ctx, log)
		if expErr != nil && log != nil {
			log.Warn("otel exporter init failed (continuing)", "error", expErr)
		}
		var tp *sdktrace.TracerProvider
		if exporter != nil {
			tp = sdktrace.NewTracerProvider(
				sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
				sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(otelSampleRatio()))),
				sdktrace.WithResource(res),
			)
		} else {
			tp = sdktrace.NewTracerProvider(
				sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(otelSampleRatio()))),
				sdktrace.WithResource(res),
			)
		}
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		otelShutdown = tp.Shutdown
		if log != nil {
			log.Info("otel tracing initialized", "service", serviceName, "endpoint", otelEndpoint())
		}
	})
	return otelShutdown
}

func otelEnabled() bool {
	return envutil.Bool("OTEL_ENABLED", false)
}

func otelSampleRatio() float64 {
	f := envutil.Float("OTEL_SAMPLER_RATIO", 0.1)
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func otelEndpoint() string {
	return envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", "")
}

func otelHeaders() map[string]string {
	headers := map[string]string{}
	for _, part := range envutil.List("OTEL_EXPORTER_OTLP_HEADERS") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		val := strings.TrimSpace(kv[1])
		if key == "" || val == "" {
			continue
		}
		headers[key] = val
	}
	if len(headers) == 0 {
		return nil
	}
	return headers
}

func otelInsecure() bool {
	return envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", false)
}

func buildTraceExporter(ctx context.Context, log *logger.Logger) (sdktrace.SpanExporter, error) {
	endpoint := otelEndpoint()
	if endpoint != "" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if otelInsecure() {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if headers := otelHeaders(); headers != nil {
			opts = append(opts, otlptracehttp.WithHeaders(headers))
		}
		return otlptracehttp.New(ctx, opts...)
	}
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	if log != nil {
		log.Warn("otel using stdout exporter (no OTLP endpoint configured)")
	}
	return exp, nil
}

// StartSpan starts a span on the process tracer. Without InitOTel the global
// no-op provider is used.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

package logger

import (
	"context"
	"fmt"
	"time"

	"github.com/CodeMonkeyCybersecurity/oastengine/internal/config"
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	*zap.SugaredLogger
	otelCore   *otelzap.Core
	tracer     trace.Tracer
	baseLogger *zap.Logger

	// archive and runID are set by WithArchive; when archive is nil
	// (the default) Infow/Warnw/Errorw behave exactly like the
	// embedded SugaredLogger's.
	archive EventStore
	runID   string
}

type LogLevel int8

const (
	DebugLevel LogLevel = iota - 1
	InfoLevel
	WarnLevel
	ErrorLevel
	DPanicLevel
	PanicLevel
	FatalLevel
)

func New(cfg config.LoggerConfig) (*Logger, error) {
	var zapConfig zap.Config

	if cfg.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapConfig.EncoderConfig.TimeKey = "timestamp"
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.EncoderConfig.TimeKey = "timestamp"
		zapConfig.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	if len(cfg.OutputPaths) > 0 {
		zapConfig.OutputPaths = cfg.OutputPaths
	}

	zapConfig.InitialFields = map[string]interface{}{
		"service":     "oastengine",
		"component":   "logger",
		"environment": cfg.Environment,
	}

	baseLogger, err := zapConfig.Build(
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	otelCore := otelzap.NewCore("oastengine",
		otelzap.WithAttributes(
			attribute.String("service", "oastengine"),
		),
	)

	core := zapcore.NewTee(baseLogger.Core(), otelCore)
	enhancedLogger := zap.New(core, zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))

	tracer := otel.Tracer("oastengine/logger")

	return &Logger{
		SugaredLogger: enhancedLogger.Sugar(),
		otelCore:      otelCore,
		tracer:        tracer,
		baseLogger:    enhancedLogger,
	}, nil
}

// Enhanced context-aware logging methods

func (l *Logger) WithContext(ctx context.Context) *Logger {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		spanCtx := span.SpanContext()
		return &Logger{
			SugaredLogger: l.With(
				"trace_id", spanCtx.TraceID().String(),
				"span_id", spanCtx.SpanID().String(),
			),
			otelCore:   l.otelCore,
			tracer:     l.tracer,
			baseLogger: l.baseLogger,
			archive:    l.archive,
			runID:      l.runID,
		}
	}
	return l
}

func (l *Logger) WithFields(fields ...interface{}) *Logger {
	return &Logger{
		SugaredLogger: l.With(fields...),
		otelCore:      l.otelCore,
		tracer:        l.tracer,
		baseLogger:    l.baseLogger,
		archive:       l.archive,
		runID:         l.runID,
	}
}

func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithCorrelationID tags subsequent log lines with the interaction
// correlation_id they pertain to.
func (l *Logger) WithCorrelationID(correlationID string) *Logger {
	return l.WithFields("correlation_id", correlationID)
}

// WithServer tags subsequent log lines with the Interactsh server URL
// they pertain to.
func (l *Logger) WithServer(serverURL string) *Logger {
	return l.WithFields("server", serverURL)
}

func (l *Logger) WithModule(module string) *Logger {
	return l.WithFields("module", module)
}

func (l *Logger) WithTracer(tracer trace.Tracer) *Logger {
	newLogger := *l
	newLogger.tracer = tracer
	return &newLogger
}

// Span and tracing utilities

func (l *Logger) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if l.tracer == nil {
		l.tracer = otel.Tracer("oastengine/default")
	}
	return l.tracer.Start(ctx, name, opts...)
}

func (l *Logger) StartSpanWithAttributes(ctx context.Context, name string, attrs []attribute.KeyValue, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if len(attrs) > 0 {
		opts = append(opts, trace.WithAttributes(attrs...))
	}
	return l.StartSpan(ctx, name, opts...)
}

// Performance and timing logging

func (l *Logger) LogDuration(ctx context.Context, operation string, start time.Time, fields ...interface{}) {
	duration := time.Since(start)

	allFields := []interface{}{
		"operation", operation,
		"duration_ms", duration.Milliseconds(),
		"duration", duration.String(),
	}
	allFields = append(allFields, fields...)

	l.WithContext(ctx).Infow("Operation completed", allFields...)

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent("operation_completed", trace.WithAttributes(
			attribute.String("operation", operation),
			attribute.Int64("duration_ms", duration.Milliseconds()),
		))
	}
}

func (l *Logger) LogSlowOperation(ctx context.Context, operation string, duration time.Duration, threshold time.Duration, fields ...interface{}) {
	if duration > threshold {
		allFields := []interface{}{
			"operation", operation,
			"duration_ms", duration.Milliseconds(),
			"threshold_ms", threshold.Milliseconds(),
			"slow_operation", true,
		}
		allFields = append(allFields, fields...)

		l.WithContext(ctx).Warnw("Slow operation detected", allFields...)

		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.AddEvent("slow_operation", trace.WithAttributes(
				attribute.String("operation", operation),
				attribute.Int64("duration_ms", duration.Milliseconds()),
				attribute.Int64("threshold_ms", threshold.Milliseconds()),
			))
		}
	}
}

// Error logging with enhanced context

func (l *Logger) LogError(ctx context.Context, err error, operation string, fields ...interface{}) {
	if err == nil {
		return
	}

	allFields := []interface{}{
		"error", err.Error(),
		"operation", operation,
		"error_type", fmt.Sprintf("%T", err),
	}
	allFields = append(allFields, fields...)

	l.WithContext(ctx).Errorw("Operation failed", allFields...)

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.AddEvent("error_occurred", trace.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("error", err.Error()),
			attribute.String("error_type", fmt.Sprintf("%T", err)),
		))
	}
}

func (l *Logger) LogPanic(ctx context.Context, recovered interface{}, operation string, fields ...interface{}) {
	allFields := []interface{}{
		"panic", recovered,
		"operation", operation,
		"panic_type", fmt.Sprintf("%T", recovered),
	}
	allFields = append(allFields, fields...)

	l.WithContext(ctx).DPanicw("Panic recovered", allFields...)

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent("panic_recovered", trace.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("panic", fmt.Sprintf("%v", recovered)),
		))
		span.SetStatus(codes.Error, fmt.Sprintf("panic: %v", recovered))
	}
}

// Domain event logging: registration, polling, interaction delivery.

// LogRegistrationEvent records a register/deregister round trip against
// an Interactsh server.
func (l *Logger) LogRegistrationEvent(ctx context.Context, serverURL string, correlationID string, success bool, details map[string]interface{}) {
	allFields := []interface{}{
		"registration_event", true,
		"server", serverURL,
		"correlation_id", correlationID,
		"success", success,
	}
	for k, v := range details {
		allFields = append(allFields, k, v)
	}

	l.WithContext(ctx).Infow("Registration event", allFields...)

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent("registration_event", trace.WithAttributes(
			attribute.String("server", serverURL),
			attribute.Bool("success", success),
		))
	}
}

// LogInteractionEvent records a decrypted interaction being delivered to
// a caller.
func (l *Logger) LogInteractionEvent(ctx context.Context, protocol string, uniqueID string, remoteAddress string, details map[string]interface{}) {
	allFields := []interface{}{
		"interaction_event", true,
		"protocol", protocol,
		"unique_id", uniqueID,
		"remote_address", remoteAddress,
	}
	for k, v := range details {
		allFields = append(allFields, k, v)
	}

	l.WithContext(ctx).Infow("Interaction received", allFields...)

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent("interaction_received", trace.WithAttributes(
			attribute.String("protocol", protocol),
			attribute.String("unique_id", uniqueID),
		))
	}
}

// LogClientStateChange records a Protocol Client state transition.
func (l *Logger) LogClientStateChange(ctx context.Context, serverURL string, from string, to string) {
	l.WithContext(ctx).Infow("Client state change",
		"client_state_event", true,
		"server", serverURL,
		"from_state", from,
		"to_state", to,
	)

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent("client_state_change", trace.WithAttributes(
			attribute.String("server", serverURL),
			attribute.String("from_state", from),
			attribute.String("to_state", to),
		))
	}
}

// HTTP and network logging

func (l *Logger) LogHTTPRequest(ctx context.Context, method, url string, statusCode int, duration time.Duration, fields ...interface{}) {
	allFields := []interface{}{
		"http_method", method,
		"http_url", url,
		"http_status", statusCode,
		"duration_ms", duration.Milliseconds(),
		"http_request", true,
	}
	allFields = append(allFields, fields...)

	level := "info"
	if statusCode >= 400 {
		level = "warn"
	}
	if statusCode >= 500 {
		level = "error"
	}

	switch level {
	case "error":
		l.WithContext(ctx).Errorw("HTTP request completed", allFields...)
	case "warn":
		l.WithContext(ctx).Warnw("HTTP request completed", allFields...)
	default:
		l.WithContext(ctx).Infow("HTTP request completed", allFields...)
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent("http_request", trace.WithAttributes(
			attribute.String("method", method),
			attribute.String("url", url),
			attribute.Int("status_code", statusCode),
			attribute.Int64("duration_ms", duration.Milliseconds()),
		))

		if statusCode >= 400 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", statusCode))
		}
	}
}

// Storage logging

func (l *Logger) LogStoreOperation(ctx context.Context, operation string, backend string, rowsAffected int64, duration time.Duration, fields ...interface{}) {
	allFields := []interface{}{
		"store_operation", operation,
		"store_backend", backend,
		"rows_affected", rowsAffected,
		"duration_ms", duration.Milliseconds(),
		"storage_event", true,
	}
	allFields = append(allFields, fields...)

	l.WithContext(ctx).Debugw("Store operation completed", allFields...)

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent("store_operation", trace.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("backend", backend),
			attribute.Int64("rows_affected", rowsAffected),
			attribute.Int64("duration_ms", duration.Milliseconds()),
		))
	}
}

// Context utilities

type contextKey struct{}

var loggerKey = contextKey{}

func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(loggerKey).(*Logger); ok {
		return logger
	}
	logger, _ := New(config.LoggerConfig{Level: "info", Format: "json"})
	return logger
}

func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// Utility functions for common logging patterns

func (l *Logger) StartOperation(ctx context.Context, operation string, fields ...interface{}) (context.Context, trace.Span) {
	ctx, span := l.StartSpan(ctx, operation)

	allFields := []interface{}{
		"operation", operation,
		"operation_start", true,
	}
	allFields = append(allFields, fields...)

	l.WithContext(ctx).Debugw("Operation started", allFields...)

	return ctx, span
}

func (l *Logger) FinishOperation(ctx context.Context, span trace.Span, operation string, start time.Time, err error, fields ...interface{}) {
	defer span.End()

	duration := time.Since(start)

	allFields := []interface{}{
		"operation", operation,
		"duration_ms", duration.Milliseconds(),
		"operation_end", true,
	}
	allFields = append(allFields, fields...)

	if err != nil {
		l.LogError(ctx, err, operation, allFields...)
	} else {
		l.WithContext(ctx).Debugw("Operation completed successfully", allFields...)
		span.SetStatus(codes.Ok, "completed")
	}

	span.AddEvent("operation_finished", trace.WithAttributes(
		attribute.String("operation", operation),
		attribute.Int64("duration_ms", duration.Milliseconds()),
		attribute.Bool("success", err == nil),
	))
}

package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across hubrun.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldBatchID    = "batch_id"
	FieldJobIndex   = "job_index"
	FieldTaskID     = "task_id"
	FieldCredential = "credential" // base58 fingerprint, never the raw key
	FieldWorkerID   = "worker_id"
	FieldAttempt    = "attempt"
	FieldRequestID  = "request_id"

	// Components
	FieldComponent = "component"

	// Operations
	FieldOperation = "operation"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldApp       = "app"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError     = "error"
	FieldErrorCode = "error_code"
	FieldCategory  = "category"

	// Counts
	FieldCount     = "count"
	FieldTotal     = "total"
	FieldCompleted = "completed"
	FieldFailed    = "failed"

	// Status
	FieldStatus = "status"
	FieldState  = "state"

	// Files and network
	FieldFile    = "file"
	FieldURL     = "url"
	FieldAddress = "address"

	FieldSymbol = "symbol" // glyph from package sym (꩜, ✿, ❀, ...)
)

// Context keys for propagating logging context
type contextKey string

const (
	batchIDKey   contextKey = "logger_batch_id"
	requestIDKey contextKey = "logger_request_id"
)

// WithBatchID adds a batch ID to the context for logging
func WithBatchID(ctx context.Context, batchID string) context.Context {
	return context.WithValue(ctx, batchIDKey, batchID)
}

// WithRequestID adds a request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if batchID, ok := ctx.Value(batchIDKey).(string); ok && batchID != "" {
		fields = append(fields, FieldBatchID, batchID)
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		fields = append(fields, FieldRequestID, requestID)
	}

	return fields
}

// LoggerFromContext returns a logger carrying batch_id/request_id from ctx.
func LoggerFromContext(ctx context.Context) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return Logger
	}
	return Logger.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	type Coordinator struct {
//	    logger *zap.SugaredLogger
//	}
//
//	func NewCoordinator() *Coordinator {
//	    return &Coordinator{
//	        logger: logger.ComponentLogger("batch"),
//	    }
//	}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

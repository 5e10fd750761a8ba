package common

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tanmaypatil/gmail-chat/internal/instrumentation"
	"github.com/tanmaypatil/gmail-chat/internal/logging"
)

// ToolHandler executes one tool invocation. A false ok marks the result as a
// tool-level failure that is still returned to the model.
type ToolHandler func(ctx context.Context) (result any, ok bool)

// InstrumentedToolHandler wraps handler with a span, invocation metrics and
// a debug log line. metrics and logger may be nil.
//
// Usage:
//
//	run := common.InstrumentedToolHandler("search_emails", metrics, logger, handler)
//	result, ok := run(ctx)
func InstrumentedToolHandler(toolName string, metrics *instrumentation.Metrics, logger *slog.Logger, handler ToolHandler) ToolHandler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return func(ctx context.Context) (any, bool) {
		ctx, span := instrumentation.StartToolSpan(ctx, toolName)
		defer span.End()

		start := time.Now()
		result, ok := handler(ctx)
		duration := time.Since(start)

		status := instrumentation.StatusSuccess
		if ok {
			instrumentation.SetSpanSuccess(span)
		} else {
			status = instrumentation.StatusError
			span.SetAttributes(attribute.Bool(instrumentation.SpanAttrToolFailed, true))
		}

		metrics.RecordToolInvocation(ctx, toolName, status, duration)
		logger.DebugContext(ctx, "tool invoked",
			logging.Tool(toolName),
			logging.Status(status),
			slog.Duration(logging.KeyDuration, duration))

		return result, ok
	}
}

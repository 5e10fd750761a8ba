package llm

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tanmaypatil/gmail-chat/internal/instrumentation"
)

type instrumentedModel struct {
	next    ChatModel
	service string
	metrics *instrumentation.Metrics
}

// Instrumented wraps model so every call is traced and recorded under
// service.
func Instrumented(model ChatModel, service string, metrics *instrumentation.Metrics) ChatModel {
	return &instrumentedModel{next: model, service: service, metrics: metrics}
}

func (m *instrumentedModel) CreateMessage(ctx context.Context, req *Request) (*Response, error) {
	ctx, span := instrumentation.StartClientSpan(ctx, m.service, "messages")
	defer span.End()

	start := time.Now()
	resp, err := m.next.CreateMessage(ctx, req)
	duration := time.Since(start)

	if err != nil {
		instrumentation.SetSpanError(span, err)
		m.metrics.RecordLLMRequest(ctx, m.service, "", instrumentation.StatusError, duration)
		return nil, err
	}

	span.SetAttributes(attribute.String(instrumentation.SpanAttrStopReason, string(resp.StopReason)))
	instrumentation.SetSpanSuccess(span)
	m.metrics.RecordLLMRequest(ctx, m.service, string(resp.StopReason), instrumentation.StatusSuccess, duration)
	return resp, nil
}

// Package instrumentation wires OpenTelemetry metrics and tracing for
// gmail-chat.
//
// # Metrics
//
// HTTP:
//   - http_requests_total / http_request_duration_seconds by method, route, status
//   - active_sessions: live chat sessions held by the credential store
//
// Gmail:
//   - gmail_api_operations_total / gmail_api_operation_duration_seconds by operation, status
//
// OAuth:
//   - oauth_auth_total: login completions by result
//   - oauth_token_refresh_total: refresh attempts by result
//
// Chat:
//   - tool_invocations_total / tool_duration_seconds by tool, status
//   - llm_requests_total / llm_request_duration_seconds by service, stop reason, status
//   - chat_tool_rounds: model rounds per chat message
//
// Metrics are exported through Prometheus by default (served by the
// dedicated metrics server), or through OTLP or stdout.
//
// # Configuration
//
//	INSTRUMENTATION_ENABLED=true
//	METRICS_EXPORTER=prometheus        # prometheus, otlp, stdout
//	TRACING_EXPORTER=none              # otlp, stdout, none
//	OTEL_EXPORTER_OTLP_ENDPOINT=localhost:4318
//	OTEL_TRACES_SAMPLER_ARG=0.1
package instrumentation

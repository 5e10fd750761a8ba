package instrumentation

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the configuration for OpenTelemetry instrumentation.
type Config struct {
	// ServiceName is the name of the service (default: gmail-chat)
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// ServiceInstanceID is the unique instance identifier (default: hostname)
	ServiceInstanceID string

	// Enabled determines if instrumentation is active (default: true)
	Enabled bool

	// MetricsExporter is one of "prometheus", "otlp", "stdout" (default: "prometheus")
	MetricsExporter string

	// TracingExporter is one of "otlp", "stdout", "none" (default: "none")
	TracingExporter string

	// OTLPEndpoint is the OTLP collector endpoint without protocol prefix,
	// for example "localhost:4318".
	OTLPEndpoint string

	// OTLPInsecure switches OTLP export to plain HTTP. Development only.
	OTLPInsecure bool

	// TraceSamplingRate is the sampling rate for traces (0.0 to 1.0, default: 0.1)
	TraceSamplingRate float64
}

// DefaultConfig returns a Config populated from environment variables.
// Unparseable values fall back to the default.
func DefaultConfig() Config {
	return Config{
		ServiceName:       env("OTEL_SERVICE_NAME", DefaultServiceName, parseString),
		ServiceVersion:    "unknown",
		ServiceInstanceID: env("OTEL_SERVICE_INSTANCE_ID", "", parseString),
		Enabled:           env("INSTRUMENTATION_ENABLED", true, strconv.ParseBool),
		MetricsExporter:   env("METRICS_EXPORTER", ExporterPrometheus, parseString),
		TracingExporter:   env("TRACING_EXPORTER", ExporterNone, parseString),
		OTLPEndpoint:      env("OTEL_EXPORTER_OTLP_ENDPOINT", "", parseString),
		OTLPInsecure:      env("OTEL_EXPORTER_OTLP_INSECURE", false, strconv.ParseBool),
		TraceSamplingRate: env("OTEL_TRACES_SAMPLER_ARG", 0.1, parseFloat),
	}
}

// Validate checks exporter names, the sampling rate and the OTLP endpoint.
func (c *Config) Validate() error {
	if c.TraceSamplingRate < 0 || c.TraceSamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0.0 and 1.0, got %f", c.TraceSamplingRate)
	}

	if !oneOf(c.MetricsExporter, "", ExporterPrometheus, ExporterOTLP, ExporterStdout, ExporterNone) {
		return fmt.Errorf("invalid metrics exporter %q, must be one of: prometheus, otlp, stdout, none", c.MetricsExporter)
	}
	if !oneOf(c.TracingExporter, "", ExporterOTLP, ExporterStdout, ExporterNone) {
		return fmt.Errorf("invalid tracing exporter %q, must be one of: otlp, stdout, none", c.TracingExporter)
	}

	usesOTLP := c.TracingExporter == ExporterOTLP || c.MetricsExporter == ExporterOTLP
	if usesOTLP && c.OTLPEndpoint == "" {
		return fmt.Errorf("OTLP endpoint is required when using an OTLP exporter")
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func env[T any](key string, fallback T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := parse(raw)
	if err != nil {
		return fallback
	}
	return v
}

func parseString(s string) (string, error) { return s, nil }

func parseFloat(s string) (float64, error) { return strconv.ParseFloat(s, 64) }

// Constants for metric label values.
const (
	DefaultServiceName = "gmail-chat"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// OAuth result values
	OAuthResultSuccess = "success"
	OAuthResultFailure = "failure"
	OAuthResultExpired = "expired"

	// Upstream service names
	ServiceGmail     = "gmail"
	ServiceUserinfo  = "userinfo"
	ServiceAnthropic = "anthropic"
	ServiceOpenAI    = "openai"

	// Exporter types
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"

	DefaultMetricInterval = 10 * time.Second
)

package observability

import (
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// ProbeBuildResource exposes buildResource for external tests.
var ProbeBuildResource = buildResource

// ProbeSamplerSpan reports whether the sampler selected for cfg would
// sample a root span.
func ProbeSamplerSpan(cfg Config) bool {
	result := selectSampler(cfg).ShouldSample(sdktrace.SamplingParameters{
		TraceID: trace.TraceID{0x01},
		Name:    "probe",
	})

	return result.Decision == sdktrace.RecordAndSample
}

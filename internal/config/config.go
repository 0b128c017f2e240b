// Package config loads and validates the operational configuration of the
// courseflow binary: output locations, server addresses, worker counts, and
// observability settings. Analysis parameters (bin widths, thresholds) arrive
// per run in the analysis request, never here.
package config

import "errors"

// Config is the top-level configuration struct for courseflow.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Output        OutputConfig        `mapstructure:"output"`
	Server        ServerConfig        `mapstructure:"server"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// OutputConfig holds artifact output locations.
type OutputConfig struct {
	// Dir is the root directory for run artifacts and the run index.
	Dir string `mapstructure:"dir"`
	// Environment is stamped into Flow.csv and metadata.json.
	Environment string `mapstructure:"environment"`
}

// ServerConfig holds the HTTP boundary and diagnostics addresses.
type ServerConfig struct {
	Addr            string `mapstructure:"addr"`
	DiagnosticsAddr string `mapstructure:"diagnostics_addr"`
}

// PipelineConfig holds orchestrator resource knobs.
type PipelineConfig struct {
	// DayWorkers bounds concurrent day pipelines. Zero means one per day.
	DayWorkers int `mapstructure:"day_workers"`
	// SegmentWorkers bounds the per-day segment fan-out within binning.
	SegmentWorkers int `mapstructure:"segment_workers"`
	// DayTimeout is the per-day hard wall-clock ceiling, e.g. "10m".
	DayTimeout string `mapstructure:"day_timeout"`
	// SoftTimeout is the binning soft ceiling that triggers coarsening, e.g. "2m".
	SoftTimeout string `mapstructure:"soft_timeout"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
	LogLevel     string  `mapstructure:"log_level"`
	LogJSON      bool    `mapstructure:"log_json"`
}

// Sentinel errors for configuration validation.
var (
	// ErrEmptyOutputDir indicates output.dir is empty.
	ErrEmptyOutputDir = errors.New("output.dir must not be empty")
	// ErrInvalidDayWorkers indicates the day worker count is negative.
	ErrInvalidDayWorkers = errors.New("pipeline.day_workers must be non-negative")
	// ErrInvalidSegmentWorkers indicates the segment worker count is negative.
	ErrInvalidSegmentWorkers = errors.New("pipeline.segment_workers must be non-negative")
	// ErrInvalidSampleRatio indicates the trace sample ratio is out of range.
	ErrInvalidSampleRatio = errors.New("observability.sample_ratio must be between 0 and 1")
	// ErrInvalidLogLevel indicates an unrecognized log level name.
	ErrInvalidLogLevel = errors.New("observability.log_level must be debug, info, warn, or error")
)

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Output.Dir == "" {
		return ErrEmptyOutputDir
	}

	if c.Pipeline.DayWorkers < 0 {
		return ErrInvalidDayWorkers
	}

	if c.Pipeline.SegmentWorkers < 0 {
		return ErrInvalidSegmentWorkers
	}

	if c.Observability.SampleRatio < 0 || c.Observability.SampleRatio > 1 {
		return ErrInvalidSampleRatio
	}

	switch c.Observability.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}

	return nil
}

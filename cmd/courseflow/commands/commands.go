// Package commands implements CLI command handlers for courseflow.
package commands

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/raceops/courseflow/internal/config"
	"github.com/raceops/courseflow/internal/runindex"
	pkgobs "github.com/raceops/courseflow/pkg/observability"
	"github.com/raceops/courseflow/pkg/version"
)

// runIndexFile is the SQLite run index name under the output directory.
const runIndexFile = "runs.db"

// progressf prints user-facing progress unless --quiet was given.
func progressf(cmd *cobra.Command, format string, args ...any) {
	if flagBool(cmd, "quiet") {
		return
	}

	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}

// flagBool reads a persistent root flag, tolerating its absence when a
// command runs outside the full CLI tree.
func flagBool(cmd *cobra.Command, name string) bool {
	v, err := cmd.Root().PersistentFlags().GetBool(name)
	if err != nil {
		return false
	}

	return v
}

func loadConfig(configPath *string) (*config.Config, error) {
	path := ""
	if configPath != nil {
		path = *configPath
	}

	return config.LoadConfig(path)
}

func openStore(cfg *config.Config) (*runindex.Store, error) {
	return runindex.Open(filepath.Join(cfg.Output.Dir, runIndexFile))
}

// telemetryConfig maps the file configuration onto the provider settings.
func telemetryConfig(cfg *config.Config, mode pkgobs.AppMode) pkgobs.Config {
	obs := pkgobs.DefaultConfig()
	obs.Mode = mode
	obs.ServiceVersion = version.Version
	obs.Environment = cfg.Output.Environment
	obs.OTLPEndpoint = cfg.Observability.OTLPEndpoint
	obs.OTLPInsecure = cfg.Observability.OTLPInsecure
	obs.SampleRatio = cfg.Observability.SampleRatio
	obs.LogJSON = cfg.Observability.LogJSON
	obs.LogLevel = parseLogLevel(cfg.Observability.LogLevel)

	return obs
}

func parseLogLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// pipelineTimeouts parses the configured day and soft ceilings.
func pipelineTimeouts(cfg *config.Config) (time.Duration, time.Duration, error) {
	dayTimeout, err := parseTimeout(cfg.Pipeline.DayTimeout)
	if err != nil {
		return 0, 0, fmt.Errorf("pipeline.day_timeout: %w", err)
	}

	softTimeout, err := parseTimeout(cfg.Pipeline.SoftTimeout)
	if err != nil {
		return 0, 0, fmt.Errorf("pipeline.soft_timeout: %w", err)
	}

	return dayTimeout, softTimeout, nil
}

func parseTimeout(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}

	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}

	return d, nil
}

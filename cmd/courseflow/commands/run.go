package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/raceops/courseflow/internal/pipeline"
	"github.com/raceops/courseflow/internal/request"
	pkgobs "github.com/raceops/courseflow/pkg/observability"
	"github.com/raceops/courseflow/pkg/version"
)

// RunCommand executes one analysis request end to end.
type RunCommand struct {
	configPath *string

	runID   string
	outDir  string
	workers int
	noColor bool
}

// NewRunCommand creates the run command.
func NewRunCommand(configPath *string) *cobra.Command {
	rc := &RunCommand{configPath: configPath}

	cmd := &cobra.Command{
		Use:   "run <request.json>",
		Short: "Execute an analysis request and write the artifact set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rc.Execute(cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&rc.runID, "run-id", "", "run identifier (default: random UUID)")
	cmd.Flags().StringVar(&rc.outDir, "out", "", "artifact output directory (overrides config)")
	cmd.Flags().IntVar(&rc.workers, "day-workers", 0, "concurrent day pipelines (0 = one per day)")
	cmd.Flags().BoolVar(&rc.noColor, "no-color", false, "disable colored output")

	return cmd
}

// Execute runs the request and prints the per-day outcome.
func (rc *RunCommand) Execute(cmd *cobra.Command, requestPath string) error {
	if rc.noColor {
		color.NoColor = true
	}

	cfg, err := loadConfig(rc.configPath)
	if err != nil {
		return err
	}

	if rc.outDir != "" {
		cfg.Output.Dir = rc.outDir
	}

	obsCfg := telemetryConfig(cfg, pkgobs.ModeCLI)
	if flagBool(cmd, "verbose") {
		obsCfg.LogLevel = slog.LevelDebug
	}

	providers, err := pkgobs.Init(obsCfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = providers.Shutdown(cmd.Context()) }()

	raw, err := os.ReadFile(requestPath)
	if err != nil {
		return fmt.Errorf("read analysis request: %w", err)
	}

	req, err := request.Parse(raw)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	dayTimeout, softTimeout, err := pipelineTimeouts(cfg)
	if err != nil {
		return err
	}

	dayWorkers := cfg.Pipeline.DayWorkers
	if rc.workers > 0 {
		dayWorkers = rc.workers
	}

	pipe := pipeline.New(pipeline.Options{
		OutDir:         cfg.Output.Dir,
		Environment:    cfg.Output.Environment,
		AppVersion:     version.Version,
		DayWorkers:     dayWorkers,
		SegmentWorkers: cfg.Pipeline.SegmentWorkers,
		DayTimeout:     dayTimeout,
		SoftTimeout:    softTimeout,
		Store:          store,
		Tracer:         providers.Tracer,
	})

	runID := rc.runID
	if runID == "" {
		runID = uuid.NewString()
	}

	progressf(cmd, "run %s: analyzing %d events\n", runID, len(req.Events))

	res, err := pipe.Run(cmd.Context(), pipeline.RunContext{
		RunID:   runID,
		Request: req,
		Logger:  providers.Logger,
	})
	if err != nil {
		return err
	}

	rc.printResult(cmd, cfg.Output.Dir, res)

	if res.Status == pipeline.StatusFail {
		return fmt.Errorf("run %s failed", res.RunID)
	}

	return nil
}

func (rc *RunCommand) printResult(cmd *cobra.Command, outDir string, res *pipeline.RunResult) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "run %s: %s\n", res.RunID, colorStatus(res.Status))

	for _, d := range res.Days {
		if d.Err != nil {
			fmt.Fprintf(out, "  %-6s %s  %v\n", d.Day, colorStatus(d.Status), d.Err)

			continue
		}

		fmt.Fprintf(out, "  %-6s %s  %d bins, %d windows, %d encounters (max_rel_err %.4f)\n",
			d.Day, colorStatus(d.Status), d.NBins, d.NWindows, d.NEncounters, d.MaxRelErr)
	}

	fmt.Fprintf(out, "artifacts: %s\n", outDir+string(os.PathSeparator)+res.RunID)
}

func colorStatus(status string) string {
	switch status {
	case pipeline.StatusPass:
		return color.GreenString(status)
	case pipeline.StatusPartial:
		return color.YellowString(status)
	case pipeline.StatusFail:
		return color.RedString(status)
	default:
		return color.CyanString(status)
	}
}

package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/raceops/courseflow/internal/runindex"
)

// NewReportCommand creates the report command: print a run's day reports
// from the artifact directory.
func NewReportCommand(configPath *string) *cobra.Command {
	var (
		runID string
		day   string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print a run's day reports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReport(cmd, configPath, runID, day)
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "run identifier (default: latest run)")
	cmd.Flags().StringVar(&day, "day", "", "single day to print (default: all passed days)")

	return cmd
}

func runReport(cmd *cobra.Command, configPath *string, runID, day string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var run *runindex.Run

	if runID == "" {
		run, err = store.LatestRun(cmd.Context())
		if errors.Is(err, runindex.ErrNotFound) {
			return errors.New("no completed runs in the index; pass --run for an explicit id")
		}
	} else {
		run, err = store.GetRun(cmd.Context(), runID)
	}

	if err != nil {
		return err
	}

	printed := 0

	for _, d := range run.Days {
		if day != "" && d.Day != day {
			continue
		}

		if d.Status != runindex.StatusPass {
			if day != "" {
				return fmt.Errorf("day %s of run %s did not pass (%s); no report was written", d.Day, run.ID, d.Status)
			}

			continue
		}

		path := filepath.Join(run.OutputDir, d.Day, "reports", fmt.Sprintf("report_%s.md", d.Day))

		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return fmt.Errorf("read report for day %s: %w", d.Day, readErr)
		}

		cmd.Println(color.HiBlackString("--- %s", path))
		cmd.Println(string(raw))

		printed++
	}

	if printed == 0 {
		return fmt.Errorf("run %s has no day reports matching the selection", run.ID)
	}

	return nil
}

package commands

import (
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// NewRunsCommand creates the runs command: a table of past analysis runs
// from the run index, newest first.
func NewRunsCommand(configPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List past analysis runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRuns(cmd, configPath, limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list (0 = all)")

	return cmd
}

func runRuns(cmd *cobra.Command, configPath *string, limit int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(cmd.Context())
	if err != nil {
		return err
	}

	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(cmd.OutOrStdout())
	tw.AppendHeader(table.Row{"Run", "Status", "Started", "Finished", "Version", "Output"})

	for _, run := range runs {
		finished := "-"
		if run.FinishedAt != nil {
			finished = humanize.Time(*run.FinishedAt)
		}

		tw.AppendRow(table.Row{
			run.ID,
			colorStatus(run.Status),
			humanize.Time(run.CreatedAt),
			finished,
			run.AppVersion,
			run.OutputDir,
		})
	}

	if len(runs) == 0 {
		cmd.Println(color.HiBlackString("no runs recorded yet"))

		return nil
	}

	tw.Render()

	return nil
}

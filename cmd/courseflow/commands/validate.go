package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raceops/courseflow/internal/course"
	"github.com/raceops/courseflow/internal/dayplan"
	"github.com/raceops/courseflow/internal/participants"
	"github.com/raceops/courseflow/internal/request"
	"github.com/raceops/courseflow/internal/rulebook"
)

// NewValidateCommand creates the validate command: full request, course, and
// participant validation without running any engine.
func NewValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <request.json>",
		Short: "Check an analysis request without running the engines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args[0])
		},
	}
}

func runValidate(cmd *cobra.Command, requestPath string) error {
	raw, err := os.ReadFile(requestPath)
	if err != nil {
		return fmt.Errorf("read analysis request: %w", err)
	}

	req, err := request.Parse(raw)
	if err != nil {
		return err
	}

	crs, err := course.Load(req.SegmentsFile, req.FlowFile)
	if err != nil {
		return err
	}

	if req.LOSRulebook != "" {
		if _, err := rulebook.Load(req.LOSRulebook); err != nil {
			return err
		}
	}

	lists := make([][]participants.Participant, 0, len(req.Events))
	events := make([]dayplan.Event, 0, len(req.Events))

	for _, ev := range req.Events {
		runners, loadErr := participants.Load(ev.RunnersFile, ev.Name)
		if loadErr != nil {
			return loadErr
		}

		lists = append(lists, runners)
		events = append(events, dayplan.Event{
			Name:         ev.Name,
			Day:          ev.Day,
			StartTimeMin: ev.StartTimeMin,
			DurationMin:  ev.DurationMin,
		})
	}

	ps, err := participants.NewSet(lists...)
	if err != nil {
		return err
	}

	plans, err := dayplan.Partition(events, crs, ps)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "request OK: %d events, %d runners, %d segments, %d flow pairs\n",
		len(req.Events), ps.Total(), crs.SegmentCount(), len(crs.Pairs()))

	for _, plan := range plans {
		fmt.Fprintf(out, "  day %s: events %s over %d segments\n",
			plan.Day, strings.Join(plan.EventNames(), ", "), len(plan.Segments))
	}

	return nil
}

package artifacts

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/raceops/courseflow/internal/flow"
)

var flowHeader = []string{
	"seg_id", "event_a", "event_b", "flow_type",
	"encounters", "participants_a", "participants_b",
	"copresence_a", "copresence_b",
	"overtaking_a", "overtaking_b",
	"overtaking_a_raw", "overtaking_b_raw",
	"overtaking_a_strict", "overtaking_b_strict",
	"has_convergence",
	"from_km_a", "to_km_a", "from_km_b", "to_km_b",
	"app_version", "analysis_timestamp", "environment",
}

// writeFlowCSV emits the per-pair report feed. Rows arrive already sorted
// (seg_id, flow.csv row index) from the flow engine.
func (e *Emitter) writeFlowCSV(path string, summaries []flow.Summary) error {
	stamp := e.now().UTC().Format(time.RFC3339)

	return writeAtomic(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)

		if err := cw.Write(flowHeader); err != nil {
			return fmt.Errorf("write flow header: %w", err)
		}

		for _, s := range summaries {
			record := []string{
				s.SegID, s.EventA, s.EventB, string(s.FlowType),
				strconv.Itoa(s.Encounters),
				strconv.Itoa(s.ParticipantsA), strconv.Itoa(s.ParticipantsB),
				strconv.Itoa(s.CopresenceA), strconv.Itoa(s.CopresenceB),
				strconv.Itoa(s.OvertakingA), strconv.Itoa(s.OvertakingB),
				strconv.Itoa(s.OvertakingARaw), strconv.Itoa(s.OvertakingBRaw),
				strconv.Itoa(s.OvertakingAStrict), strconv.Itoa(s.OvertakingBStrict),
				strconv.FormatBool(s.HasConvergence),
				formatKm(s.FromKmA), formatKm(s.ToKmA),
				formatKm(s.FromKmB), formatKm(s.ToKmB),
				e.AppVersion, stamp, e.Environment,
			}

			if err := cw.Write(record); err != nil {
				return fmt.Errorf("write flow row: %w", err)
			}
		}

		cw.Flush()

		return cw.Error()
	})
}

func formatKm(km float64) string {
	return strconv.FormatFloat(km, 'f', -1, 64)
}

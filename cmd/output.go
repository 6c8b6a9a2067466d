package cmd

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/simloop/simloop/sim"
	"github.com/simloop/simloop/sim/trace"
)

// printResults writes the end-of-run report.
func printResults(w io.Writer, s *sim.Simulator, summary *trace.TraceSummary, elapsed time.Duration) {
	fmt.Fprintln(w, "=== Simulation Summary ===")
	if id, ok := s.ID(); ok {
		fmt.Fprintf(w, "Simulation ID        : %s\n", id)
	}
	fmt.Fprintf(w, "Workload             : %s\n", s.Workload())
	fmt.Fprintf(w, "Final Tick           : %d\n", s.CurrentTick())
	fmt.Fprintf(w, "Last Exit Cause      : %s\n", s.LastExit().Cause)
	fmt.Fprintf(w, "Handled Exits        : %d\n", s.ExitCount())
	fmt.Fprintf(w, "Terminating Exits    : %d\n", summary.TerminatingExits)
	fmt.Fprintf(w, "Wall Time            : %s\n", elapsed.Round(time.Millisecond))

	if rois := s.ROITicks(); len(rois) > 0 {
		fmt.Fprintln(w, "=== Regions of Interest ===")
		for i, ticks := range rois {
			fmt.Fprintf(w, "ROI %-3d              : %d ticks\n", i, ticks)
		}
	}

	if len(summary.HandlerDistribution) > 0 {
		fmt.Fprintln(w, "=== Exits per Handler ===")
		for _, id := range slices.Sorted(maps.Keys(summary.HandlerDistribution)) {
			fmt.Fprintf(w, "Handler %-6d       : %d\n", id, summary.HandlerDistribution[id])
		}
	}

	events := s.ExitEventLog()
	if len(events) > 0 {
		fmt.Fprintln(w, "=== Exit Event Log ===")
		for _, tick := range slices.Sorted(maps.Keys(events)) {
			fmt.Fprintf(w, "[tick %07d] %s\n", tick, events[tick])
		}
	}
}

package trace

import "github.com/simloop/simloop/sim"

// TraceSummary aggregates statistics from an ExitTrace.
type TraceSummary struct {
	TotalExits          int
	TerminatingExits    int
	FirstTick           uint64
	LastTick            uint64
	HandlerDistribution map[sim.HandlerID]int // handler id → count of exits
	CauseDistribution   map[string]int        // raw cause → count of exits
}

// Summarize computes aggregate statistics from an ExitTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(et *ExitTrace) *TraceSummary {
	summary := &TraceSummary{
		HandlerDistribution: make(map[sim.HandlerID]int),
		CauseDistribution:   make(map[string]int),
	}
	if et == nil || len(et.Records) == 0 {
		return summary
	}

	summary.TotalExits = len(et.Records)
	summary.FirstTick = et.Records[0].Tick
	summary.LastTick = et.Records[len(et.Records)-1].Tick
	for _, r := range et.Records {
		summary.HandlerDistribution[r.HandlerID]++
		summary.CauseDistribution[r.Cause]++
		if r.Terminate {
			summary.TerminatingExits++
		}
	}
	return summary
}

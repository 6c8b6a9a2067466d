// Package trace records the exits of a run for post-run analysis.
package trace

import "github.com/simloop/simloop/sim"

// TraceLevel controls the verbosity of exit tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing.
	TraceLevelNone TraceLevel = "none"
	// TraceLevelExits records every handled exit.
	TraceLevelExits TraceLevel = "exits"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:  true,
	TraceLevelExits: true,
	"":              true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// ExitTrace collects exit records during a run. It is a sim.ExitObserver.
type ExitTrace struct {
	Level   TraceLevel
	Records []sim.ExitRecord
}

// NewExitTrace creates an ExitTrace ready for recording.
func NewExitTrace(level TraceLevel) *ExitTrace {
	return &ExitTrace{
		Level:   level,
		Records: make([]sim.ExitRecord, 0),
	}
}

// ObserveExit appends an exit record unless tracing is disabled.
func (et *ExitTrace) ObserveExit(rec sim.ExitRecord) {
	if et.Level != TraceLevelExits {
		return
	}
	et.Records = append(et.Records, rec)
}

package sim

import "math"

// MaxTick is the largest tick value representable by an engine.
const MaxTick uint64 = math.MaxUint64

// ExitResult is what the engine reports when a resume stops at an exit.
type ExitResult struct {
	Cause       string
	Code        int
	HypercallID HandlerID
	Payload     Payload
}

// Engine is the boundary to the simulation engine. The engine is strictly sequential:
// at most one exit is outstanding, and Resume blocks until the next one.
type Engine interface {
	// Instantiate initializes the simulated system. A non-empty checkpoint path
	// restores state from that checkpoint.
	Instantiate(checkpoint string) error
	// Resume runs until the next exit or until the absolute tick maxTicks.
	Resume(maxTicks uint64) (ExitResult, error)
	Checkpoint(path string) error
	ResetStats() error
	DumpStats() error
	CurrentTick() uint64
	// InstructionCount is the total since the last stats reset, across all cores.
	InstructionCount() uint64
	// MaxTick is the absolute tick ceiling of the engine.
	MaxTick() uint64
	SwitchProcessor() error
	NumCores() int
	WorkloadID() string
}

// TickScheduler is implemented by engines that can raise a ScheduledTick exit
// (hypercall 6) at an absolute tick.
type TickScheduler interface {
	ScheduleTickExit(tick uint64, justification string) error
}

// InstScheduler is implemented by engines that can raise instruction-count exits.
type InstScheduler interface {
	ScheduleSimpoints(startInsts []uint64) error
	ScheduleMaxInsts(insts uint64) error
}

// StatsReporter is implemented by engines that expose their statistics as a
// JSON-shaped tree.
type StatsReporter interface {
	Stats() (map[string]any, error)
}

// DebugFlagger is implemented by engines with toggleable debug flags.
type DebugFlagger interface {
	// SetDebugFlag returns false if the flag does not exist.
	SetDebugFlag(name string, enabled bool) bool
}

package replay

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/simloop/simloop/sim"
)

// Causes reported by the engine itself.
const (
	CauseMaxTick         = "simulate() limit reached"
	CauseWorkloadEnd     = "exiting with last active thread context"
	CauseTickExit        = "Tick exit reached"
	CauseSimpointBegin   = "simpoint starting point found"
	CauseMaxInstsReached = "a thread reached the max instruction count"
)

// ErrNotInstantiated is returned by Resume before Instantiate.
var ErrNotInstantiated = errors.New("replay engine not instantiated")

var (
	_ sim.Engine        = (*Engine)(nil)
	_ sim.TickScheduler = (*Engine)(nil)
	_ sim.InstScheduler = (*Engine)(nil)
	_ sim.StatsReporter = (*Engine)(nil)
	_ sim.DebugFlagger  = (*Engine)(nil)
)

type pendingExit struct {
	tick uint64
	exit sim.ExitResult
}

// Engine replays a Trace. It implements sim.Engine and every optional capability.
// It is not safe for concurrent use.
type Engine struct {
	trace   *Trace
	pending []pendingExit

	instantiated bool
	tick         uint64
	resetTick    uint64
	switched     bool

	checkpoints []string
	resets      int
	dumps       int
	flags       map[string]bool
}

// New returns an engine for a validated trace.
func New(trace *Trace) *Engine {
	e := &Engine{
		trace: trace,
		flags: make(map[string]bool, len(trace.DebugFlags)),
	}
	for _, f := range trace.DebugFlags {
		e.flags[f] = false
	}
	for _, x := range trace.Exits {
		e.pending = append(e.pending, pendingExit{tick: x.Tick, exit: x.exitResult()})
	}
	return e
}

// Instantiate starts the replay. A checkpoint named cpt.<tick> restores at that tick
// and drops every scripted exit up to it.
func (e *Engine) Instantiate(checkpoint string) error {
	if e.instantiated {
		return fmt.Errorf("replay engine already instantiated")
	}
	if checkpoint != "" {
		tick, err := checkpointTick(checkpoint)
		if err != nil {
			return err
		}
		e.tick = tick
		e.resetTick = tick
		e.pending = slices.DeleteFunc(e.pending, func(p pendingExit) bool { return p.tick <= tick })
	}
	e.instantiated = true
	return nil
}

func checkpointTick(path string) (uint64, error) {
	base := filepath.Base(filepath.Clean(path))
	s, ok := strings.CutPrefix(base, "cpt.")
	if !ok {
		return 0, fmt.Errorf("checkpoint %q: name must be cpt.<tick>", path)
	}
	tick, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("checkpoint %q: %w", path, err)
	}
	return tick, nil
}

// Resume returns the next exit at or before maxTicks. Without one it stops at maxTicks
// with a max tick exit, or reports the end of the workload once its end tick is
// reached. Exits scheduled past the end never fire.
func (e *Engine) Resume(maxTicks uint64) (sim.ExitResult, error) {
	if !e.instantiated {
		return sim.ExitResult{}, ErrNotInstantiated
	}
	end := max(e.trace.EndTick, e.tick)
	if len(e.pending) > 0 && e.pending[0].tick <= end {
		next := e.pending[0]
		if next.tick > maxTicks {
			return e.stopAt(maxTicks), nil
		}
		e.pending = e.pending[1:]
		e.tick = max(e.tick, next.tick)
		return next.exit, nil
	}
	if end > maxTicks {
		return e.stopAt(maxTicks), nil
	}
	e.tick = end
	return sim.ExitResult{Cause: CauseWorkloadEnd, HypercallID: sim.ClassicHandlerID, Payload: sim.Payload{}}, nil
}

func (e *Engine) stopAt(maxTicks uint64) sim.ExitResult {
	e.tick = max(e.tick, maxTicks)
	return sim.ExitResult{Cause: CauseMaxTick, HypercallID: sim.ClassicHandlerID, Payload: sim.Payload{}}
}

// schedule inserts an exit after every pending exit at the same or an earlier tick.
func (e *Engine) schedule(tick uint64, exit sim.ExitResult) {
	i := len(e.pending)
	for j, p := range e.pending {
		if p.tick > tick {
			i = j
			break
		}
	}
	e.pending = slices.Insert(e.pending, i, pendingExit{tick: tick, exit: exit})
}

// Checkpoint records the checkpoint and creates its directory.
func (e *Engine) Checkpoint(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("creating checkpoint directory: %w", err)
	}
	e.checkpoints = append(e.checkpoints, path)
	return nil
}

func (e *Engine) ResetStats() error {
	e.resetTick = e.tick
	e.resets++
	return nil
}

func (e *Engine) DumpStats() error {
	e.dumps++
	logrus.Debugf("[tick %07d] stats dump #%d: %d instructions", e.tick, e.dumps, e.InstructionCount())
	return nil
}

func (e *Engine) CurrentTick() uint64 {
	return e.tick
}

// InstructionCount is the instructions executed by all cores since the last reset.
func (e *Engine) InstructionCount() uint64 {
	return (e.tick - e.resetTick) * e.trace.InstructionsPerTick * uint64(e.trace.NumCores)
}

func (e *Engine) MaxTick() uint64 {
	return e.trace.MaxTick
}

func (e *Engine) SwitchProcessor() error {
	e.switched = !e.switched
	return nil
}

func (e *Engine) NumCores() int {
	return e.trace.NumCores
}

func (e *Engine) WorkloadID() string {
	return e.trace.Workload
}

// ScheduleTickExit adds a scheduled tick exit (hypercall 6) at tick.
func (e *Engine) ScheduleTickExit(tick uint64, justification string) error {
	payload := sim.Payload{sim.PayloadKeyScheduledAtTick: strconv.FormatUint(e.tick, 10)}
	if justification != "" {
		payload[sim.PayloadKeyJustification] = justification
	}
	e.schedule(tick, sim.ExitResult{Cause: CauseTickExit, HypercallID: sim.ScheduledTickHandlerID, Payload: payload})
	return nil
}

// ScheduleSimpoints adds a simpoint begin exit at every instruction count, counted on
// one core from tick zero.
func (e *Engine) ScheduleSimpoints(startInsts []uint64) error {
	for _, insts := range startInsts {
		e.schedule(e.instsToTick(0, insts), sim.ExitResult{Cause: CauseSimpointBegin, Payload: sim.Payload{}})
	}
	return nil
}

// ScheduleMaxInsts adds a max instructions exit once any core executes insts more
// instructions.
func (e *Engine) ScheduleMaxInsts(insts uint64) error {
	e.schedule(e.instsToTick(e.tick, insts), sim.ExitResult{Cause: CauseMaxInstsReached, Payload: sim.Payload{}})
	return nil
}

func (e *Engine) instsToTick(from, insts uint64) uint64 {
	ipt := e.trace.InstructionsPerTick
	return from + (insts+ipt-1)/ipt
}

// Stats returns the engine counters.
func (e *Engine) Stats() (map[string]any, error) {
	return map[string]any{
		"simTicks":    e.tick,
		"simInsts":    e.InstructionCount(),
		"numCores":    e.trace.NumCores,
		"statsResets": e.resets,
		"statsDumps":  e.dumps,
		"checkpoints": len(e.checkpoints),
		"cpuSwitched": e.switched,
	}, nil
}

// SetDebugFlag toggles a flag listed in the trace's debug_flags.
func (e *Engine) SetDebugFlag(name string, enabled bool) bool {
	if _, ok := e.flags[name]; !ok {
		return false
	}
	e.flags[name] = enabled
	return true
}

// DebugFlag reports whether a flag is enabled.
func (e *Engine) DebugFlag(name string) bool {
	return e.flags[name]
}

// Checkpoints returns the paths of every checkpoint taken.
func (e *Engine) Checkpoints() []string {
	return slices.Clone(e.checkpoints)
}

// StatsResets returns how many times stats were reset.
func (e *Engine) StatsResets() int {
	return e.resets
}

// StatsDumps returns how many times stats were dumped.
func (e *Engine) StatsDumps() int {
	return e.dumps
}

// Switched reports whether the processor runs its switched-in CPU.
func (e *Engine) Switched() bool {
	return e.switched
}

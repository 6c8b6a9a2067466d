package sim

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// StopwatchEntry records the category and tick of one classic exit.
type StopwatchEntry struct {
	Category ExitCategory
	Tick     uint64
}

// ClassicHandler is the handler for id 0. It classifies the exit cause and asks the
// simulator's per-category behavior sequences whether to terminate.
type ClassicHandler struct {
	BaseHandler
	category  ExitCategory
	terminate bool
}

func NewClassicHandler(payload Payload) Handler {
	return &ClassicHandler{BaseHandler: NewBaseHandler("ClassicHandler", payload)}
}

func (h *ClassicHandler) Process(sim *Simulator) error {
	if sim.classic == nil {
		return fmt.Errorf("classic exit dispatch: %w", ErrNotInstantiated)
	}
	category, terminate, err := sim.classic.dispatch(sim, sim.LastExit().Cause)
	if err != nil {
		return err
	}
	h.category = category
	h.terminate = terminate
	return nil
}

func (h *ClassicHandler) ShouldTerminate() bool {
	return h.terminate
}

func (h *ClassicHandler) Description() string {
	if h.category == "" {
		return h.BaseHandler.Description()
	}
	return fmt.Sprintf("Exit handler ClassicHandler called for %q exit.", h.category)
}

// classicDispatcher holds the behavior tables of one Simulator.
type classicDispatcher struct {
	defaults map[ExitCategory]Sequence
	user     map[ExitCategory]Sequence
	expected []ExitCategory
}

func newClassicDispatcher(overrides map[ExitCategory]Override, expected []ExitCategory) (*classicDispatcher, error) {
	d := &classicDispatcher{
		user:     make(map[ExitCategory]Sequence, len(overrides)),
		expected: expected,
	}
	for category, o := range overrides {
		seq, err := o.sequence()
		if err != nil {
			return nil, fmt.Errorf("%q exit: %w", category, err)
		}
		d.user[category] = seq
	}
	return d, nil
}

// buildDefaults creates the default table. It needs the instantiated engine.
func (d *classicDispatcher) buildDefaults(engine Engine) {
	d.defaults = defaultBehaviors(engine.NumCores())
}

// dispatch handles one classic exit and returns its category and verdict.
func (d *classicDispatcher) dispatch(sim *Simulator, cause string) (ExitCategory, bool, error) {
	category, err := Classify(cause)
	if err != nil {
		return "", false, err
	}
	if len(d.expected) > 0 {
		pos := len(sim.stopwatch)
		if pos >= len(d.expected) {
			return category, false, fmt.Errorf("%w: expected no further exits but a %q exit was encountered (exit #%d)",
				ErrProtocolViolation, category, pos+1)
		}
		if want := d.expected[pos]; want != category {
			return category, false, fmt.Errorf("%w: expected a %q exit but a %q exit was encountered (exit #%d)",
				ErrProtocolViolation, want, category, pos+1)
		}
	}
	sim.stopwatch = append(sim.stopwatch, StopwatchEntry{Category: category, Tick: sim.CurrentTick()})

	terminate, err := d.next(sim, category)
	return category, terminate, err
}

func (d *classicDispatcher) next(sim *Simulator, category ExitCategory) (bool, error) {
	if seq, ok := d.user[category]; ok {
		terminate, err := seq.Next(sim)
		if !errors.Is(err, ErrSequenceExhausted) {
			return terminate, err
		}
		logrus.Warnf("User-specified behavior for the %q exit has ended. Using the default behavior.", category)
		delete(d.user, category)
		if ds, ok := d.defaults[category].(*defaultSequence); ok {
			ds.warned = true
		}
	}
	seq, ok := d.defaults[category]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrNoDefaultBehavior, category)
	}
	terminate, err := seq.Next(sim)
	if errors.Is(err, ErrSequenceExhausted) {
		return false, fmt.Errorf("%w: %q default ended", ErrNoDefaultBehavior, category)
	}
	return terminate, err
}

// defaultBehaviors returns the zero-configuration behavior of every category.
func defaultBehaviors(cores int) map[ExitCategory]Sequence {
	repeat := func(fn ExitFunc) Sequence { return &repeatSequence{fn: fn} }
	return map[ExitCategory]Sequence{
		ExitCategoryExit:          repeat(exitStep),
		ExitCategoryFail:          repeat(exitStep),
		ExitCategoryUserInterrupt: repeat(exitStep),
		ExitCategoryMaxTick:       repeat(exitStep),
		ExitCategoryScheduledTick: repeat(exitStep),
		ExitCategoryKernelPanic:   repeat(exitStep),
		ExitCategoryKernelOops:    repeat(exitStep),
		ExitCategoryCheckpoint: warnDefault(repeat(checkpointStep),
			"checkpoint", "creating a checkpoint and continuing"),
		ExitCategorySwitchCPU: warnDefault(repeat(switchCPUStep),
			"switch CPU", "switching the CPU type of the processor and continuing"),
		ExitCategoryWorkBegin: warnDefault(repeat(resetStatsStep),
			"work begin", "resetting the stats and continuing"),
		ExitCategoryWorkEnd: warnDefault(repeat(dumpStatsStep),
			"work end", "dumping the stats and continuing"),
		ExitCategorySimpointBegin: warnDefault(repeat(resetStatsStep),
			"simpoint begin", "resetting the stats and continuing"),
		ExitCategoryMaxInsts: warnDefault(repeat(exitStep),
			"max instructions", "exiting the simulation"),
		ExitCategorySpatterExit: warnDefault(newSpatterSequence(cores),
			"spatter exit", "dumping and resetting stats after each sync point. "+
				"Note that there will be num_cores*sync_points spatter exits"),
	}
}

// defaultSequence logs, on first use, that a category is running its default
// behavior. The warning is skipped when the default is reached because a user
// behavior ended.
type defaultSequence struct {
	seq    Sequence
	kind   string
	effect string
	warned bool
}

func warnDefault(seq Sequence, kind, effect string) *defaultSequence {
	return &defaultSequence{seq: seq, kind: kind, effect: effect}
}

func (s *defaultSequence) Next(sim *Simulator) (bool, error) {
	if !s.warned {
		s.warned = true
		logrus.Warnf("No behavior was set by the user for %s. Default behavior is %s.", s.kind, s.effect)
	}
	return s.seq.Next(sim)
}

// spatterSequence dumps and resets stats once every core has reached the current
// sync point, i.e. on every cores-th spatter exit.
type spatterSequence struct {
	cores   int
	arrived int
}

func newSpatterSequence(cores int) *spatterSequence {
	return &spatterSequence{cores: max(cores, 1)}
}

func (s *spatterSequence) Next(sim *Simulator) (bool, error) {
	s.arrived++
	if s.arrived < s.cores {
		return false, nil
	}
	s.arrived = 0
	return dumpResetStatsStep(sim)
}

package sim

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/simloop/simloop/sim/orchestrator"
)

// SimState is the lifecycle state of a Simulator.
type SimState int

const (
	StateCreated SimState = iota
	StateInstantiated
	StateRunning
	StateStopped
)

func (s SimState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInstantiated:
		return "instantiated"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("SimState(%d)", int(s))
	}
}

// ExitRecord describes one handled exit.
type ExitRecord struct {
	Tick        uint64
	HandlerID   HandlerID
	Cause       string
	Code        int
	Description string
	Terminate   bool
	Payload     Payload
}

// ExitObserver is notified after every handled exit. Observers must not block for
// long and cannot fail the run.
type ExitObserver interface {
	ObserveExit(rec ExitRecord)
}

// Simulator drives an Engine: it resumes it, routes each exit to a handler from the
// registry, and returns from Run when a handler asks to terminate.
//
// A Simulator is not safe for concurrent use.
type Simulator struct {
	engine   Engine
	registry *Registry
	classic  *classicDispatcher
	state    SimState

	instantiated bool
	id           string
	maxTicks     uint64

	outdir           string
	checkpointDir    string
	restore          string
	showExitMessages bool
	orchTimeout      time.Duration
	observers        []ExitObserver

	lastExit  ExitResult
	stopwatch []StopwatchEntry
	exitLog   map[uint64]string
	exitCount int

	// unhandledWarn throttles warnings for exits with unregistered ids. Throttled
	// ones are logged at debug level and counted in the next warning.
	unhandledWarn       rate.Sometimes
	unhandledSuppressed int
}

// NewSimulator validates cfg and returns a Simulator in the Created state.
// Behavior overrides are normalized here, once.
func NewSimulator(engine Engine, cfg Config) (*Simulator, error) {
	if engine == nil {
		return nil, fmt.Errorf("%w: nil engine", ErrInvalidConfig)
	}
	for i, c := range cfg.ExpectedOrder {
		if !slices.Contains(AllExitCategories, c) {
			return nil, fmt.Errorf("%w: expected order entry %d: unknown exit category %q", ErrInvalidConfig, i, c)
		}
	}
	for c := range cfg.OnExit {
		if !slices.Contains(AllExitCategories, c) {
			return nil, fmt.Errorf("%w: unknown exit category %q", ErrInvalidOverride, c)
		}
	}
	classic, err := newClassicDispatcher(cfg.OnExit, slices.Clone(cfg.ExpectedOrder))
	if err != nil {
		return nil, err
	}

	sim := &Simulator{
		engine:           engine,
		registry:         cfg.Registry,
		classic:          classic,
		state:            StateCreated,
		outdir:           cfg.Outdir,
		checkpointDir:    cfg.CheckpointDir,
		restore:          cfg.RestoreCheckpoint,
		showExitMessages: cfg.ShowExitMessages,
		orchTimeout:      cfg.OrchestratorTimeout,
		observers:        slices.Clone(cfg.Observers),
		exitLog:          make(map[uint64]string),
		unhandledWarn:    rate.Sometimes{First: 10, Interval: 10 * time.Second},
	}
	if sim.registry == nil {
		sim.registry = NewDefaultRegistry()
	}
	if sim.outdir == "" {
		sim.outdir = DefaultOutdir
	}
	if sim.orchTimeout <= 0 {
		sim.orchTimeout = orchestrator.DefaultTimeout
	}

	sim.maxTicks = engine.MaxTick()
	if cfg.MaxTicks != 0 {
		if err := sim.SetMaxTicks(cfg.MaxTicks); err != nil {
			return nil, err
		}
	}
	if cfg.ID != "" {
		if err := sim.SetID(cfg.ID); err != nil {
			return nil, err
		}
	}
	return sim, nil
}

// Run starts or continues the simulation and handles exits until a handler asks to
// terminate. It can be called again afterwards to continue the simulation.
func (sim *Simulator) Run() error {
	if err := sim.instantiate(); err != nil {
		return err
	}
	for {
		sim.state = StateRunning
		exit, err := sim.engine.Resume(sim.maxTicks)
		if err != nil {
			sim.state = StateStopped
			return fmt.Errorf("resuming simulation: %w", err)
		}
		sim.state = StateInstantiated
		if exit.Payload == nil {
			exit.Payload = Payload{}
		}
		sim.lastExit = exit

		ctor, ok := sim.registry.Resolve(exit.HypercallID)
		if !ok {
			sim.warnUnhandled(exit.HypercallID)
			continue
		}

		handler := ctor(exit.Payload)
		tick := sim.CurrentTick()
		if sim.showExitMessages {
			logrus.Infof("[tick %07d] Exit event: %s", tick, handler.Description())
		} else {
			logrus.Debugf("[tick %07d] Exit event: %s", tick, handler.Description())
		}
		if err := handler.Process(sim); err != nil {
			sim.state = StateStopped
			return fmt.Errorf("exit handler %d at tick %d: %w", exit.HypercallID, tick, err)
		}
		terminate := handler.ShouldTerminate()
		description := handler.Description()
		sim.exitLog[sim.CurrentTick()] = description
		sim.exitCount++
		sim.notify(ExitRecord{
			Tick:        sim.CurrentTick(),
			HandlerID:   exit.HypercallID,
			Cause:       exit.Cause,
			Code:        exit.Code,
			Description: description,
			Terminate:   terminate,
			Payload:     exit.Payload,
		})
		if terminate {
			sim.state = StateStopped
			logrus.Infof("[tick %07d] Simulation loop stopped: %s", sim.CurrentTick(), description)
			return nil
		}
	}
}

// RunUntil sets the max ticks and runs. A zero maxTicks keeps the current value.
func (sim *Simulator) RunUntil(maxTicks uint64) error {
	if maxTicks != 0 && maxTicks != sim.maxTicks {
		logrus.Warnf("Max ticks has already been set to %d. Using %d passed to RunUntil.", sim.maxTicks, maxTicks)
		if err := sim.SetMaxTicks(maxTicks); err != nil {
			return err
		}
	}
	return sim.Run()
}

// Instantiate initializes the engine, restoring the configured checkpoint, without
// resuming it. Run calls it on first use; calling it earlier lets exits be scheduled
// relative to the restored tick. It is a no-op once instantiated.
func (sim *Simulator) Instantiate() error {
	return sim.instantiate()
}

func (sim *Simulator) instantiate() error {
	if sim.instantiated {
		return nil
	}
	if err := sim.engine.Instantiate(sim.restore); err != nil {
		return fmt.Errorf("instantiating simulation: %w", err)
	}
	sim.classic.buildDefaults(sim.engine)
	sim.instantiated = true
	sim.state = StateInstantiated
	if sim.restore != "" {
		logrus.Infof("[tick %07d] Simulation instantiated from checkpoint %s", sim.CurrentTick(), sim.restore)
	} else {
		logrus.Infof("[tick %07d] Simulation instantiated", sim.CurrentTick())
	}
	return nil
}

func (sim *Simulator) warnUnhandled(id HandlerID) {
	msg := fmt.Sprintf("[tick %07d] Exit event type id %d not in exit handler registry. Reentering simulation loop.",
		sim.CurrentTick(), id)
	warned := false
	sim.unhandledWarn.Do(func() {
		warned = true
		if sim.unhandledSuppressed > 0 {
			logrus.Warnf("%s (%d similar warnings suppressed)", msg, sim.unhandledSuppressed)
			sim.unhandledSuppressed = 0
			return
		}
		logrus.Warn(msg)
	})
	if !warned {
		sim.unhandledSuppressed++
		logrus.Debug(msg)
	}
}

func (sim *Simulator) notify(rec ExitRecord) {
	for _, o := range sim.observers {
		o.ObserveExit(rec)
	}
}

// AddObserver registers an observer. Like registry changes, call it outside Run.
func (sim *Simulator) AddObserver(o ExitObserver) {
	sim.observers = append(sim.observers, o)
}

// State returns the lifecycle state.
func (sim *Simulator) State() SimState {
	return sim.state
}

// Instantiated reports whether the engine has been initialized.
func (sim *Simulator) Instantiated() bool {
	return sim.instantiated
}

// Registry returns the handler registry used by this simulator.
func (sim *Simulator) Registry() *Registry {
	return sim.registry
}

// ValidateID checks the simulation id rules: it starts with a letter, ends with a
// letter or digit, and contains only letters, digits, underscores and dashes.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id cannot be an empty string", ErrInvalidID)
	}
	runes := []rune(id)
	if !unicode.IsLetter(runes[0]) {
		return fmt.Errorf("%w: %q must start with a letter", ErrInvalidID, id)
	}
	last := runes[len(runes)-1]
	if !unicode.IsLetter(last) && !unicode.IsDigit(last) {
		return fmt.Errorf("%w: %q must end with an alphanumeric character", ErrInvalidID, id)
	}
	for _, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-' {
			return fmt.Errorf("%w: %q can only contain alphanumeric characters, underscores and dashes", ErrInvalidID, id)
		}
	}
	return nil
}

// SetID sets the simulation id. Once accepted, the id cannot change; setting the
// same id again is a no-op.
func (sim *Simulator) SetID(id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if sim.id != "" && sim.id != id {
		return fmt.Errorf("%w: %q, cannot change to %q", ErrIDAlreadySet, sim.id, id)
	}
	sim.id = id
	return nil
}

// ID returns the simulation id, if set.
func (sim *Simulator) ID() (string, bool) {
	return sim.id, sim.id != ""
}

// SetMaxTicks sets the absolute tick at which a resume stops with a max tick exit.
func (sim *Simulator) SetMaxTicks(maxTicks uint64) error {
	if ceiling := sim.engine.MaxTick(); maxTicks > ceiling {
		return fmt.Errorf("%w: %d > %d", ErrMaxTicksAboveCeiling, maxTicks, ceiling)
	}
	sim.maxTicks = maxTicks
	return nil
}

// MaxTicks returns the current tick budget.
func (sim *Simulator) MaxTicks() uint64 {
	return sim.maxTicks
}

// CurrentTick returns the engine's current tick.
func (sim *Simulator) CurrentTick() uint64 {
	return sim.engine.CurrentTick()
}

// InstructionCount returns the instructions executed by all cores since the last
// stats reset.
func (sim *Simulator) InstructionCount() uint64 {
	return sim.engine.InstructionCount()
}

// Workload returns the id of the workload the engine runs.
func (sim *Simulator) Workload() string {
	return sim.engine.WorkloadID()
}

// LastExit returns the most recent exit reported by the engine.
func (sim *Simulator) LastExit() ExitResult {
	return sim.lastExit
}

// TickStopwatch returns every classic exit in order.
func (sim *Simulator) TickStopwatch() []StopwatchEntry {
	return slices.Clone(sim.stopwatch)
}

// ROITicks returns the length in ticks of every region of interest, pairing each
// work end with the most recent work begin.
func (sim *Simulator) ROITicks() []uint64 {
	return roiTicks(sim.stopwatch)
}

func roiTicks(entries []StopwatchEntry) []uint64 {
	var start uint64
	var rois []uint64
	for _, e := range entries {
		switch e.Category {
		case ExitCategoryWorkBegin:
			start = e.Tick
		case ExitCategoryWorkEnd:
			rois = append(rois, e.Tick-start)
		}
	}
	return rois
}

// ExitEventLog maps the tick of every handled exit to its handler description.
func (sim *Simulator) ExitEventLog() map[uint64]string {
	return maps.Clone(sim.exitLog)
}

// ExitCount returns the number of handled exits.
func (sim *Simulator) ExitCount() int {
	return sim.exitCount
}

// ShowExitMessages toggles info-level logging of every exit.
func (sim *Simulator) ShowExitMessages(show bool) {
	sim.showExitMessages = show
}

// Outdir returns the output directory.
func (sim *Simulator) Outdir() string {
	return sim.outdir
}

// OverrideOutdir replaces the output directory, creating it if needed. It must be
// called before the simulation is instantiated.
func (sim *Simulator) OverrideOutdir(dir string) error {
	if sim.instantiated {
		return fmt.Errorf("overriding output directory: %w", ErrAlreadyInstantiated)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("checking output directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%q is not a directory", dir)
	}
	sim.outdir = dir
	return nil
}

// CheckpointDir returns where checkpoints are written: the configured checkpoint
// directory, or the output directory.
func (sim *Simulator) CheckpointDir() string {
	if sim.checkpointDir != "" {
		return sim.checkpointDir
	}
	return sim.outdir
}

// TakeCheckpoint saves a checkpoint to CheckpointDir()/cpt.<tick> and returns the path.
func (sim *Simulator) TakeCheckpoint() (string, error) {
	path := filepath.Join(sim.CheckpointDir(), fmt.Sprintf("cpt.%d", sim.CurrentTick()))
	if err := sim.SaveCheckpoint(path); err != nil {
		return "", err
	}
	return path, nil
}

// SaveCheckpoint saves a checkpoint to dir.
func (sim *Simulator) SaveCheckpoint(dir string) error {
	if err := sim.engine.Checkpoint(dir); err != nil {
		return fmt.Errorf("saving checkpoint %s: %w", dir, err)
	}
	logrus.Infof("[tick %07d] Checkpoint saved to %s", sim.CurrentTick(), dir)
	return nil
}

// ResetStats resets the engine statistics.
func (sim *Simulator) ResetStats() error {
	if err := sim.engine.ResetStats(); err != nil {
		return fmt.Errorf("resetting stats: %w", err)
	}
	return nil
}

// DumpStats dumps the engine statistics.
func (sim *Simulator) DumpStats() error {
	if err := sim.engine.DumpStats(); err != nil {
		return fmt.Errorf("dumping stats: %w", err)
	}
	return nil
}

// SwitchProcessor switches the processor to its other CPU configuration.
func (sim *Simulator) SwitchProcessor() error {
	if err := sim.engine.SwitchProcessor(); err != nil {
		return fmt.Errorf("switching processor: %w", err)
	}
	return nil
}

// Stats returns the engine statistics. The simulation must be instantiated.
func (sim *Simulator) Stats() (map[string]any, error) {
	if !sim.instantiated {
		return nil, fmt.Errorf("obtaining statistics: %w", ErrNotInstantiated)
	}
	reporter, ok := sim.engine.(StatsReporter)
	if !ok {
		return nil, fmt.Errorf("obtaining statistics: %w", ErrUnsupported)
	}
	return reporter.Stats()
}

// ScheduleTickExitAbsolute raises a scheduled tick exit (id 6) at tick.
func (sim *Simulator) ScheduleTickExitAbsolute(tick uint64, justification string) error {
	scheduler, ok := sim.engine.(TickScheduler)
	if !ok {
		return fmt.Errorf("scheduling tick exit: %w", ErrUnsupported)
	}
	if tick < sim.CurrentTick() {
		return fmt.Errorf("scheduling tick exit: tick %d is in the past (current %d)", tick, sim.CurrentTick())
	}
	return scheduler.ScheduleTickExit(tick, justification)
}

// ScheduleTickExitFromCurrent raises a scheduled tick exit delta ticks from now.
func (sim *Simulator) ScheduleTickExitFromCurrent(delta uint64, justification string) error {
	return sim.ScheduleTickExitAbsolute(sim.CurrentTick()+delta, justification)
}

// ScheduleSimpoints raises a simpoint begin exit at every instruction count in
// startInsts. Simpoints only work with one core.
func (sim *Simulator) ScheduleSimpoints(startInsts []uint64) error {
	scheduler, ok := sim.engine.(InstScheduler)
	if !ok {
		return fmt.Errorf("scheduling simpoints: %w", ErrUnsupported)
	}
	if sim.engine.NumCores() > 1 {
		logrus.Warnf("SimPoints only work with one core")
	}
	return scheduler.ScheduleSimpoints(startInsts)
}

// ScheduleMaxInsts raises a max instructions exit when any thread reaches insts.
func (sim *Simulator) ScheduleMaxInsts(insts uint64) error {
	scheduler, ok := sim.engine.(InstScheduler)
	if !ok {
		return fmt.Errorf("scheduling max instructions: %w", ErrUnsupported)
	}
	return scheduler.ScheduleMaxInsts(insts)
}

func (sim *Simulator) orchestratorTimeout() time.Duration {
	return sim.orchTimeout
}

func (sim *Simulator) status() orchestrator.Status {
	st := orchestrator.Status{
		Workload:             sim.Workload(),
		Tick:                 sim.CurrentTick(),
		InstructionsExecuted: sim.InstructionCount(),
	}
	if id, ok := sim.ID(); ok {
		st.SimID = &id
	}
	return st
}

package sim

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSimulator(t *testing.T, engine Engine, cfg Config) *Simulator {
	t.Helper()
	if cfg.Outdir == "" {
		cfg.Outdir = t.TempDir()
	}
	sim, err := NewSimulator(engine, cfg)
	require.NoError(t, err)
	return sim
}

func TestSimulator_Run_UnregisteredID_ResumesOnceMore(t *testing.T) {
	// GIVEN an engine whose first exit carries an id nobody registered
	engine := newFakeEngine(
		hypercallExit(10, 99, nil),
		classicExit(20, "m5_exit instruction encountered"),
	)
	sim := newTestSimulator(t, engine, Config{})

	// WHEN the simulation runs
	var err error
	out := captureLogOutput(func() { err = sim.Run() })

	// THEN the unknown exit is skipped with a warning and exactly one more resume follows
	require.NoError(t, err)
	assert.Equal(t, 2, engine.resumes)
	assert.Contains(t, out, "Exit event type id 99 not in exit handler registry")
	assert.Equal(t, 1, sim.ExitCount(), "only the m5_exit exit is handled")
	assert.Equal(t, StateStopped, sim.State())
}

func TestSimulator_Run_UnregisteredIDWarningsThrottled(t *testing.T) {
	// GIVEN twelve exits with an unregistered id
	var script []scriptedExit
	for i := range 12 {
		script = append(script, hypercallExit(uint64(i+1), 99, nil))
	}
	script = append(script, classicExit(100, "m5_exit instruction encountered"))
	engine := newFakeEngine(script...)
	sim := newTestSimulator(t, engine, Config{})

	// WHEN the simulation runs with debug logging
	var err error
	out := captureLogOutput(func() {
		logrus.SetLevel(logrus.DebugLevel)
		err = sim.Run()
	})

	// THEN the first ten are warnings and the rest are still logged at debug level
	require.NoError(t, err)
	var warnings, debugs int
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "not in exit handler registry") {
			continue
		}
		switch {
		case strings.Contains(line, "level=warning"):
			warnings++
		case strings.Contains(line, "level=debug"):
			debugs++
		}
	}
	assert.Equal(t, 10, warnings)
	assert.Equal(t, 2, debugs)
	assert.Equal(t, 13, engine.resumes)
}

func TestSimulator_Run_ExitTerminatesOnFirstExit(t *testing.T) {
	engine := newFakeEngine(
		classicExit(100, "m5_exit instruction encountered"),
		classicExit(200, "m5_exit instruction encountered"),
	)
	sim := newTestSimulator(t, engine, Config{})

	require.NoError(t, sim.Run())

	assert.Equal(t, 1, engine.resumes)
	assert.Equal(t, uint64(100), sim.CurrentTick())
	assert.Equal(t, []StopwatchEntry{{Category: ExitCategoryExit, Tick: 100}}, sim.TickStopwatch())
}

func TestSimulator_Run_FuncListFallsBackToDefault(t *testing.T) {
	// GIVEN a two-element function list for checkpoint exits and three checkpoint exits
	engine := newFakeEngine(
		classicExit(10, "checkpoint"),
		classicExit(20, "checkpoint"),
		classicExit(30, "checkpoint"),
		classicExit(40, "m5_exit instruction encountered"),
	)
	var calls []int
	sim := newTestSimulator(t, engine, Config{ExitBehaviorConfig: ExitBehaviorConfig{
		OnExit: map[ExitCategory]Override{
			ExitCategoryCheckpoint: FuncListOverride(
				func(*Simulator) (bool, error) { calls = append(calls, 1); return false, nil },
				func(*Simulator) (bool, error) { calls = append(calls, 2); return false, nil },
			),
		},
	}})

	// WHEN the simulation runs
	var err error
	out := captureLogOutput(func() { err = sim.Run() })

	// THEN the list runs once per exit and the third exit uses the default (checkpoint)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, calls)
	assert.Equal(t, 1, countOccurrences(out, `User-specified behavior for the "checkpoint" exit has ended`))
	assert.NotContains(t, out, "No behavior was set by the user for checkpoint")
	require.Len(t, engine.checkpoints, 1)
	assert.Equal(t, filepath.Join(sim.Outdir(), "cpt.30"), engine.checkpoints[0])
}

func TestSimulator_Run_SingleFunctionRunsOnEveryExit(t *testing.T) {
	engine := newFakeEngine(
		classicExit(10, "switchcpu"),
		classicExit(20, "switchcpu"),
		classicExit(30, "switchcpu"),
	)
	count := 0
	sim := newTestSimulator(t, engine, Config{ExitBehaviorConfig: ExitBehaviorConfig{
		OnExit: map[ExitCategory]Override{
			ExitCategorySwitchCPU: FuncOverride(func(*Simulator) (bool, error) {
				count++
				return count == 3, nil
			}),
		},
	}})

	require.NoError(t, sim.Run())

	assert.Equal(t, 3, count)
	assert.Equal(t, 0, engine.switches, "user behavior replaces the default switch")
}

func TestSimulator_ROITicks(t *testing.T) {
	// GIVEN work begin/end exits at ticks 100, 250, 400, 900
	engine := newFakeEngine(
		classicExit(100, "workbegin"),
		classicExit(250, "workend"),
		classicExit(400, "workbegin"),
		classicExit(900, "workend"),
		classicExit(1000, "m5_exit instruction encountered"),
	)
	sim := newTestSimulator(t, engine, Config{})

	// WHEN the run completes
	captureLogOutput(func() { require.NoError(t, sim.Run()) })

	// THEN each region pairs with the most recent begin, and default behaviors ran
	assert.Equal(t, []uint64{150, 500}, sim.ROITicks())
	assert.Equal(t, 2, engine.resets)
	assert.Equal(t, 2, engine.dumps)
}

func TestSimulator_DefaultBehaviorWarnsOnce(t *testing.T) {
	engine := newFakeEngine(
		classicExit(100, "workbegin"),
		classicExit(400, "workbegin"),
	)
	sim := newTestSimulator(t, engine, Config{})

	var err error
	out := captureLogOutput(func() { err = sim.Run() })

	require.NoError(t, err)
	assert.Equal(t, 1, countOccurrences(out, "No behavior was set by the user for work begin. "+
		"Default behavior is resetting the stats and continuing."))
}

func TestSimulator_ExpectedOrder_ViolationAbortsBeforeBehavior(t *testing.T) {
	// GIVEN an expected order [workbegin, workend] and a kernel panic as second exit
	engine := newFakeEngine(
		classicExit(100, "workbegin"),
		classicExit(200, "Kernel panic in simulated system."),
	)
	panicBehaviorCalled := false
	sim := newTestSimulator(t, engine, Config{ExitBehaviorConfig: ExitBehaviorConfig{
		ExpectedOrder: []ExitCategory{ExitCategoryWorkBegin, ExitCategoryWorkEnd},
		OnExit: map[ExitCategory]Override{
			ExitCategoryKernelPanic: FuncOverride(func(*Simulator) (bool, error) {
				panicBehaviorCalled = true
				return true, nil
			}),
		},
	}})

	// WHEN the simulation runs
	var err error
	captureLogOutput(func() { err = sim.Run() })

	// THEN a protocol violation is raised before the second exit is processed
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProtocolViolation))
	assert.Contains(t, err.Error(), `expected a "workend" exit but a "kernel panic" exit was encountered`)
	assert.False(t, panicBehaviorCalled)
	assert.Len(t, sim.TickStopwatch(), 1)
	assert.Equal(t, StateStopped, sim.State())
}

func TestSimulator_ExpectedOrder_MatchingSequenceRuns(t *testing.T) {
	engine := newFakeEngine(
		classicExit(100, "workbegin"),
		classicExit(200, "workend"),
		classicExit(300, "m5_exit instruction encountered"),
	)
	sim := newTestSimulator(t, engine, Config{ExitBehaviorConfig: ExitBehaviorConfig{
		ExpectedOrder: []ExitCategory{ExitCategoryWorkBegin, ExitCategoryWorkEnd, ExitCategoryExit},
	}})

	captureLogOutput(func() { require.NoError(t, sim.Run()) })
	assert.Equal(t, []uint64{100}, sim.ROITicks())
}

func TestSimulator_ExpectedOrder_ExtraExitIsViolation(t *testing.T) {
	engine := newFakeEngine(
		classicExit(100, "workbegin"),
		classicExit(200, "workend"),
	)
	sim := newTestSimulator(t, engine, Config{ExitBehaviorConfig: ExitBehaviorConfig{
		ExpectedOrder: []ExitCategory{ExitCategoryWorkBegin},
	}})

	var err error
	captureLogOutput(func() { err = sim.Run() })
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestSimulator_UnknownCauseAbortsRun(t *testing.T) {
	engine := newFakeEngine(classicExit(5, "something odd happened"))
	sim := newTestSimulator(t, engine, Config{})

	err := sim.Run()

	assert.ErrorIs(t, err, ErrUnknownExitCause)
}

func TestSimulator_Run_IsReentrant(t *testing.T) {
	// GIVEN a scheduled tick exit followed by the end of the workload
	engine := newFakeEngine(
		hypercallExit(500, ScheduledTickHandlerID, Payload{PayloadKeyJustification: "warmup done"}),
	)
	sim := newTestSimulator(t, engine, Config{})

	// WHEN Run is called twice
	require.NoError(t, sim.Run())
	assert.Equal(t, 1, sim.ExitCount())
	require.NoError(t, sim.Run())

	// THEN the engine is instantiated once and the second run continues from the first
	assert.Equal(t, 1, engine.instantiations)
	assert.Equal(t, 2, sim.ExitCount())
	assert.Equal(t, "exiting with last active thread context", sim.LastExit().Cause)
}

func TestSimulator_ExitEventLogAndObservers(t *testing.T) {
	engine := newFakeEngine(
		hypercallExit(10, KernelBootedHandlerID, nil),
		hypercallExit(20, AfterBootStartedHandlerID, nil),
		hypercallExit(30, AfterBootScriptFinishedHandlerID, nil),
	)
	obs := &recordingObserver{}
	sim := newTestSimulator(t, engine, Config{Observers: []ExitObserver{obs}})

	require.NoError(t, sim.Run())

	assert.Equal(t, map[uint64]string{
		10: "Kernel booted.",
		20: "Started `after_boot.sh` script.",
		30: "Finished `after_boot.sh` script.",
	}, sim.ExitEventLog())
	require.Len(t, obs.records, 3)
	assert.Equal(t, AfterBootScriptFinishedHandlerID, obs.records[2].HandlerID)
	assert.True(t, obs.records[2].Terminate)
	assert.False(t, obs.records[0].Terminate)
}

func TestSimulator_ResumeErrorIsWrapped(t *testing.T) {
	engine := newFakeEngine()
	engine.resumeErr = errors.New("engine crashed")
	sim := newTestSimulator(t, engine, Config{})

	err := sim.Run()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine crashed")
	assert.Equal(t, StateStopped, sim.State())
}

func TestSimulator_RestoreCheckpointPassedToEngine(t *testing.T) {
	engine := newFakeEngine()
	sim := newTestSimulator(t, engine, Config{PathConfig: PathConfig{RestoreCheckpoint: "m5out/cpt.1000"}})

	require.NoError(t, sim.Run())

	assert.Equal(t, "m5out/cpt.1000", engine.restoredFrom)
}

func TestSimulator_InstantiateBeforeRun(t *testing.T) {
	// GIVEN a simulator restored from a checkpoint
	engine := newFakeEngine()
	sim := newTestSimulator(t, engine, Config{PathConfig: PathConfig{RestoreCheckpoint: "m5out/cpt.1000"}})

	// WHEN it is instantiated explicitly and then run
	require.NoError(t, sim.Instantiate())
	assert.Equal(t, StateInstantiated, sim.State())
	require.NoError(t, sim.Instantiate())
	require.NoError(t, sim.Run())

	// THEN the engine is instantiated exactly once
	assert.Equal(t, 1, engine.instantiations)
	assert.Equal(t, "m5out/cpt.1000", engine.restoredFrom)
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"abc_12", false},
		{"run-1", false},
		{"a", false},
		{"", true},
		{"-abc", true},
		{"abc-", true},
		{"1abc", true},
		{"ab c", true},
		{"ab.c", true},
		{"abc_", true},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := ValidateID(tt.id)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidID)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSimulator_SetID_Immutable(t *testing.T) {
	sim := newTestSimulator(t, newFakeEngine(), Config{})

	_, ok := sim.ID()
	assert.False(t, ok)

	require.NoError(t, sim.SetID("abc_12"))
	require.NoError(t, sim.SetID("abc_12"), "same id again is a no-op")
	assert.ErrorIs(t, sim.SetID("other"), ErrIDAlreadySet)

	id, ok := sim.ID()
	assert.True(t, ok)
	assert.Equal(t, "abc_12", id)
}

func TestNewSimulator_InvalidIDRejected(t *testing.T) {
	_, err := NewSimulator(newFakeEngine(), Config{ID: "-abc"})
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestSimulator_SetMaxTicks(t *testing.T) {
	engine := newFakeEngine()
	engine.ceiling = 1000
	sim := newTestSimulator(t, engine, Config{})
	assert.Equal(t, uint64(1000), sim.MaxTicks(), "defaults to the engine ceiling")

	assert.ErrorIs(t, sim.SetMaxTicks(1001), ErrMaxTicksAboveCeiling)
	require.NoError(t, sim.SetMaxTicks(1000))
	require.NoError(t, sim.SetMaxTicks(500))
	assert.Equal(t, uint64(500), sim.MaxTicks())
}

func TestSimulator_RunUntil_PassesMaxTicksToResume(t *testing.T) {
	engine := newFakeEngine()
	sim := newTestSimulator(t, engine, Config{MaxTicks: 100})

	captureLogOutput(func() { require.NoError(t, sim.RunUntil(700)) })

	assert.Equal(t, []uint64{700}, engine.resumeTicks)
	assert.Equal(t, uint64(700), sim.MaxTicks())
}

func TestNewSimulator_Validation(t *testing.T) {
	_, err := NewSimulator(nil, Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewSimulator(newFakeEngine(), Config{ExitBehaviorConfig: ExitBehaviorConfig{
		ExpectedOrder: []ExitCategory{"bogus"},
	}})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewSimulator(newFakeEngine(), Config{ExitBehaviorConfig: ExitBehaviorConfig{
		OnExit: map[ExitCategory]Override{ExitCategoryExit: {}},
	}})
	assert.ErrorIs(t, err, ErrInvalidOverride)
}

func TestSimulator_CheckpointDir(t *testing.T) {
	sim := newTestSimulator(t, newFakeEngine(), Config{PathConfig: PathConfig{Outdir: "out"}})
	assert.Equal(t, "out", sim.CheckpointDir())

	sim = newTestSimulator(t, newFakeEngine(), Config{PathConfig: PathConfig{Outdir: "out", CheckpointDir: "ckpts"}})
	assert.Equal(t, "ckpts", sim.CheckpointDir())
}

func TestSimulator_CheckpointHandlerWritesToCheckpointDir(t *testing.T) {
	engine := newFakeEngine(hypercallExit(4242, CheckpointHandlerID, nil))
	dir := t.TempDir()
	sim := newTestSimulator(t, engine, Config{PathConfig: PathConfig{CheckpointDir: dir}})

	require.NoError(t, sim.Run())

	assert.Equal(t, []string{filepath.Join(dir, "cpt.4242")}, engine.checkpoints)
}

func TestSimulator_OverrideOutdir(t *testing.T) {
	engine := newFakeEngine()
	sim := newTestSimulator(t, engine, Config{})
	dir := filepath.Join(t.TempDir(), "nested", "out")

	require.NoError(t, sim.OverrideOutdir(dir))
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, dir, sim.Outdir())

	require.NoError(t, sim.Run())
	assert.ErrorIs(t, sim.OverrideOutdir(t.TempDir()), ErrAlreadyInstantiated)
}

func TestSimulator_Stats(t *testing.T) {
	engine := newFakeEngine()
	sim := newTestSimulator(t, engine, Config{})

	_, err := sim.Stats()
	assert.ErrorIs(t, err, ErrNotInstantiated)

	require.NoError(t, sim.Run())
	stats, err := sim.Stats()
	require.NoError(t, err)
	assert.Equal(t, 42, stats["simInsts"])

	bare := newTestSimulator(t, bareEngine{newFakeEngine()}, Config{})
	require.NoError(t, bare.Run())
	_, err = bare.Stats()
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestSimulator_ScheduleTickExits(t *testing.T) {
	engine := newFakeEngine()
	engine.tick = 1000
	sim := newTestSimulator(t, engine, Config{})

	require.NoError(t, sim.ScheduleTickExitFromCurrent(500, "halfway"))
	require.NoError(t, sim.ScheduleTickExitAbsolute(3000, ""))
	assert.Error(t, sim.ScheduleTickExitAbsolute(10, "in the past"))
	assert.Equal(t, []uint64{1500, 3000}, engine.scheduledTicks)

	bare := newTestSimulator(t, bareEngine{newFakeEngine()}, Config{})
	assert.ErrorIs(t, bare.ScheduleTickExitFromCurrent(1, ""), ErrUnsupported)
}

func TestSimulator_ScheduleInstructionExits(t *testing.T) {
	engine := newFakeEngine()
	engine.cores = 2
	sim := newTestSimulator(t, engine, Config{})

	out := captureLogOutput(func() {
		require.NoError(t, sim.ScheduleSimpoints([]uint64{100, 200}))
	})
	require.NoError(t, sim.ScheduleMaxInsts(5000))

	assert.Contains(t, out, "SimPoints only work with one core")
	assert.Equal(t, []uint64{100, 200}, engine.simpoints)
	assert.Equal(t, uint64(5000), engine.maxInsts)
}

func TestSimulator_Status(t *testing.T) {
	engine := newFakeEngine()
	engine.tick = 1234
	sim := newTestSimulator(t, engine, Config{})

	st := sim.status()
	assert.Nil(t, st.SimID)
	assert.Equal(t, "x86-ubuntu-boot", st.Workload)
	assert.Equal(t, uint64(1234), st.Tick)
	assert.Equal(t, uint64(617), st.InstructionsExecuted)

	require.NoError(t, sim.SetID("run1"))
	st = sim.status()
	require.NotNil(t, st.SimID)
	assert.Equal(t, "run1", *st.SimID)
}

func TestSimState_String(t *testing.T) {
	assert.Equal(t, "created", StateCreated.String())
	assert.Equal(t, "instantiated", StateInstantiated.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "SimState(9)", SimState(9).String())
}

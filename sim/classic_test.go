package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultBehaviors_CoverEveryCategory(t *testing.T) {
	defaults := defaultBehaviors(1)
	for _, c := range AllExitCategories {
		assert.Contains(t, defaults, c)
	}
}

func TestDefaultBehaviors_TerminatingCategories(t *testing.T) {
	terminating := []string{
		"m5_exit instruction encountered",
		"m5_fail instruction encountered",
		"user interrupt received",
		"simulate() limit reached",
		"Tick exit reached",
		"Kernel panic in simulated system.",
		"Kernel oops in guest",
		"a thread reached the max instruction count",
	}
	for _, cause := range terminating {
		t.Run(cause, func(t *testing.T) {
			engine := newFakeEngine(classicExit(10, cause), classicExit(20, "workbegin"))
			sim := newTestSimulator(t, engine, Config{})

			captureLogOutput(func() { require.NoError(t, sim.Run()) })

			assert.Equal(t, 1, engine.resumes)
		})
	}
}

func TestDefaultBehaviors_SwitchCPUAndSimpoint(t *testing.T) {
	engine := newFakeEngine(
		classicExit(10, "switchcpu"),
		classicExit(20, "simpoint starting point found"),
	)
	sim := newTestSimulator(t, engine, Config{})

	captureLogOutput(func() { require.NoError(t, sim.Run()) })

	assert.Equal(t, 1, engine.switches)
	assert.Equal(t, 1, engine.resets)
	assert.Equal(t, 3, engine.resumes)
}

func TestDefaultBehaviors_SpatterDumpsOnceAllCoresArrive(t *testing.T) {
	// GIVEN a 2-core engine and four spatter exits (two sync points)
	engine := newFakeEngine(
		classicExit(10, "spatter exit"),
		classicExit(11, "spatter exit"),
		classicExit(20, "spatter exit"),
		classicExit(21, "spatter exit"),
	)
	engine.cores = 2
	sim := newTestSimulator(t, engine, Config{})

	// WHEN the simulation runs
	out := captureLogOutput(func() { require.NoError(t, sim.Run()) })

	// THEN stats are dumped and reset once per sync point
	assert.Equal(t, 2, engine.dumps)
	assert.Equal(t, 2, engine.resets)
	assert.Contains(t, out, "No behavior was set by the user for spatter exit.")
}

func TestClassicHandler_Description(t *testing.T) {
	engine := newFakeEngine(classicExit(10, "m5_exit instruction encountered"))
	sim := newTestSimulator(t, engine, Config{})

	require.NoError(t, sim.Run())

	assert.Equal(t, `Exit handler ClassicHandler called for "exit" exit.`, sim.ExitEventLog()[10])
	assert.Equal(t, "Exit handler ClassicHandler called.", NewClassicHandler(nil).Description())
}

func TestClassicDispatcher_BehaviorErrorAbortsRun(t *testing.T) {
	engine := newFakeEngine(classicExit(10, "checkpoint"))
	sentinel := assert.AnError
	sim := newTestSimulator(t, engine, Config{ExitBehaviorConfig: ExitBehaviorConfig{
		OnExit: map[ExitCategory]Override{
			ExitCategoryCheckpoint: FuncOverride(func(*Simulator) (bool, error) { return false, sentinel }),
		},
	}})

	err := sim.Run()

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 0, sim.ExitCount())
}

func TestClassicDispatcher_ExhaustedSequenceNeverConsultedAgain(t *testing.T) {
	// GIVEN a user sequence that reports exhaustion once and would terminate afterwards
	engine := newFakeEngine(
		classicExit(10, "workbegin"),
		classicExit(20, "workbegin"),
		classicExit(30, "workbegin"),
		classicExit(40, "m5_exit instruction encountered"),
	)
	calls := 0
	seq := SequenceFunc(func(*Simulator) (bool, error) {
		calls++
		if calls == 1 {
			return false, ErrSequenceExhausted
		}
		return true, nil
	})
	sim := newTestSimulator(t, engine, Config{ExitBehaviorConfig: ExitBehaviorConfig{
		OnExit: map[ExitCategory]Override{ExitCategoryWorkBegin: SequenceOverride(seq)},
	}})

	// WHEN the simulation runs
	var err error
	out := captureLogOutput(func() { err = sim.Run() })

	// THEN the sequence is asked once and every work begin uses the default
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 3, engine.resets)
	assert.Equal(t, uint64(40), sim.CurrentTick())
	assert.Equal(t, 1, countOccurrences(out, `User-specified behavior for the "workbegin" exit has ended`))
	assert.NotContains(t, out, "No behavior was set by the user for work begin")
}

func TestRoiTicks_WorkEndWithoutBegin(t *testing.T) {
	got := roiTicks([]StopwatchEntry{
		{Category: ExitCategoryWorkEnd, Tick: 70},
		{Category: ExitCategoryCheckpoint, Tick: 80},
		{Category: ExitCategoryWorkBegin, Tick: 100},
		{Category: ExitCategoryWorkEnd, Tick: 130},
	})
	assert.Equal(t, []uint64{70, 30}, got)
}

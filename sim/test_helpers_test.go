package sim

import (
	"bytes"
	"errors"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// scriptedExit is one exit the fake engine reports, at the given tick.
type scriptedExit struct {
	tick uint64
	exit ExitResult
}

func classicExit(tick uint64, cause string) scriptedExit {
	return scriptedExit{tick: tick, exit: ExitResult{Cause: cause, HypercallID: ClassicHandlerID}}
}

func hypercallExit(tick uint64, id HandlerID, payload Payload) scriptedExit {
	return scriptedExit{tick: tick, exit: ExitResult{Cause: "m5_hypercall", HypercallID: id, Payload: payload}}
}

// fakeEngine replays a fixed list of exits and records every call made to it.
// Once the script is exhausted it reports the end of the workload.
type fakeEngine struct {
	script  []scriptedExit
	next    int
	tick    uint64
	ceiling uint64
	cores   int

	instantiations int
	restoredFrom   string
	resumes        int
	resumeTicks    []uint64
	checkpoints    []string
	resets         int
	dumps          int
	switches       int
	resumeErr      error

	stats          map[string]any
	flags          map[string]bool
	scheduledTicks []uint64
	simpoints      []uint64
	maxInsts       uint64
}

func newFakeEngine(script ...scriptedExit) *fakeEngine {
	return &fakeEngine{
		script:  script,
		ceiling: MaxTick,
		cores:   1,
		flags:   map[string]bool{"Exec": false, "Cache": false},
		stats:   map[string]any{"simInsts": 42},
	}
}

func (e *fakeEngine) Instantiate(checkpoint string) error {
	e.instantiations++
	e.restoredFrom = checkpoint
	return nil
}

func (e *fakeEngine) Resume(maxTicks uint64) (ExitResult, error) {
	e.resumes++
	e.resumeTicks = append(e.resumeTicks, maxTicks)
	if e.resumeErr != nil {
		return ExitResult{}, e.resumeErr
	}
	if e.next >= len(e.script) {
		return ExitResult{Cause: "exiting with last active thread context", HypercallID: ClassicHandlerID}, nil
	}
	s := e.script[e.next]
	e.next++
	e.tick = s.tick
	return s.exit, nil
}

func (e *fakeEngine) Checkpoint(path string) error {
	e.checkpoints = append(e.checkpoints, path)
	return nil
}

func (e *fakeEngine) ResetStats() error        { e.resets++; return nil }
func (e *fakeEngine) DumpStats() error         { e.dumps++; return nil }
func (e *fakeEngine) CurrentTick() uint64      { return e.tick }
func (e *fakeEngine) InstructionCount() uint64 { return e.tick / 2 }
func (e *fakeEngine) MaxTick() uint64          { return e.ceiling }
func (e *fakeEngine) SwitchProcessor() error   { e.switches++; return nil }
func (e *fakeEngine) NumCores() int            { return e.cores }
func (e *fakeEngine) WorkloadID() string       { return "x86-ubuntu-boot" }

func (e *fakeEngine) ScheduleTickExit(tick uint64, _ string) error {
	e.scheduledTicks = append(e.scheduledTicks, tick)
	return nil
}

func (e *fakeEngine) ScheduleSimpoints(startInsts []uint64) error {
	e.simpoints = append(e.simpoints, startInsts...)
	return nil
}

func (e *fakeEngine) ScheduleMaxInsts(insts uint64) error {
	e.maxInsts = insts
	return nil
}

func (e *fakeEngine) Stats() (map[string]any, error) {
	if e.stats == nil {
		return nil, errors.New("stats unavailable")
	}
	return e.stats, nil
}

func (e *fakeEngine) SetDebugFlag(name string, enabled bool) bool {
	if _, ok := e.flags[name]; !ok {
		return false
	}
	e.flags[name] = enabled
	return true
}

// bareEngine hides every optional capability of the wrapped engine.
type bareEngine struct {
	Engine
}

// recordingObserver collects every exit record.
type recordingObserver struct {
	records []ExitRecord
}

func (o *recordingObserver) ObserveExit(rec ExitRecord) {
	o.records = append(o.records, rec)
}

// captureLogOutput runs fn with logrus writing to a buffer and returns the output.
func captureLogOutput(fn func()) string {
	var buf bytes.Buffer
	origOutput := logrus.StandardLogger().Out
	origLevel := logrus.GetLevel()
	logrus.SetOutput(&buf)
	logrus.SetLevel(logrus.WarnLevel)
	defer func() {
		if origOutput != nil {
			logrus.SetOutput(origOutput)
		} else {
			logrus.SetOutput(os.Stderr)
		}
		logrus.SetLevel(origLevel)
	}()
	fn()
	return buf.String()
}

func mustOverride(o Override, err error) Override {
	if err != nil {
		panic(err)
	}
	return o
}

func countOccurrences(s, substr string) int {
	return strings.Count(s, substr)
}

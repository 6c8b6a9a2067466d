package sim

import "fmt"

// Action names a built-in behavior step, so behaviors can be written in config files.
type Action string

const (
	ActionExit           Action = "exit"
	ActionContinue       Action = "continue"
	ActionCheckpoint     Action = "checkpoint"
	ActionResetStats     Action = "reset-stats"
	ActionDumpStats      Action = "dump-stats"
	ActionDumpResetStats Action = "dump-reset-stats"
	ActionSwitchCPU      Action = "switch-cpu"
)

// ValidActions is the set of recognized action names.
var ValidActions = map[Action]bool{
	ActionExit:           true,
	ActionContinue:       true,
	ActionCheckpoint:     true,
	ActionResetStats:     true,
	ActionDumpStats:      true,
	ActionDumpResetStats: true,
	ActionSwitchCPU:      true,
}

// ActionFunc returns the behavior step for a named action.
func ActionFunc(a Action) (ExitFunc, error) {
	switch a {
	case ActionExit:
		return exitStep, nil
	case ActionContinue:
		return continueStep, nil
	case ActionCheckpoint:
		return checkpointStep, nil
	case ActionResetStats:
		return resetStatsStep, nil
	case ActionDumpStats:
		return dumpStatsStep, nil
	case ActionDumpResetStats:
		return dumpResetStatsStep, nil
	case ActionSwitchCPU:
		return switchCPUStep, nil
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidOverride, a)
	}
}

// ActionListOverride builds a function-list override from action names.
func ActionListOverride(actions ...Action) (Override, error) {
	fns := make([]ExitFunc, 0, len(actions))
	for _, a := range actions {
		fn, err := ActionFunc(a)
		if err != nil {
			return Override{}, err
		}
		fns = append(fns, fn)
	}
	return FuncListOverride(fns...), nil
}

// ActionOverride builds a single-function override that runs a on every exit.
func ActionOverride(a Action) (Override, error) {
	fn, err := ActionFunc(a)
	if err != nil {
		return Override{}, err
	}
	return FuncOverride(fn), nil
}

func exitStep(*Simulator) (bool, error) { return true, nil }

func continueStep(*Simulator) (bool, error) { return false, nil }

func checkpointStep(sim *Simulator) (bool, error) {
	_, err := sim.TakeCheckpoint()
	return false, err
}

func resetStatsStep(sim *Simulator) (bool, error) {
	return false, sim.ResetStats()
}

func dumpStatsStep(sim *Simulator) (bool, error) {
	return false, sim.DumpStats()
}

func dumpResetStatsStep(sim *Simulator) (bool, error) {
	if err := sim.DumpStats(); err != nil {
		return false, err
	}
	return false, sim.ResetStats()
}

func switchCPUStep(sim *Simulator) (bool, error) {
	return false, sim.SwitchProcessor()
}

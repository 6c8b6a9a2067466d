package sim

import (
	"fmt"
	"strings"
)

// ExitCategory is the coarse classification of an exit cause, independent of the
// handler id the exit was routed with.
type ExitCategory string

const (
	ExitCategoryExit          ExitCategory = "exit"
	ExitCategoryFail          ExitCategory = "fail"
	ExitCategoryCheckpoint    ExitCategory = "checkpoint"
	ExitCategorySwitchCPU     ExitCategory = "switchcpu"
	ExitCategoryWorkBegin     ExitCategory = "workbegin"
	ExitCategoryWorkEnd       ExitCategory = "workend"
	ExitCategoryUserInterrupt ExitCategory = "user interrupt"
	ExitCategoryMaxTick       ExitCategory = "max tick"
	ExitCategoryScheduledTick ExitCategory = "scheduled tick exit"
	ExitCategorySimpointBegin ExitCategory = "simpoint begins"
	ExitCategoryMaxInsts      ExitCategory = "number of instructions reached"
	ExitCategoryKernelPanic   ExitCategory = "kernel panic"
	ExitCategoryKernelOops    ExitCategory = "kernel oops"
	ExitCategorySpatterExit   ExitCategory = "spatter exit"
)

// AllExitCategories lists every category in declaration order.
var AllExitCategories = []ExitCategory{
	ExitCategoryExit,
	ExitCategoryFail,
	ExitCategoryCheckpoint,
	ExitCategorySwitchCPU,
	ExitCategoryWorkBegin,
	ExitCategoryWorkEnd,
	ExitCategoryUserInterrupt,
	ExitCategoryMaxTick,
	ExitCategoryScheduledTick,
	ExitCategorySimpointBegin,
	ExitCategoryMaxInsts,
	ExitCategoryKernelPanic,
	ExitCategoryKernelOops,
	ExitCategorySpatterExit,
}

// categoryNames maps the config-file spelling of each category.
var categoryNames = map[string]ExitCategory{
	"exit":           ExitCategoryExit,
	"fail":           ExitCategoryFail,
	"checkpoint":     ExitCategoryCheckpoint,
	"switchcpu":      ExitCategorySwitchCPU,
	"workbegin":      ExitCategoryWorkBegin,
	"workend":        ExitCategoryWorkEnd,
	"user_interrupt": ExitCategoryUserInterrupt,
	"max_tick":       ExitCategoryMaxTick,
	"scheduled_tick": ExitCategoryScheduledTick,
	"simpoint_begin": ExitCategorySimpointBegin,
	"max_insts":      ExitCategoryMaxInsts,
	"kernel_panic":   ExitCategoryKernelPanic,
	"kernel_oops":    ExitCategoryKernelOops,
	"spatter_exit":   ExitCategorySpatterExit,
}

// ParseExitCategory parses a config-file category name such as "max_tick".
func ParseExitCategory(name string) (ExitCategory, error) {
	c, ok := categoryNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("unknown exit category %q", name)
	}
	return c, nil
}

type matchKind int

const (
	matchExact matchKind = iota
	matchPrefix
	matchSuffix
)

type causeRule struct {
	kind     matchKind
	text     string
	category ExitCategory
}

// causeRules is evaluated in order; the first match wins.
var causeRules = []causeRule{
	{matchExact, "m5_exit instruction encountered", ExitCategoryExit},
	{matchPrefix, "exiting with last active thread context", ExitCategoryExit},
	{matchSuffix, "will terminate the simulation.", ExitCategoryExit},
	{matchExact, "simulate() limit reached", ExitCategoryMaxTick},
	{matchExact, "switchcpu", ExitCategorySwitchCPU},
	{matchExact, "m5_fail instruction encountered", ExitCategoryFail},
	{matchExact, "checkpoint", ExitCategoryCheckpoint},
	{matchExact, "user interrupt received", ExitCategoryUserInterrupt},
	{matchExact, "workbegin", ExitCategoryWorkBegin},
	{matchExact, "workend", ExitCategoryWorkEnd},
	{matchExact, "simpoint starting point found", ExitCategorySimpointBegin},
	{matchExact, "a thread reached the max instruction count", ExitCategoryMaxInsts},
	{matchExact, "Tick exit reached", ExitCategoryScheduledTick},
	{matchExact, "Kernel panic in simulated system.", ExitCategoryKernelPanic},
	{matchExact, "Kernel oops in guest", ExitCategoryKernelOops},
	{matchExact, "spatter exit", ExitCategorySpatterExit},
}

// Classify maps a raw exit cause reported by the engine to its category.
func Classify(cause string) (ExitCategory, error) {
	trimmed := strings.TrimRight(cause, "\n")
	for _, rule := range causeRules {
		switch rule.kind {
		case matchExact:
			if trimmed == rule.text {
				return rule.category, nil
			}
		case matchPrefix:
			if strings.HasPrefix(trimmed, rule.text) {
				return rule.category, nil
			}
		case matchSuffix:
			if strings.HasSuffix(trimmed, rule.text) {
				return rule.category, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownExitCause, cause)
}

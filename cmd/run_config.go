package cmd

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/simloop/simloop/sim"
)

// RunConfig is the YAML run configuration.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type RunConfig struct {
	ID               string                `yaml:"id"`
	MaxTicks         uint64                `yaml:"max_ticks"`
	Outdir           string                `yaml:"outdir"`
	CheckpointDir    string                `yaml:"checkpoint_dir"`
	Restore          string                `yaml:"restore"`
	ShowExitMessages bool                  `yaml:"show_exit_messages"`
	ExpectedOrder    []string              `yaml:"expected_order"`
	OnExit           map[string]ActionSpec `yaml:"on_exit"`
	TickExits        []TickExitSpec        `yaml:"tick_exits"`
	TickExitInterval uint64                `yaml:"tick_exit_interval"` // reschedule a tick exit every N ticks instead of stopping
	Simpoints        []uint64              `yaml:"simpoints"`          // instruction counts
	MaxInsts         uint64                `yaml:"max_insts"`
}

// TickExitSpec schedules a tick exit at an absolute tick.
type TickExitSpec struct {
	At            uint64 `yaml:"at"`
	Justification string `yaml:"justification"`
}

// ActionSpec is the behavior of one exit category: a scalar runs the action on every
// exit, a list runs one action per exit and then falls back to the default.
type ActionSpec struct {
	Actions []sim.Action
	List    bool
}

// UnmarshalYAML accepts a scalar action or a sequence of actions.
func (a *ActionSpec) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		a.Actions = []sim.Action{sim.Action(s)}
		a.List = false
	case yaml.SequenceNode:
		var ss []string
		if err := value.Decode(&ss); err != nil {
			return err
		}
		a.Actions = make([]sim.Action, len(ss))
		for i, s := range ss {
			a.Actions[i] = sim.Action(s)
		}
		a.List = true
	default:
		return fmt.Errorf("line %d: exit behavior must be an action or a list of actions", value.Line)
	}
	return nil
}

// Override converts the action list into a behavior override.
func (a ActionSpec) Override() (sim.Override, error) {
	if a.List {
		return sim.ActionListOverride(a.Actions...)
	}
	if len(a.Actions) != 1 {
		return sim.Override{}, fmt.Errorf("%w: expected one action, got %d", sim.ErrInvalidOverride, len(a.Actions))
	}
	return sim.ActionOverride(a.Actions[0])
}

// LoadRunConfig reads and parses a YAML run config.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadRunConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run config: %w", err)
	}
	var rc RunConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&rc); err != nil {
		return nil, fmt.Errorf("parsing run config: %w", err)
	}
	return &rc, nil
}

// Validate checks that all fields in the run config are valid.
func (rc *RunConfig) Validate() error {
	if rc.ID != "" {
		if err := sim.ValidateID(rc.ID); err != nil {
			return err
		}
	}
	for i, name := range rc.ExpectedOrder {
		if _, err := sim.ParseExitCategory(name); err != nil {
			return fmt.Errorf("expected_order[%d]: %w", i, err)
		}
	}
	for name, spec := range rc.OnExit {
		if _, err := sim.ParseExitCategory(name); err != nil {
			return fmt.Errorf("on_exit: %w", err)
		}
		if len(spec.Actions) == 0 {
			return fmt.Errorf("on_exit.%s: at least one action required", name)
		}
		for _, a := range spec.Actions {
			if !sim.ValidActions[a] {
				return fmt.Errorf("on_exit.%s: unknown action %q; valid: exit, continue, checkpoint, reset-stats, dump-stats, dump-reset-stats, switch-cpu", name, a)
			}
		}
	}
	return nil
}

// SimConfig builds the simulator configuration. The config must be valid.
func (rc *RunConfig) SimConfig() (sim.Config, error) {
	cfg := sim.Config{
		PathConfig: sim.PathConfig{
			Outdir:            rc.Outdir,
			CheckpointDir:     rc.CheckpointDir,
			RestoreCheckpoint: rc.Restore,
		},
		Registry:         sim.NewDefaultRegistry(),
		MaxTicks:         rc.MaxTicks,
		ID:               rc.ID,
		ShowExitMessages: rc.ShowExitMessages,
	}
	for _, name := range rc.ExpectedOrder {
		c, err := sim.ParseExitCategory(name)
		if err != nil {
			return sim.Config{}, err
		}
		cfg.ExpectedOrder = append(cfg.ExpectedOrder, c)
	}
	if len(rc.OnExit) > 0 {
		cfg.OnExit = make(map[sim.ExitCategory]sim.Override, len(rc.OnExit))
		for name, spec := range rc.OnExit {
			c, err := sim.ParseExitCategory(name)
			if err != nil {
				return sim.Config{}, err
			}
			o, err := spec.Override()
			if err != nil {
				return sim.Config{}, fmt.Errorf("on_exit.%s: %w", name, err)
			}
			cfg.OnExit[c] = o
		}
	}
	if rc.TickExitInterval > 0 {
		interval := rc.TickExitInterval
		if err := cfg.Registry.Derive(sim.ScheduledTickHandlerID, func(base sim.Handler) sim.Handler {
			return &periodicTickHandler{Handler: base, interval: interval}
		}); err != nil {
			return sim.Config{}, err
		}
	}
	return cfg, nil
}

// Prepare instantiates s and schedules the configured tick and instruction exits, so
// they are placed relative to the restored tick.
func (rc *RunConfig) Prepare(s *sim.Simulator) error {
	if err := s.Instantiate(); err != nil {
		return err
	}
	for _, te := range rc.TickExits {
		if err := s.ScheduleTickExitAbsolute(te.At, te.Justification); err != nil {
			return err
		}
	}
	if rc.TickExitInterval > 0 {
		if err := s.ScheduleTickExitFromCurrent(rc.TickExitInterval, "periodic"); err != nil {
			return err
		}
	}
	if len(rc.Simpoints) > 0 {
		if err := s.ScheduleSimpoints(rc.Simpoints); err != nil {
			return err
		}
	}
	if rc.MaxInsts > 0 {
		if err := s.ScheduleMaxInsts(rc.MaxInsts); err != nil {
			return err
		}
	}
	return nil
}

// applyRunFlags lets explicitly set CLI flags override the run config.
func applyRunFlags(cmd *cobra.Command, rc *RunConfig) {
	flags := cmd.Flags()
	if flags.Changed("max-ticks") {
		rc.MaxTicks = maxTicks
	}
	if flags.Changed("id") {
		rc.ID = simID
	}
	if flags.Changed("checkpoint-dir") {
		rc.CheckpointDir = checkpointDir
	}
	if flags.Changed("outdir") || rc.Outdir == "" {
		rc.Outdir = outdir
	}
	if flags.Changed("restore") {
		rc.Restore = restorePath
	}
	if flags.Changed("show-exit-messages") {
		rc.ShowExitMessages = showExitMessages
	}
}

// periodicTickHandler keeps the run going on a scheduled tick exit and schedules the
// next one interval ticks later.
type periodicTickHandler struct {
	sim.Handler
	interval uint64
}

func (h *periodicTickHandler) Process(s *sim.Simulator) error {
	if err := h.Handler.Process(s); err != nil {
		return err
	}
	return s.ScheduleTickExitFromCurrent(h.interval, "periodic")
}

func (h *periodicTickHandler) ShouldTerminate() bool { return false }

func (h *periodicTickHandler) Description() string {
	return fmt.Sprintf("Periodic tick exit, next in %d ticks.", h.interval)
}

// Package replay provides a scripted simulation engine. A trace lists the exits a
// workload raises and at which ticks; the engine replays them through the run loop,
// so exit handling can be exercised without a real simulator.
package replay

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/simloop/simloop/sim"
	"github.com/simloop/simloop/sim/signal"
)

// Trace is a scripted workload.
type Trace struct {
	Workload            string      `yaml:"workload"`
	NumCores            int         `yaml:"num_cores"`
	MaxTick             uint64      `yaml:"max_tick"`              // engine ceiling; 0 means sim.MaxTick
	InstructionsPerTick uint64      `yaml:"instructions_per_tick"` // per core; 0 means 1
	DebugFlags          []string    `yaml:"debug_flags"`           // flags the engine knows about
	EndTick             uint64      `yaml:"end_tick"`              // workload end; 0 means the last exit's tick
	Exits               []TraceExit `yaml:"exits"`
}

// TraceExit is one scripted exit. Either Signal or Cause/HypercallID/Payload is set.
type TraceExit struct {
	Tick        uint64            `yaml:"tick"`
	Cause       string            `yaml:"cause"`
	Code        int               `yaml:"code"`
	HypercallID uint32            `yaml:"hypercall_id"`
	Payload     map[string]string `yaml:"payload"`
	Signal      string            `yaml:"signal"` // raw signal message, see package signal
}

// hypercallCause is reported for exits raised through a hypercall rather than by the
// simulated system itself.
const hypercallCause = "Hypercall"

// LoadTrace reads and parses a YAML trace file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadTrace(path string) (*Trace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trace: %w", err)
	}
	return ParseTrace(data)
}

// ParseTrace parses and validates a YAML trace.
func ParseTrace(data []byte) (*Trace, error) {
	var t Trace
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&t); err != nil {
		return nil, fmt.Errorf("parsing trace: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks the trace and fills defaults.
func (t *Trace) Validate() error {
	if t.Workload == "" {
		return fmt.Errorf("trace: workload is required")
	}
	if t.NumCores < 0 {
		return fmt.Errorf("trace: num_cores must be non-negative, got %d", t.NumCores)
	}
	if t.NumCores == 0 {
		t.NumCores = 1
	}
	if t.MaxTick == 0 {
		t.MaxTick = sim.MaxTick
	}
	if t.InstructionsPerTick == 0 {
		t.InstructionsPerTick = 1
	}
	var prev uint64
	for i, e := range t.Exits {
		prefix := fmt.Sprintf("trace: exits[%d]", i)
		if e.Tick < prev {
			return fmt.Errorf("%s: tick %d is before the previous exit at %d", prefix, e.Tick, prev)
		}
		if e.Tick > t.MaxTick {
			return fmt.Errorf("%s: tick %d is above max_tick %d", prefix, e.Tick, t.MaxTick)
		}
		prev = e.Tick
		if e.Signal != "" {
			if e.Cause != "" || e.HypercallID != 0 || len(e.Payload) > 0 {
				return fmt.Errorf("%s: signal cannot be combined with cause, hypercall_id or payload", prefix)
			}
			msg, err := signal.Decode([]byte(e.Signal))
			if err != nil {
				return fmt.Errorf("%s: %w", prefix, err)
			}
			if msg.ID == uint32(sim.ClassicHandlerID) {
				return fmt.Errorf("%s: a signal cannot raise a classic exit, use cause instead", prefix)
			}
			continue
		}
		if e.HypercallID == uint32(sim.ClassicHandlerID) {
			if _, err := sim.Classify(e.Cause); err != nil {
				return fmt.Errorf("%s: %w", prefix, err)
			}
		}
		for k := range e.Payload {
			if !signal.ValidKey(k) {
				return fmt.Errorf("%s: invalid payload key %q", prefix, k)
			}
		}
	}
	if t.EndTick == 0 {
		t.EndTick = prev
	}
	if t.EndTick < prev {
		return fmt.Errorf("trace: end_tick %d is before the last exit at %d", t.EndTick, prev)
	}
	return nil
}

// exitResult converts a validated trace exit.
func (e TraceExit) exitResult() sim.ExitResult {
	if e.Signal != "" {
		msg, _ := signal.Decode([]byte(e.Signal))
		return sim.ExitResult{Cause: hypercallCause, HypercallID: sim.HandlerID(msg.ID), Payload: msg.Payload}
	}
	payload := sim.Payload{}
	for k, v := range e.Payload {
		payload[k] = v
	}
	cause := e.Cause
	if cause == "" {
		cause = hypercallCause
	}
	return sim.ExitResult{Cause: cause, Code: e.Code, HypercallID: sim.HandlerID(e.HypercallID), Payload: payload}
}

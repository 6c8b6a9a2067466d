package sim

import "time"

// DefaultOutdir is used when no output directory is configured.
const DefaultOutdir = "m5out"

// ExitBehaviorConfig groups the classic (id 0) dispatch configuration.
type ExitBehaviorConfig struct {
	OnExit        map[ExitCategory]Override // user behavior per category (optional)
	ExpectedOrder []ExitCategory            // strict order of classic exits (optional)
}

// PathConfig groups filesystem locations.
type PathConfig struct {
	Outdir            string // output directory (default DefaultOutdir)
	CheckpointDir     string // checkpoint directory (default Outdir)
	RestoreCheckpoint string // checkpoint to restore at instantiation (optional)
}

// Config configures a Simulator. Zero values select the defaults noted per field.
type Config struct {
	ExitBehaviorConfig
	PathConfig
	Registry            *Registry      // handler registry (default NewDefaultRegistry())
	MaxTicks            uint64         // absolute tick budget per resume (default engine ceiling)
	ID                  string         // simulation id (optional, see ValidateID)
	ShowExitMessages    bool           // log every exit at info level instead of debug
	OrchestratorTimeout time.Duration  // bound on one orchestrator exchange (default 5s)
	Observers           []ExitObserver // notified after every handled exit
}

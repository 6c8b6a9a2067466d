package cmd

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/simloop/simloop/sim"
	"github.com/simloop/simloop/sim/replay"
	"github.com/simloop/simloop/sim/trace"
)

var (
	// CLI flags for the run command
	tracePath        string // Scripted workload trace (YAML)
	configPath       string // Run config (YAML)
	logLevel         string // Log verbosity level
	maxTicks         uint64 // Absolute tick budget per resume
	simID            string // Simulation id
	checkpointDir    string // Where checkpoint exits write to
	outdir           string // Output directory
	restorePath      string // Checkpoint to restore from
	showExitMessages bool   // Log every exit at info level
	traceLevel       string // Exit trace verbosity

	// CLI flags for the exit journal
	journalDSN    string // Postgres connection string; empty disables the journal
	journalDriver string // pgx or sqlx
	journalTable  string // Journal table name
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "simloop",
	Short: "Exit-event driven simulation control loop",
}

// runCmd replays a scripted workload through the simulation loop
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scripted workload through the exit handlers",
	Run: func(cmd *cobra.Command, args []string) {
		// Set up logging
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		if tracePath == "" {
			logrus.Fatalf("--trace not provided. Exiting simulation.")
		}
		if !trace.IsValidTraceLevel(traceLevel) {
			logrus.Fatalf("Invalid trace level: %s", traceLevel)
		}

		rc := &RunConfig{}
		if configPath != "" {
			rc, err = LoadRunConfig(configPath)
			if err != nil {
				logrus.Fatalf("%v", err)
			}
		}
		applyRunFlags(cmd, rc)
		if err := rc.Validate(); err != nil {
			logrus.Fatalf("Invalid run config: %v", err)
		}

		tr, err := replay.LoadTrace(tracePath)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		engine := replay.New(tr)

		cfg, err := rc.SimConfig()
		if err != nil {
			logrus.Fatalf("Invalid run config: %v", err)
		}
		exitTrace := trace.NewExitTrace(trace.TraceLevel(traceLevel))
		cfg.Observers = append(cfg.Observers, exitTrace)

		// Fatalf skips deferred calls, so failures past this point close the journal first.
		closeJournal := func() {}
		fatalf := func(format string, args ...any) {
			closeJournal()
			logrus.Fatalf(format, args...)
		}
		if journalDSN != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			j, closeFn, err := openJournal(ctx, journalDriver, journalDSN, journalTable)
			cancel()
			if err != nil {
				logrus.Fatalf("Opening exit journal: %v", err)
			}
			closeJournal = closeFn
			defer closeJournal()
			logrus.Infof("Journaling exits to %s (session %s)", journalTable, j.SessionID())
			cfg.Observers = append(cfg.Observers, j)
		}

		s, err := sim.NewSimulator(engine, cfg)
		if err != nil {
			fatalf("%v", err)
		}
		if err := rc.Prepare(s); err != nil {
			fatalf("%v", err)
		}

		logrus.Infof("Starting simulation of %s on %d core(s), max ticks=%d", tr.Workload, tr.NumCores, s.MaxTicks())
		startTime := time.Now()
		if err := s.Run(); err != nil {
			printResults(os.Stdout, s, trace.Summarize(exitTrace), time.Since(startTime))
			fatalf("Simulation failed: %v", err)
		}
		printResults(os.Stdout, s, trace.Summarize(exitTrace), time.Since(startTime))

		logrus.Info("Simulation complete.")
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().StringVar(&tracePath, "trace", "", "Scripted workload trace (YAML)")
	runCmd.Flags().StringVar(&configPath, "config", "", "Run config with exit behaviors (YAML)")
	runCmd.Flags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().Uint64Var(&maxTicks, "max-ticks", 0, "Absolute tick budget per resume (0 = engine ceiling)")
	runCmd.Flags().StringVar(&simID, "id", "", "Simulation id (letters, digits, '_' and '-')")
	runCmd.Flags().StringVar(&checkpointDir, "checkpoint-dir", "", "Checkpoint directory (default: outdir)")
	runCmd.Flags().StringVar(&outdir, "outdir", sim.DefaultOutdir, "Output directory")
	runCmd.Flags().StringVar(&restorePath, "restore", "", "Restore from checkpoint (path ending in cpt.<tick>)")
	runCmd.Flags().BoolVar(&showExitMessages, "show-exit-messages", false, "Log every exit at info level")
	runCmd.Flags().StringVar(&traceLevel, "trace-level", string(trace.TraceLevelExits), "Exit trace level (none, exits)")

	// Exit journal
	runCmd.Flags().StringVar(&journalDSN, "journal-dsn", "", "Postgres DSN for the exit journal (empty disables it)")
	runCmd.Flags().StringVar(&journalDriver, "journal-driver", journalDriverPGX, "Journal driver (pgx, sqlx)")
	runCmd.Flags().StringVar(&journalTable, "journal-table", "exit_journal", "Journal table name")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(handlersCmd)
	rootCmd.AddCommand(signalCmd)
	rootCmd.AddCommand(requestCmd)
}

// Package sim provides the control loop that drives a simulation engine from exit
// event to exit event.
//
// # Reading Guide
//
// Start with these three files to understand the loop:
//   - engine.go: Engine, the resumable simulation the loop drives, and its optional capabilities
//   - handler.go: Handler, the per-exit unit of work constructed from a hypercall id and payload
//   - simulator.go: Run, which resumes the engine, dispatches each exit and decides when to stop
//
// # Architecture
//
// Every engine exit carries a hypercall id. The Registry maps ids to handler
// constructors; id 0 is the classic handler, which classifies the exit cause into an
// ExitCategory and runs that category's behavior Sequence. Behaviors come from
// defaults or from Config.OnExit overrides, and can be checked against an expected
// category order.
//
// Sub-packages:
//   - sim/signal/: JSON hypercall message codec
//   - sim/orchestrator/: request/response over Unix sockets for hypercall 1000
//   - sim/replay/: an Engine that replays a recorded exit trace
//   - sim/trace/: exit recording and summaries
//   - sim/journal/: exit journaling to PostgreSQL
//
// # Key Interfaces
//
//   - Engine: instantiate, resume, checkpoint, stats
//   - Handler: process one exit and report whether to terminate
//   - Sequence: the next verdict of a category behavior
//   - ExitObserver: notified after every handled exit
package sim

package sim

// Built-in handler ids.
const (
	ClassicHandlerID                 HandlerID = 0
	KernelBootedHandlerID            HandlerID = 1
	AfterBootStartedHandlerID        HandlerID = 2
	AfterBootScriptFinishedHandlerID HandlerID = 3
	WorkBeginHandlerID               HandlerID = 4
	WorkEndHandlerID                 HandlerID = 5
	ScheduledTickHandlerID           HandlerID = 6
	CheckpointHandlerID              HandlerID = 7
	OrchestratorHandlerID            HandlerID = 1000
)

// Payload keys read by ScheduledTickHandler.
const (
	PayloadKeyJustification   = "justification"
	PayloadKeyScheduledAtTick = "scheduled_at_tick"
)

// RegisterBuiltins registers every built-in handler into r.
func RegisterBuiltins(r *Registry) {
	r.Register(ClassicHandlerID, NewClassicHandler)
	r.Register(KernelBootedHandlerID, NewKernelBootedHandler)
	r.Register(AfterBootStartedHandlerID, NewAfterBootStartedHandler)
	r.Register(AfterBootScriptFinishedHandlerID, NewAfterBootScriptFinishedHandler)
	r.Register(WorkBeginHandlerID, NewWorkBeginHandler)
	r.Register(WorkEndHandlerID, NewWorkEndHandler)
	r.Register(ScheduledTickHandlerID, NewScheduledTickHandler)
	r.Register(CheckpointHandlerID, NewCheckpointHandler)
	r.Register(OrchestratorHandlerID, NewOrchestratorHandler)
}

// ScheduledTickHandler handles an exit scheduled for a specific tick, for example
// through ScheduleTickExitFromCurrent. It always terminates the run loop.
type ScheduledTickHandler struct {
	BaseHandler
}

func NewScheduledTickHandler(payload Payload) Handler {
	return &ScheduledTickHandler{BaseHandler: NewBaseHandler("ScheduledTickHandler", payload)}
}

func (h *ScheduledTickHandler) Process(_ *Simulator) error { return nil }

func (h *ScheduledTickHandler) ShouldTerminate() bool { return true }

// Justification is the reason given when the exit was scheduled, if any.
func (h *ScheduledTickHandler) Justification() (string, bool) {
	return h.payload.Get(PayloadKeyJustification)
}

// ScheduledAtTick is the tick at which the exit was scheduled (not the tick it fires).
func (h *ScheduledTickHandler) ScheduledAtTick() (uint64, bool) {
	return h.payload.Uint(PayloadKeyScheduledAtTick)
}

// KernelBootedHandler marks that the guest kernel finished booting.
type KernelBootedHandler struct {
	BaseHandler
}

func NewKernelBootedHandler(payload Payload) Handler {
	return &KernelBootedHandler{BaseHandler: NewBaseHandler("KernelBootedHandler", payload)}
}

func (h *KernelBootedHandler) Process(_ *Simulator) error { return nil }
func (h *KernelBootedHandler) ShouldTerminate() bool      { return false }
func (h *KernelBootedHandler) Description() string        { return "Kernel booted." }

// AfterBootStartedHandler marks that the after-boot script started.
type AfterBootStartedHandler struct {
	BaseHandler
}

func NewAfterBootStartedHandler(payload Payload) Handler {
	return &AfterBootStartedHandler{BaseHandler: NewBaseHandler("AfterBootStartedHandler", payload)}
}

func (h *AfterBootStartedHandler) Process(_ *Simulator) error { return nil }
func (h *AfterBootStartedHandler) ShouldTerminate() bool      { return false }
func (h *AfterBootStartedHandler) Description() string        { return "Started `after_boot.sh` script." }

// AfterBootScriptFinishedHandler marks the end of the after-boot script and stops
// the run loop.
type AfterBootScriptFinishedHandler struct {
	BaseHandler
}

func NewAfterBootScriptFinishedHandler(payload Payload) Handler {
	return &AfterBootScriptFinishedHandler{BaseHandler: NewBaseHandler("AfterBootScriptFinishedHandler", payload)}
}

func (h *AfterBootScriptFinishedHandler) Process(_ *Simulator) error { return nil }
func (h *AfterBootScriptFinishedHandler) ShouldTerminate() bool      { return true }
func (h *AfterBootScriptFinishedHandler) Description() string {
	return "Finished `after_boot.sh` script."
}

// CheckpointHandler takes a checkpoint at <checkpoint dir>/cpt.<tick>.
type CheckpointHandler struct {
	BaseHandler
}

func NewCheckpointHandler(payload Payload) Handler {
	return &CheckpointHandler{BaseHandler: NewBaseHandler("CheckpointHandler", payload)}
}

func (h *CheckpointHandler) Process(sim *Simulator) error {
	_, err := sim.TakeCheckpoint()
	return err
}

func (h *CheckpointHandler) ShouldTerminate() bool { return false }

// WorkBeginHandler resets statistics at the start of a region of interest.
type WorkBeginHandler struct {
	BaseHandler
}

func NewWorkBeginHandler(payload Payload) Handler {
	return &WorkBeginHandler{BaseHandler: NewBaseHandler("WorkBeginHandler", payload)}
}

func (h *WorkBeginHandler) Process(sim *Simulator) error { return sim.ResetStats() }
func (h *WorkBeginHandler) ShouldTerminate() bool        { return false }
func (h *WorkBeginHandler) Description() string {
	return "Started executing Region of Interest (ROI)."
}

// WorkEndHandler dumps statistics at the end of a region of interest.
type WorkEndHandler struct {
	BaseHandler
}

func NewWorkEndHandler(payload Payload) Handler {
	return &WorkEndHandler{BaseHandler: NewBaseHandler("WorkEndHandler", payload)}
}

func (h *WorkEndHandler) Process(sim *Simulator) error { return sim.DumpStats() }
func (h *WorkEndHandler) ShouldTerminate() bool        { return false }
func (h *WorkEndHandler) Description() string {
	return "Finished executing Region of Interest (ROI)."
}

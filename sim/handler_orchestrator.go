package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/simloop/simloop/sim/orchestrator"
)

// OrchestratorHandler answers a query from an external orchestrator over the unix
// socket named in the payload. Transport failures are logged and swallowed; a broken
// or unreachable response channel never aborts the simulation.
type OrchestratorHandler struct {
	BaseHandler
	response any
}

func NewOrchestratorHandler(payload Payload) Handler {
	return &OrchestratorHandler{BaseHandler: NewBaseHandler("OrchestratorHandler", payload)}
}

func (h *OrchestratorHandler) Process(sim *Simulator) error {
	socket, ok := h.payload.Get(orchestrator.KeyResponseSocket)
	if !ok || socket == "" {
		logrus.Debugf("[tick %07d] orchestrator exit without response socket, ignoring", sim.CurrentTick())
		return nil
	}
	function, ok := h.payload.Get(orchestrator.KeyFunction)
	if !ok || function == "" {
		function = orchestrator.FunctionStatus
	}
	arguments, _ := h.payload.Get(orchestrator.KeyArguments)

	h.response = h.buildResponse(sim, function, arguments)
	if err := orchestrator.Respond(socket, h.response, sim.orchestratorTimeout()); err != nil {
		logrus.Errorf("[tick %07d] orchestrator handler: %v", sim.CurrentTick(), err)
	}
	return nil
}

func (h *OrchestratorHandler) ShouldTerminate() bool { return false }

func (h *OrchestratorHandler) buildResponse(sim *Simulator, function, arguments string) any {
	switch function {
	case orchestrator.FunctionStatus:
		return sim.status()
	case orchestrator.FunctionGetStats:
		stats, err := sim.Stats()
		if err != nil {
			return orchestrator.ErrorResponse{Error: err.Error()}
		}
		return stats
	case orchestrator.FunctionUpdateDebugFlags:
		flagger, ok := sim.engine.(DebugFlagger)
		if !ok {
			return orchestrator.ErrorResponse{Error: fmt.Sprintf("debug flags: %v", ErrUnsupported)}
		}
		return applyDebugFlags(flagger, orchestrator.ParseDebugFlags(arguments))
	default:
		return orchestrator.ErrorResponse{Error: fmt.Sprintf("Unknown function: %s", function)}
	}
}

func applyDebugFlags(flagger DebugFlagger, toggles []orchestrator.FlagToggle) orchestrator.DebugFlagsResult {
	result := orchestrator.DebugFlagsResult{
		Enabled:  []string{},
		Disabled: []string{},
		Invalid:  []string{},
	}
	for _, t := range toggles {
		if !flagger.SetDebugFlag(t.Name, t.Enable) {
			result.Invalid = append(result.Invalid, t.Name)
			continue
		}
		if t.Enable {
			result.Enabled = append(result.Enabled, t.Name)
		} else {
			result.Disabled = append(result.Disabled, t.Name)
		}
	}
	return result
}

package sim

import (
	"fmt"
	"strconv"
)

// HandlerID selects which handler an exit is routed to (the hypercall number).
type HandlerID uint32

// Payload is the string map attached to every exit. It is opaque to the run loop and
// interpreted only by the selected handler.
type Payload map[string]string

// Get returns the value for key and whether it was present.
func (p Payload) Get(key string) (string, bool) {
	v, ok := p[key]
	return v, ok
}

// Uint returns the value for key parsed as an unsigned integer. Absent or unparsable
// values report false.
func (p Payload) Uint(key string) (uint64, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Handler processes one exit.
//
// Process performs the handler's side effects; the *Simulator is only valid for the
// duration of the call. ShouldTerminate is called only after Process succeeded and
// reports whether the run loop must return.
type Handler interface {
	Process(sim *Simulator) error
	ShouldTerminate() bool
	Description() string
}

// Constructor builds a handler from the exit payload. It must not have side effects
// beyond storing the payload.
type Constructor func(payload Payload) Handler

// BaseHandler carries the payload and the default description. Built-in handlers
// embed it.
type BaseHandler struct {
	name    string
	payload Payload
}

// NewBaseHandler returns a BaseHandler for a handler called name.
func NewBaseHandler(name string, payload Payload) BaseHandler {
	if payload == nil {
		payload = Payload{}
	}
	return BaseHandler{name: name, payload: payload}
}

// Payload returns the exit payload.
func (b *BaseHandler) Payload() Payload {
	return b.payload
}

// Description returns the generic "Exit handler <name> called." message.
func (b *BaseHandler) Description() string {
	return fmt.Sprintf("Exit handler %s called.", b.name)
}

// HandlerFunc is the body of an ad-hoc handler. It returns whether to terminate.
type HandlerFunc func(sim *Simulator, payload Payload) bool

// FuncHandler is a handler backed by a plain function and a description.
type FuncHandler struct {
	BaseHandler
	fn          HandlerFunc
	description string
	terminate   bool
}

// NewFuncConstructor returns a constructor for FuncHandler.
func NewFuncConstructor(fn HandlerFunc, description string) Constructor {
	return func(payload Payload) Handler {
		return &FuncHandler{
			BaseHandler: NewBaseHandler("FuncHandler", payload),
			fn:          fn,
			description: description,
		}
	}
}

func (h *FuncHandler) Process(sim *Simulator) error {
	h.terminate = h.fn(sim, h.payload)
	return nil
}

func (h *FuncHandler) ShouldTerminate() bool {
	return h.terminate
}

func (h *FuncHandler) Description() string {
	return h.description
}

package sim

import (
	"fmt"
	"maps"
	"slices"

	"github.com/sirupsen/logrus"
)

// Registry maps handler ids to handler constructors.
//
// A Registry must only be mutated outside Simulator.Run: configure it before the
// first run or between runs. This is not checked at run time.
type Registry struct {
	constructors map[HandlerID]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[HandlerID]Constructor)}
}

// NewDefaultRegistry returns a registry holding every built-in handler.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	RegisterBuiltins(r)
	return r
}

// Register records ctor for id. Registering an id twice replaces the previous
// constructor and logs a warning.
func (r *Registry) Register(id HandlerID, ctor Constructor) {
	if ctor == nil {
		panic(fmt.Sprintf("nil constructor for handler id %d", id))
	}
	if _, exists := r.constructors[id]; exists {
		logrus.Warnf("Exit handler for id %d replaced", id)
	}
	r.constructors[id] = ctor
}

// RegisterFunc registers an ad-hoc handler: fn is called for every exit routed to id
// and its result decides whether to terminate. The constructor is returned so callers
// can build the handler directly.
func (r *Registry) RegisterFunc(id HandlerID, fn HandlerFunc, description string) Constructor {
	ctor := NewFuncConstructor(fn, description)
	r.Register(id, ctor)
	return ctor
}

// Derive registers a child of the handler at parent under the same id. wrap receives
// a freshly constructed parent handler for every exit and returns the child. The
// child inherits the parent's id because it belongs to the same family of exits.
func (r *Registry) Derive(parent HandlerID, wrap func(base Handler) Handler) error {
	base, ok := r.constructors[parent]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHandler, parent)
	}
	r.constructors[parent] = func(payload Payload) Handler {
		return wrap(base(payload))
	}
	return nil
}

// Resolve returns the constructor for id.
func (r *Registry) Resolve(id HandlerID) (Constructor, bool) {
	ctor, ok := r.constructors[id]
	return ctor, ok
}

// All returns a copy of the id to constructor mapping.
func (r *Registry) All() map[HandlerID]Constructor {
	return maps.Clone(r.constructors)
}

// IDs returns the registered ids in ascending order.
func (r *Registry) IDs() []HandlerID {
	return slices.Sorted(maps.Keys(r.constructors))
}

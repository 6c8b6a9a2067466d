package sim

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ErrSequenceExhausted is returned by Sequence.Next when no verdicts remain.
var ErrSequenceExhausted = errors.New("exit behavior sequence exhausted")

// Sequence produces one verdict per exit of a category: true terminates the run loop.
// Next returns ErrSequenceExhausted once the sequence is over; any other error aborts
// the run. Sequences may be infinite.
type Sequence interface {
	Next(sim *Simulator) (terminate bool, err error)
}

// SequenceFunc adapts a function to Sequence.
type SequenceFunc func(sim *Simulator) (bool, error)

func (f SequenceFunc) Next(sim *Simulator) (bool, error) { return f(sim) }

// ExitFunc is a single behavior step.
type ExitFunc func(sim *Simulator) (terminate bool, err error)

// Verdicts returns a finite sequence yielding vs in order.
func Verdicts(vs ...bool) Sequence {
	return &funcListSequence{fns: verdictFuncs(vs)}
}

func verdictFuncs(vs []bool) []ExitFunc {
	fns := make([]ExitFunc, len(vs))
	for i, v := range vs {
		fns[i] = func(*Simulator) (bool, error) { return v, nil }
	}
	return fns
}

// funcListSequence calls each function once, in order.
type funcListSequence struct {
	fns []ExitFunc
}

func (s *funcListSequence) Next(sim *Simulator) (bool, error) {
	if len(s.fns) == 0 {
		return false, ErrSequenceExhausted
	}
	fn := s.fns[0]
	s.fns = s.fns[1:]
	return fn(sim)
}

// repeatSequence calls the same function on every exit. It never ends.
type repeatSequence struct {
	fn ExitFunc
}

func (s *repeatSequence) Next(sim *Simulator) (bool, error) {
	return s.fn(sim)
}

// OverrideKind tags the shape a user override was given in.
type OverrideKind int

const (
	overrideInvalid OverrideKind = iota
	OverrideSequence
	OverrideFuncList
	OverrideFunc
)

func (k OverrideKind) String() string {
	switch k {
	case OverrideSequence:
		return "sequence"
	case OverrideFuncList:
		return "function list"
	case OverrideFunc:
		return "function"
	default:
		return "invalid"
	}
}

// Override is a user-supplied behavior for one exit category, in one of three shapes:
// a prebuilt Sequence, a list of functions consumed one per exit, or a single
// function called on every exit. Every shape is normalized to a Sequence once, when
// the Simulator is built.
type Override struct {
	kind OverrideKind
	seq  Sequence
	fns  []ExitFunc
	fn   ExitFunc
}

// SequenceOverride uses seq as is.
func SequenceOverride(seq Sequence) Override {
	return Override{kind: OverrideSequence, seq: seq}
}

// FuncListOverride runs fns[0] on the first exit, fns[1] on the second, and so on.
// When the list is used up the category falls back to its default behavior.
func FuncListOverride(fns ...ExitFunc) Override {
	return Override{kind: OverrideFuncList, fns: fns}
}

// FuncOverride runs fn on every exit of the category.
func FuncOverride(fn ExitFunc) Override {
	return Override{kind: OverrideFunc, fn: fn}
}

// Kind returns the shape the override was given in.
func (o Override) Kind() OverrideKind {
	return o.kind
}

// sequence normalizes the override. The function list is copied so the caller's
// slice is never consumed.
func (o Override) sequence() (Sequence, error) {
	switch o.kind {
	case OverrideSequence:
		if o.seq == nil {
			return nil, fmt.Errorf("%w: nil sequence", ErrInvalidOverride)
		}
		return o.seq, nil
	case OverrideFuncList:
		for i, fn := range o.fns {
			if fn == nil {
				return nil, fmt.Errorf("%w: nil function at index %d", ErrInvalidOverride, i)
			}
		}
		return &funcListSequence{fns: append([]ExitFunc(nil), o.fns...)}, nil
	case OverrideFunc:
		if o.fn == nil {
			return nil, fmt.Errorf("%w: nil function", ErrInvalidOverride)
		}
		return &repeatSequence{fn: o.fn}, nil
	default:
		return nil, fmt.Errorf("%w: empty override", ErrInvalidOverride)
	}
}

// OverrideFrom builds an Override from a loosely typed value, for callers that
// assemble behaviors dynamically. Accepted values:
//
//	Override, Sequence                                        -> as given
//	ExitFunc, func(*Simulator) (bool, error),
//	func(*Simulator) bool, func() bool, func()                -> single function
//	[]ExitFunc, []func() bool, []func(), []any of functions   -> function list
//
// A function returning a Sequence is almost always a mistake (the factory was passed
// instead of the sequence it builds): it is called once, its sequence is used, and a
// warning is logged.
func OverrideFrom(category ExitCategory, v any) (Override, error) {
	switch val := v.(type) {
	case Override:
		return val, nil
	case Sequence:
		return SequenceOverride(val), nil
	case func() Sequence:
		warnSequenceFactory(category)
		return SequenceOverride(val()), nil
	case func(*Simulator) Sequence:
		warnSequenceFactory(category)
		return SequenceOverride(lazySequence(val)), nil
	case []any:
		fns := make([]ExitFunc, 0, len(val))
		for i, item := range val {
			fn, ok := toExitFunc(item)
			if !ok {
				return Override{}, fmt.Errorf("%w: %q element %d is %T, not a function", ErrInvalidOverride, category, i, item)
			}
			fns = append(fns, fn)
		}
		return FuncListOverride(fns...), nil
	case []ExitFunc:
		return FuncListOverride(val...), nil
	case []func() bool:
		fns := make([]ExitFunc, len(val))
		for i, f := range val {
			fns[i], _ = toExitFunc(f)
		}
		return FuncListOverride(fns...), nil
	case []func():
		fns := make([]ExitFunc, len(val))
		for i, f := range val {
			fns[i], _ = toExitFunc(f)
		}
		return FuncListOverride(fns...), nil
	}
	if fn, ok := toExitFunc(v); ok {
		return FuncOverride(fn), nil
	}
	return Override{}, fmt.Errorf("%w: %q behavior is %T, not a sequence, function list or function", ErrInvalidOverride, category, v)
}

func toExitFunc(v any) (ExitFunc, bool) {
	switch f := v.(type) {
	case ExitFunc:
		return f, f != nil
	case func(*Simulator) (bool, error):
		return f, f != nil
	case func(*Simulator) bool:
		if f == nil {
			return nil, false
		}
		return func(sim *Simulator) (bool, error) { return f(sim), nil }, true
	case func() bool:
		if f == nil {
			return nil, false
		}
		return func(*Simulator) (bool, error) { return f(), nil }, true
	case func():
		if f == nil {
			return nil, false
		}
		// A function without a result never terminates the run.
		return func(*Simulator) (bool, error) { f(); return false, nil }, true
	default:
		return nil, false
	}
}

func warnSequenceFactory(category ExitCategory) {
	logrus.Warnf("Behavior passed for %q exit is a function that returns a sequence, not a sequence. "+
		"Using the sequence it returns; pass the sequence itself to silence this warning.", category)
}

// lazySequence builds the inner sequence from the first exit's simulator.
func lazySequence(factory func(*Simulator) Sequence) Sequence {
	var inner Sequence
	return SequenceFunc(func(sim *Simulator) (bool, error) {
		if inner == nil {
			inner = factory(sim)
			if inner == nil {
				return false, ErrSequenceExhausted
			}
		}
		return inner.Next(sim)
	})
}

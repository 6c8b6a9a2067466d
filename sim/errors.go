package sim

import "errors"

// Configuration errors. Rejected eagerly, never coerced.
var (
	ErrInvalidID            = errors.New("invalid simulation id")
	ErrIDAlreadySet         = errors.New("simulation id already set")
	ErrMaxTicksAboveCeiling = errors.New("max ticks above engine ceiling")
	ErrInvalidOverride      = errors.New("invalid exit behavior override")
	ErrInvalidConfig        = errors.New("invalid simulator config")
)

// Run-time errors.
var (
	// ErrProtocolViolation means the observed exit category did not match the
	// configured expected order. It aborts the run.
	ErrProtocolViolation = errors.New("exit order protocol violation")
	ErrUnknownExitCause  = errors.New("unknown exit cause")
	ErrNoDefaultBehavior = errors.New("no default behavior for exit category")
	ErrUnknownHandler    = errors.New("no handler registered for id")
)

// Lifecycle and capability errors.
var (
	ErrAlreadyInstantiated = errors.New("simulator already instantiated")
	ErrNotInstantiated     = errors.New("simulator not instantiated")
	ErrUnsupported         = errors.New("engine does not support operation")
)

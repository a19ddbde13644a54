// Package errors provides structured error types for mtstate.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the identity of the state involved, a detail message,
// an optional engine traceback, an argument position and the cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseCall, errors.KindBadArgument).
//		Object(errors.StateName("worker")).
//		Index(2).
//		Detail("unsupported type map[string]int").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.ObjectClosed(errors.PhaseCall, errors.StateID(id))
//	err := errors.UnknownObject(errors.PhaseFind, errors.StateName("worker"))
//
// The package-level sentinels (ErrObjectClosed, ErrInterrupted, ...) carry no
// phase and match any error of the same kind:
//
//	if errors.Is(err, mterrors.ErrInterrupted) { ... }
//
// A timed call that does not complete is not an error; see states.Handle.TCall.
package errors

package errors

import (
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseCreate    Phase = "create"    // state allocation and registration
	PhaseSetup     Phase = "setup"     // engine setup of a new state
	PhaseFind      Phase = "find"      // lookup by name or id
	PhaseCall      Phase = "call"      // synchronous invocation
	PhaseClose     Phase = "close"     // explicit close
	PhaseInterrupt Phase = "interrupt" // interrupt hook management
	PhaseEncode    Phase = "encode"    // Go to engine values
	PhaseDecode    Phase = "decode"    // engine to Go values
	PhaseDeliver   Phase = "deliver"   // out-of-band message delivery
	PhaseConfig    Phase = "config"    // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	KindConcurrentAccess Kind = "concurrent_access"
	KindObjectExists     Kind = "object_exists"
	KindObjectClosed     Kind = "object_closed"
	KindUnknownObject    Kind = "unknown_object"
	KindAmbiguousName    Kind = "ambiguous_name"
	KindInvokingState    Kind = "invoking_state"
	KindStateResult      Kind = "state_result"
	KindInterrupted      Kind = "interrupted"
	KindOutOfMemory      Kind = "out_of_memory"
	KindBadArgument      Kind = "bad_argument"
	KindInvalidInput     Kind = "invalid_input"
	KindUnsupported      Kind = "unsupported"
)

// Kinds lists every kind in declaration order.
var Kinds = []Kind{
	KindConcurrentAccess,
	KindObjectExists,
	KindObjectClosed,
	KindUnknownObject,
	KindAmbiguousName,
	KindInvokingState,
	KindStateResult,
	KindInterrupted,
	KindOutOfMemory,
	KindBadArgument,
	KindInvalidInput,
	KindUnsupported,
}

// Sentinels for errors.Is. They carry no phase, so they match any phase.
var (
	ErrConcurrentAccess = &Error{Kind: KindConcurrentAccess}
	ErrObjectExists     = &Error{Kind: KindObjectExists}
	ErrObjectClosed     = &Error{Kind: KindObjectClosed}
	ErrUnknownObject    = &Error{Kind: KindUnknownObject}
	ErrAmbiguousName    = &Error{Kind: KindAmbiguousName}
	ErrInvokingState    = &Error{Kind: KindInvokingState}
	ErrStateResult      = &Error{Kind: KindStateResult}
	ErrInterrupted      = &Error{Kind: KindInterrupted}
	ErrOutOfMemory      = &Error{Kind: KindOutOfMemory}
	ErrBadArgument      = &Error{Kind: KindBadArgument}
)

// Error is the structured error type used throughout the module
type Error struct {
	Cause     error
	Phase     Phase
	Kind      Kind
	Object    string // identity of the state involved, e.g. `state name "worker"`
	Detail    string
	Traceback string
	Index     int // 1-based argument position, 0 if not argument related
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	if e.Phase != "" {
		b.WriteByte('[')
		b.WriteString(string(e.Phase))
		b.WriteString("] ")
	}
	b.WriteString(string(e.Kind))

	if e.Object != "" {
		b.WriteString(" at ")
		b.WriteString(e.Object)
	}

	if e.Index > 0 {
		b.WriteString(": bad argument #")
		b.WriteString(strconv.Itoa(e.Index))
	}

	if e.Detail != "" {
		if e.Index > 0 {
			b.WriteString(" (")
			b.WriteString(e.Detail)
			b.WriteByte(')')
		} else {
			b.WriteString(": ")
			b.WriteString(e.Detail)
		}
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Message returns the error text followed by the traceback, if any.
func (e *Error) Message() string {
	if e.Traceback == "" {
		return e.Error()
	}
	return e.Error() + "\n" + e.Traceback
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target without a phase matches on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase == "" {
		return e.Kind == t.Kind
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// WithObject returns a copy of e carrying the given object identity.
// An identity that is already set is kept.
func (e *Error) WithObject(object string) *Error {
	if e.Object != "" {
		return e
	}
	c := *e
	c.Object = object
	return &c
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Object sets the identity of the state involved
func (b *Builder) Object(object string) *Builder {
	b.err.Object = object
	return b
}

// Index sets the 1-based argument position
func (b *Builder) Index(i int) *Builder {
	b.err.Index = i
	return b
}

// Traceback sets the engine stack trace
func (b *Builder) Traceback(tb string) *Builder {
	b.err.Traceback = tb
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// ConcurrentAccess creates an error for an exclusive operation on a busy state
func ConcurrentAccess(phase Phase, object string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindConcurrentAccess,
		Object: object,
	}
}

// ObjectClosed creates an error for an operation on a closed state
func ObjectClosed(phase Phase, object string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindObjectClosed,
		Object: object,
	}
}

// UnknownObject creates a lookup miss error
func UnknownObject(phase Phase, object string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnknownObject,
		Object: object,
	}
}

// AmbiguousName creates an error for a name matching several states
func AmbiguousName(phase Phase, object string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAmbiguousName,
		Object: object,
	}
}

// InvokingState wraps an error raised by the engine while executing
func InvokingState(phase Phase, object, detail, traceback string, cause error) *Error {
	return &Error{
		Phase:     phase,
		Kind:      KindInvokingState,
		Object:    object,
		Detail:    detail,
		Traceback: traceback,
		Cause:     cause,
	}
}

// StateResult creates an error for a result violating the required shape
func StateResult(phase Phase, object, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindStateResult,
		Object: object,
		Detail: detail,
	}
}

// Interrupted creates an error for an aborted call
func Interrupted(phase Phase, object string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInterrupted,
		Object: object,
		Cause:  cause,
	}
}

// OutOfMemory creates an allocation failure error
func OutOfMemory(phase Phase, bytes int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfMemory,
		Detail: fmt.Sprintf("failed to allocate %d bytes", bytes),
	}
}

// BadArgument creates an argument position error
func BadArgument(phase Phase, index int, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindBadArgument,
		Index:  index,
		Detail: detail,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// As finds the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// StateName formats the identity of a named state.
func StateName(name string) string {
	return "state name " + strconv.Quote(name)
}

// StateID formats the identity of a state by id.
func StateID(id uint64) string {
	return "state id " + strconv.FormatUint(id, 10)
}

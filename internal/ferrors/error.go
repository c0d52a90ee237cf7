// Package ferrors provides the structured error kinds used throughout the
// runtime. Every failure the engine surfaces to callers or routes through an
// "error" edge carries one of these kinds so upstream logic (policy, event
// bus subscribers, the API worker) can branch on category without parsing
// messages.
package ferrors

import (
	"errors"
	"fmt"
)

// Kind enumerates the error categories the runtime distinguishes.
type Kind string

const (
	// GraphInvalid marks bad YAML or a node definition that fails to
	// compile. LoadGraph/ReloadDefinitions reject such a graph atomically;
	// an unknown node kind is not checked at load time.
	GraphInvalid Kind = "graph_invalid"
	// NodeMissing marks routing to a UUID absent from the NodeRouter.
	NodeMissing Kind = "node_missing"
	// TicketNotFound marks a pin or recover call against an unknown ticket id.
	TicketNotFound Kind = "ticket_not_found"
	// SecretMissing marks a prep-stage secret lookup failure.
	SecretMissing Kind = "secret_missing"
	// AuthFailed marks a prep-stage auth resolution failure.
	AuthFailed Kind = "auth_failed"
	// Timeout marks an exec-stage deadline exceeded.
	Timeout Kind = "timeout"
	// ScriptError marks a logic/switch/script evaluation failure.
	ScriptError Kind = "script_error"
	// ToolError marks a Tool.run failure.
	ToolError Kind = "tool_error"
	// Internal marks a recovered panic or other unexpected worker failure.
	Internal Kind = "internal"
)

// Error is the concrete structured error type the runtime returns and
// propagates through metadata and trace history.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New constructs an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind wrapping an existing cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap supports errors.Is/errors.As across the wrapped cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// KindOf extracts the Kind from err, defaulting to Internal when err does
// not carry a structured kind.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// Is reports whether err (or a wrapped cause) carries the given kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

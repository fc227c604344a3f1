// Package ledgererr defines the error taxonomy shared by every core
// subsystem (EventStore, PeerRegistry, Gossip, Merger, ConsensusEngine,
// Worker), per the design in spec.md §7. Each kind wraps an underlying
// cause so callers can both switch on Kind and unwrap to the original
// error with the stdlib errors package.
package ledgererr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purposes of recovery/backoff/deletion
// decisions made by the worker and gossip client.
type Kind string

const (
	// KindDuplicate is benign: the event/block/tx was already known.
	KindDuplicate Kind = "duplicate"
	// KindMissingParents is recoverable: the caller should fetch the
	// named hashes and retry the insert.
	KindMissingParents Kind = "missing_parents"
	// KindValidation marks a malformed structure; IsFatal reports it as
	// fatal.
	KindValidation Kind = "validation"
	// KindSyntax marks semantically invalid configuration or event
	// content; fatal for the containing change.
	KindSyntax Kind = "syntax"
	// KindNetwork marks a transport failure; non-fatal, drives backoff.
	KindNetwork Kind = "network"
	// KindNotFound marks an unknown ledger or peer; session-fatal.
	KindNotFound Kind = "not_found"
	// KindLoad marks backpressure; the producer should retry later.
	KindLoad Kind = "load"
	// KindProtocolViolation is fatal and results in peer deletion:
	// signed-payload mismatch, fork attempt by a non-witness, or an
	// impossible mergeHeight.
	KindProtocolViolation Kind = "protocol_violation"
)

// Error is the common error type for all ledger subsystems.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// Hashes carries the event hashes a MissingParents error still
	// needs fetched before the insert that produced it can be retried.
	Hashes []string

	// Network carries the transport-level detail of a KindNetwork error.
	Network *NetworkDetail
}

// NetworkDetail mirrors spec.md §6's transport error shape.
type NetworkDetail struct {
	Address        string
	Code           string
	Errno          int
	Port           int
	HTTPStatusCode int // 0 if not an HTTP transport
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, ledgererr.ErrX) style checks by comparing Kind
// against a bare *Error carrying only a Kind (see the Err* sentinels below).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Cause == nil
}

// New builds a *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap builds a *Error of the given kind around cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// MissingParents builds a KindMissingParents error naming the hashes that
// must be fetched before the triggering insert can be retried.
func MissingParents(hashes []string) *Error {
	return &Error{Kind: KindMissingParents, Message: "missing parent events", Hashes: hashes}
}

// NetworkFailure builds a KindNetwork error carrying transport detail.
func NetworkFailure(detail NetworkDetail, cause error) *Error {
	return &Error{Kind: KindNetwork, Message: "transport failure", Cause: cause, Network: &detail}
}

// sentinel instances for errors.Is comparisons against a bare kind.
var (
	ErrDuplicate         = &Error{Kind: KindDuplicate}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrSyntax            = &Error{Kind: KindSyntax}
	ErrNetwork           = &Error{Kind: KindNetwork}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrLoad              = &Error{Kind: KindLoad}
	ErrProtocolViolation = &Error{Kind: KindProtocolViolation}
)

// KindOf extracts the Kind of err if it is (or wraps) a *Error, ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsFatal reports whether err's kind is fatal for the offending peer
// session per spec.md §7 (all but Duplicate/MissingParents/Load/Network).
func IsFatal(err error) bool {
	kind, ok := KindOf(err)
	if !ok {
		return false
	}
	switch kind {
	case KindDuplicate, KindMissingParents, KindLoad, KindNetwork:
		return false
	default:
		return true
	}
}

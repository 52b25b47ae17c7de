// Package ledgererr defines the ledger's structured error kinds. Kind
// participates in equality comparisons; OpIndex, Reason and Cause are
// diagnostic attachments, not part of what callers switch on.
package ledgererr

import "fmt"

// Kind classifies a ledger error.
type Kind int

const (
	// InvalidTransaction covers malformed structure, missing/wrong
	// signatures, arithmetic overflow, unbalanced transfers, and rejected
	// confidential proofs. Per-transaction, never affects the overlay.
	InvalidTransaction Kind = iota
	// ConflictWithState covers a spent/unknown input, a duplicate asset
	// code, a non-increasing issuance seqnum, or a memo update on a
	// non-updatable asset. Per-transaction, never affects the overlay.
	ConflictWithState
	// BlockStateError is a programming error by the caller: apply without
	// start, or finish without start.
	BlockStateError
	// StorageError is a persistence failure. During FinishBlock it rolls
	// back the whole block.
	StorageError
	// CacheRepairSkipped marks a derived index entry that could not be
	// rebuilt because the data it depends on is unavailable. Logged and
	// skipped; never returned to a writer.
	CacheRepairSkipped
)

func (k Kind) String() string {
	switch k {
	case InvalidTransaction:
		return "InvalidTransaction"
	case ConflictWithState:
		return "ConflictWithState"
	case BlockStateError:
		return "BlockStateError"
	case StorageError:
		return "StorageError"
	case CacheRepairSkipped:
		return "CacheRepairSkipped"
	default:
		return "UnknownErrorKind"
	}
}

// Error is the ledger's structured error type. Two Errors are considered
// the "same failure" when their Kinds match (see Is); OpIndex, Reason and
// Cause are attachments for diagnostics and do not affect that comparison.
type Error struct {
	Kind    Kind
	OpIndex int // index of the offending operation within its transaction; -1 if not applicable
	Reason  string
	Cause   error
}

func (e *Error) Error() string {
	if e.OpIndex >= 0 {
		return fmt.Sprintf("%s: op %d: %s", e.Kind, e.OpIndex, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an Error with no offending operation index.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, OpIndex: -1, Reason: reason}
}

// At builds an Error naming the offending operation index.
func At(kind Kind, opIndex int, reason string) *Error {
	return &Error{Kind: kind, OpIndex: opIndex, Reason: reason}
}

// Wrap attaches a cause to an existing error construction.
func Wrap(kind Kind, opIndex int, reason string, cause error) *Error {
	return &Error{Kind: kind, OpIndex: opIndex, Reason: reason, Cause: cause}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}

package escrow

import "errors"

// The engine folds every failure into one of four categories so callers (and
// the RPC layer) can map rejections without string matching. All of them are
// atomic-failure errors: the ledger guarantees no partial mutation survives a
// rejected transition.
var (
	// ErrValidation marks malformed input rejected before any state change.
	ErrValidation = errors.New("escrow: invalid input")
	// ErrUnauthorized marks a caller that lacks the role an operation requires.
	ErrUnauthorized = errors.New("escrow: unauthorized caller")
	// ErrInvalidState marks an operation that is not legal for the current
	// escrow or milestone status.
	ErrInvalidState = errors.New("escrow: invalid state transition")
	// ErrNotFound marks an unknown escrow id or out-of-range milestone index.
	ErrNotFound = errors.New("escrow: not found")
	// ErrInsufficientFunds marks a funding transfer the payer cannot cover.
	ErrInsufficientFunds = errors.New("escrow: insufficient balance")
)

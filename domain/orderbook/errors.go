package orderbook

import "github.com/cockroachdb/errors"

var (
	// ErrInvalidRequest marks input rejected before any state changed.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidState marks a violated book invariant, such as canceling
	// an entry that is no longer active.
	ErrInvalidState = errors.New("invalid state")
)

package exchange

import "github.com/cockroachdb/errors"

var (
	// ErrUnsupported is returned for order kinds and operations the
	// exchange declares but does not execute.
	ErrUnsupported   = errors.New("not supported")
	ErrOrderNotFound = errors.New("order not found")
)

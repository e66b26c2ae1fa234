// Package orderbook is the matching core of a single instrument.
//
// A Book holds two price-time ordered queues of entries and matches a
// newly placed entry against the opposite queue. It is single-writer:
// the book performs no locking and every call for one book must come
// from the same goroutine (see service.Host).
//
// Callbacks and listeners are not invoked from inside the matching
// walk. Events are queued while the book is mutated and delivered once
// the pass is complete, in the order they were produced.
package orderbook

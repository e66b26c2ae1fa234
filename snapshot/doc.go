// Package snapshot persists point-in-time copies of every book: the
// resting orders needed to rebuild it and the aggregated depth for
// readers. A snapshot is tagged with the last journaled command it
// includes, so recovery loads it and replays only newer records.
package snapshot

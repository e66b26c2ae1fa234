// Package service runs the matching engine: a Host with one worker per
// symbol, the OrderService that journals and dispatches commands, the
// Recorder that moves book events to the outbox, and recovery from
// snapshots and the journal.
//
// It provides a clean API for placing, cancelling, and querying orders,
// decoupled from network transports like gRPC.
package service

// Package testutil provides simulated device transports, an in-memory NATS
// stand-in and log capture for package tests.
//
// The transports satisfy transport.Transport without importing it:
//
//   - Replay feeds captured bytes in fixed-size chunks, then times out
//   - Scripted answers each written request with a canned reply
//   - Silent always times out
//   - Failing fails every call with an I/O error
package testutil

// Package bridge forwards device traffic between the in-process bus and
// external brokers.
//
// Outbound, the bridge subscribes to a set of device addresses and hands
// every data and status message to its sinks as JSON:
//
//	devices.<subject>.data      reading published by the driver
//	devices.<subject>.status    link state change
//
// where <subject> is types.Address.Subject(). The NATS sink can also keep
// the last reading per device in a JetStream KV bucket; the Redis sink
// publishes on channels of the same shape and stores the last reading
// under <prefix>:last:<subject>.
//
// Inbound, the bridge listens on devices.<subject>.command for JSON
// command envelopes and routes them to the owning driver.
//
// Sinks run on a bounded worker pool. When brokers fall behind, messages
// are dropped and counted rather than delaying drivers.
package bridge

// Package fanout pushes registry snapshots to long-lived subscribers.
//
// A Multiplexer owns a fixed table of subscriber slots. Subscribe claims the
// first free slot and, when enabled, immediately sends the current snapshot.
// Run waits for registry updates: on an update every active subscriber gets
// the full snapshot, and after a quiet keepalive interval every subscriber
// gets a keepalive instead. A subscriber whose write fails is evicted on the
// spot; the others are unaffected.
//
// Subscribers are Sinks. EventStream frames writes as Server-Sent Events:
//
//	data: [{"mac":"AA:BB:CC:00:00:01",...}]
//
//	: keepalive
//
// Locking: the snapshot is serialised under the registry lock, which is
// released before the slot table lock is taken. The two are never held
// together.
package fanout

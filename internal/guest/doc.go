// Package guest holds the bounded in-memory registry of peer devices.
//
// A guest is created the first time a message arrives from an unseen link
// address and is updated in place on every later message. Records live for
// the lifetime of the process; there is no eviction. Once the registry holds
// Capacity guests, reports from new addresses are dropped and logged.
//
// # Change notification
//
// Every successful upsert bumps a generation counter and wakes all waiters
// (broadcast, not a queue of deltas). Consumers re-read the whole collection
// on wake:
//
//	w := registry.Watch()
//	for {
//	    if !w.WaitForUpdate(ctx, 30*time.Second) {
//	        // timeout or shutdown
//	        continue
//	    }
//	    data, _ := registry.SnapshotJSON()
//	    push(data)
//	}
//
// A Watcher keeps its own cursor, so an update that lands between two waits
// is reported by the next wait instead of being lost.
package guest

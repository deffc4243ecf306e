// Package harness runs end-to-end sync scenarios against a real Runtime.
//
// A scenario starts a Runtime over a fresh SQLite file with a manual clock,
// deterministic idempotency keys and a scripted remote, then executes its
// steps in order and checks the final state.
//
// # Scenario Format
//
//	name: offline_replay
//	description: "Edits made offline replay once connectivity returns"
//	online: false
//	fetch:
//	  - type: product
//	    key: all
//	    entities:
//	      - { id: p-1, data: { name: Mug, price: 12 } }
//	steps:
//	  - mutate: { action: update, type: product, id: p-1, data: { price: 10 } }
//	    expect: { status: queued }
//	  - fail: { op: update, error: connectivity }
//	  - online: true
//	  - read: { type: product, key: all }
//	    expect: { count: 1 }
//	assertions:
//	  - type: queue_length
//	    count: 0
//	  - type: entity
//	    entity_type: product
//	    id: p-1
//	    expect: { price: 10 }
//
// # Steps
//
//   - read: ReadThroughCache for (type, key)
//   - mutate: an optimistic create, update or delete
//   - event: a realtime change event applied through the reconciler
//   - fail: scripts the remote's next answers for one operation
//   - online / offline: platform connectivity signals (online runs the
//     full reconnect sequence before the next step)
//   - advance: moves the clock by a Go duration ("10m")
//   - refresh: refreshes stale cache entries
//
// # Assertion Types
//
//   - queue_length: number of operations left in the sync queue
//   - remote_calls: count and/or idempotency keys of calls to one operation
//   - entity: subset match on an entity's data
//   - entity_absent: the entity is not in the authoritative store
//   - connection: the monitor's state ("online", "offline", "reconnecting")
//   - metrics: subset match on total_requests and cache_hits
//
// Every step and every remote call it caused is recorded in the trace, which
// RunWithGolden compares against testdata/golden/{name}.golden.
package harness

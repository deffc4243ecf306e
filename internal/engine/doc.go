// Package engine holds the authoritative store behind a single-writer
// event loop.
//
// Event processing flow:
//  1. Writers submit events (upsert, delete, load) to a FIFO queue.
//  2. Engine.Run dequeues events one at a time.
//  3. processEvent validates the source, applies the change to a
//     copy-on-write snapshot and publishes it atomically.
//  4. The submitter receives the previous value so it can roll back.
//
// Only three writers exist: the mutation manager, the realtime reconciler
// and the read-through loader. Events from any other source are refused.
//
// Every published snapshot is stamped with a seq from the logical Clock.
// An event that leaves the store byte-identical publishes nothing, so
// replaying the same upsert twice is indistinguishable from applying it once.
package engine

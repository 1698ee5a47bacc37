/*
Package crdtdoc implements the CRDT Host: one live document per room,
structured as play[tag][elementId] -> value with per-cell Lamport/LWW
versioning, grounded on the same timestamp-then-origin conflict resolution
an operation-log CRDT service uses for concurrent writes.

	┌────────────────── Doc ──────────────────┐
	│  play: map[tag]map[elementId]cell        │
	│  clock: LamportClock                     │
	│  resetEpoch: int64                       │
	│                                           │
	│  Transact(origin, fn) ─┬─> mutate play    │
	│                        └─> publish Update │
	│                                           │
	│  Snapshot()/Load()/Merge() <-> storage    │
	│  Replace() <- admin hard-reset/restore    │
	└───────────────────────────────────────────┘

Transact is the only mutation path; every write it makes is stamped with
the transaction's Lamport tick and origin tag, and subscribers are notified
only after the transaction has fully committed. Replace discards per-cell
history entirely and re-stamps every surviving value at a fresh epoch,
which is what makes hard-reset and restore-raw produce a CRDT with no
tombstones rather than merely a CRDT with a large one.
*/
package crdtdoc

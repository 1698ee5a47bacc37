/*
Package room is the composition root: one Room per logical room ID,
single-writer over its CRDT document, its durable storage, its bridge
observer loops, and its lease alarm. Registry is the process-wide
dispatcher that lazily creates rooms, resolves redirects, and implements
bridge.Party so a mirrored RPC to a locally-hosted room never leaves the
process.

	Registry.Fetch(roomID, env)
	        │
	        ▼ (local)                         ▼ (remote, HTTPParty fallback)
	  Registry.rooms[roomID] ──────▶ Room.HandleEnvelope(env)
	        │
	        ├─ doc *crdtdoc.Doc            (one per room, §4.3)
	        ├─ store storage.Store          (shared Persistence + per-room Room Storage)
	        ├─ conns map[Conn]struct{}      (live sync sockets, for broadcast/close)
	        ├─ lease *lease.Manager         (shared across rooms, keyed by ID)
	        └─ observers: source loop, consumer loop (§4.5.4), started once

A Room never calls another room's CRDT directly: every cross-room
mutation goes through Registry.Fetch, which is the only thing that knows
whether the target is local or remote.
*/
package room

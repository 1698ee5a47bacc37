/*
Package bridge implements cross-room subtree mirroring: extracting and
applying play subtrees, the room-to-room RPC envelope and Party mailbox
abstraction, and the permission/role filtering rules that decide what a
recipient accepts from a sender.

	source room                              consumer room
	┌─────────────┐   apply-subtrees   ┌─────────────┐
	│ Doc.Transact│ ───originKind=src─>│ Doc.Transact│
	│ origin=C2S  │<──originKind=cons──│ origin=S2C  │
	└─────────────┘    (via Party)     └─────────────┘

Extract/Assign implement the subtree copy and the deep-replace policy
(Assign writes a replacement value per element rather than editing nested
maps in place); filter.go implements the role-dependent drop rules; rpc.go defines
the Envelope wire shape and the Party interface that a room dispatches RPCs
through without needing to know whether the target room is local or
remote.
*/
package bridge

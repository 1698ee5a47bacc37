/*
Package syncserver is the §4.4 Sync Endpoint: it upgrades a client
request to a WebSocket, parses its sharedReferences/sharedElements/
clientResetEpoch query parameters, resolves the room through
pkg/normalize and pkg/room's Registry, and relays the CRDT sync protocol
between the socket and the room's live document.

	client                         syncserver                         room.Room
	  │  GET /room/{id}?sharedReferences=...                              │
	  │ ───────────────────────────────────────▶                         │
	  │                              parse query, canonicalize, Register │
	  │                              ◀──────────────────────────────────▶│
	  │  binary: op frame (client edit)                                  │
	  │ ───────────────────────────────────────▶ Doc.Transact(connID)    │
	  │  binary: op frame (relay of another client's edit)                │
	  │ ◀───────────────────────────────────────                         │
	  │  text: {"type":"room-reset",...}                                 │
	  │ ◀─────────────────────────────────────── (admin reset broadcast) │

Each connection runs a read pump (inbound frames) and a write pump
(outbound frames serialized through a buffered channel), the same shape
as a typical gorilla/websocket chat hub.
*/
package syncserver

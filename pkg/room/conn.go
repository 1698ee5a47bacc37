package room

// Conn is the narrow surface a Room needs from a live sync WebSocket
// connection: enough to relay pass-through broadcasts and to force a
// reload on admin reset, without pkg/room importing gorilla/websocket
// directly. pkg/syncserver provides the concrete implementation.
type Conn interface {
	// ID uniquely identifies the connection; used as the CRDT transact
	// origin for edits that client makes, so the relay loop can skip
	// echoing an update back to the connection that produced it.
	ID() string
	// SendText delivers a text-frame payload (JSON control message or a
	// verbatim pass-through broadcast).
	SendText(data []byte) error
	// SendBinary delivers a CRDT sync protocol frame.
	SendBinary(data []byte) error
	// Close closes the connection with a WebSocket close code and reason,
	// per §6's 4000 "Room Reset by Admin" / "Room Restored by Admin".
	Close(code int, reason string) error
}

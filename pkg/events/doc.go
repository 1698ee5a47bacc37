/*
Package events is a small in-memory pub/sub broker used to fan out
room-level notifications — resets, subscriber churn, bridge activity — to
anything that wants to observe a room without coupling to it directly.

Publish only queues the event for the broker's distribution loop, waiting
only while that 100-event queue is full, and delivery is best-effort: a
subscriber with a full buffer misses the event rather than stalling
distribution. This is
the same trade-off the room's CRDT autosave and bridge fan-out already
make elsewhere — freshness over guaranteed delivery.
*/
package events

/*
Package storage implements the DocumentStore and RoomStore interfaces on
top of bbolt: one playroom.db file with a bucket per entity (documents,
room_redirects, subscribers, shared_refs, shared_permissions, room_meta).
Subscribers and shared refs are keyed "{roomID}\x00{peerRoomID}" within
their shared buckets and listed with a cursor prefix scan, since a room's
rows aren't large enough to warrant a bucket per room.
*/
package storage

/*
Package types defines the core data structures shared by every room
coordination package: subscribers, shared references, shared permissions,
room redirects, and the default lease/prune timings. It deliberately holds
no behavior beyond small helpers (Expired) — the room, bridge, and storage
packages own the logic that operates on these shapes.
*/
package types

/*
Package admin implements the §4.7 Admin Control Plane: token-gated
inspection and destructive operations mounted at
GET|POST /room/{roomId}/admin/*, bypassing the sync stream to read and
mutate storage and the live CRDT directly.
*/
package admin

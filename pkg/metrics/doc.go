/*
Package metrics defines and registers the Prometheus metrics exposed by
playroomd: active room count, subscriber/connection gauges, bridge RPC
counters and latency, autosave duration and skip reasons, lease-alarm
prune counts, and admin request counts. Handler exposes them over HTTP
for scraping; Timer is a small duration-measuring helper used by the room
package to time autosaves and bridge RPCs.
*/
package metrics

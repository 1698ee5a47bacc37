// Package lease arms the per-room prune alarm described in the lease and
// alarm design: subscribers and shared references past their lease expire
// when the alarm fires, and the alarm reschedules itself only while work
// remains.
package lease

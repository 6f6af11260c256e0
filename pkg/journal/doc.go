// Package journal keeps an event-sourced record of each run in Redis
//
// Lifecycle events from the engine are appended to a timebox aggregate
// keyed by run ID, and folded into a RunState projection. A finished run
// can be hibernated out of Redis into blob storage and is still readable
// afterwards
package journal

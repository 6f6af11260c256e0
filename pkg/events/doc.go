// Package events models the lifecycle of a run as a stream of events
//
// The engine emits events through whatever Observer the run's context
// carries. Hub republishes them onto a caravan topic so any number of
// consumers can follow a run, and Queue drains a consumer into a handler
package events

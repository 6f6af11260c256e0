// Package engine implements the graph execution core
//
// Nodes run a three-phase lifecycle (prep, exec, post) against a shared
// store and return an Action. A Flow walks successor edges keyed by those
// actions until a node's action has no registered successor. Exec is the
// only phase subject to the node's RetryPolicy and fallback. Batch and
// parallel variants apply Exec to every item produced by Prep, and the
// Async variants mirror the whole contract with context-aware phases that
// run behind a Future
package engine

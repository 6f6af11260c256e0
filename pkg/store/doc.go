// Package store provides the shared key/value medium through which nodes
// exchange data during a run
//
// A Store is safe for concurrent use. Writes to a key are visible to any
// later read of that key; there is no atomicity across distinct keys
package store

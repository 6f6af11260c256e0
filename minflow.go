// Package minflow is a graph-based execution engine: nodes linked by named
// actions, walked by a flow until no further transition exists
package minflow

const (
	Name    = "minflow"
	Version = "0.1.0"
)

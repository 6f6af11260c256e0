package engine

import "maps"

type (
	// Action labels the transition a node requests when it finishes
	Action string

	// Params are the configuration values a node sees for a run
	Params map[string]any
)

const (
	// NoAction ends a traversal unless the node has a DefaultAction
	// successor
	NoAction Action = ""

	// DefaultAction keys the successor followed when a node returns
	// NoAction
	DefaultAction Action = "default"
)

func (a Action) key() Action {
	if a == NoAction {
		return DefaultAction
	}
	return a
}

// Merge returns a new Params holding p overlaid by other
func (p Params) Merge(other Params) Params {
	res := make(Params, len(p)+len(other))
	maps.Copy(res, p)
	maps.Copy(res, other)
	return res
}

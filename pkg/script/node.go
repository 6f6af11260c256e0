package script

import (
	"errors"
	"fmt"

	"github.com/kode4food/minflow/pkg/engine"
	"github.com/kode4food/minflow/pkg/store"
)

type (
	// LuaNode is a blocking node that runs a Lua chunk in its Exec phase.
	//
	// Prep collects the declared input keys from the store, or the whole
	// store as a table named store when no inputs are declared. The node's
	// params are always bound as params. Post writes every string-keyed
	// entry of the returned table into the store, except action, which
	// becomes the node's action when it is a string. A non-table result is
	// stored under result
	LuaNode struct {
		scriptNode
	}

	// AleNode is the Ale counterpart of LuaNode. The source is the body of
	// a lambda over the same arguments, maps arrive as objects keyed by
	// keyword, and a returned object is written into the store the way a
	// Lua table is
	AleNode struct {
		scriptNode
	}

	scriptNode struct {
		*engine.Base
		run    func(args map[string]any) (any, error)
		inputs []string
	}
)

const (
	ParamsArg = "params"
	StoreArg  = "store"
	ActionKey = "action"
	ResultKey = "result"
)

var ErrScriptAction = errors.New("script action must be a string")

var (
	sharedLua = NewLuaEnv()
	sharedAle = NewAleEnv()
)

var (
	_ engine.Node = (*LuaNode)(nil)
	_ engine.Node = (*AleNode)(nil)
)

// NewLuaNode compiles src into a node reading the given input keys
func NewLuaNode(
	src string, inputs []string, opts ...engine.Option,
) (*LuaNode, error) {
	return NewLuaNodeWithEnv(sharedLua, src, inputs, opts...)
}

// NewLuaNodeWithEnv compiles src using a specific LuaEnv
func NewLuaNodeWithEnv(
	env *LuaEnv, src string, inputs []string, opts ...engine.Option,
) (*LuaNode, error) {
	compiled, err := env.Compile(src, scriptArgs(inputs))
	if err != nil {
		return nil, err
	}
	run := func(args map[string]any) (any, error) {
		return env.Execute(compiled, args)
	}
	return &LuaNode{scriptNode: newScriptNode(inputs, opts, run)}, nil
}

// NewAleNode compiles src into a node reading the given input keys
func NewAleNode(
	src string, inputs []string, opts ...engine.Option,
) (*AleNode, error) {
	return NewAleNodeWithEnv(sharedAle, src, inputs, opts...)
}

// NewAleNodeWithEnv compiles src using a specific AleEnv
func NewAleNodeWithEnv(
	env *AleEnv, src string, inputs []string, opts ...engine.Option,
) (*AleNode, error) {
	compiled, err := env.Compile(src, scriptArgs(inputs))
	if err != nil {
		return nil, err
	}
	run := func(args map[string]any) (any, error) {
		return env.Execute(compiled, args)
	}
	return &AleNode{scriptNode: newScriptNode(inputs, opts, run)}, nil
}

func newScriptNode(
	inputs []string, opts []engine.Option,
	run func(map[string]any) (any, error),
) scriptNode {
	return scriptNode{
		Base:   engine.NewBase(opts...),
		run:    run,
		inputs: inputs,
	}
}

func scriptArgs(inputs []string) []string {
	argNames := append([]string{ParamsArg}, inputs...)
	if len(inputs) == 0 {
		argNames = append(argNames, StoreArg)
	}
	return argNames
}

// Prep gathers the script's arguments from the store and params
func (n *scriptNode) Prep(s store.Store) (any, error) {
	args := map[string]any{
		ParamsArg: map[string]any(n.Params()),
	}
	if len(n.inputs) == 0 {
		args[StoreArg] = storeContents(s)
		return args, nil
	}
	for _, key := range n.inputs {
		if v, ok := s.Get(key); ok {
			args[key] = v
		}
	}
	return args, nil
}

// Exec runs the script. Runtime errors are retried like any other Exec
// failure
func (n *scriptNode) Exec(prep any) (any, error) {
	args, _ := prep.(map[string]any)
	return n.run(args)
}

// Post writes the script's result into the store and returns its action
func (n *scriptNode) Post(s store.Store, _, exec any) (engine.Action, error) {
	switch res := exec.(type) {
	case nil:
		return engine.NoAction, nil
	case map[string]any:
		act, err := resultAction(res)
		if err != nil {
			return engine.NoAction, err
		}
		for k, v := range res {
			if k != ActionKey {
				s.Set(k, v)
			}
		}
		return act, nil
	default:
		s.Set(ResultKey, res)
		return engine.NoAction, nil
	}
}

func resultAction(res map[string]any) (engine.Action, error) {
	v, ok := res[ActionKey]
	if !ok || v == nil {
		return engine.NoAction, nil
	}
	name, ok := v.(string)
	if !ok {
		return engine.NoAction, fmt.Errorf("%w: got %T", ErrScriptAction, v)
	}
	return engine.Action(name), nil
}

func storeContents(s store.Store) map[string]any {
	if snap, ok := s.(store.Snapshotter); ok {
		return snap.Snapshot()
	}
	return map[string]any{}
}

package script

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/Shopify/go-lua"

	"github.com/kode4food/minflow/pkg/engine"
)

type (
	// LuaEnv compiles and runs sandboxed Lua chunks, pooling Lua states
	// between executions
	LuaEnv struct {
		statePool chan *lua.State
	}

	// CompiledLua is a chunk compiled with a fixed set of named arguments
	CompiledLua struct {
		bytecode []byte
		argNames []string
	}
)

const (
	luaStatePoolSize    = 10
	luaGlobalTableIndex = -2
	luaArrayTableIndex  = -3
	luaMapTableIndex    = -3
	luaArgLocalTemplate = "local %s = select(%d, ...)"
	luaGlobalTableName  = "_G"
	luaSeparator        = "\n"
)

var (
	ErrLuaLoad      = errors.New("lua load error")
	ErrLuaExecution = errors.New("lua execution error")
	ErrLuaArgName   = errors.New("invalid lua argument name")
	ErrLuaValue     = errors.New("value cannot be passed to lua")
)

var luaExclude = [...]string{
	"io", "os", "debug", "package", "require", "dofile", "loadfile", "load",
}

// luaBaseline is the set of global names a freshly sandboxed state holds
var luaBaseline = sync.OnceValue(func() map[string]bool {
	L := lua.NewState()
	openSandbox(L)
	res := map[string]bool{}
	L.PushGlobalTable()
	L.PushNil()
	for L.Next(-2) {
		L.Pop(1)
		if L.TypeOf(-1) == lua.TypeString {
			name, _ := L.ToString(-1)
			res[name] = true
		}
	}
	L.Pop(1)
	return res
})

// NewLuaEnv creates a Lua execution environment with a state pool
func NewLuaEnv() *LuaEnv {
	return &LuaEnv{
		statePool: make(chan *lua.State, luaStatePoolSize),
	}
}

// Compile wraps src so each name in argNames is bound as a local, then
// compiles it to bytecode
func (e *LuaEnv) Compile(src string, argNames []string) (*CompiledLua, error) {
	for _, name := range argNames {
		if !isLuaIdentifier(name) {
			return nil, fmt.Errorf("%w: %q", ErrLuaArgName, name)
		}
	}

	L := lua.NewState()
	e.setupSandbox(L)
	if err := lua.LoadString(L, wrapSource(src, argNames)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLuaLoad, err)
	}

	var buf bytes.Buffer
	if err := L.Dump(&buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLuaLoad, err)
	}

	return &CompiledLua{
		bytecode: buf.Bytes(),
		argNames: argNames,
	}, nil
}

// Execute runs a compiled chunk with args bound to its argument names and
// returns the chunk's first result converted to Go values
func (e *LuaEnv) Execute(c *CompiledLua, args map[string]any) (any, error) {
	L := e.getState()
	defer e.returnState(L)

	e.setupSandbox(L)
	if err := L.Load(bytes.NewReader(c.bytecode), "chunk", "b"); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLuaLoad, err)
	}

	for _, name := range c.argNames {
		if err := goToLua(L, args[name]); err != nil {
			return nil, fmt.Errorf("argument %s: %w", name, err)
		}
	}

	if err := L.ProtectedCall(len(c.argNames), 1, 0); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLuaExecution, err)
	}

	res := luaToGo(L, -1)
	L.Pop(1)
	return res, nil
}

func wrapSource(script string, argNames []string) string {
	argLocals := make([]string, len(argNames))
	for i, name := range argNames {
		argLocals[i] = fmt.Sprintf(luaArgLocalTemplate, name, i+1)
	}
	return strings.Join([]string{
		strings.Join(argLocals, luaSeparator), script,
	}, luaSeparator)
}

// setupSandbox reopens the libraries and drops every global a previous
// execution left behind, so pooled states share nothing between chunks
func (e *LuaEnv) setupSandbox(L *lua.State) {
	openSandbox(L)
	clearGlobals(L, luaBaseline())
}

func openSandbox(L *lua.State) {
	lua.OpenLibraries(L)
	L.Global(luaGlobalTableName)
	for _, name := range luaExclude {
		L.PushNil()
		L.SetField(luaGlobalTableIndex, name)
	}
	L.Pop(1)
}

// clearGlobals removes globals whose key is not in keep. Stale keys are
// gathered into a scratch table first, since the walk must not be altered
func clearGlobals(L *lua.State, keep map[string]bool) {
	L.PushGlobalTable()
	L.NewTable()
	stale := 0
	L.PushNil()
	for L.Next(-3) {
		L.Pop(1)
		if L.TypeOf(-1) == lua.TypeString {
			if name, _ := L.ToString(-1); keep[name] {
				continue
			}
		}
		stale++
		L.PushValue(-1)
		L.RawSetInt(-3, stale)
	}
	for i := 1; i <= stale; i++ {
		L.RawGetInt(-1, i)
		L.PushNil()
		L.RawSet(-4)
	}
	L.Pop(2)
}

func (e *LuaEnv) getState() *lua.State {
	select {
	case L := <-e.statePool:
		return L
	default:
		return lua.NewState()
	}
}

func (e *LuaEnv) returnState(L *lua.State) {
	L.SetTop(0)

	select {
	case e.statePool <- L:
	default:
	}
}

func isLuaIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

func goToLua(L *lua.State, value any) error {
	switch v := value.(type) {
	case string:
		L.PushString(v)
	case bool:
		L.PushBoolean(v)
	case int:
		L.PushInteger(v)
	case int64:
		L.PushInteger(int(v))
	case float64:
		L.PushNumber(v)
	case []any:
		return pushLuaArray(L, v)
	case map[string]any:
		return pushLuaMap(L, v)
	case engine.Params:
		return pushLuaMap(L, v)
	case nil:
		L.PushNil()
	default:
		return reflectToLua(L, reflect.ValueOf(v))
	}
	return nil
}

// reflectToLua handles the remaining numeric kinds, slices, arrays and
// string-keyed maps. Anything else is rejected rather than stringified
func reflectToLua(L *lua.State, v reflect.Value) error {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32,
		reflect.Int64:
		L.PushInteger(int(v.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32,
		reflect.Uint64, reflect.Uintptr:
		L.PushNumber(float64(v.Uint()))
	case reflect.Float32, reflect.Float64:
		L.PushNumber(v.Float())
	case reflect.String:
		L.PushString(v.String())
	case reflect.Bool:
		L.PushBoolean(v.Bool())
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			L.PushNil()
			return nil
		}
		arr := make([]any, v.Len())
		for i := range arr {
			arr[i] = v.Index(i).Interface()
		}
		return pushLuaArray(L, arr)
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("%w: map key %s", ErrLuaValue, v.Type().Key())
		}
		if v.IsNil() {
			L.PushNil()
			return nil
		}
		m := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return pushLuaMap(L, m)
	default:
		return fmt.Errorf("%w: %s", ErrLuaValue, v.Type())
	}
	return nil
}

func pushLuaArray(L *lua.State, arr []any) error {
	L.CreateTable(len(arr), 0)
	for i, item := range arr {
		L.PushInteger(i + 1)
		if err := goToLua(L, item); err != nil {
			return err
		}
		L.SetTable(luaArrayTableIndex)
	}
	return nil
}

func pushLuaMap(L *lua.State, m map[string]any) error {
	L.CreateTable(0, len(m))
	for k, val := range m {
		L.PushString(k)
		if err := goToLua(L, val); err != nil {
			return err
		}
		L.SetTable(luaMapTableIndex)
	}
	return nil
}

func luaNumberToGo(L *lua.State, index int) any {
	num, _ := L.ToNumber(index)
	if num == float64(int(num)) {
		return int(num)
	}
	return num
}

func luaToGo(L *lua.State, index int) any {
	switch L.TypeOf(index) {
	case lua.TypeBoolean:
		return L.ToBoolean(index)
	case lua.TypeNumber:
		return luaNumberToGo(L, index)
	case lua.TypeString:
		s, _ := L.ToString(index)
		return s
	case lua.TypeTable:
		return luaTableToAny(L, index)
	default:
		return nil
	}
}

// luaTableToAny converts a table to []any when its keys are exactly 1..n,
// and to map[string]any otherwise. Keys are read without ToString so the
// table walk is not disturbed
func luaTableToAny(L *lua.State, index int) any {
	abs := L.AbsIndex(index)
	length := 0
	isArray := true

	L.PushNil()
	for L.Next(abs) {
		L.Pop(1)
		if L.TypeOf(-1) != lua.TypeNumber {
			isArray = false
			L.Pop(1)
			break
		}
		length++
	}

	if isArray && length > 0 && L.RawLength(abs) == length {
		arr := make([]any, length)
		for i := 1; i <= length; i++ {
			L.RawGetInt(abs, i)
			arr[i-1] = luaToGo(L, -1)
			L.Pop(1)
		}
		return arr
	}

	result := map[string]any{}
	L.PushNil()
	for L.Next(abs) {
		result[luaKeyString(L, -2)] = luaToGo(L, -1)
		L.Pop(1)
	}
	return result
}

func luaKeyString(L *lua.State, index int) string {
	switch L.TypeOf(index) {
	case lua.TypeString:
		s, _ := L.ToString(index)
		return s
	case lua.TypeNumber:
		return fmt.Sprintf("%v", luaNumberToGo(L, index))
	default:
		return fmt.Sprintf("%v", luaToGo(L, index))
	}
}

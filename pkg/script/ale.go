package script

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strings"
	"sync"

	"github.com/kode4food/ale"
	"github.com/kode4food/ale/core/bootstrap"
	"github.com/kode4food/ale/data"
	"github.com/kode4food/ale/env"
	"github.com/kode4food/ale/eval"

	"github.com/kode4food/minflow/pkg/engine"
)

type (
	// AleEnv compiles Ale expressions into procedures, caching them by
	// argument list and source
	AleEnv struct {
		env     *env.Environment
		scripts sync.Map
	}

	// CompiledAle is a procedure taking a fixed set of named arguments
	CompiledAle struct {
		proc     data.Procedure
		argNames []string
	}
)

const aleLambdaTemplate = "(lambda (%s) %s)"

var (
	ErrAleCompile      = errors.New("ale compile error")
	ErrAleCall         = errors.New("error calling ale procedure")
	ErrAleNotProcedure = errors.New("ale source is not a procedure")
	ErrAleArgName      = errors.New("invalid ale argument name")
	ErrAleValue        = errors.New("value cannot be passed to ale")
	ErrAleResult       = errors.New("ale result cannot be converted")
)

// NewAleEnv creates an environment bootstrapped with the Ale core library
func NewAleEnv() *AleEnv {
	e := env.NewEnvironment()
	bootstrap.Into(e)
	return &AleEnv{env: e}
}

// Compile wraps src in a lambda over argNames and evaluates it in a fresh
// anonymous namespace
func (e *AleEnv) Compile(src string, argNames []string) (*CompiledAle, error) {
	for _, name := range argNames {
		if !isAleSymbol(name) {
			return nil, fmt.Errorf("%w: %q", ErrAleArgName, name)
		}
	}

	key := aleCacheKey(src, argNames)
	if c, ok := e.scripts.Load(key); ok {
		return c.(*CompiledAle), nil
	}

	proc, err := e.compile(src, argNames)
	if err != nil {
		return nil, err
	}
	c := &CompiledAle{proc: proc, argNames: argNames}
	e.scripts.Store(key, c)
	return c, nil
}

// Execute calls a compiled procedure with args in argument order and
// returns its result converted to Go values
func (e *AleEnv) Execute(c *CompiledAle, args map[string]any) (any, error) {
	vals := make(data.Vector, len(c.argNames))
	for i, name := range c.argNames {
		v, err := goToAle(args[name])
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", name, err)
		}
		vals[i] = v
	}

	res, err := catchPanic(ErrAleCall, func() (ale.Value, error) {
		return c.proc.Call(vals...), nil
	})
	if err != nil {
		return nil, err
	}
	return aleToGo(res)
}

func (e *AleEnv) compile(
	src string, argNames []string,
) (data.Procedure, error) {
	wrapped := fmt.Sprintf(aleLambdaTemplate, strings.Join(argNames, " "), src)
	return catchPanic(ErrAleCompile, func() (data.Procedure, error) {
		ns := e.env.GetAnonymous()
		res, err := eval.String(ns, data.String(wrapped))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAleCompile, err)
		}
		proc, ok := res.(data.Procedure)
		if !ok {
			return nil, fmt.Errorf("%w, got: %T", ErrAleNotProcedure, res)
		}
		return proc, nil
	})
}

func aleCacheKey(src string, argNames []string) string {
	hash := sha256.Sum256([]byte(src))
	return fmt.Sprintf("%s:%s",
		strings.Join(argNames, ","), hex.EncodeToString(hash[:8]),
	)
}

func isAleSymbol(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case strings.ContainsRune("()[]{}\"';`,@~^\\#", r):
			return false
		case r <= ' ':
			return false
		case i == 0 && (r == ':' || r >= '0' && r <= '9'):
			return false
		}
	}
	return true
}

func goToAle(value any) (ale.Value, error) {
	switch v := value.(type) {
	case string:
		return data.String(v), nil
	case bool:
		return data.Bool(v), nil
	case int:
		return data.Integer(v), nil
	case int64:
		return data.Integer(v), nil
	case float64:
		return data.Float(v), nil
	case []any:
		return aleVector(v)
	case map[string]any:
		return aleObject(v)
	case engine.Params:
		return aleObject(v)
	case nil:
		return data.Null, nil
	default:
		return reflectToAle(reflect.ValueOf(v))
	}
}

func reflectToAle(v reflect.Value) (ale.Value, error) {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32,
		reflect.Int64:
		return data.Integer(v.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return data.Integer(int64(v.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return data.Float(v.Float()), nil
	case reflect.String:
		return data.String(v.String()), nil
	case reflect.Bool:
		return data.Bool(v.Bool()), nil
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return data.Null, nil
		}
		arr := make([]any, v.Len())
		for i := range arr {
			arr[i] = v.Index(i).Interface()
		}
		return aleVector(arr)
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: map key %s", ErrAleValue, v.Type().Key())
		}
		if v.IsNil() {
			return data.Null, nil
		}
		m := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return aleObject(m)
	default:
		return nil, fmt.Errorf("%w: %s", ErrAleValue, v.Type())
	}
}

func aleVector(arr []any) (data.Vector, error) {
	vec := make(data.Vector, len(arr))
	for i, item := range arr {
		v, err := goToAle(item)
		if err != nil {
			return nil, err
		}
		vec[i] = v
	}
	return vec, nil
}

func aleObject(m map[string]any) (*data.Object, error) {
	obj := data.NewObject()
	for k, val := range m {
		v, err := goToAle(val)
		if err != nil {
			return nil, err
		}
		obj = obj.Put(data.NewCons(data.Keyword(k), v)).(*data.Object)
	}
	return obj, nil
}

func aleToGo(value ale.Value) (any, error) {
	if value == nil || value == data.Null {
		return nil, nil
	}
	switch v := value.(type) {
	case data.Bool:
		return bool(v), nil
	case data.String:
		return string(v), nil
	case data.Keyword:
		return string(v), nil
	case data.Integer:
		return int(v), nil
	case data.Float:
		return float64(v), nil
	case *data.Ratio:
		f, _ := (*big.Rat)(v).Float64()
		return f, nil
	case *data.BigInt:
		return (*big.Int)(v).String(), nil
	case data.Vector:
		return aleSeqToGo(v)
	case *data.List:
		return aleListToGo(v)
	case *data.Object:
		return aleObjectToGo(v)
	default:
		return nil, fmt.Errorf("%w: %T", ErrAleResult, value)
	}
}

func aleSeqToGo(vals []ale.Value) ([]any, error) {
	res := make([]any, len(vals))
	for i, item := range vals {
		v, err := aleToGo(item)
		if err != nil {
			return nil, err
		}
		res[i] = v
	}
	return res, nil
}

func aleListToGo(list *data.List) ([]any, error) {
	res := []any{}
	for l := list; !l.IsEmpty(); {
		head, tail, ok := l.Split()
		if !ok {
			break
		}
		v, err := aleToGo(head)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
		next, ok := tail.(*data.List)
		if !ok {
			break
		}
		l = next
	}
	return res, nil
}

// aleObjectToGo keys the result by the key's name, so keywords and strings
// both land as plain store keys
func aleObjectToGo(obj *data.Object) (map[string]any, error) {
	res := map[string]any{}
	for _, pair := range obj.Pairs() {
		k, err := aleToGo(pair.Car())
		if err != nil {
			return nil, err
		}
		v, err := aleToGo(pair.Cdr())
		if err != nil {
			return nil, err
		}
		res[fmt.Sprint(k)] = v
	}
	return res, nil
}

func catchPanic[T any](baseErr error, fn func() (T, error)) (res T, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if e, ok := r.(error); ok {
			err = fmt.Errorf("%w: %w", baseErr, e)
			return
		}
		err = fmt.Errorf("%w: %v", baseErr, r)
	}()
	return fn()
}

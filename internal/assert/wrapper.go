package assert

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/minflow/internal/config"
	"github.com/kode4food/minflow/pkg/engine"
	"github.com/kode4food/minflow/pkg/store"
)

// Wrapper wraps testify assertions with minflow-specific helpers
type Wrapper struct {
	*testing.T
	*assert.Assertions
}

// New creates a new test assertion wrapper
func New(t *testing.T) *Wrapper {
	return &Wrapper{
		T:          t,
		Assertions: assert.New(t),
	}
}

// ConfigValid asserts that a configuration passes validation
func (w *Wrapper) ConfigValid(cfg *config.Config) {
	w.Helper()
	w.NoError(cfg.Validate())
}

// ConfigInvalid asserts that a configuration fails validation with want
func (w *Wrapper) ConfigInvalid(cfg *config.Config, want error) {
	w.Helper()
	w.ErrorIs(cfg.Validate(), want)
}

// StoreValue asserts that key holds expected in s
func (w *Wrapper) StoreValue(s store.Store, key string, expected any) {
	w.Helper()
	val, ok := s.Get(key)
	if w.True(ok, "store key %q missing", key) {
		w.Equal(expected, val, "store key %q", key)
	}
}

// StoreMissing asserts that nothing is stored under key
func (w *Wrapper) StoreMissing(s store.Store, key string) {
	w.Helper()
	_, ok := s.Get(key)
	w.False(ok, "store key %q should be missing", key)
}

// Run executes one lifecycle of n and fails the test immediately if it
// returns an error
func (w *Wrapper) Run(n engine.Node, s store.Store) engine.Action {
	w.Helper()
	act, err := engine.Run(context.Background(), n, s)
	if err != nil {
		w.Fatalf("run failed: %v", err)
	}
	return act
}

// RunAsync awaits one lifecycle of n and fails the test immediately if it
// returns an error
func (w *Wrapper) RunAsync(n engine.AsyncNode, s store.Store) engine.Action {
	w.Helper()
	ctx := context.Background()
	act, err := engine.RunAsync(ctx, n, s).Await(ctx)
	if err != nil {
		w.Fatalf("async run failed: %v", err)
	}
	return act
}

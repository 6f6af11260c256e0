package assert_test

import (
	"context"
	"testing"

	"github.com/kode4food/minflow/internal/assert"
	"github.com/kode4food/minflow/internal/config"
	"github.com/kode4food/minflow/pkg/engine"
	"github.com/kode4food/minflow/pkg/store"
)

type writer struct {
	*engine.Base
}

type asyncWriter struct {
	*engine.AsyncBase
}

func (*writer) Post(s store.Store, _, _ any) (engine.Action, error) {
	s.Set("written", "sync")
	return "next", nil
}

func (*asyncWriter) PostAsync(
	_ context.Context, s store.Store, _, _ any,
) (engine.Action, error) {
	s.Set("written", "async")
	return "later", nil
}

func TestConfigHelpers(t *testing.T) {
	as := assert.New(t)

	cfg := config.NewDefaultConfig()
	as.ConfigValid(cfg)

	cfg.ParallelWorkers = 0
	as.ConfigInvalid(cfg, config.ErrInvalidWorkers)
}

func TestStoreHelpers(t *testing.T) {
	as := assert.New(t)

	s := store.NewFrom(map[string]any{"a": 1})
	as.StoreValue(s, "a", 1)
	as.StoreMissing(s, "b")
}

func TestRunHelpers(t *testing.T) {
	as := assert.New(t)

	s := store.New()
	as.Equal(engine.Action("next"), as.Run(&writer{engine.NewBase()}, s))
	as.StoreValue(s, "written", "sync")

	act := as.RunAsync(&asyncWriter{engine.NewAsyncBase()}, s)
	as.Equal(engine.Action("later"), act)
	as.StoreValue(s, "written", "async")
}

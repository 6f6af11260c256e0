package journal_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kode4food/timebox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/minflow/internal/assert/wait"
	"github.com/kode4food/minflow/pkg/archive"
	"github.com/kode4food/minflow/pkg/engine"
	"github.com/kode4food/minflow/pkg/events"
	"github.com/kode4food/minflow/pkg/journal"
	"github.com/kode4food/minflow/pkg/store"
)

type step struct {
	*engine.Base
	action engine.Action
	err    error
}

var errBoom = errors.New("boom")

func newStep(id string, act engine.Action, opts ...engine.Option) *step {
	return &step{
		Base:   engine.NewBase(append(opts, engine.WithID(id))...),
		action: act,
	}
}

func (s *step) Exec(any) (any, error) {
	return nil, s.err
}

func (s *step) Post(st store.Store, _, _ any) (engine.Action, error) {
	st.Set(s.ID(), true)
	return s.action, nil
}

func storeConfig(
	server *miniredis.Miniredis, hib timebox.Hibernator,
) timebox.StoreConfig {
	cfg := timebox.DefaultStoreConfig()
	cfg.Addr = server.Addr()
	cfg.Prefix = "test-journal"
	cfg.Hibernator = hib
	return cfg
}

func openJournal(
	t *testing.T, server *miniredis.Miniredis, hib timebox.Hibernator,
) *journal.Journal {
	t.Helper()
	j, err := journal.Open(storeConfig(server, hib))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

// recordRun runs root with every event recorded synchronously
func recordRun(
	t *testing.T, j *journal.Journal, runID string, root engine.Node,
) error {
	t.Helper()
	ctx := engine.WithRunID(context.Background(), runID)
	ctx = events.WithObserver(ctx,
		events.ObserverFunc(func(ev *events.Event) {
			require.NoError(t, j.Record(context.Background(), ev))
		}),
	)
	_, err := engine.Run(ctx, root, store.New())
	return err
}

func TestRecordCompletedFlow(t *testing.T) {
	j := openJournal(t, miniredis.RunT(t), nil)

	a := newStep("a", "next")
	b := newStep("b", "finish")
	a.AddSuccessor(b, "next")
	flow := engine.NewFlow(a, engine.WithID("flow"))

	require.NoError(t, recordRun(t, j, "run-1", flow))

	st, err := j.Run(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", st.RunID)
	assert.Equal(t, journal.StatusCompleted, st.Status)
	assert.True(t, st.IsDone())
	assert.Equal(t, "flow", st.Root)
	assert.Equal(t, "finish", st.Action)
	assert.Equal(t, 0, st.Depth)
	assert.Equal(t, []string{"flow", "a", "b"}, st.Visited)
	assert.False(t, st.StartedAt.IsZero())
	assert.False(t, st.EndedAt.Before(st.StartedAt))

	na, ok := st.Node("a")
	require.True(t, ok)
	assert.Equal(t, 1, na.Runs)
	assert.Equal(t, 1, na.Completed)
	assert.Equal(t, "next", na.Action)
}

func TestRecordFailedRun(t *testing.T) {
	j := openJournal(t, miniredis.RunT(t), nil)

	bad := newStep("bad", engine.NoAction, engine.WithRetries(3))
	bad.err = errBoom

	require.Error(t, recordRun(t, j, "run-2", engine.NewFlow(bad)))

	st, err := j.Run(context.Background(), "run-2")
	require.NoError(t, err)
	assert.Equal(t, journal.StatusFailed, st.Status)
	assert.Contains(t, st.Error, "boom")

	n, ok := st.Node("bad")
	require.True(t, ok)
	assert.Equal(t, 1, n.Runs)
	assert.Equal(t, 2, n.Retries)
	assert.Equal(t, 1, n.Fallbacks)
	assert.Equal(t, 1, n.Failed)
	assert.Equal(t, 0, n.Completed)
}

func TestRecordSingleNode(t *testing.T) {
	j := openJournal(t, miniredis.RunT(t), nil)

	require.NoError(t, recordRun(t, j, "solo", newStep("only", "done")))

	st, err := j.Run(context.Background(), "solo")
	require.NoError(t, err)
	assert.Equal(t, journal.StatusCompleted, st.Status)
	assert.Equal(t, "only", st.Root)
	assert.Equal(t, "done", st.Action)
	assert.Equal(t, 2, st.Events)
}

func TestRunsAreSeparate(t *testing.T) {
	j := openJournal(t, miniredis.RunT(t), nil)

	require.NoError(t, recordRun(t, j, "one", newStep("x", "a")))
	require.NoError(t, recordRun(t, j, "two", newStep("y", "b")))

	one, err := j.Run(context.Background(), "one")
	require.NoError(t, err)
	two, err := j.Run(context.Background(), "two")
	require.NoError(t, err)

	assert.Equal(t, []string{"x"}, one.Visited)
	assert.Equal(t, []string{"y"}, two.Visited)
	_, ok := one.Node("y")
	assert.False(t, ok)
}

func TestRecordRequiresRunID(t *testing.T) {
	j := openJournal(t, miniredis.RunT(t), nil)

	err := j.Record(context.Background(), &events.Event{
		Type: events.NodeStarted,
	})
	assert.ErrorIs(t, err, journal.ErrRunIDRequired)
}

func TestRunNotFound(t *testing.T) {
	j := openJournal(t, miniredis.RunT(t), nil)

	_, err := j.Run(context.Background(), "missing")
	assert.ErrorIs(t, err, journal.ErrRunNotFound)

	evs, err := j.Events(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestEventsInOrder(t *testing.T) {
	j := openJournal(t, miniredis.RunT(t), nil)

	a := newStep("a", engine.NoAction)
	require.NoError(t, recordRun(t, j, "run-3",
		engine.NewFlow(a, engine.WithID("flow")),
	))

	evs, err := j.Events(context.Background(), "run-3")
	require.NoError(t, err)

	types := make([]events.Type, len(evs))
	for i, ev := range evs {
		types[i] = ev.Type
		assert.Equal(t, "run-3", ev.RunID)
	}
	assert.Equal(t, []events.Type{
		events.NodeStarted,
		events.FlowStarted,
		events.NodeStarted,
		events.NodeCompleted,
		events.FlowCompleted,
		events.NodeCompleted,
	}, types)
}

func TestSnapshotReload(t *testing.T) {
	server := miniredis.RunT(t)
	j := openJournal(t, server, nil)
	ctx := context.Background()

	require.NoError(t, recordRun(t, j, "snap", newStep("first", "a")))
	require.NoError(t, j.Snapshot(ctx, "snap"))

	reopened := openJournal(t, server, nil)
	st, err := reopened.Run(ctx, "snap")
	require.NoError(t, err)
	assert.Equal(t, journal.StatusCompleted, st.Status)
	assert.Equal(t, []string{"first"}, st.Visited)
}

func TestHibernate(t *testing.T) {
	ctx := context.Background()
	hib, err := archive.NewHibernator(ctx, "mem://", "journal")
	require.NoError(t, err)
	t.Cleanup(func() { _ = hib.Close() })

	server := miniredis.RunT(t)
	j := openJournal(t, server, hib)

	a := newStep("a", "done")
	require.NoError(t, recordRun(t, j, "cold",
		engine.NewFlow(a, engine.WithID("flow")),
	))
	require.NoError(t, j.Hibernate(ctx, "cold"))

	for _, key := range server.Keys() {
		assert.NotContains(t, key, "cold")
	}

	rec, err := hib.Get(ctx, journal.RunKey("cold"))
	require.NoError(t, err)
	assert.Len(t, rec.Events, 6)

	thawed := openJournal(t, server, hib)
	st, err := thawed.Run(ctx, "cold")
	require.NoError(t, err)
	assert.Equal(t, journal.StatusCompleted, st.Status)
	assert.Equal(t, "done", st.Action)

	evs, err := thawed.Events(ctx, "cold")
	require.NoError(t, err)
	assert.Len(t, evs, 6)
}

func TestHibernateWithoutHibernator(t *testing.T) {
	j := openJournal(t, miniredis.RunT(t), nil)

	err := j.Hibernate(context.Background(), "any")
	assert.ErrorIs(t, err, timebox.ErrNoHibernator)
}

func TestHandlerFromHub(t *testing.T) {
	j := openJournal(t, miniredis.RunT(t), nil)

	hub := events.NewHub()
	q := events.NewQueue(hub.NewConsumer(), j.Handler(time.Second))
	q.Start()

	a := newStep("a", "next")
	b := newStep("b", engine.NoAction)
	a.AddSuccessor(b, "next")

	ctx := engine.WithRunID(context.Background(), "hub-run")
	ctx = events.WithObserver(ctx, hub)
	_, err := engine.Run(ctx, engine.NewFlow(a), store.New())
	require.NoError(t, err)

	hub.Close()
	waitCtx, cancel := context.WithTimeout(
		context.Background(), wait.DefaultTimeout,
	)
	defer cancel()
	require.NoError(t, q.Await(waitCtx, hub.Published()))
	q.Flush()

	st, err := j.Run(context.Background(), "hub-run")
	require.NoError(t, err)
	assert.Equal(t, journal.StatusCompleted, st.Status)
	assert.Equal(t, int(hub.Published()), st.Events)
}

func TestOpenFailsWithoutRedis(t *testing.T) {
	server := miniredis.RunT(t)
	cfg := storeConfig(server, nil)
	server.Close()

	_, err := journal.Open(cfg)
	assert.ErrorIs(t, err, journal.ErrOpenJournal)
}

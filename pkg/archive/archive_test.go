package archive_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kode4food/timebox"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	"github.com/kode4food/minflow/pkg/archive"
	"github.com/kode4food/minflow/pkg/store"
)

func TestRedisArchiver(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	arc := archive.NewRedis(archive.RedisConfig{
		Addr:   server.Addr(),
		Prefix: "minflow",
	})
	defer func() { _ = arc.Close() }()

	testArchiver(t, arc)

	s := store.NewFrom(map[string]any{"k": "v"})
	require.NoError(t, arc.Save(context.Background(), archive.Capture("r2", s)))
	assert.True(t, server.Exists("minflow:r2"))
}

func TestRedisArchiverTTL(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	arc := archive.NewRedisWithClient(client, "", time.Minute)
	defer func() { _ = arc.Close() }()

	ctx := context.Background()
	snap := archive.Capture("ttl-run", store.New())
	require.NoError(t, arc.Save(ctx, snap))
	assert.True(t, server.Exists("ttl-run"))

	server.FastForward(2 * time.Minute)
	_, err = arc.Load(ctx, "ttl-run")
	assert.ErrorIs(t, err, archive.ErrNotFound)
}

func TestRedisArchiverBadData(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	require.NoError(t, server.Set("p:bad", "{not json"))
	require.NoError(t, server.Set("p:list", `{"run_id":"list","values":[1]}`))

	arc := archive.NewRedis(archive.RedisConfig{
		Addr:   server.Addr(),
		Prefix: "p",
	})
	defer func() { _ = arc.Close() }()

	_, err = arc.Load(context.Background(), "bad")
	assert.ErrorIs(t, err, archive.ErrBadSnapshot)
	_, err = arc.Load(context.Background(), "list")
	assert.ErrorIs(t, err, archive.ErrBadSnapshot)
}

func TestBlobArchiver(t *testing.T) {
	arc, err := archive.NewBlob(context.Background(), "mem://", "runs")
	require.NoError(t, err)
	defer func() { _ = arc.Close() }()

	testArchiver(t, arc)
}

func TestBlobArchiverKeyFormat(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	arc := archive.NewBlobWithBucket(bucket, "archived")
	defer func() { _ = arc.Close() }()

	require.NoError(t, arc.Save(ctx, archive.Capture("run-1", store.New())))

	exists, err := bucket.Exists(ctx, "archived/run-1.json")
	assert.NoError(t, err)
	assert.True(t, exists)

	attrs, err := bucket.Attributes(ctx, "archived/run-1.json")
	require.NoError(t, err)
	assert.Equal(t, "application/json", attrs.ContentType)
}

func TestHibernator(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	arc := archive.NewBlobWithBucket(bucket, "runs")
	defer func() { _ = arc.Close() }()

	hib := arc.Hibernator("journal")
	id := timebox.NewAggregateID("run", "r1")

	_, err := hib.Get(ctx, id)
	assert.ErrorIs(t, err, timebox.ErrHibernateNotFound)

	rec := &timebox.HibernateRecord{
		Events: []json.RawMessage{
			json.RawMessage(`{"type":"node_started"}`),
		},
		Snapshots: map[string]timebox.SnapshotRecord{},
	}
	require.NoError(t, hib.Put(ctx, id, rec))

	attrs, err := bucket.Attributes(ctx, "journal/run/r1.json")
	require.NoError(t, err)
	assert.Equal(t, "application/json", attrs.ContentType)

	got, err := hib.Get(ctx, id)
	require.NoError(t, err)
	assert.Len(t, got.Events, 1)
	assert.JSONEq(t, `{"type":"node_started"}`, string(got.Events[0]))

	require.NoError(t, hib.Delete(ctx, id))
	require.NoError(t, hib.Delete(ctx, id))
	_, err = hib.Get(ctx, id)
	assert.ErrorIs(t, err, timebox.ErrHibernateNotFound)

	require.NoError(t, hib.Close())
	require.NoError(t, arc.Save(ctx, archive.Capture("after", store.New())))
}

func TestOwnedHibernator(t *testing.T) {
	ctx := context.Background()
	hib, err := archive.NewHibernator(ctx, "mem://", "")
	require.NoError(t, err)

	id := timebox.NewAggregateID("run", "r2")
	require.NoError(t, hib.Put(ctx, id, &timebox.HibernateRecord{}))
	_, err = hib.Get(ctx, id)
	assert.NoError(t, err)

	require.NoError(t, hib.Close())
	_, err = hib.Get(ctx, id)
	assert.Error(t, err)
}

func TestRestore(t *testing.T) {
	snap := &archive.Snapshot{
		RunID:  "r",
		Values: map[string]any{"a": 1, "b": "two"},
	}
	s := archive.Restore(snap)
	assert.Equal(t, []string{"a", "b"}, s.Keys())

	snap.Values["a"] = 3
	v, _ := s.Get("a")
	assert.Equal(t, 1, v)
}

func testArchiver(t *testing.T, arc archive.Archiver) {
	t.Helper()
	ctx := context.Background()

	t.Run("load missing", func(t *testing.T) {
		_, err := arc.Load(ctx, "missing")
		assert.ErrorIs(t, err, archive.ErrNotFound)
	})

	t.Run("save requires run id", func(t *testing.T) {
		assert.ErrorIs(t, arc.Save(ctx, nil), archive.ErrSnapshotRequired)
		assert.ErrorIs(t,
			arc.Save(ctx, &archive.Snapshot{}), archive.ErrRunIDRequired,
		)
	})

	t.Run("round trip", func(t *testing.T) {
		s := store.NewFrom(map[string]any{
			"x":     5,
			"name":  "demo",
			"tags":  []string{"a", "b"},
			"inner": map[string]any{"ok": true},
		})
		snap := archive.Capture("run-1", s)
		require.NoError(t, arc.Save(ctx, snap))

		got, err := arc.Load(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, "run-1", got.RunID)
		assert.WithinDuration(t, snap.SavedAt, got.SavedAt, time.Millisecond)
		assert.Equal(t, map[string]any{
			"x":     float64(5),
			"name":  "demo",
			"tags":  []any{"a", "b"},
			"inner": map[string]any{"ok": true},
		}, got.Values)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, arc.Delete(ctx, "run-1"))
		_, err := arc.Load(ctx, "run-1")
		assert.ErrorIs(t, err, archive.ErrNotFound)
		assert.NoError(t, arc.Delete(ctx, "run-1"))
	})
}

// Package archive persists snapshots of a run's shared store so finished
// runs can be inspected or restored later
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/kode4food/minflow/pkg/store"
)

type (
	// Archiver stores snapshots keyed by run ID
	Archiver interface {
		Save(ctx context.Context, snap *Snapshot) error
		Load(ctx context.Context, runID string) (*Snapshot, error)
		Delete(ctx context.Context, runID string) error
		Close() error
	}

	// Snapshot is the archived content of a store at the end of a run
	Snapshot struct {
		RunID   string         `json:"run_id"`
		SavedAt time.Time      `json:"saved_at"`
		Values  map[string]any `json:"values"`
	}
)

var (
	ErrNotFound         = errors.New("snapshot not found")
	ErrSnapshotRequired = errors.New("snapshot is required")
	ErrRunIDRequired    = errors.New("run ID is required")
	ErrBadSnapshot      = errors.New("malformed snapshot")
)

// Capture copies the contents of s into a Snapshot for runID
func Capture(runID string, s store.Snapshotter) *Snapshot {
	return &Snapshot{
		RunID:   runID,
		SavedAt: time.Now().UTC(),
		Values:  s.Snapshot(),
	}
}

// Restore creates a store seeded with the snapshot's values
func Restore(snap *Snapshot) *store.Memory {
	return store.NewFrom(snap.Values)
}

func encode(snap *Snapshot) ([]byte, error) {
	if snap == nil {
		return nil, ErrSnapshotRequired
	}
	if snap.RunID == "" {
		return nil, ErrRunIDRequired
	}
	return json.Marshal(snap)
}

func decode(data []byte) (*Snapshot, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrBadSnapshot)
	}
	res := gjson.ParseBytes(data)

	values := res.Get("values")
	if values.Exists() && !values.IsObject() {
		return nil, fmt.Errorf("%w: values is %s", ErrBadSnapshot, values.Type)
	}
	snap := &Snapshot{
		RunID:  res.Get("run_id").String(),
		Values: map[string]any{},
	}
	if vals, ok := values.Value().(map[string]any); ok {
		snap.Values = vals
	}
	if saved := res.Get("saved_at"); saved.Exists() {
		t, err := time.Parse(time.RFC3339Nano, saved.String())
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBadSnapshot, err)
		}
		snap.SavedAt = t
	}
	return snap, nil
}

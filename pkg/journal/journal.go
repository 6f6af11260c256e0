package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kode4food/timebox"

	"github.com/kode4food/minflow/pkg/events"
)

// Journal appends run lifecycle events to Redis through timebox and serves
// the projected RunState of each run
type Journal struct {
	tb    *timebox.Timebox
	store *timebox.Store
	exec  *timebox.Executor[*RunState]
}

const (
	runPrefix = "run"

	// DefaultRecordTimeout bounds each append made by a Handler
	DefaultRecordTimeout = 5 * time.Second
)

var (
	ErrOpenJournal   = errors.New("failed to open journal")
	ErrRunIDRequired = errors.New("journaled events require a run ID")
	ErrRunNotFound   = errors.New("run not found in journal")
	ErrDecodeEvent   = errors.New("failed to decode journaled event")
)

// Open connects a Journal to the Redis store described by cfg. When cfg
// carries a Hibernator, finished runs can be moved into it with Hibernate
func Open(cfg timebox.StoreConfig) (*Journal, error) {
	tb, err := timebox.NewTimebox(timebox.Config{
		Store:      cfg,
		MaxRetries: timebox.DefaultMaxRetries,
		CacheSize:  timebox.DefaultExecutorCacheSize,
		Workers:    cfg.WorkerCount > 0,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenJournal, err)
	}

	store, err := tb.NewStore(cfg)
	if err != nil {
		_ = tb.Close()
		return nil, fmt.Errorf("%w: %w", ErrOpenJournal, err)
	}

	return &Journal{
		tb:    tb,
		store: store,
		exec:  timebox.NewExecutor(store, NewRunState, Appliers),
	}, nil
}

// RunKey is the aggregate that holds a run's events
func RunKey(runID string) timebox.AggregateID {
	return timebox.NewAggregateID(runPrefix, timebox.ID(runID))
}

// Record appends ev to the journal of the run it belongs to
func (j *Journal) Record(ctx context.Context, ev *events.Event) error {
	if ev.RunID == "" {
		return fmt.Errorf("%w: %s", ErrRunIDRequired, ev.Type)
	}
	_, err := j.exec.Exec(ctx, RunKey(ev.RunID),
		func(_ *RunState, ag *timebox.Aggregator[*RunState]) error {
			return timebox.Raise(ag, eventType(ev.Type), ev)
		},
	)
	return err
}

// Run returns the projected state of a journaled run
func (j *Journal) Run(ctx context.Context, runID string) (*RunState, error) {
	st, err := j.exec.Exec(ctx, RunKey(runID),
		func(*RunState, *timebox.Aggregator[*RunState]) error {
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	if st.Events == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return st, nil
}

// Events returns the journaled events of a run in the order they were
// recorded, reading from the hibernator once the run has left Redis
func (j *Journal) Events(
	ctx context.Context, runID string,
) ([]*events.Event, error) {
	evs, err := j.store.GetEvents(ctx, RunKey(runID), 0)
	if err != nil {
		return nil, err
	}
	res := make([]*events.Event, 0, len(evs))
	for _, tev := range evs {
		var ev events.Event
		if err := json.Unmarshal(tev.Data, &ev); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecodeEvent, err)
		}
		res = append(res, &ev)
	}
	return res, nil
}

// Snapshot persists the run's current projection so later loads replay
// only what follows it
func (j *Journal) Snapshot(ctx context.Context, runID string) error {
	return j.exec.SaveSnapshot(ctx, RunKey(runID))
}

// Hibernate moves a run's events and snapshot out of Redis into the
// configured Hibernator. Returns timebox.ErrNoHibernator if there is none
func (j *Journal) Hibernate(ctx context.Context, runID string) error {
	return j.store.Hibernate(ctx, RunKey(runID))
}

// Handler returns an events.Handler that records each event it receives,
// giving every append at most timeout to complete
func (j *Journal) Handler(timeout time.Duration) events.Handler {
	return func(ev *events.Event) error {
		ctx, cancel := context.WithTimeout(j.tb.Context(), timeout)
		defer cancel()
		return j.Record(ctx, ev)
	}
}

// Close releases the Redis connection and stops snapshot workers
func (j *Journal) Close() error {
	return errors.Join(j.store.Close(), j.tb.Close())
}

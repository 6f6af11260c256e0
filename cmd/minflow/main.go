package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	app "github.com/kode4food/minflow"
	"github.com/kode4food/minflow/internal/config"
	"github.com/kode4food/minflow/pkg/archive"
	"github.com/kode4food/minflow/pkg/engine"
	"github.com/kode4food/minflow/pkg/events"
	"github.com/kode4food/minflow/pkg/journal"
	"github.com/kode4food/minflow/pkg/log"
	"github.com/kode4food/minflow/pkg/script"
	"github.com/kode4food/minflow/pkg/store"
	"github.com/kode4food/minflow/pkg/util/call"
)

type (
	minflow struct {
		cfg     *config.Config
		logger  *slog.Logger
		out     io.Writer
		hub     *events.Hub
		queues  []*events.Queue
		archive archive.Archiver
		journal *journal.Journal
		cold    bool
	}

	result struct {
		RunID   string            `json:"run_id"`
		Action  engine.Action     `json:"action"`
		Store   map[string]any    `json:"store"`
		Journal *journal.RunState `json:"journal,omitempty"`
	}
)

const (
	aleExt = ".ale"

	eventDrainTimeout = 5 * time.Second
)

var (
	ErrNoScripts     = errors.New("at least one script is required")
	ErrReadScript    = errors.New("failed to read script")
	ErrCompileScript = errors.New("failed to compile script")
	ErrOpenArchive   = errors.New("failed to open archive")
	ErrSaveArchive   = errors.New("failed to archive store")
	ErrReadJournal   = errors.New("failed to read run journal")
	ErrHibernateRun  = errors.New("failed to hibernate run journal")
	ErrEventsBacklog = errors.New("events still queued at shutdown")
)

func main() {
	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	m := newMinflow(cfg, os.Stdout, os.Stderr)
	if err := m.run(ctx, os.Args[1:]); err != nil {
		m.logger.Error("Run failed", log.Error(err))
		stop()
		os.Exit(1)
	}
}

func newMinflow(cfg *config.Config, out, logs io.Writer) *minflow {
	level, _ := log.ParseLevel(cfg.LogLevel)
	logger := log.NewWithWriter(logs, app.Name, cfg.Env, app.Version, level)
	return &minflow{
		cfg:    cfg,
		logger: logger,
		out:    out,
	}
}

func (m *minflow) run(ctx context.Context, paths []string) error {
	flow, err := m.buildFlow(paths)
	if err != nil {
		return err
	}

	if err := m.openArchive(ctx); err != nil {
		return err
	}
	defer m.shutdown()
	if err := m.openJournal(); err != nil {
		return err
	}
	m.startEvents()

	runID := engine.RunID(ctx)
	if runID == "" {
		ctx = engine.WithRunID(ctx, uuid.NewString())
		runID = engine.RunID(ctx)
	}
	ctx = log.WithLogger(ctx, m.logger)
	ctx = events.WithObserver(ctx, m.hub)

	m.logger.Info("Run starting",
		log.RunID(runID),
		slog.Int("scripts", len(paths)),
		slog.String("log_level", m.cfg.LogLevel))

	s := store.NewFrom(m.cfg.InitialStore)
	act, err := engine.Run(ctx, flow, s)
	m.drainEvents(ctx)
	if err != nil {
		return errors.Join(err, m.hibernate(ctx, runID))
	}

	if err := m.saveSnapshot(ctx, runID, s); err != nil {
		return err
	}

	state, err := m.journalState(ctx, runID)
	if err != nil {
		return err
	}
	if err := m.hibernate(ctx, runID); err != nil {
		return err
	}

	m.logger.Info("Run completed", log.RunID(runID), log.Action(act))
	return m.writeResult(&result{
		RunID:   runID,
		Action:  act,
		Store:   s.Snapshot(),
		Journal: state,
	})
}

// buildFlow chains one node per script along default edges. Files ending
// in .ale are Ale expressions and everything else is Lua
func (m *minflow) buildFlow(paths []string) (*engine.Flow, error) {
	if len(paths) == 0 {
		return nil, ErrNoScripts
	}

	var first, prev engine.Vertex
	for _, path := range paths {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrReadScript, err)
		}

		opts := append(m.cfg.Options(), engine.WithID(nodeID(path)))
		n, err := newScriptNode(path, string(src), opts)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCompileScript, path, err)
		}

		if prev == nil {
			first = n
		} else {
			prev.Then(n)
		}
		prev = n
	}
	return engine.NewFlow(first, engine.WithID(app.Name)), nil
}

func (m *minflow) openArchive(ctx context.Context) error {
	arc := m.cfg.Archive
	switch {
	case arc.RedisAddr != "":
		m.archive = archive.NewRedis(archive.RedisConfig{
			Addr:     arc.RedisAddr,
			Password: arc.RedisPassword,
			DB:       arc.RedisDB,
			Prefix:   arc.RedisPrefix,
		})
	case arc.BucketURL != "":
		b, err := archive.NewBlob(ctx, arc.BucketURL, arc.BucketPrefix)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrOpenArchive, err)
		}
		m.archive = b
	}
	return nil
}

func newScriptNode(
	path, src string, opts []engine.Option,
) (engine.Node, error) {
	if strings.EqualFold(filepath.Ext(path), aleExt) {
		return script.NewAleNode(src, nil, opts...)
	}
	return script.NewLuaNode(src, nil, opts...)
}

// openJournal connects the run journal. When snapshots go to a bucket,
// finished journals are hibernated into the same bucket
func (m *minflow) openJournal() error {
	if !m.cfg.JournalEnabled() {
		return nil
	}
	cfg := m.cfg.Journal
	if b, ok := m.archive.(*archive.Blob); ok {
		cfg.Hibernator = b.Hibernator(m.cfg.Archive.HibernatePrefix)
	}
	j, err := journal.Open(cfg)
	if err != nil {
		return err
	}
	m.journal = j
	m.cold = cfg.Hibernator != nil
	return nil
}

func (m *minflow) startEvents() {
	m.hub = events.NewHub()
	m.queues = []*events.Queue{
		events.NewQueue(m.hub.NewConsumer(), events.LogHandler(m.logger)),
	}
	if m.journal != nil {
		m.queues = append(m.queues, events.NewQueue(
			m.hub.NewConsumer(),
			m.journal.Handler(journal.DefaultRecordTimeout),
		))
	}
	for _, q := range m.queues {
		q.Start()
	}
}

// drainEvents stops publishing and waits for every queue to handle what
// the run emitted
func (m *minflow) drainEvents(ctx context.Context) {
	m.hub.Close()
	ctx, cancel := context.WithTimeout(
		context.WithoutCancel(ctx), eventDrainTimeout,
	)
	defer cancel()

	published := m.hub.Published()
	for _, q := range m.queues {
		if err := q.Await(ctx, published); err != nil {
			m.logger.Warn("Event queue not drained",
				log.Error(fmt.Errorf("%w: %w", ErrEventsBacklog, err)))
		}
		q.Flush()
	}
}

func (m *minflow) journalState(
	ctx context.Context, runID string,
) (*journal.RunState, error) {
	if m.journal == nil {
		return nil, nil
	}
	st, err := m.journal.Run(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadJournal, err)
	}
	return st, nil
}

func (m *minflow) hibernate(ctx context.Context, runID string) error {
	if m.journal == nil || !m.cold {
		return nil
	}
	if err := m.journal.Hibernate(ctx, runID); err != nil {
		return fmt.Errorf("%w: %w", ErrHibernateRun, err)
	}
	m.logger.Info("Journal hibernated", log.RunID(runID))
	return nil
}

func (m *minflow) saveSnapshot(
	ctx context.Context, runID string, s *store.Memory,
) error {
	if m.archive == nil {
		return nil
	}
	if err := m.archive.Save(ctx, archive.Capture(runID, s)); err != nil {
		return fmt.Errorf("%w: %w", ErrSaveArchive, err)
	}
	m.logger.Info("Store archived", log.RunID(runID))
	return nil
}

func (m *minflow) writeResult(res *result) error {
	enc := json.NewEncoder(m.out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func (m *minflow) shutdown() {
	var calls []call.Call
	if m.hub != nil {
		calls = append(calls, call.Ignore(m.hub.Close))
	}
	for _, q := range m.queues {
		calls = append(calls, call.Ignore(q.Flush))
	}
	if m.journal != nil {
		calls = append(calls, m.journal.Close)
	}
	if m.archive != nil {
		calls = append(calls, m.archive.Close)
	}
	if err := call.PerformAll(calls...); err != nil {
		m.logger.Error("Shutdown failed", log.Error(err))
	}
	m.hub, m.queues, m.journal, m.archive = nil, nil, nil, nil
}

func nodeID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

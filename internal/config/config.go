package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/kode4food/timebox"
	"github.com/tidwall/gjson"

	"github.com/kode4food/minflow/pkg/engine"
	"github.com/kode4food/minflow/pkg/log"
)

type (
	// Config holds configuration settings for a minflow run
	Config struct {
		LogLevel string
		Env      string

		// Retry & Concurrency
		Retry           engine.RetryPolicy
		ParallelWorkers int

		// Archiving
		Archive ArchiveConfig

		// Run journal. Journaling is off while Journal.Addr is empty
		Journal timebox.StoreConfig

		// Seed values for the shared store
		InitialStore map[string]any
	}

	// ArchiveConfig selects where store snapshots are archived. At most
	// one of RedisAddr and BucketURL may be set
	ArchiveConfig struct {
		RedisAddr     string
		RedisPassword string
		RedisDB       int
		RedisPrefix   string
		BucketURL     string
		BucketPrefix  string

		// HibernatePrefix is where finished journals are moved within the
		// bucket
		HibernatePrefix string
	}
)

const (
	DefaultLogLevel     = "info"
	DefaultEnv          = "dev"
	DefaultRedisDB      = 0
	DefaultRedisPrefix  = "minflow"
	DefaultBucketPrefix = "runs/"

	DefaultJournalPrefix       = "minflow-journal"
	DefaultHibernatePrefix     = "journal/"
	DefaultSnapshotWorkers     = timebox.DefaultSnapshotWorkers
	DefaultSnapshotQueueSize   = timebox.DefaultSnapshotQueueSize
	DefaultSnapshotSaveTimeout = timebox.DefaultSnapshotSaveTimeout

	DefaultRetryAttempts    = 1
	DefaultRetryBackoffType = engine.BackoffFixed

	MaxRetryAttempts = 1000
	MaxRetryWaitMS   = 24 * 60 * 60 * 1000 // 1 day
	MaxWorkers       = 4096
	MaxRedisDB       = 15
	MaxSnapshotWork  = 256
)

var (
	ErrInvalidLogLevel         = errors.New("invalid log level")
	ErrInvalidRetryAttempts    = errors.New("retry attempts must be positive")
	ErrInvalidRetryWait        = errors.New("retry wait cannot be negative")
	ErrRetryMaxWaitTooSmall    = errors.New("retry max wait must be >= wait")
	ErrInvalidRetryBackoffType = errors.New("invalid retry backoff type")
	ErrInvalidWorkers          = errors.New("parallel workers must be positive")
	ErrArchiveConflict         = errors.New(
		"archive redis address and bucket URL are mutually exclusive",
	)
	ErrInvalidInitialStore = errors.New("initial store must be a JSON object")
	ErrInvalidSnapshotWork = errors.New("snapshot workers cannot be negative")
)

// NewDefaultConfig creates a configuration with single-attempt retries, a
// worker per CPU, and archiving disabled
func NewDefaultConfig() *Config {
	return &Config{
		LogLevel: DefaultLogLevel,
		Env:      DefaultEnv,
		Retry: engine.RetryPolicy{
			Attempts: DefaultRetryAttempts,
			Backoff:  DefaultRetryBackoffType,
		},
		ParallelWorkers: runtime.GOMAXPROCS(0),
		Archive: ArchiveConfig{
			RedisDB:         DefaultRedisDB,
			RedisPrefix:     DefaultRedisPrefix,
			BucketPrefix:    DefaultBucketPrefix,
			HibernatePrefix: DefaultHibernatePrefix,
		},
		Journal: timebox.StoreConfig{
			DB:           DefaultRedisDB,
			Prefix:       DefaultJournalPrefix,
			WorkerCount:  DefaultSnapshotWorkers,
			MaxQueueSize: DefaultSnapshotQueueSize,
			SaveTimeout:  DefaultSnapshotSaveTimeout,
		},
		InitialStore: map[string]any{},
	}
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any env var cannot be parsed.
func (c *Config) LoadFromEnv() error {
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.LogLevel = logLevel
	}
	if env := os.Getenv("ENV"); env != "" {
		c.Env = env
	}
	if backoffType := os.Getenv("RETRY_BACKOFF_TYPE"); backoffType != "" {
		c.Retry.Backoff = engine.BackoffType(backoffType)
	}

	if err := loadEnvInt(
		"RETRY_ATTEMPTS", &c.Retry.Attempts, 0, MaxRetryAttempts,
	); err != nil {
		return err
	}
	if err := loadEnvMillis(
		"RETRY_WAIT_MS", &c.Retry.Wait, MaxRetryWaitMS,
	); err != nil {
		return err
	}
	if err := loadEnvMillis(
		"RETRY_MAX_WAIT_MS", &c.Retry.MaxWait, MaxRetryWaitMS,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"PARALLEL_WORKERS", &c.ParallelWorkers, 0, MaxWorkers,
	); err != nil {
		return err
	}

	if err := c.Archive.loadFromEnv(); err != nil {
		return err
	}
	if err := LoadStoreConfigFromEnv(&c.Journal, "JOURNAL"); err != nil {
		return err
	}

	if raw := os.Getenv("INITIAL_STORE"); raw != "" {
		init, err := ParseInitialStore(raw)
		if err != nil {
			return err
		}
		c.InitialStore = init
	}
	return nil
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if _, ok := log.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("%w: %s", ErrInvalidLogLevel, c.LogLevel)
	}

	if c.Retry.Attempts <= 0 {
		return ErrInvalidRetryAttempts
	}

	if c.Retry.Wait < 0 || c.Retry.MaxWait < 0 {
		return ErrInvalidRetryWait
	}

	if c.Retry.MaxWait > 0 && c.Retry.MaxWait < c.Retry.Wait {
		return ErrRetryMaxWaitTooSmall
	}

	if !c.Retry.Backoff.IsValid() {
		return fmt.Errorf("%w: %s",
			ErrInvalidRetryBackoffType, c.Retry.Backoff)
	}

	if c.ParallelWorkers <= 0 {
		return ErrInvalidWorkers
	}

	if c.Archive.RedisAddr != "" && c.Archive.BucketURL != "" {
		return ErrArchiveConflict
	}

	if c.Journal.WorkerCount < 0 {
		return ErrInvalidSnapshotWork
	}

	return nil
}

// RetryPolicy returns the retry policy applied to every node
func (c *Config) RetryPolicy() engine.RetryPolicy {
	return c.Retry
}

// Options translates the configuration into node construction options
func (c *Config) Options() []engine.Option {
	return []engine.Option{
		engine.WithRetryPolicy(c.RetryPolicy()),
		engine.WithWorkers(c.ParallelWorkers),
	}
}

// Enabled reports whether a snapshot archive has been configured
func (a *ArchiveConfig) Enabled() bool {
	return a.RedisAddr != "" || a.BucketURL != ""
}

func (a *ArchiveConfig) loadFromEnv() error {
	if addr := os.Getenv("ARCHIVE_REDIS_ADDR"); addr != "" {
		a.RedisAddr = addr
	}
	if password := os.Getenv("ARCHIVE_REDIS_PASSWORD"); password != "" {
		a.RedisPassword = password
	}
	if prefix := os.Getenv("ARCHIVE_REDIS_PREFIX"); prefix != "" {
		a.RedisPrefix = prefix
	}
	if url := os.Getenv("ARCHIVE_BUCKET_URL"); url != "" {
		a.BucketURL = url
	}
	if prefix := os.Getenv("ARCHIVE_BUCKET_PREFIX"); prefix != "" {
		a.BucketPrefix = prefix
	}
	if prefix := os.Getenv("ARCHIVE_HIBERNATE_PREFIX"); prefix != "" {
		a.HibernatePrefix = prefix
	}
	return loadEnvInt("ARCHIVE_REDIS_DB", &a.RedisDB, -1, MaxRedisDB)
}

// JournalEnabled reports whether runs are journaled to Redis
func (c *Config) JournalEnabled() bool {
	return c.Journal.Addr != ""
}

// LoadStoreConfigFromEnv loads Redis store configuration from environment
// variables named after prefix
func LoadStoreConfigFromEnv(s *timebox.StoreConfig, prefix string) error {
	if addr := os.Getenv(prefix + "_REDIS_ADDR"); addr != "" {
		s.Addr = addr
	}
	if password := os.Getenv(prefix + "_REDIS_PASSWORD"); password != "" {
		s.Password = password
	}
	if envPrefix := os.Getenv(prefix + "_REDIS_PREFIX"); envPrefix != "" {
		s.Prefix = envPrefix
	}
	if err := loadEnvInt(
		prefix+"_REDIS_DB", &s.DB, -1, MaxRedisDB,
	); err != nil {
		return err
	}
	return loadEnvInt(
		prefix+"_SNAPSHOT_WORKERS", &s.WorkerCount, -1, MaxSnapshotWork,
	)
}

// ParseInitialStore decodes a JSON object into seed values for the store
func ParseInitialStore(raw string) (map[string]any, error) {
	if !gjson.Valid(raw) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrInvalidInitialStore)
	}
	res := gjson.Parse(raw)
	if !res.IsObject() {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidInitialStore, res.Type)
	}
	init, _ := res.Value().(map[string]any)
	return init, nil
}

// loadEnvInt reads key from the environment, parses it as an integer, and
// sets *dst if the value is in the range (min, max]. Returns an error if
// the value cannot be parsed or falls outside the valid range.
func loadEnvInt[T ~int | ~int64](key string, dst *T, min, max T) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	tv := T(v)
	if tv <= min || tv > max {
		return fmt.Errorf("invalid %s: %d out of range [%d, %d]",
			key, tv, min+1, max)
	}
	*dst = tv
	return nil
}

func loadEnvMillis(key string, dst *time.Duration, max int64) error {
	ms := dst.Milliseconds()
	if err := loadEnvInt(key, &ms, -1, max); err != nil {
		return err
	}
	*dst = time.Duration(ms) * time.Millisecond
	return nil
}

package config_test

import (
	"runtime"
	"testing"
	"time"

	testify "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/minflow/internal/assert"
	"github.com/kode4food/minflow/internal/config"
	"github.com/kode4food/minflow/pkg/engine"
)

func TestDefaultConfigValues(t *testing.T) {
	cfg := config.NewDefaultConfig()

	testify.NoError(t, cfg.Validate())
	testify.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	testify.Equal(t, config.DefaultEnv, cfg.Env)
	testify.Equal(t, engine.DefaultRetryPolicy(), cfg.RetryPolicy())
	testify.Equal(t, runtime.GOMAXPROCS(0), cfg.ParallelWorkers)
	testify.False(t, cfg.Archive.Enabled())
	testify.Equal(t, config.DefaultRedisPrefix, cfg.Archive.RedisPrefix)
	testify.Equal(t, config.DefaultBucketPrefix, cfg.Archive.BucketPrefix)
	testify.Empty(t, cfg.InitialStore)
	testify.Equal(t, config.DefaultHibernatePrefix, cfg.Archive.HibernatePrefix)
	testify.False(t, cfg.JournalEnabled())
	testify.Equal(t, config.DefaultJournalPrefix, cfg.Journal.Prefix)
	testify.Equal(t, config.DefaultSnapshotWorkers, cfg.Journal.WorkerCount)
	testify.Equal(t,
		config.DefaultSnapshotSaveTimeout, cfg.Journal.SaveTimeout,
	)
}

func TestConfigValidation(t *testing.T) {
	as := assert.New(t)
	as.ConfigValid(config.NewDefaultConfig())

	tests := []struct {
		name      string
		configMod func(*config.Config)
		want      error
	}{
		{
			name: "unknown_log_level",
			configMod: func(c *config.Config) {
				c.LogLevel = "chatty"
			},
			want: config.ErrInvalidLogLevel,
		},
		{
			name: "zero_attempts",
			configMod: func(c *config.Config) {
				c.Retry.Attempts = 0
			},
			want: config.ErrInvalidRetryAttempts,
		},
		{
			name: "negative_wait",
			configMod: func(c *config.Config) {
				c.Retry.Wait = -time.Second
			},
			want: config.ErrInvalidRetryWait,
		},
		{
			name: "max_wait_below_wait",
			configMod: func(c *config.Config) {
				c.Retry.Wait = time.Second
				c.Retry.MaxWait = time.Millisecond
			},
			want: config.ErrRetryMaxWaitTooSmall,
		},
		{
			name: "bad_backoff",
			configMod: func(c *config.Config) {
				c.Retry.Backoff = "random"
			},
			want: config.ErrInvalidRetryBackoffType,
		},
		{
			name: "zero_workers",
			configMod: func(c *config.Config) {
				c.ParallelWorkers = 0
			},
			want: config.ErrInvalidWorkers,
		},
		{
			name: "two_archives",
			configMod: func(c *config.Config) {
				c.Archive.RedisAddr = "localhost:6379"
				c.Archive.BucketURL = "mem://"
			},
			want: config.ErrArchiveConflict,
		},
		{
			name: "negative_snapshot_workers",
			configMod: func(c *config.Config) {
				c.Journal.WorkerCount = -1
			},
			want: config.ErrInvalidSnapshotWork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewDefaultConfig()
			tt.configMod(cfg)
			assert.New(t).ConfigInvalid(cfg, tt.want)
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ENV", "prod")
	t.Setenv("RETRY_ATTEMPTS", "5")
	t.Setenv("RETRY_WAIT_MS", "250")
	t.Setenv("RETRY_MAX_WAIT_MS", "2000")
	t.Setenv("RETRY_BACKOFF_TYPE", "exponential")
	t.Setenv("PARALLEL_WORKERS", "7")
	t.Setenv("ARCHIVE_REDIS_ADDR", "redis:6379")
	t.Setenv("ARCHIVE_REDIS_PASSWORD", "secret")
	t.Setenv("ARCHIVE_REDIS_DB", "3")
	t.Setenv("ARCHIVE_REDIS_PREFIX", "runs")
	t.Setenv("INITIAL_STORE", `{"x": 5, "name": "demo"}`)

	cfg := config.NewDefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())
	require.NoError(t, cfg.Validate())

	testify.Equal(t, "debug", cfg.LogLevel)
	testify.Equal(t, "prod", cfg.Env)
	testify.Equal(t, engine.RetryPolicy{
		Attempts: 5,
		Wait:     250 * time.Millisecond,
		MaxWait:  2 * time.Second,
		Backoff:  engine.BackoffExponential,
	}, cfg.RetryPolicy())
	testify.Equal(t, 7, cfg.ParallelWorkers)
	testify.Equal(t, config.ArchiveConfig{
		RedisAddr:       "redis:6379",
		RedisPassword:   "secret",
		RedisDB:         3,
		RedisPrefix:     "runs",
		BucketPrefix:    config.DefaultBucketPrefix,
		HibernatePrefix: config.DefaultHibernatePrefix,
	}, cfg.Archive)
	testify.True(t, cfg.Archive.Enabled())
	testify.Equal(t, map[string]any{"x": float64(5), "name": "demo"},
		cfg.InitialStore)
	testify.Len(t, cfg.Options(), 2)
}

func TestLoadFromEnvBucket(t *testing.T) {
	t.Setenv("ARCHIVE_BUCKET_URL", "mem://")
	t.Setenv("ARCHIVE_BUCKET_PREFIX", "snapshots/")

	cfg := config.NewDefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())
	testify.Equal(t, "mem://", cfg.Archive.BucketURL)
	testify.Equal(t, "snapshots/", cfg.Archive.BucketPrefix)
	testify.True(t, cfg.Archive.Enabled())
}

func TestLoadFromEnvErrors(t *testing.T) {
	tests := []struct {
		key, value, contains string
	}{
		{"RETRY_ATTEMPTS", "many", "invalid RETRY_ATTEMPTS"},
		{"RETRY_ATTEMPTS", "0", "out of range"},
		{"RETRY_WAIT_MS", "-5", "out of range"},
		{"RETRY_MAX_WAIT_MS", "x", "invalid RETRY_MAX_WAIT_MS"},
		{"PARALLEL_WORKERS", "100000", "out of range"},
		{"ARCHIVE_REDIS_DB", "16", "out of range"},
		{"JOURNAL_REDIS_DB", "16", "out of range"},
		{"JOURNAL_REDIS_DB", "two", "invalid JOURNAL_REDIS_DB"},
		{"JOURNAL_SNAPSHOT_WORKERS", "-1", "out of range"},
		{"INITIAL_STORE", "[1, 2]", "initial store must be a JSON object"},
		{"INITIAL_STORE", "{nope", "invalid JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			err := config.NewDefaultConfig().LoadFromEnv()
			testify.ErrorContains(t, err, tt.contains)
		})
	}
}

func TestLoadFromEnvJournal(t *testing.T) {
	t.Setenv("JOURNAL_REDIS_ADDR", "journal:6379")
	t.Setenv("JOURNAL_REDIS_PASSWORD", "pw")
	t.Setenv("JOURNAL_REDIS_PREFIX", "runs-journal")
	t.Setenv("JOURNAL_REDIS_DB", "2")
	t.Setenv("JOURNAL_SNAPSHOT_WORKERS", "0")
	t.Setenv("ARCHIVE_BUCKET_URL", "mem://")
	t.Setenv("ARCHIVE_HIBERNATE_PREFIX", "cold/")

	cfg := config.NewDefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())
	require.NoError(t, cfg.Validate())

	testify.True(t, cfg.JournalEnabled())
	testify.Equal(t, "journal:6379", cfg.Journal.Addr)
	testify.Equal(t, "pw", cfg.Journal.Password)
	testify.Equal(t, "runs-journal", cfg.Journal.Prefix)
	testify.Equal(t, 2, cfg.Journal.DB)
	testify.Zero(t, cfg.Journal.WorkerCount)
	testify.Equal(t, config.DefaultSnapshotQueueSize, cfg.Journal.MaxQueueSize)
	testify.Equal(t, "cold/", cfg.Archive.HibernatePrefix)
}

func TestZeroWaitAllowed(t *testing.T) {
	t.Setenv("RETRY_WAIT_MS", "0")
	cfg := config.NewDefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())
	testify.Zero(t, cfg.Retry.Wait)
}

func TestOptionsApply(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Retry.Attempts = 3
	cfg.Retry.Wait = time.Second

	n := engine.NewBase(cfg.Options()...)
	testify.Equal(t, cfg.RetryPolicy(), n.Retry())
}

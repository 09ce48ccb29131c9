package marketplace

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
[log]
level = "DEBUG"

[db]
host = "localhost"
port = 5432
user = "gavel"
password = "secret"
database = "gavel"

[engine]
lock_wait = "500ms"

[sweeper]
interval = "30s"
batch_size = 25
parallelism = 2
ending_soon_every = 10

[cache]
size = 5000
ttl = "2s"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.Log.Level)
	assert.Equal(t, "localhost", cfg.DB.Host)
	assert.Equal(t, "gavel", cfg.DB.Database)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.LockWait.Std())
	assert.Equal(t, 30*time.Second, cfg.Sweeper.Interval.Std())
	assert.Equal(t, 25, cfg.Sweeper.BatchSize)
	assert.Equal(t, 2, cfg.Sweeper.Parallelism)
	assert.Equal(t, 10, cfg.Sweeper.EndingSoonEvery)
	assert.Equal(t, 5000, cfg.Cache.Size)
	assert.Equal(t, 2*time.Second, cfg.Cache.TTL.Std())
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
[db]
host = "localhost"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.Engine.LockWait.Std())
	assert.Equal(t, time.Minute, cfg.Sweeper.Interval.Std())
	assert.Equal(t, 50, cfg.Sweeper.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Cache.TTL.Std())
}

func TestDurationUnmarshalText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Duration
		err   bool
	}{
		{"milliseconds", "500ms", 500 * time.Millisecond, false},
		{"seconds", "30s", 30 * time.Second, false},
		{"compound", "1m30s", 90 * time.Second, false},
		{"hours", "2h", 2 * time.Hour, false},
		{"bare_number", "30", 0, true},
		{"garbage", "soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			err := d.UnmarshalText([]byte(tt.input))
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Std())
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

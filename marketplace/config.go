package marketplace

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/gavelworks/gavel/marketplace/database"
)

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err = toml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Duration decodes TOML strings like "500ms" or "1m" through
// time.ParseDuration; a bare time.Duration field would reject them.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	Log     LogConfig       `toml:"log"`
	DB      database.Config `toml:"db"`
	Engine  EngineConfig    `toml:"engine"`
	Sweeper SweeperConfig   `toml:"sweeper"`
	Cache   CacheConfig     `toml:"cache"`
}

type LogConfig struct {
	Level slog.Level `toml:"level"`
}

type EngineConfig struct {
	// LockWait bounds how long a bid attempt may wait for an auction's
	// exclusive section before failing retryable.
	LockWait Duration `toml:"lock_wait"`
}

type SweeperConfig struct {
	Interval        Duration `toml:"interval"`
	BatchSize       int      `toml:"batch_size"`
	Parallelism     int      `toml:"parallelism"`
	EndingSoonEvery int      `toml:"ending_soon_every"`
}

type CacheConfig struct {
	Size int      `toml:"size"`
	TTL  Duration `toml:"ttl"`
}

func (c *Config) applyDefaults() {
	if c.Engine.LockWait <= 0 {
		c.Engine.LockWait = Duration(3 * time.Second)
	}
	if c.Sweeper.Interval <= 0 {
		c.Sweeper.Interval = Duration(time.Minute)
	}
	if c.Sweeper.BatchSize <= 0 {
		c.Sweeper.BatchSize = 50
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = Duration(5 * time.Second)
	}
}

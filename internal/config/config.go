// Package config loads engine tunables from a YAML file, OB_*
// environment variables, and pflag command-line overrides, in
// ascending precedence.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the top-level engine configuration.
type Config struct {
	Slab       SlabConfig       `mapstructure:"slab"`
	WAL        WALConfig        `mapstructure:"wal"`
	Projection ProjectionConfig `mapstructure:"projection"`
	Ring       RingConfig       `mapstructure:"ring"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// SlabConfig sizes the dual hot/cold slot allocator.
type SlabConfig struct {
	Preallocate bool `mapstructure:"preallocate"`
	Capacity    int  `mapstructure:"capacity"`
	MaxProducts int  `mapstructure:"max_products"`
	MaxOrg      int  `mapstructure:"max_org"`
}

// WALConfig controls the write-ahead log.
type WALConfig struct {
	Path           string `mapstructure:"path"`
	CRC            bool   `mapstructure:"crc"`
	Direct         bool   `mapstructure:"direct"`
	BufferSize     int    `mapstructure:"buffer_size"`
	SyncIntervalMs int    `mapstructure:"sync_interval_ms"`
}

// ProjectionConfig bounds the per-viewer market-data ladders.
type ProjectionConfig struct {
	TopN int `mapstructure:"top_n"`
}

// RingConfig sizes the SPMC notification ring.
type RingConfig struct {
	Capacity     int    `mapstructure:"capacity"`
	NumConsumers int    `mapstructure:"num_consumers"`
	NotifyBatch  uint64 `mapstructure:"notify_batch"`
}

// RiskConfig mirrors internal/risk.Config for file-based loading.
type RiskConfig struct {
	MaxOrderSize    uint64 `mapstructure:"max_order_size"`
	MaxOrderValue   uint64 `mapstructure:"max_order_value"`
	MaxPriceBandBps uint64 `mapstructure:"max_price_band_bps"`
	MaxPosition     int64  `mapstructure:"max_position"`
	MaxDailyVolume  uint64 `mapstructure:"max_daily_volume"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("slab.preallocate", false)
	v.SetDefault("slab.capacity", 1<<16)
	v.SetDefault("slab.max_products", 256)
	v.SetDefault("slab.max_org", 1024)

	v.SetDefault("wal.path", "ob.wal")
	v.SetDefault("wal.crc", true)
	v.SetDefault("wal.direct", false)
	v.SetDefault("wal.buffer_size", 64*1024)
	v.SetDefault("wal.sync_interval_ms", 0)

	v.SetDefault("projection.top_n", 20)

	v.SetDefault("ring.capacity", 4096)
	v.SetDefault("ring.num_consumers", 1)
	v.SetDefault("ring.notify_batch", 1)

	v.SetDefault("risk.max_order_size", 0)
	v.SetDefault("risk.max_order_value", 0)
	v.SetDefault("risk.max_price_band_bps", 0)
	v.SetDefault("risk.max_position", 0)
	v.SetDefault("risk.max_daily_volume", 0)

	v.SetDefault("logging.level", "info")
}

// Load reads configuration from path (if non-empty), then binds flags
// from fs and OB_*-prefixed environment variables over it.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("OB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// Validate checks field ranges that would otherwise fail cryptically
// deep inside book/wal/projection construction.
func (c *Config) Validate() error {
	if c.Slab.Capacity <= 0 {
		return fmt.Errorf("slab.capacity must be > 0")
	}
	if c.Slab.MaxProducts <= 0 {
		return fmt.Errorf("slab.max_products must be > 0")
	}
	if c.Slab.MaxOrg <= 0 {
		return fmt.Errorf("slab.max_org must be > 0")
	}
	if c.WAL.Path == "" {
		return fmt.Errorf("wal.path must be set")
	}
	if c.Projection.TopN <= 0 {
		return fmt.Errorf("projection.top_n must be > 0")
	}
	if c.Ring.Capacity <= 0 || c.Ring.Capacity&(c.Ring.Capacity-1) != 0 {
		return fmt.Errorf("ring.capacity must be a power of two")
	}
	if c.Ring.NumConsumers <= 0 {
		return fmt.Errorf("ring.num_consumers must be > 0")
	}
	return nil
}

// RegisterFlags adds the override flags Load expects to bind.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Bool("wal.crc", true, "append a CRC32 to every WAL record")
	fs.Bool("wal.direct", false, "open the WAL with O_DIRECT where supported")
	fs.String("wal.path", "ob.wal", "write-ahead log file path")
	fs.Int("projection.top_n", 20, "ladder depth reported per subscription")
	fs.String("logging.level", "info", "zap logging level")
}

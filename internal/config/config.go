package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/belay-dotnet/belay-go/internal/cache"
	"github.com/belay-dotnet/belay-go/internal/protocol"
)

type Config struct {
	Device DeviceConfig `toml:"device"`
	Engine EngineConfig `toml:"engine"`
	Cache  CacheConfig  `toml:"cache"`
}

type DeviceConfig struct {
	Binary string   `toml:"binary"`
	Args   []string `toml:"args"`
}

type EngineConfig struct {
	RawEntryTimeoutMS int     `toml:"raw_entry_timeout_ms"`
	AckTimeoutMS      int     `toml:"ack_timeout_ms"`
	ExecTimeoutMS     int     `toml:"exec_timeout_ms"`
	EntryAttempts     int     `toml:"entry_attempts"`
	ExecAttempts      int     `toml:"exec_attempts"`
	BackoffInitialMS  int     `toml:"backoff_initial_ms"`
	BackoffMultiplier float64 `toml:"backoff_multiplier"`
	BackoffMaxMS      int     `toml:"backoff_max_ms"`
}

type CacheConfig struct {
	MaxAgeHours int    `toml:"max_age_hours"`
	IdleHours   int    `toml:"idle_hours"`
	Capacity    uint64 `toml:"capacity"`
	Dir         string `toml:"dir"`
}

func Default() Config {
	return Config{
		Device: DeviceConfig{Binary: "micropython", Args: []string{"-i"}},
		Engine: EngineConfig{
			RawEntryTimeoutMS: 1000,
			AckTimeoutMS:      1000,
			ExecTimeoutMS:     5000,
			EntryAttempts:     2,
			ExecAttempts:      2,
			BackoffInitialMS:  100,
			BackoffMultiplier: 2.0,
			BackoffMaxMS:      1000,
		},
		Cache: CacheConfig{
			MaxAgeHours: 24,
			IdleHours:   6,
			Capacity:    1000,
		},
	}
}

// Load reads a TOML config, filling unset fields from defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Device.Binary) == "" {
		return fmt.Errorf("device config missing binary")
	}
	if cfg.Engine.RawEntryTimeoutMS <= 0 || cfg.Engine.AckTimeoutMS <= 0 || cfg.Engine.ExecTimeoutMS <= 0 {
		return fmt.Errorf("engine timeouts must be positive")
	}
	if cfg.Engine.EntryAttempts <= 0 || cfg.Engine.ExecAttempts <= 0 {
		return fmt.Errorf("engine attempts must be positive")
	}
	if cfg.Cache.MaxAgeHours <= 0 || cfg.Cache.IdleHours <= 0 {
		return fmt.Errorf("cache expiry windows must be positive")
	}
	if cfg.Cache.Capacity == 0 {
		return fmt.Errorf("cache capacity must be positive")
	}
	return nil
}

// EngineSettings converts the wire-format config into engine bounds.
func (c Config) EngineSettings() protocol.Config {
	return protocol.Config{
		RawEntryTimeout: time.Duration(c.Engine.RawEntryTimeoutMS) * time.Millisecond,
		AckTimeout:      time.Duration(c.Engine.AckTimeoutMS) * time.Millisecond,
		ExecTimeout:     time.Duration(c.Engine.ExecTimeoutMS) * time.Millisecond,
		EntryAttempts:   c.Engine.EntryAttempts,
		ExecAttempts:    c.Engine.ExecAttempts,
		Backoff: protocol.BackoffConfig{
			InitialDelay: time.Duration(c.Engine.BackoffInitialMS) * time.Millisecond,
			Multiplier:   c.Engine.BackoffMultiplier,
			MaxDelay:     time.Duration(c.Engine.BackoffMaxMS) * time.Millisecond,
		},
	}
}

// CacheSettings converts the wire-format config into cache bounds.
func (c Config) CacheSettings() cache.Config {
	return cache.Config{
		MaxAge:   time.Duration(c.Cache.MaxAgeHours) * time.Hour,
		IdleFor:  time.Duration(c.Cache.IdleHours) * time.Hour,
		Capacity: c.Cache.Capacity,
	}
}

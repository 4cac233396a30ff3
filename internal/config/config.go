// Package config loads the server configuration from TOML or YAML files and
// the environment.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"arena-shooter/server/internal/game"
	"arena-shooter/server/internal/instance"
	"arena-shooter/server/internal/observability"
	"arena-shooter/server/internal/physics"
	"arena-shooter/server/internal/sim"
	"arena-shooter/server/logging"
)

// Environment overrides applied after the file is read.
const (
	EnvAddr     = "ARENA_ADDR"
	EnvTickRate = "ARENA_TICK_RATE"
	EnvLogLevel = "ARENA_LOG_LEVEL"
)

const (
	DefaultAddress      = ":3000"
	DefaultWriteTimeout = 10 * time.Second
	DefaultRecentEvents = 64
)

type Config struct {
	Server        ServerConfig         `toml:"server" yaml:"server"`
	Arena         ArenaConfig          `toml:"arena" yaml:"arena"`
	Simulation    SimulationConfig     `toml:"simulation" yaml:"simulation"`
	Instances     InstancesConfig      `toml:"instances" yaml:"instances"`
	Commands      CommandsConfig       `toml:"commands" yaml:"commands"`
	Logging       LoggingConfig        `toml:"logging" yaml:"logging"`
	Observability observability.Config `toml:"observability" yaml:"observability"`
}

type ServerConfig struct {
	Address      string        `toml:"address" yaml:"address"`
	ClientDir    string        `toml:"client_dir" yaml:"client_dir"`
	WriteTimeout time.Duration `toml:"write_timeout" yaml:"write_timeout"`
}

type ArenaConfig struct {
	Width        float64 `toml:"width" yaml:"width"`
	Height       float64 `toml:"height" yaml:"height"`
	PlayerRadius float64 `toml:"player_radius" yaml:"player_radius"`
	EnemyRadius  float64 `toml:"enemy_radius" yaml:"enemy_radius"`
	BulletRadius float64 `toml:"bullet_radius" yaml:"bullet_radius"`
	EnemySpeed   float64 `toml:"enemy_speed" yaml:"enemy_speed"`
	BulletSpeed  float64 `toml:"bullet_speed" yaml:"bullet_speed"`
	EnemyCount   int     `toml:"enemy_count" yaml:"enemy_count"`
}

type SimulationConfig struct {
	TickRate    int     `toml:"tick_rate" yaml:"tick_rate"`
	FixedStep   float64 `toml:"fixed_step" yaml:"fixed_step"` // seconds
	MaxSubSteps int     `toml:"max_sub_steps" yaml:"max_sub_steps"`
	// Seed makes instance RNGs reproducible. Empty seeds from the clock.
	Seed string `toml:"seed" yaml:"seed"`
}

type InstancesConfig struct {
	IdleGrace time.Duration `toml:"idle_grace" yaml:"idle_grace"`
}

type CommandsConfig struct {
	Capacity      int `toml:"capacity" yaml:"capacity"`
	PerActorLimit int `toml:"per_actor_limit" yaml:"per_actor_limit"`
}

type LoggingConfig struct {
	Level    string `toml:"level" yaml:"level"`
	Format   string `toml:"format" yaml:"format"` // "console" or "json"
	JSONPath string `toml:"json_path" yaml:"json_path"`
	// RecentEvents is how many events /diagnostics keeps; zero disables it.
	RecentEvents int `toml:"recent_events" yaml:"recent_events"`
}

// Default returns the stock configuration.
func Default() Config {
	phys := physics.DefaultConfig()
	arena := game.DefaultConfig()
	loop := sim.DefaultLoopConfig()
	return Config{
		Server: ServerConfig{
			Address:      DefaultAddress,
			WriteTimeout: DefaultWriteTimeout,
		},
		Arena: ArenaConfig{
			Width:        arena.Width,
			Height:       arena.Height,
			PlayerRadius: arena.PlayerRadius,
			EnemyRadius:  arena.EnemyRadius,
			BulletRadius: arena.BulletRadius,
			EnemySpeed:   arena.EnemySpeed,
			BulletSpeed:  arena.BulletSpeed,
			EnemyCount:   arena.EnemyCount,
		},
		Simulation: SimulationConfig{
			TickRate:    sim.DefaultTickRate,
			FixedStep:   phys.FixedStep,
			MaxSubSteps: phys.MaxSubSteps,
		},
		Instances: InstancesConfig{IdleGrace: instance.DefaultIdleGrace},
		Commands: CommandsConfig{
			Capacity:      loop.CommandCapacity,
			PerActorLimit: loop.PerActorLimit,
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "console",
			RecentEvents: DefaultRecentEvents,
		},
		Observability: observability.Config{ProfilePath: "."},
	}
}

// Load reads path over the defaults, applies environment overrides and
// normalizes the result. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".toml":
			err = toml.Unmarshal(data, &cfg)
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, &cfg)
		default:
			return Config{}, fmt.Errorf("config %s: unsupported extension %q", path, filepath.Ext(path))
		}
		if err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	cfg = cfg.Normalized()
	if err := cfg.Observability.Validate(); err != nil {
		return Config{}, fmt.Errorf("observability config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if raw, ok := lookup(EnvAddr); ok && raw != "" {
		c.Server.Address = raw
	}
	if raw, ok := lookup(EnvTickRate); ok && raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", EnvTickRate, raw, err)
		}
		c.Simulation.TickRate = value
	}
	if raw, ok := lookup(EnvLogLevel); ok && raw != "" {
		c.Logging.Level = raw
	}
	return nil
}

// Normalized replaces unusable values with their defaults.
func (c Config) Normalized() Config {
	defaults := Default()
	out := c

	if strings.TrimSpace(out.Server.Address) == "" {
		out.Server.Address = defaults.Server.Address
	}
	if out.Server.WriteTimeout <= 0 {
		out.Server.WriteTimeout = defaults.Server.WriteTimeout
	}

	arena := out.Game().Normalized()
	out.Arena = ArenaConfig{
		Width:        arena.Width,
		Height:       arena.Height,
		PlayerRadius: arena.PlayerRadius,
		EnemyRadius:  arena.EnemyRadius,
		BulletRadius: arena.BulletRadius,
		EnemySpeed:   arena.EnemySpeed,
		BulletSpeed:  arena.BulletSpeed,
		EnemyCount:   arena.EnemyCount,
	}

	if out.Simulation.TickRate <= 0 {
		out.Simulation.TickRate = defaults.Simulation.TickRate
	}
	if out.Simulation.FixedStep <= 0 || math.IsNaN(out.Simulation.FixedStep) || math.IsInf(out.Simulation.FixedStep, 0) {
		out.Simulation.FixedStep = defaults.Simulation.FixedStep
	}
	if out.Simulation.MaxSubSteps < 1 {
		out.Simulation.MaxSubSteps = defaults.Simulation.MaxSubSteps
	}

	if out.Instances.IdleGrace <= 0 {
		out.Instances.IdleGrace = defaults.Instances.IdleGrace
	}

	if out.Commands.Capacity <= 0 {
		out.Commands.Capacity = defaults.Commands.Capacity
	}
	if out.Commands.PerActorLimit < 0 {
		out.Commands.PerActorLimit = defaults.Commands.PerActorLimit
	}

	out.Logging.Level = strings.ToLower(strings.TrimSpace(out.Logging.Level))
	if out.Logging.Level == "" {
		out.Logging.Level = defaults.Logging.Level
	}
	switch strings.ToLower(strings.TrimSpace(out.Logging.Format)) {
	case "json":
		out.Logging.Format = "json"
	default:
		out.Logging.Format = defaults.Logging.Format
	}

	if out.Logging.RecentEvents < 0 {
		out.Logging.RecentEvents = 0
	}

	if out.Observability.ProfilePath == "" {
		out.Observability.ProfilePath = defaults.Observability.ProfilePath
	}
	return out
}

// Game returns the arena rules for new engines.
func (c Config) Game() game.Config {
	return game.Config{
		Width:        c.Arena.Width,
		Height:       c.Arena.Height,
		PlayerRadius: c.Arena.PlayerRadius,
		EnemyRadius:  c.Arena.EnemyRadius,
		BulletRadius: c.Arena.BulletRadius,
		EnemySpeed:   c.Arena.EnemySpeed,
		BulletSpeed:  c.Arena.BulletSpeed,
		EnemyCount:   c.Arena.EnemyCount,
	}
}

func (c Config) Physics() physics.Config {
	return physics.Config{FixedStep: c.Simulation.FixedStep, MaxSubSteps: c.Simulation.MaxSubSteps}
}

func (c Config) Instance() instance.Config {
	return instance.Config{
		Game: c.Game(),
		Loop: sim.LoopConfig{
			CommandCapacity: c.Commands.Capacity,
			PerActorLimit:   c.Commands.PerActorLimit,
		},
		IdleGrace: c.Instances.IdleGrace,
	}
}

// Log derives the event router settings. JSON output goes through the zap
// sink; a JSON path adds it next to the console sink. A positive
// RecentEvents adds the in-memory sink behind /diagnostics.
func (c Config) Log() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.MinimumSeverity = logging.ParseSeverity(c.Logging.Level)
	cfg.JSON.FilePath = c.Logging.JSONPath
	switch {
	case c.Logging.Format == "json":
		cfg.EnabledSinks = []string{"json"}
	case c.Logging.JSONPath != "":
		cfg.EnabledSinks = []string{"console", "json"}
	default:
		cfg.EnabledSinks = []string{"console"}
	}
	if c.Logging.RecentEvents > 0 {
		cfg.EnabledSinks = append(cfg.EnabledSinks, "memory")
		cfg.Memory.Limit = c.Logging.RecentEvents
	}
	return cfg
}

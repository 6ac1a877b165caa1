// Package config loads the service configuration from a YAML file with
// environment overrides. One Config value is built at startup and injected
// into every layer; nothing reads viper after Load returns.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration tree.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Search     SearchConfig     `mapstructure:"search"`
	Pools      PoolsConfig      `mapstructure:"pools"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Controller ControllerConfig `mapstructure:"controller"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig selects the store backend. Driver is one of memory, sqlite,
// mysql, postgres; DSN is ignored for memory.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// LLMConfig selects the chat provider. Provider is one of openai, anthropic,
// google, mock; Model falls back to the provider default when empty.
type LLMConfig struct {
	Provider string `mapstructure:"provider"`
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
}

type SearchConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
}

type PoolsConfig struct {
	LLMConcurrency int           `mapstructure:"llm_concurrency"`
	LLMRate        int           `mapstructure:"llm_rate"`
	LLMWindow      time.Duration `mapstructure:"llm_window"`
	Workers        int           `mapstructure:"workers"`
	WorkerQueue    int           `mapstructure:"worker_queue"`
	WorkerTimeout  time.Duration `mapstructure:"worker_timeout"`
	DBMaxOpen      int           `mapstructure:"db_max_open"`
	DBIdleTimeout  time.Duration `mapstructure:"db_idle_timeout"`
	DBMaxAge       time.Duration `mapstructure:"db_max_age"`
}

type SchedulerConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
	MaxSubmits    int           `mapstructure:"max_submits"`
}

type ControllerConfig struct {
	MaxSteps    int           `mapstructure:"max_steps"`
	NodeTimeout time.Duration `mapstructure:"node_timeout"`
	WaitBackoff time.Duration `mapstructure:"wait_backoff"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text or json
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "researchgraph.db")

	v.SetDefault("llm.provider", "openai")

	v.SetDefault("pools.llm_concurrency", 4)
	v.SetDefault("pools.llm_rate", 60)
	v.SetDefault("pools.llm_window", time.Minute)
	v.SetDefault("pools.workers", 4)
	v.SetDefault("pools.worker_queue", 64)
	v.SetDefault("pools.worker_timeout", 300*time.Second)
	v.SetDefault("pools.db_max_open", 10)
	v.SetDefault("pools.db_idle_timeout", 5*time.Minute)
	v.SetDefault("pools.db_max_age", 30*time.Minute)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.check_interval", 30*time.Second)
	v.SetDefault("scheduler.max_submits", 4)

	v.SetDefault("controller.max_steps", 120)
	v.SetDefault("controller.node_timeout", 90*time.Second)
	v.SetDefault("controller.wait_backoff", 2*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads the YAML file at path (optional; empty path means defaults and
// environment only) and applies RESEARCHGRAPH_* environment overrides, e.g.
// RESEARCHGRAPH_DATABASE_DSN or RESEARCHGRAPH_LLM_API_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RESEARCHGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the wiring cannot work with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory", "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Database.Driver != "memory" && c.Database.DSN == "" {
		return fmt.Errorf("database driver %q requires a dsn", c.Database.Driver)
	}
	switch c.LLM.Provider {
	case "openai", "anthropic", "google", "mock":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.Controller.MaxSteps < 1 {
		return fmt.Errorf("controller.max_steps must be positive")
	}
	return nil
}

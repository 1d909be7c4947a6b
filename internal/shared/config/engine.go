package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config contains all configuration for a pulsar run.
type Config struct {
	Engine  EngineConfig  `mapstructure:"engine"`
	Spill   SpillConfig   `mapstructure:"spill"`
	Output  OutputConfig  `mapstructure:"output"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// EngineConfig contains worker pool and dispatch configuration.
type EngineConfig struct {
	Workers          int           `mapstructure:"workers"`
	ChunkSize        int           `mapstructure:"chunk_size"`
	Concurrency      int           `mapstructure:"concurrency"`
	QueueSize        int           `mapstructure:"queue_size"`
	MaxBatchFailures int           `mapstructure:"max_batch_failures"`
	ShutdownGrace    time.Duration `mapstructure:"shutdown_grace"`
}

// SpillConfig controls spilling of grouped values to disk. A threshold of
// zero keeps every group in memory.
type SpillConfig struct {
	Threshold int    `mapstructure:"threshold"`
	Dir       string `mapstructure:"dir"`
}

// OutputConfig contains result rendering configuration.
type OutputConfig struct {
	Format string `mapstructure:"format"`
}

// LoggingConfig controls the level and handler of the stderr logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads the configuration from the given path.
// If configPath is empty, it looks for pulsar.yaml in the config/ directory.
// Environment variables with PULSAR_ prefix override config file values.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("engine.workers", 0)
	v.SetDefault("engine.chunk_size", 64)
	v.SetDefault("engine.concurrency", 0)
	v.SetDefault("engine.queue_size", 64)
	v.SetDefault("engine.max_batch_failures", 8)
	v.SetDefault("engine.shutdown_grace", 2*time.Second)
	v.SetDefault("spill.threshold", 0)
	v.SetDefault("spill.dir", "")
	v.SetDefault("output.format", "plain")
	v.SetDefault("logging.level", "warn")
	v.SetDefault("logging.format", "text")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("pulsar")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("PULSAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Engine.Workers < 0 {
		return fmt.Errorf("engine.workers must be >= 0, got %d", c.Engine.Workers)
	}
	if c.Engine.ChunkSize <= 0 {
		return fmt.Errorf("engine.chunk_size must be > 0, got %d", c.Engine.ChunkSize)
	}
	if c.Engine.Concurrency < 0 {
		return fmt.Errorf("engine.concurrency must be >= 0, got %d", c.Engine.Concurrency)
	}
	if c.Engine.QueueSize < 0 {
		return fmt.Errorf("engine.queue_size must be >= 0, got %d", c.Engine.QueueSize)
	}
	if c.Spill.Threshold < 0 {
		return fmt.Errorf("spill.threshold must be >= 0, got %d", c.Spill.Threshold)
	}
	switch strings.ToLower(c.Output.Format) {
	case "plain", "json":
	default:
		return fmt.Errorf("output.format must be plain or json, got %q", c.Output.Format)
	}
	return nil
}

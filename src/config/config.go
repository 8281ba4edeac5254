// Package config loads and validates the runtime's configuration
// options. The core does not own a CLI; cmd/nebula-runtime binds
// these options to flags.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config carries every option the runtime core accepts.
type Config struct {
	NumberOfWorkerThreads            uint     `mapstructure:"numberOfWorkerThreads" validate:"gte=1"`
	BufferSize                       uint32   `mapstructure:"bufferSize" validate:"gte=64"`
	NumberOfBuffersInGlobalPool      uint     `mapstructure:"numberOfBuffersInGlobalPool" validate:"gte=1"`
	NumberOfBuffersPerPipeline       uint     `mapstructure:"numberOfBuffersPerPipeline" validate:"gte=1"`
	NumberOfBuffersInSourceLocalPool uint     `mapstructure:"numberOfBuffersInSourceLocalPool" validate:"gte=1"`
	TaskQueueCapacity                uint     `mapstructure:"taskQueueCapacity" validate:"gte=1"`
	SequenceShredderCapacity         uint     `mapstructure:"sequenceShredderCapacity" validate:"gte=2"`
	WatermarkOrigins                 []uint64 `mapstructure:"watermarkOrigins"`
}

// Default returns the configuration used when no file or flags are
// given.
func Default() *Config {
	return &Config{
		NumberOfWorkerThreads:            4,
		BufferSize:                       4096,
		NumberOfBuffersInGlobalPool:      1024,
		NumberOfBuffersPerPipeline:       128,
		NumberOfBuffersInSourceLocalPool: 64,
		TaskQueueCapacity:                1000,
		SequenceShredderCapacity:         256,
	}
}

// Load reads configuration from the given file path (optional; empty
// means defaults + environment only) and NEBULA_-prefixed environment
// variables, then validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("NEBULA")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct-level constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.BufferSize&(c.BufferSize-1) != 0 {
		// Power of two is recommended, not required; warn via error text
		// only when grossly misaligned sizes would break layout capacity.
		if c.BufferSize%64 != 0 {
			return fmt.Errorf("config: bufferSize %d must be a multiple of 64", c.BufferSize)
		}
	}
	return nil
}

// Package config loads the engine's YAML configuration: where the page
// file lives and how many frames the buffer pool holds.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// NaiveDBConfig is the top-level YAML shape: a mapstructure-tagged config
// struct loaded with viper.
type NaiveDBConfig struct {
	Storage struct {
		// File is the path to the single-file page store. Empty means an
		// ephemeral randomly named file (see storage.NewRandomDiskManager).
		File string `mapstructure:"file"`
	} `mapstructure:"storage"`

	BufferPool struct {
		// Capacity is the number of frames held in memory at once.
		Capacity int `mapstructure:"capacity"`
	} `mapstructure:"buffer_pool"`
}

// Default returns the configuration used when no YAML file is supplied.
func Default() NaiveDBConfig {
	var cfg NaiveDBConfig
	cfg.BufferPool.Capacity = 256
	return cfg
}

// Load reads and unmarshals a YAML config file at path. Fields absent from
// the file fall back to Default's values.
func Load(path string) (NaiveDBConfig, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: unmarshal %q: %w", path, err)
	}
	return cfg, nil
}

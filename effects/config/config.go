// Package config loads logger and execution-context settings for a loop.
//
// Settings live under the "config" root key:
//
//	config:
//	  log:
//	    level: debug
//	  runner:
//	    event:
//	      kind: single
//	      buffer_size: 64
//	    effect:
//	      kind: partitioned
//	      buffer_size: 16
//	      num_workers: 4
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/on-the-ground/effect_ive_loop/effects/configkeys"
	"github.com/on-the-ground/effect_ive_loop/effects/log"
	"github.com/spf13/viper"
)

// RunnerKind names an execution context implementation.
type RunnerKind string

const (
	RunnerImmediate   RunnerKind = "immediate"
	RunnerSingle      RunnerKind = "single"
	RunnerFixed       RunnerKind = "fixed"
	RunnerCached      RunnerKind = "cached"
	RunnerPartitioned RunnerKind = "partitioned"
)

// RunnerConfig describes one execution context. BufferSize is the queue backlog
// above which a runner logs a warning; queues are never bounded.
type RunnerConfig struct {
	Kind       RunnerKind `mapstructure:"kind"`
	BufferSize int        `mapstructure:"buffer_size"`
	NumWorkers int        `mapstructure:"num_workers"`
}

type LogConfig struct {
	Level log.LogLevel `mapstructure:"level"`
}

type RunnersConfig struct {
	// Event runs the loop's event processing.
	Event RunnerConfig `mapstructure:"event"`
	// Effect runs effect dispatch and effect handler tasks.
	Effect RunnerConfig `mapstructure:"effect"`
}

type Config struct {
	Log    LogConfig     `mapstructure:"log"`
	Runner RunnersConfig `mapstructure:"runner"`
}

type document struct {
	Config Config `mapstructure:"config"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(configkeys.ConfigLogLevel, string(log.LogInfo))

	v.SetDefault(configkeys.ConfigRunnerEventKind, string(RunnerSingle))
	v.SetDefault(configkeys.ConfigRunnerEventBufferSize, 64)
	v.SetDefault(configkeys.ConfigRunnerEventNumWorkers, 1)

	v.SetDefault(configkeys.ConfigRunnerEffectKind, string(RunnerCached))
	v.SetDefault(configkeys.ConfigRunnerEffectBufferSize, 1)
	v.SetDefault(configkeys.ConfigRunnerEffectNumWorkers, 1)
}

// Default returns the configuration used when nothing is provided.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := unmarshal(v)
	if err != nil {
		// defaults are static; failing here is a bug
		panic(fmt.Sprintf("invalid default config: %v", err))
	}
	return cfg
}

// Load reads a configuration document of the given format ("yaml", "toml", "json", ...).
// Keys that are absent keep their defaults.
func Load(r io.Reader, format string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType(format)
	if err := v.ReadConfig(r); err != nil {
		return Config{}, fmt.Errorf("failed to read %s config: %w", format, err)
	}
	return unmarshal(v)
}

// LoadFile reads a configuration file; the format follows the file extension.
func LoadFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to open config: %w", err)
	}
	format := strings.TrimPrefix(filepath.Ext(path), ".")
	return Load(bytes.NewReader(raw), format)
}

func unmarshal(v *viper.Viper) (Config, error) {
	var doc document
	if err := v.Unmarshal(&doc); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return doc.Config, nil
}

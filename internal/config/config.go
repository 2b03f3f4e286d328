package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

// EnvPrefix prefixes every environment override, e.g. REELFORGE_QUEUE_MAX_CONCURRENT
const EnvPrefix = "REELFORGE_"

// Config holds all application configuration
type Config struct {
	// Core settings
	WorkDir   string `yaml:"work_dir" env:"WORK_DIR"`
	OutputDir string `yaml:"output_dir" env:"OUTPUT_DIR"`

	Queue    QueueConfig    `yaml:"queue" envPrefix:"QUEUE_"`
	Progress ProgressConfig `yaml:"progress" envPrefix:"PROGRESS_"`
	FFmpeg   FFmpegConfig   `yaml:"ffmpeg" envPrefix:"FFMPEG_"`
	Server   ServerConfig   `yaml:"server" envPrefix:"SERVER_"`
	Log      LogConfig      `yaml:"log" envPrefix:"LOG_"`
}

type QueueConfig struct {
	// MaxConcurrent of 0 picks a default from the CPU count.
	MaxConcurrent int           `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
	JobTimeout    time.Duration `yaml:"job_timeout" env:"JOB_TIMEOUT"`
	Retention     time.Duration `yaml:"retention" env:"RETENTION"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
}

type ProgressConfig struct {
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
}

type FFmpegConfig struct {
	BinaryPath           string        `yaml:"binary_path" env:"BINARY_PATH"`
	ProbePath            string        `yaml:"probe_path" env:"PROBE_PATH"`
	Threads              int           `yaml:"threads" env:"THREADS"`
	Preset               string        `yaml:"preset" env:"PRESET"`
	CRF                  int           `yaml:"crf" env:"CRF"`
	HardwareAcceleration bool          `yaml:"hardware_acceleration" env:"HARDWARE_ACCELERATION"`
	DetectTimeout        time.Duration `yaml:"detect_timeout" env:"DETECT_TIMEOUT"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

type LogConfig struct {
	// Format is console or json.
	Format string `yaml:"format" env:"FORMAT"`
}

// Load reads configuration from file, falling back to defaults, then applies
// environment overrides
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = findConfigFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, err
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	return cfg, nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Default returns the built-in configuration
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		WorkDir:   "./work",
		OutputDir: "./output",
		Queue: QueueConfig{
			MaxConcurrent: 0,
			JobTimeout:    10 * time.Minute,
			Retention:     time.Hour,
			SweepInterval: time.Minute,
		},
		Progress: ProgressConfig{
			Interval: 500 * time.Millisecond,
		},
		FFmpeg: FFmpegConfig{
			BinaryPath:           "",
			Threads:              0,
			Preset:               "medium",
			CRF:                  23,
			HardwareAcceleration: false,
			DetectTimeout:        10 * time.Second,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8420",
		},
		Log: LogConfig{
			Format: "console",
		},
	}
}

func findConfigFile() string {
	candidates := []string{
		"./reelforge.yaml",
		"./config.yaml",
		filepath.Join(os.Getenv("HOME"), ".reelforge", "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return defaultConfig()
}

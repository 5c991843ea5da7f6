package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults. The camera simulator and the CLI client assume these ports.
const (
	DefaultIngestAddr = ":9000"
	DefaultHTTPPort   = 3005
	DefaultBlobDir    = "bmpData"
	DefaultStaticDir  = "static"
	DefaultDSN        = "camdvr:camdvr@tcp(127.0.0.1:3306)/camdvr"
)

// StorageConfig tunes the disk-write queue.
type StorageConfig struct {
	QueueCap    int `yaml:"queueCap"`
	DrainTickMs int `yaml:"drainTickMs"`
}

// IndexConfig tunes the batched database insert queue and the pool.
type IndexConfig struct {
	BatchSize         int `yaml:"batchSize"`
	FlushDelayMs      int `yaml:"flushDelayMs"`
	RetryBackoffMs    int `yaml:"retryBackoffMs"`
	MaxRetries        int `yaml:"maxRetries"`
	PoolSize          int `yaml:"poolSize"`
	CheckoutTimeoutMs int `yaml:"checkoutTimeoutMs"`
}

// PlaybackConfig tunes per-session prefetch and pacing.
type PlaybackConfig struct {
	PageSize      int `yaml:"pageSize"`
	LowWater      int `yaml:"lowWater"`
	BaseDelayMs   int `yaml:"baseDelayMs"`
	MissThreshold int `yaml:"missThreshold"`
}

// Config is the full server configuration.
type Config struct {
	IngestAddr string `yaml:"ingestAddr"`
	HTTPPort   int    `yaml:"httpPort"`
	BlobDir    string `yaml:"blobDir"`
	StaticDir  string `yaml:"staticDir"`
	DSN        string `yaml:"dsn"`
	Debug      bool   `yaml:"debug"`

	Storage  StorageConfig  `yaml:"storage"`
	Index    IndexConfig    `yaml:"index"`
	Playback PlaybackConfig `yaml:"playback"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		IngestAddr: DefaultIngestAddr,
		HTTPPort:   DefaultHTTPPort,
		BlobDir:    DefaultBlobDir,
		StaticDir:  DefaultStaticDir,
		DSN:        DefaultDSN,
		Storage: StorageConfig{
			QueueCap:    80,
			DrainTickMs: 200,
		},
		Index: IndexConfig{
			BatchSize:         30,
			FlushDelayMs:      1500,
			RetryBackoffMs:    2000,
			MaxRetries:        5,
			PoolSize:          10,
			CheckoutTimeoutMs: 5000,
		},
		Playback: PlaybackConfig{
			PageSize:      200,
			LowWater:      3,
			BaseDelayMs:   200,
			MissThreshold: 20,
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func (c StorageConfig) DrainTick() time.Duration {
	return time.Duration(c.DrainTickMs) * time.Millisecond
}

func (c IndexConfig) FlushDelay() time.Duration {
	return time.Duration(c.FlushDelayMs) * time.Millisecond
}

func (c IndexConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMs) * time.Millisecond
}

func (c IndexConfig) CheckoutTimeout() time.Duration {
	return time.Duration(c.CheckoutTimeoutMs) * time.Millisecond
}

func (c PlaybackConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}

// Package config loads the blobvaultd configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/alexjoedt/blobvault/chunkstore"
	"github.com/alexjoedt/blobvault/versionstore"
)

// Config is the daemon configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Storage  StorageConfig  `yaml:"storage"`
	Metadata MetadataConfig `yaml:"metadata"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Log      LogConfig      `yaml:"log"`
}

type HTTPConfig struct {
	Listen            string        `yaml:"listen"`
	MaxUploadSize     int64         `yaml:"max_upload_size"` // bytes, 0 = unlimited
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig configures the chunked content store.
type StorageConfig struct {
	Root      string `yaml:"root"`
	ChunkSize int    `yaml:"chunk_size"`
	Codec     string `yaml:"codec"`    // auto, none, lz4, zstd
	Sharding  string `yaml:"sharding"` // hash, date
}

// MetadataConfig configures the SQLite metadata database.
type MetadataConfig struct {
	Path         string `yaml:"path"`
	DeletePolicy string `yaml:"delete_policy"` // content-first, concurrent
}

type ArchiveConfig struct {
	Level int `yaml:"level"` // deflate level, -2 to 9
}

// LogConfig configures logging. With File set, logs are written to a
// rotated file instead of stderr.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	File        string `yaml:"file"`
	MaxSizeMB   int    `yaml:"max_size_mb"`
	MaxBackups  int    `yaml:"max_backups"`
	MaxAgeDays  int    `yaml:"max_age_days"`
	Compress    bool   `yaml:"compress"`
}

const (
	ShardingHash = "hash"
	ShardingDate = "date"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Listen:            ":8080",
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Storage: StorageConfig{
			Root:      "data/content",
			ChunkSize: chunkstore.DefaultChunkSize,
			Codec:     chunkstore.CodecAuto.String(),
			Sharding:  ShardingHash,
		},
		Metadata: MetadataConfig{
			Path:         "data/metadata.db",
			DeletePolicy: versionstore.DeleteContentFirst.String(),
		},
		Archive: ArchiveConfig{
			Level: 9,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}
}

// LoadFile reads path over the defaults. Unknown keys are an error.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.HTTP.Listen == "" {
		return fmt.Errorf("http.listen is required")
	}
	if c.HTTP.MaxUploadSize < 0 {
		return fmt.Errorf("http.max_upload_size must not be negative")
	}

	if c.Storage.Root == "" {
		return fmt.Errorf("storage.root is required")
	}
	if c.Storage.ChunkSize <= 0 {
		return fmt.Errorf("storage.chunk_size must be positive")
	}
	if _, err := c.Storage.ParseCodec(); err != nil {
		return fmt.Errorf("storage.codec: %w", err)
	}
	if _, err := c.Storage.Shard(); err != nil {
		return fmt.Errorf("storage.sharding: %w", err)
	}

	if c.Metadata.Path == "" {
		return fmt.Errorf("metadata.path is required")
	}
	if _, err := versionstore.ParseDeletePolicy(c.Metadata.DeletePolicy); err != nil {
		return fmt.Errorf("metadata.delete_policy: %w", err)
	}

	if c.Archive.Level < -2 || c.Archive.Level > 9 {
		return fmt.Errorf("archive.level %d out of range (-2 to 9)", c.Archive.Level)
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	return nil
}

func (s StorageConfig) ParseCodec() (chunkstore.Codec, error) {
	return chunkstore.ParseCodec(s.Codec)
}

// Shard returns the shard function named by Sharding.
func (s StorageConfig) Shard() (chunkstore.ShardFunc, error) {
	switch s.Sharding {
	case ShardingHash, "":
		return chunkstore.DefaultShardFunc, nil
	case ShardingDate:
		return chunkstore.DateShardFunc, nil
	default:
		return nil, fmt.Errorf("unknown sharding %q (supported: hash, date)", s.Sharding)
	}
}

// Options returns the content store options of s.
func (s StorageConfig) Options() ([]chunkstore.OptionFunc, error) {
	codec, err := s.ParseCodec()
	if err != nil {
		return nil, err
	}
	shard, err := s.Shard()
	if err != nil {
		return nil, err
	}

	return []chunkstore.OptionFunc{
		chunkstore.WithChunkSize(s.ChunkSize),
		chunkstore.WithCodec(codec),
		chunkstore.WithShardFunc(shard),
	}, nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexjoedt/blobvault/chunkstore"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blobvault.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.HTTP.Listen)
	assert.Equal(t, chunkstore.DefaultChunkSize, cfg.Storage.ChunkSize)
	assert.Equal(t, "auto", cfg.Storage.Codec)
	assert.Equal(t, "content-first", cfg.Metadata.DeletePolicy)
	assert.Equal(t, 9, cfg.Archive.Level)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
http:
  listen: 127.0.0.1:9000
  max_upload_size: 1048576
  shutdown_timeout: 5s
storage:
  root: /var/lib/blobvault
  codec: zstd
  sharding: date
metadata:
  delete_policy: concurrent
log:
  level: debug
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Listen)
	assert.Equal(t, int64(1048576), cfg.HTTP.MaxUploadSize)
	assert.Equal(t, 5*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, "/var/lib/blobvault", cfg.Storage.Root)
	assert.Equal(t, "zstd", cfg.Storage.Codec)
	assert.Equal(t, "concurrent", cfg.Metadata.DeletePolicy)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Unset keys keep their defaults.
	assert.Equal(t, chunkstore.DefaultChunkSize, cfg.Storage.ChunkSize)
	assert.Equal(t, "data/metadata.db", cfg.Metadata.Path)
	assert.Equal(t, 10*time.Second, cfg.HTTP.ReadHeaderTimeout)
}

func TestLoadFile_Empty(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = LoadFile(writeConfig(t, "storage:\n  chunksize: 10\n"))
	assert.ErrorContains(t, err, "failed to parse config file")

	_, err = LoadFile(writeConfig(t, "http: [\n"))
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"missing listen", func(c *Config) { c.HTTP.Listen = "" }, "http.listen"},
		{"negative upload size", func(c *Config) { c.HTTP.MaxUploadSize = -1 }, "http.max_upload_size"},
		{"missing root", func(c *Config) { c.Storage.Root = "" }, "storage.root"},
		{"zero chunk size", func(c *Config) { c.Storage.ChunkSize = 0 }, "storage.chunk_size"},
		{"unknown codec", func(c *Config) { c.Storage.Codec = "gzip" }, "storage.codec"},
		{"unknown sharding", func(c *Config) { c.Storage.Sharding = "random" }, "storage.sharding"},
		{"missing metadata path", func(c *Config) { c.Metadata.Path = "" }, "metadata.path"},
		{"unknown delete policy", func(c *Config) { c.Metadata.DeletePolicy = "lazy" }, "metadata.delete_policy"},
		{"archive level too high", func(c *Config) { c.Archive.Level = 10 }, "archive.level"},
		{"archive level too low", func(c *Config) { c.Archive.Level = -3 }, "archive.level"},
		{"unknown log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestStorageOptions(t *testing.T) {
	cfg := Default()
	cfg.Storage.Root = t.TempDir()
	cfg.Storage.Codec = "lz4"
	cfg.Storage.Sharding = ShardingDate

	opts, err := cfg.Storage.Options()
	require.NoError(t, err)
	assert.Len(t, opts, 3)

	storage, err := chunkstore.NewStorage(cfg.Storage.Root, opts...)
	require.NoError(t, err)
	assert.Equal(t, cfg.Storage.Root, storage.Root())

	cfg.Storage.Codec = "brotli"
	_, err = cfg.Storage.Options()
	assert.Error(t, err)
}

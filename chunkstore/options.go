package chunkstore

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/alexjoedt/blobvault/objectid"
)

// DefaultChunkSize matches the GridFS default of 255 KiB.
const DefaultChunkSize = 255 * 1024

const minChunkSize = 1024

// ShardFunc returns the directory, relative to the blobs directory, holding
// the object with the given id. It must be deterministic.
type ShardFunc func(id objectid.ID) string

// Options configures Storage behavior.
type Options struct {
	FileMode  os.FileMode // Permission bits for chunk and meta files
	DirMode   os.FileMode // Permission bits for directories
	ShardFunc ShardFunc   // Function to generate storage paths from ids
	ChunkSize int         // Decoded size of every chunk but the last
	Codec     Codec       // Chunk encoding, CodecAuto probes per chunk
}

// OptionFunc is a functional option for configuring Storage.
type OptionFunc func(opts *Options)

// WithFileMode sets the file permission mode for chunk and meta files.
// Default is 0644.
func WithFileMode(mode os.FileMode) OptionFunc {
	return func(opts *Options) {
		opts.FileMode = mode
	}
}

// WithDirMode sets the directory permission mode. Default is 0755.
func WithDirMode(mode os.FileMode) OptionFunc {
	return func(opts *Options) {
		opts.DirMode = mode
	}
}

// WithShardFunc sets a custom sharding function.
//
// Example flat sharding (single directory per object):
//
//	WithShardFunc(func(id objectid.ID) string {
//	    return id.Hex()
//	})
func WithShardFunc(fn ShardFunc) OptionFunc {
	return func(opts *Options) {
		opts.ShardFunc = fn
	}
}

// WithChunkSize sets the chunk size in bytes. Values below 1 KiB are raised
// to 1 KiB so content sniffing always sees a full first chunk.
func WithChunkSize(size int) OptionFunc {
	return func(opts *Options) {
		if size < minChunkSize {
			size = minChunkSize
		}
		opts.ChunkSize = size
	}
}

// WithCodec sets the chunk encoding. Default is CodecAuto.
func WithCodec(codec Codec) OptionFunc {
	return func(opts *Options) {
		opts.Codec = codec
	}
}

// DefaultShardFunc uses the first two bytes of the SHA-256 of the id for a
// two-level directory structure: "a3/f2/<id hex>".
//
// Hashing spreads objects evenly even though ids minted close together share
// their leading bytes.
func DefaultShardFunc(id objectid.ID) string {
	hash := sha256.Sum256(id[:])
	hexHash := hex.EncodeToString(hash[:])

	return filepath.Join(hexHash[:2], hexHash[2:4], id.Hex())
}

// DateShardFunc groups objects by the creation day embedded in their id:
// "2025/01/31/<id hex>". Convenient for age-based backup and pruning.
func DateShardFunc(id objectid.ID) string {
	return filepath.Join(id.Timestamp().Format("2006/01/02"), id.Hex())
}

var defaultOpts = &Options{
	FileMode:  0644,
	DirMode:   0755,
	ShardFunc: DefaultShardFunc,
	ChunkSize: DefaultChunkSize,
	Codec:     CodecAuto,
}

package chunkstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
)

// chunkReader decodes an object chunk by chunk. At most one decoded chunk is
// held in memory, and the context is checked before every chunk load so an
// abandoned download stops touching the disk.
type chunkReader struct {
	ctx  context.Context
	dir  string
	meta *Meta

	next   int
	cur    []byte
	hasher hash.Hash
	err    error
}

func newChunkReader(ctx context.Context, dir string, meta *Meta) *chunkReader {
	return &chunkReader{
		ctx:    ctx,
		dir:    dir,
		meta:   meta,
		hasher: sha256.New(),
	}
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}

	for len(r.cur) == 0 {
		if r.next == len(r.meta.Chunks) {
			r.err = r.verify()
			return 0, r.err
		}
		if err := r.load(); err != nil {
			r.err = err
			return 0, err
		}
	}

	n := copy(p, r.cur)
	r.cur = r.cur[n:]
	return n, nil
}

func (r *chunkReader) load() error {
	if err := r.ctx.Err(); err != nil {
		return err
	}

	cm := r.meta.Chunks[r.next]
	stored, err := os.ReadFile(filepath.Join(r.dir, chunkFileName(r.next)))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("object %s chunk %d: %w", r.meta.ID, r.next, ErrNotFound)
		}
		return fmt.Errorf("object %s chunk %d: %w", r.meta.ID, r.next, err)
	}

	decoded, err := decodeChunk(stored, cm.Codec, cm.Size)
	if err != nil {
		return fmt.Errorf("object %s chunk %d: %w: %v", r.meta.ID, r.next, ErrCorrupt, err)
	}

	r.hasher.Write(decoded)
	r.cur = decoded
	r.next++
	return nil
}

// verify runs once all chunks are consumed and returns io.EOF when the
// content matches the recorded hash.
func (r *chunkReader) verify() error {
	if r.meta.Sha256 == "" {
		return io.EOF
	}
	if sum := hex.EncodeToString(r.hasher.Sum(nil)); sum != r.meta.Sha256 {
		return fmt.Errorf("object %s: %w: sha256 %s, expected %s", r.meta.ID, ErrCorrupt, sum, r.meta.Sha256)
	}
	return io.EOF
}

func (r *chunkReader) Close() error {
	if r.err == nil {
		r.err = os.ErrClosed
	}
	r.cur = nil
	return nil
}

package chunkstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alexjoedt/blobvault/objectid"
)

var (
	ErrWriterClosed = errors.New("writer is closed")
)

// ObjectWriter streams one object into the store. It implements io.Writer,
// so it can be used with io.Copy.
//
// Content is cut into chunks of Options.ChunkSize as it arrives; only the
// chunk being filled is held in memory. SHA-256 is computed incrementally and
// the content type is sniffed from the first 512 bytes.
//
// Example usage:
//
//	w, err := store.NewWriter(ctx, "report.pdf", nil)
//	if err != nil {
//		return err
//	}
//	defer w.Discard() // no-op after a successful Commit
//
//	if _, err = io.Copy(w, src); err != nil {
//		return err
//	}
//	meta, err := w.Commit()
type ObjectWriter struct {
	storage *Storage
	ctx     context.Context

	id       objectid.ID
	filename string
	metadata map[string]string

	tmpDir string

	hasher hash.Hash
	size   int64

	chunk  []byte
	chunks []ChunkMeta

	// Buffers the first 512 bytes for http.DetectContentType.
	sniff       []byte
	contentType string

	meta *Meta

	mu        sync.Mutex
	closed    bool
	committed bool
	err       error // Sticky error for failed writers
}

var _ Writer = (*ObjectWriter)(nil)

// NewWriter creates a writer for a new object with a freshly minted id. The
// writer must be committed with Commit or released with Discard.
func (s *Storage) NewWriter(ctx context.Context, filename string, metadata map[string]string) (Writer, error) {
	return s.newObjectWriter(ctx, objectid.New(), filename, metadata)
}

func (s *Storage) newObjectWriter(ctx context.Context, id objectid.ID, filename string, metadata map[string]string) (*ObjectWriter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tmpDir := filepath.Join(s.root, tempDirName, id.Hex())
	if err := os.Mkdir(tmpDir, s.opts.DirMode); err != nil {
		return nil, fmt.Errorf("creating temp directory: %w", err)
	}

	return &ObjectWriter{
		storage:  s,
		ctx:      ctx,
		id:       id,
		filename: filename,
		metadata: metadata,
		tmpDir:   tmpDir,
		hasher:   sha256.New(),
		chunk:    make([]byte, 0, s.opts.ChunkSize),
		sniff:    make([]byte, 0, 512),
	}, nil
}

func (w *ObjectWriter) ID() objectid.ID {
	return w.id
}

// Write implements io.Writer.
func (w *ObjectWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrWriterClosed
	}
	if w.err != nil {
		return 0, w.err
	}

	if room := cap(w.sniff) - len(w.sniff); room > 0 {
		w.sniff = append(w.sniff, p[:min(room, len(p))]...)
	}

	for len(p) > 0 {
		room := cap(w.chunk) - len(w.chunk)
		take := min(room, len(p))

		w.chunk = append(w.chunk, p[:take]...)
		w.hasher.Write(p[:take])
		w.size += int64(take)
		n += take
		p = p[take:]

		if len(w.chunk) == cap(w.chunk) {
			if err := w.flushChunk(); err != nil {
				w.err = err
				return n, err
			}
		}
	}

	return n, nil
}

// flushChunk encodes the buffered chunk and writes it to the temp directory.
// Callers hold w.mu.
func (w *ObjectWriter) flushChunk() error {
	if len(w.chunk) == 0 {
		return nil
	}
	if err := w.ctx.Err(); err != nil {
		return err
	}

	if w.contentType == "" {
		w.contentType = http.DetectContentType(w.sniff)
	}

	encoded, codec, err := encodeChunk(w.chunk, w.storage.opts.Codec, w.contentType)
	if err != nil {
		return fmt.Errorf("encoding chunk %d: %w", len(w.chunks), err)
	}

	path := filepath.Join(w.tmpDir, chunkFileName(len(w.chunks)))
	if err := os.WriteFile(path, encoded, w.storage.opts.FileMode); err != nil {
		return fmt.Errorf("writing chunk %d: %w", len(w.chunks), err)
	}

	w.chunks = append(w.chunks, ChunkMeta{
		Size:   len(w.chunk),
		Stored: len(encoded),
		Codec:  codec,
	})
	w.chunk = w.chunk[:0]

	return nil
}

// Hash returns the SHA-256 of the content written so far.
func (w *ObjectWriter) Hash() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return hex.EncodeToString(w.hasher.Sum(nil))
}

// Size returns the number of bytes written so far.
func (w *ObjectWriter) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Commit flushes the last chunk, writes meta.json and moves the object
// directory into place with a single rename. After Commit the writer is
// closed.
func (w *ObjectWriter) Commit() (*Meta, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, ErrWriterClosed
	}
	if w.err != nil {
		return nil, w.err
	}

	w.closed = true

	defer func() {
		if w.err != nil {
			os.RemoveAll(w.tmpDir)
		}
	}()

	if err := w.flushChunk(); err != nil {
		w.err = err
		return nil, err
	}
	if w.contentType == "" {
		w.contentType = http.DetectContentType(w.sniff)
	}

	meta := &Meta{
		ID:          w.id,
		Filename:    w.filename,
		Length:      w.size,
		ChunkSize:   w.storage.opts.ChunkSize,
		Sha256:      hex.EncodeToString(w.hasher.Sum(nil)),
		ContentType: w.contentType,
		Metadata:    w.metadata,
		CreatedAt:   time.Now().UTC(),
		Chunks:      w.chunks,
	}

	if err := writeMeta(filepath.Join(w.tmpDir, metaFileName), meta, w.storage.opts.FileMode); err != nil {
		w.err = err
		return nil, err
	}

	finalDir := w.storage.objectDir(w.id)
	if err := os.MkdirAll(filepath.Dir(finalDir), w.storage.opts.DirMode); err != nil {
		w.err = err
		return nil, err
	}

	if err := os.Rename(w.tmpDir, finalDir); err != nil {
		w.err = fmt.Errorf("committing object %s: %w", w.id, err)
		return nil, w.err
	}

	w.committed = true
	w.meta = meta
	return meta, nil
}

// Discard closes the writer and removes its temporary directory without
// committing. Idempotent; a no-op after Commit.
func (w *ObjectWriter) Discard() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	if err := os.RemoveAll(w.tmpDir); err != nil && w.err == nil {
		w.err = err
	}

	return w.err
}

// Meta returns the metadata of the committed object, or nil before commit.
func (w *ObjectWriter) Meta() *Meta {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.meta
}

func writeMeta(path string, meta *Meta, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	return f.Close()
}

func chunkFileName(n int) string {
	return fmt.Sprintf("chunk-%06d", n)
}

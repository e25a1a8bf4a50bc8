// Package chunkstore is the content store behind blobvault: an object-id
// keyed store that splits every object into fixed-size, individually
// compressed chunk files.
//
// # Design
//
// Each object lives in its own directory below blobs/, located by a ShardFunc
// applied to the object id:
//
//	blobs/a3/f2/65a1c0e2f1a2b3c4d5e6f708/
//	    meta.json
//	    chunk-000000
//	    chunk-000001
//
// Objects are written into a temporary directory and renamed into place on
// commit, so an object either fully exists or does not exist at all.
//
// # Usage
//
//	store, err := chunkstore.NewStorage("/data/content")
//	if err != nil {
//		return err
//	}
//
//	w, err := store.NewWriter(ctx, "invoice.pdf", nil)
//	if err != nil {
//		return err
//	}
//	defer w.Discard()
//	if _, err := io.Copy(w, src); err != nil {
//		return err
//	}
//	meta, err := w.Commit()
//
//	rc, err := store.Open(ctx, meta.ID)
//	defer rc.Close()
//
// # Concurrency
//
// All operations are safe for concurrent use. A Writer must not be shared
// between goroutines without external synchronization of its Write calls.
package chunkstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/alexjoedt/blobvault/objectid"
)

const (
	tempDirName  = ".tmp"
	blobDirname  = "blobs"
	metaFileName = "meta.json"
)

var (
	ErrNotFound = errors.New("content object not found")
	ErrCorrupt  = errors.New("content object is corrupt")
)

// ContentStore is the contract the version store needs from a content
// backend. Errors are returned unchanged to callers.
type ContentStore interface {
	// NewWriter opens a writer for a new object. The object id is assigned
	// here and is available before commit.
	NewWriter(ctx context.Context, filename string, metadata map[string]string) (Writer, error)

	// Open returns a reader over the object's content. Missing objects
	// yield an error wrapping ErrNotFound.
	Open(ctx context.Context, id objectid.ID) (io.ReadCloser, error)

	// Delete removes the given objects and reports how many existed.
	// Missing objects are not an error.
	Delete(ctx context.Context, ids ...objectid.ID) (int, error)

	// List iterates over the metadata of every stored object.
	List(ctx context.Context) Iterator
}

// Writer streams a single object into the store.
type Writer interface {
	io.Writer
	ID() objectid.ID
	Commit() (*Meta, error)
	Discard() error
}

// Iterator walks stored objects.
type Iterator interface {
	Next() bool
	Meta() *Meta
	Err() error
	Close() error
}

// Storage is the filesystem ContentStore.
type Storage struct {
	root string
	opts *Options
}

var _ ContentStore = (*Storage)(nil)

func NewStorage(root string, opts ...OptionFunc) (*Storage, error) {
	// Copy default options to avoid mutating the package-level defaults.
	options := *defaultOpts

	for _, opt := range opts {
		opt(&options)
	}

	root = filepath.Clean(root)
	err := os.MkdirAll(filepath.Join(root, blobDirname), options.DirMode)
	if err != nil {
		return nil, fmt.Errorf("creating blobs directory: %w", err)
	}

	err = os.MkdirAll(filepath.Join(root, tempDirName), options.DirMode)
	if err != nil {
		return nil, fmt.Errorf("creating temp directory: %w", err)
	}

	return &Storage{
		root: root,
		opts: &options,
	}, nil
}

// Root returns the storage root directory.
func (s *Storage) Root() string {
	return s.root
}

func (s *Storage) Open(ctx context.Context, id objectid.ID) (io.ReadCloser, error) {
	meta, err := s.Stat(ctx, id)
	if err != nil {
		return nil, err
	}

	return newChunkReader(ctx, s.objectDir(id), meta), nil
}

func (s *Storage) Stat(ctx context.Context, id objectid.ID) (*Meta, error) {
	meta, err := readMeta(filepath.Join(s.objectDir(id), metaFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("object %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("reading metadata for %s: %w", id, err)
	}

	return meta, nil
}

func (s *Storage) Exists(ctx context.Context, id objectid.ID) (bool, error) {
	_, err := os.Stat(filepath.Join(s.objectDir(id), metaFileName))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

// Delete removes every listed object. All ids are attempted; failures are
// joined into the returned error.
func (s *Storage) Delete(ctx context.Context, ids ...objectid.ID) (int, error) {
	var (
		deleted int
		errs    []error
	)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		dir := s.objectDir(id)
		exists, err := s.Exists(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("delete object %s: %w", id, err))
			continue
		}

		// RemoveAll does not fail if the path does not exist, so a
		// half-deleted directory is cleaned up as well.
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, fmt.Errorf("delete object %s: %w", id, err))
			continue
		}
		s.cleanupEmptyDirs(dir)

		if exists {
			deleted++
		}
	}

	return deleted, errors.Join(errs...)
}

// objectIterator follows the channel-backed iterator pattern so large stores
// are walked lazily.
type objectIterator struct {
	ctx    context.Context // scoped to the iteration, cancelled by Close
	cancel context.CancelFunc

	metaChan chan *Meta
	errChan  chan error

	current *Meta
	err     error
	closed  bool
}

func (it *objectIterator) Next() bool {
	if it.closed || it.err != nil {
		return false
	}

	select {
	case meta, ok := <-it.metaChan:
		if !ok {
			// The walker reports its error before closing metaChan.
			select {
			case err := <-it.errChan:
				it.err = err
			default:
			}
			return false
		}
		it.current = meta
		return true

	case <-it.ctx.Done():
		it.err = it.ctx.Err()
		return false
	}
}

func (it *objectIterator) Meta() *Meta {
	return it.current
}

func (it *objectIterator) Err() error {
	return it.err
}

// Close stops the iteration. It is safe to call multiple times.
func (it *objectIterator) Close() error {
	if it.closed {
		return nil
	}

	it.closed = true
	if it.cancel != nil {
		it.cancel()
	}
	return nil
}

// List returns an iterator over all stored objects. The iterator must be
// closed:
//
//	iter := store.List(ctx)
//	defer iter.Close()
//	for iter.Next() {
//	    meta := iter.Meta()
//	}
//	if err := iter.Err(); err != nil {
//	    // handle error
//	}
func (s *Storage) List(ctx context.Context) Iterator {
	ctx, cancel := context.WithCancel(ctx)

	it := &objectIterator{
		ctx:      ctx,
		cancel:   cancel,
		metaChan: make(chan *Meta, 10),
		errChan:  make(chan error, 1),
	}

	go s.walkObjects(ctx, it.metaChan, it.errChan)

	return it
}

func (s *Storage) walkObjects(ctx context.Context, metaChan chan<- *Meta, errChan chan<- error) {
	defer close(metaChan)

	blobsDir := filepath.Join(s.root, blobDirname)

	err := filepath.WalkDir(blobsDir, func(path string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			// Objects deleted during the walk are simply absent.
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || d.Name() != metaFileName {
			return nil
		}

		meta, err := readMeta(path)
		if err != nil {
			// Skip unreadable metadata rather than failing the walk.
			return nil
		}

		select {
		case metaChan <- meta:
		case <-ctx.Done():
			return ctx.Err()
		}

		return nil
	})

	if err != nil && !errors.Is(err, context.Canceled) {
		errChan <- err
	}
}

func (s *Storage) objectDir(id objectid.ID) string {
	return filepath.Join(s.root, blobDirname, s.opts.ShardFunc(id))
}

func readMeta(path string) (*Meta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var meta Meta
	if err := json.NewDecoder(f).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}

	return &meta, nil
}

// cleanupEmptyDirs walks up from path removing empty shard directories until
// it reaches the blobs directory or a non-empty directory.
func (s *Storage) cleanupEmptyDirs(path string) {
	blobsDir := filepath.Join(s.root, blobDirname)
	parent := filepath.Dir(path)

	for parent != blobsDir && parent != s.root && parent != "." && parent != "/" {
		entries, err := os.ReadDir(parent)
		if err != nil || len(entries) > 0 {
			break
		}

		if err := os.Remove(parent); err != nil {
			break
		}

		parent = filepath.Dir(parent)
	}
}

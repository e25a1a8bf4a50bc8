package archive

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/alexjoedt/blobvault/chunkstore"
	"github.com/alexjoedt/blobvault/objectid"
	"github.com/alexjoedt/blobvault/versionstore"
)

// memSource serves content from memory. Entries without an opener are
// reported as missing.
type memSource struct {
	mu      sync.Mutex
	openers map[objectid.ID]func() (io.ReadCloser, error)
}

func newMemSource() *memSource {
	return &memSource{openers: make(map[objectid.ID]func() (io.ReadCloser, error))}
}

func (m *memSource) Open(_ context.Context, id objectid.ID) (io.ReadCloser, error) {
	m.mu.Lock()
	open, ok := m.openers[id]
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("object %s: %w", id, chunkstore.ErrNotFound)
	}
	return open()
}

func (m *memSource) add(filename string, data []byte) versionstore.FileVersion {
	return m.addOpener(filename, int64(len(data)), func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	})
}

func (m *memSource) addOpener(filename string, length int64, open func() (io.ReadCloser, error)) versionstore.FileVersion {
	v := versionstore.FileVersion{
		ID:         objectid.New(),
		Filename:   filename,
		Length:     length,
		UploadDate: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Metadata:   versionstore.Metadata{Container: "docs"},
	}

	m.mu.Lock()
	m.openers[v.ID] = open
	m.mu.Unlock()
	return v
}

func missing(filename string) versionstore.FileVersion {
	return versionstore.FileVersion{ID: objectid.New(), Filename: filename}
}

func readZip(t *testing.T, data []byte) map[string][]byte {
	t.Helper()

	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	entries := make(map[string][]byte)
	for _, f := range r.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())

		assert.Equal(t, zip.Deflate, f.Method)
		entries[f.Name] = content
	}
	return entries
}

func TestWriteTo(t *testing.T) {
	src := newMemSource()
	a := src.add("a.txt", []byte("alpha"))
	b := src.add("b.txt", bytes.Repeat([]byte("bravo "), 1000))

	var buf bytes.Buffer
	stats, err := New(src).WriteTo(t.Context(), &buf, []versionstore.FileVersion{a, b}, "")
	require.NoError(t, err)

	assert.Equal(t, Stats{Entries: 2, Bytes: 5 + 6000}, stats)

	entries := readZip(t, buf.Bytes())
	assert.Equal(t, map[string][]byte{
		"a.txt": []byte("alpha"),
		"b.txt": bytes.Repeat([]byte("bravo "), 1000),
	}, entries)
}

func TestWriteTo_NamePattern(t *testing.T) {
	src := newMemSource()
	a := src.add("a.txt", []byte("one"))

	var buf bytes.Buffer
	_, err := New(src).WriteTo(t.Context(), &buf, []versionstore.FileVersion{a}, "{$metadata.container}/{$_id}_{$filename}")
	require.NoError(t, err)

	entries := readZip(t, buf.Bytes())
	assert.Contains(t, entries, "docs/"+a.ID.Hex()+"_a.txt")
}

func TestWriteTo_Empty(t *testing.T) {
	var buf bytes.Buffer
	stats, err := New(newMemSource()).WriteTo(t.Context(), &buf, nil, "")
	require.NoError(t, err)
	assert.Zero(t, stats.Entries)
	assert.Empty(t, readZip(t, buf.Bytes()))
}

func TestWriteTo_SkipsMissingContent(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)

	src := newMemSource()
	a := src.add("a.txt", []byte("alpha"))
	gone := missing("gone.txt")
	c := src.add("c.txt", []byte("charlie"))

	var buf bytes.Buffer
	stats, err := New(src, WithLogger(zap.New(core))).WriteTo(t.Context(), &buf, []versionstore.FileVersion{a, gone, c}, "")
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, logs.FilterMessage("skipping archive entry with missing content").Len())

	entries := readZip(t, buf.Bytes())
	assert.Len(t, entries, 2)
	assert.NotContains(t, entries, "gone.txt")
}

func TestWriteTo_AbortsOnBackendError(t *testing.T) {
	boom := errors.New("backend unavailable")

	src := newMemSource()
	a := src.add("a.txt", []byte("alpha"))
	broken := src.addOpener("broken.txt", 10, func() (io.ReadCloser, error) {
		return nil, boom
	})

	var buf bytes.Buffer
	// Files are consumed from the end, so a.txt is never reached.
	stats, err := New(src).WriteTo(t.Context(), &buf, []versionstore.FileVersion{a, broken}, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, stats.Entries)
}

func TestWriteTo_AbortsOnReadError(t *testing.T) {
	boom := errors.New("chunk unreadable")

	src := newMemSource()
	broken := src.addOpener("broken.txt", 10, func() (io.ReadCloser, error) {
		return io.NopCloser(io.MultiReader(bytes.NewReader([]byte("partial")), iotestErrReader{boom})), nil
	})

	var buf bytes.Buffer
	_, err := New(src).WriteTo(t.Context(), &buf, []versionstore.FileVersion{broken}, "")
	assert.ErrorIs(t, err, boom)
}

type iotestErrReader struct{ err error }

func (r iotestErrReader) Read([]byte) (int, error) { return 0, r.err }

// gatedReader serves data up to gateAt, then blocks until gate is closed.
type gatedReader struct {
	data   []byte
	gateAt int
	gate   <-chan struct{}
	passed bool
	pos    atomic.Int64
}

func (g *gatedReader) Read(p []byte) (int, error) {
	pos := int(g.pos.Load())

	if pos == g.gateAt && !g.passed {
		select {
		case <-g.gate:
			g.passed = true
		case <-time.After(30 * time.Second):
			return 0, errors.New("gate was never opened")
		}
	}
	if pos >= len(g.data) {
		return 0, io.EOF
	}

	limit := len(g.data)
	if !g.passed {
		limit = g.gateAt
	}
	n := copy(p, g.data[pos:limit])
	g.pos.Add(int64(n))
	return n, nil
}

func (g *gatedReader) Close() error { return nil }

// signalWriter collects output and signals the first write.
type signalWriter struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	once    sync.Once
	started chan struct{}
}

func (w *signalWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.once.Do(func() { close(w.started) })
	return w.buf.Write(p)
}

func TestWriteTo_StreamsBeforeSourceIsRead(t *testing.T) {
	large := make([]byte, 10<<20)
	_, err := rand.Read(large)
	require.NoError(t, err)

	gate := make(chan struct{})
	reader := &gatedReader{data: large, gateAt: len(large) / 2, gate: gate}

	src := newMemSource()
	files := []versionstore.FileVersion{
		src.add("small.bin", bytes.Repeat([]byte("s"), 10<<10)),
		src.add("empty.bin", nil),
		src.addOpener("large.bin", int64(len(large)), func() (io.ReadCloser, error) {
			return reader, nil
		}),
	}

	sink := &signalWriter{started: make(chan struct{})}
	done := make(chan error, 1)
	go func() {
		_, err := New(src).WriteTo(context.Background(), sink, files, "")
		done <- err
	}()

	select {
	case <-sink.started:
	case <-time.After(20 * time.Second):
		close(gate)
		t.Fatal("no archive output while the large source was still being read")
	}
	assert.Less(t, reader.pos.Load(), int64(len(large)), "output must start before the large file is fully read")

	close(gate)
	require.NoError(t, <-done)

	sink.mu.Lock()
	entries := readZip(t, sink.buf.Bytes())
	sink.mu.Unlock()

	require.Len(t, entries, 3)
	assert.Len(t, entries["small.bin"], 10<<10)
	assert.Empty(t, entries["empty.bin"])
	assert.True(t, bytes.Equal(large, entries["large.bin"]))
}

func TestOpen(t *testing.T) {
	src := newMemSource()
	a := src.add("a.txt", []byte("alpha"))

	rc := New(src).Open(t.Context(), []versionstore.FileVersion{a}, "")
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	assert.Equal(t, map[string][]byte{"a.txt": []byte("alpha")}, readZip(t, data))
}

func TestOpen_PropagatesError(t *testing.T) {
	boom := errors.New("backend unavailable")

	src := newMemSource()
	broken := src.addOpener("broken.txt", 1, func() (io.ReadCloser, error) {
		return nil, boom
	})

	rc := New(src).Open(t.Context(), []versionstore.FileVersion{broken}, "")
	defer rc.Close()

	_, err := io.ReadAll(rc)
	assert.ErrorIs(t, err, boom)
}

// endlessReader produces zeros until closed.
type endlessReader struct {
	closed chan struct{}
	once   sync.Once
}

func (r *endlessReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

func (r *endlessReader) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}

func TestOpen_CloseStopsSourceReads(t *testing.T) {
	reader := &endlessReader{closed: make(chan struct{})}

	src := newMemSource()
	endless := src.addOpener("endless.bin", -1, func() (io.ReadCloser, error) {
		return reader, nil
	})

	rc := New(src, WithLevel(1)).Open(t.Context(), []versionstore.FileVersion{endless}, "")

	_, err := io.ReadFull(rc, make([]byte, 1024))
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	select {
	case <-reader.closed:
	case <-time.After(10 * time.Second):
		t.Fatal("source was not closed after the archive stream was closed")
	}
}

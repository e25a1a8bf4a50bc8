// Package archive streams many stored files into one zip archive.
//
// Entries are compressed while their content is read; neither the archive
// nor any single file is held in memory. Member order is unspecified.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/alexjoedt/blobvault/chunkstore"
	"github.com/alexjoedt/blobvault/namepattern"
	"github.com/alexjoedt/blobvault/objectid"
	"github.com/alexjoedt/blobvault/versionstore"
)

// DefaultPattern names entries after their filename.
const DefaultPattern = "{$filename}"

// Source opens stored content by id.
type Source interface {
	Open(ctx context.Context, id objectid.ID) (io.ReadCloser, error)
}

// Stats summarizes a written archive.
type Stats struct {
	Entries int   // entries written
	Skipped int   // entries skipped because their content is missing
	Bytes   int64 // uncompressed bytes read from the source
}

type Option func(*Streamer)

// WithLevel sets the deflate level. Default is flate.BestCompression.
func WithLevel(level int) Option {
	return func(s *Streamer) {
		s.level = level
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Streamer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Streamer writes zip archives of stored files.
type Streamer struct {
	source Source
	level  int
	logger *zap.Logger
}

func New(source Source, opts ...Option) *Streamer {
	s := &Streamer{
		source: source,
		level:  flate.BestCompression,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "archive"))
	return s
}

// WriteTo writes a zip archive of files to w, naming each entry by rendering
// pattern against the file. Files whose content is missing are logged and
// skipped; any other error stops the archive. Bytes already written to w
// stay written.
func (s *Streamer) WriteTo(ctx context.Context, w io.Writer, files []versionstore.FileVersion, pattern string) (Stats, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}

	var stats Stats

	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, s.level)
	})

	for i := len(files) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		rc, err := s.source.Open(ctx, files[i].ID)
		if errors.Is(err, chunkstore.ErrNotFound) {
			s.logger.Warn("skipping archive entry with missing content",
				zap.Stringer("id", files[i].ID),
				zap.String("filename", files[i].Filename),
				zap.Error(err),
			)
			stats.Skipped++
			continue
		}
		if err != nil {
			return stats, fmt.Errorf("opening %s: %w", files[i].ID, err)
		}

		n, err := s.writeEntry(zw, files[i], rc, pattern)
		stats.Bytes += n
		if err != nil {
			return stats, err
		}
		stats.Entries++
	}

	if err := zw.Close(); err != nil {
		return stats, fmt.Errorf("finishing archive: %w", err)
	}
	return stats, nil
}

// writeEntry copies rc into a new entry and closes it. Once the entry header
// is written any error is fatal, a missing chunk included.
func (s *Streamer) writeEntry(zw *zip.Writer, f versionstore.FileVersion, rc io.ReadCloser, pattern string) (int64, error) {
	defer rc.Close()

	entry, err := zw.CreateHeader(&zip.FileHeader{
		Name:     namepattern.Render(pattern, f.Fields(), s.logger),
		Method:   zip.Deflate,
		Modified: f.UploadDate,
	})
	if err != nil {
		return 0, fmt.Errorf("adding entry for %s: %w", f.ID, err)
	}

	n, err := io.Copy(entry, rc)
	if err != nil {
		return n, fmt.Errorf("streaming %s: %w", f.ID, err)
	}
	return n, nil
}

// Open runs WriteTo in the background and returns the archive as a stream.
// Closing the reader stops reading from the source. A fatal error is
// returned by Read after the bytes written before it.
func (s *Streamer) Open(ctx context.Context, files []versionstore.FileVersion, pattern string) io.ReadCloser {
	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()

	go func() {
		stats, err := s.WriteTo(ctx, pw, files, pattern)
		if err != nil {
			s.logger.Error("archive aborted",
				zap.Int("entries", stats.Entries),
				zap.Error(err),
			)
		}
		_ = pw.CloseWithError(err)
	}()

	return &stream{PipeReader: pr, cancel: cancel}
}

type stream struct {
	*io.PipeReader
	cancel context.CancelFunc
}

func (s *stream) Close() error {
	s.cancel()
	return s.PipeReader.Close()
}

package blobvault

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"go.uber.org/zap"

	"github.com/alexjoedt/blobvault/namepattern"
)

// Sink receives a download. All headers are set before the first Write.
type Sink interface {
	io.Writer
	SetHeader(name, value string)
}

const (
	defaultMimetype   = "application/octet-stream"
	archiveMimetype   = "application/zip"
	filenamePattern   = "{$filename}"
	versionedPattern  = "{$_id}_{$filename}"
	versionIDPrefix   = "{$_id}_"
	archiveNameSuffix = ".zip"
)

func disposition(inline bool, name string) string {
	kind := "attachment"
	if inline {
		kind = "inline"
	}
	return kind + ";filename=" + name
}

// sendFile writes the content of f to sink, naming it by rendering pattern.
// Nothing is written when the content cannot be opened.
func (s *Service) sendFile(ctx context.Context, f FileVersion, pattern string, inline bool, sink Sink) error {
	rc, err := s.store.Content().Open(ctx, f.ID)
	if err != nil {
		return s.metrics.fail("download", fmt.Errorf("opening content of %s: %w", f.ID, err))
	}
	defer rc.Close()

	mimetype := f.Metadata.Mimetype
	if mimetype == "" {
		mimetype = defaultMimetype
	}
	name := namepattern.Render(pattern, f.Fields(), s.logger)

	sink.SetHeader("Content-Type", mimetype)
	sink.SetHeader("Content-Length", strconv.FormatInt(f.Length, 10))
	sink.SetHeader("Content-Disposition", disposition(inline, name))

	n, err := io.Copy(sink, rc)
	s.metrics.downloadBytes.WithLabelValues(kindFile).Add(float64(n))
	if err != nil {
		return s.metrics.fail("download", fmt.Errorf("streaming %s: %w", f.ID, err))
	}

	s.metrics.downloads.WithLabelValues(kindFile).Inc()
	return nil
}

// sendArchive writes files to sink as the zip archive name.zip.
func (s *Service) sendArchive(ctx context.Context, files []FileVersion, name, pattern string, sink Sink) error {
	sink.SetHeader("Content-Type", archiveMimetype)
	sink.SetHeader("Content-Disposition", disposition(false, name+archiveNameSuffix))

	stats, err := s.archiver.WriteTo(ctx, sink, files, pattern)
	s.metrics.observeArchive(stats)
	if err != nil {
		s.logger.Error("archive download aborted",
			zap.String("archive", name),
			zap.Int("entries", stats.Entries),
			zap.Error(err),
		)
		return s.metrics.fail("download_archive", err)
	}

	s.logger.Debug("archive sent",
		zap.String("archive", name),
		zap.Int("entries", stats.Entries),
		zap.Int("skipped", stats.Skipped),
		zap.Int64("bytes", stats.Bytes),
	)
	return nil
}

func orDefault(alias, pattern string) string {
	if alias != "" {
		return alias
	}
	return pattern
}

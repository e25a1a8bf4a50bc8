package blobvault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/alexjoedt/blobvault/versionstore"
)

// FileUpload is one file to store.
type FileUpload struct {
	Filename string
	// Mimetype as declared by the client. Sniffed from content when empty.
	Mimetype string
	// Metadata holds custom fields. The keys container, mimetype and
	// extension are derived and override entries of the same name.
	Metadata map[string]any
	Content  io.Reader
}

// UploadIterator yields uploads one at a time. Next returns io.EOF when
// there are no more uploads. The content of an upload is fully consumed
// before Next is called again.
type UploadIterator interface {
	Next() (FileUpload, error)
}

type sliceIterator struct {
	uploads []FileUpload
}

// Uploads returns an iterator over a fixed list of uploads.
func Uploads(uploads ...FileUpload) UploadIterator {
	return &sliceIterator{uploads: uploads}
}

func (it *sliceIterator) Next() (FileUpload, error) {
	if len(it.uploads) == 0 {
		return FileUpload{}, io.EOF
	}
	u := it.uploads[0]
	it.uploads = it.uploads[1:]
	return u, nil
}

// extension returns the text after the last dot of filename, or "" when the
// name has no dot.
func extension(filename string) string {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 {
		return ""
	}
	return filename[i+1:]
}

// Upload stores u as a new version of its file in container.
func (s *Service) Upload(ctx context.Context, container string, u FileUpload) (FileVersion, error) {
	if err := validateName("container", container); err != nil {
		return FileVersion{}, err
	}
	if err := validateName("filename", u.Filename); err != nil {
		return FileVersion{}, err
	}

	custom := make(map[string]any, len(u.Metadata))
	for k, v := range u.Metadata {
		switch k {
		case "container", "mimetype", "extension":
		default:
			custom[k] = v
		}
	}
	if len(custom) == 0 {
		custom = nil
	}

	v, err := s.store.Create(ctx, versionstore.Upload{
		Filename: u.Filename,
		Metadata: Metadata{
			Container: container,
			Mimetype:  u.Mimetype,
			Extension: extension(u.Filename),
			Custom:    custom,
		},
		Content: u.Content,
	})
	if err != nil {
		return FileVersion{}, s.metrics.fail("upload", err)
	}

	s.metrics.uploads.Inc()
	s.metrics.uploadBytes.Add(float64(v.Length))
	return v, nil
}

// UploadContainerFiles stores every upload of it in container, in order.
// Versions stored before a failure are returned together with the error.
func (s *Service) UploadContainerFiles(ctx context.Context, container string, it UploadIterator) ([]FileVersion, error) {
	uploaded := []FileVersion{}

	for {
		u, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return uploaded, s.metrics.fail("upload", fmt.Errorf("reading upload: %w", err))
		}

		v, err := s.Upload(ctx, container, u)
		if err != nil {
			return uploaded, fmt.Errorf("uploading %q: %w", u.Filename, err)
		}
		uploaded = append(uploaded, v)
	}

	s.logger.Info("files uploaded",
		zap.String("container", container),
		zap.Int("count", len(uploaded)),
	)
	return uploaded, nil
}

// ReplaceContainerFiles uploads like UploadContainerFiles, then deletes all
// other versions of every uploaded file. Nothing is pruned if an upload
// fails.
func (s *Service) ReplaceContainerFiles(ctx context.Context, container string, it UploadIterator) ([]FileVersion, error) {
	uploaded, err := s.UploadContainerFiles(ctx, container, it)
	if err != nil {
		return uploaded, err
	}

	if _, err := s.store.ReplaceCurrent(ctx, container, uploaded); err != nil {
		return uploaded, s.metrics.fail("replace", err)
	}
	return uploaded, nil
}

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/alexjoedt/blobvault"
)

// maxMetadataSize bounds a metadata form field.
const maxMetadataSize = 64 << 10

type uploadFunc func(ctx context.Context, container string, it blobvault.UploadIterator) ([]blobvault.FileVersion, error)

func (h *handlers) upload(c *gin.Context, store uploadFunc) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	reader, err := c.Request.MultipartReader()
	if err != nil {
		h.badRequest(c, fmt.Errorf("%w: %w", errNotMultipart, err))
		return
	}

	uploads := newMultipartUploads(reader, h.logger)
	defer uploads.Close()

	files, err := store(c.Request.Context(), c.Param("container"), uploads)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, errorBody{Error: errorDetail{
				StatusCode: http.StatusRequestEntityTooLarge,
				Name:       http.StatusText(http.StatusRequestEntityTooLarge),
				Message:    err.Error(),
			}})
			return
		}
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, files)
}

// multipartUploads reads uploads from a multipart body as they arrive.
// File parts become uploads. A non-file part whose field name matches a
// later file part carries that file's custom metadata as a JSON object.
type multipartUploads struct {
	reader   *multipart.Reader
	metadata map[string]map[string]any
	current  *multipart.Part
	logger   *zap.Logger
}

func newMultipartUploads(reader *multipart.Reader, logger *zap.Logger) *multipartUploads {
	return &multipartUploads{
		reader:   reader,
		metadata: make(map[string]map[string]any),
		logger:   logger,
	}
}

func (u *multipartUploads) Next() (blobvault.FileUpload, error) {
	u.closeCurrent()

	for {
		part, err := u.reader.NextPart()
		if err != nil {
			return blobvault.FileUpload{}, err
		}

		if part.FileName() == "" {
			u.readMetadata(part)
			continue
		}

		u.current = part
		return blobvault.FileUpload{
			Filename: part.FileName(),
			Mimetype: part.Header.Get("Content-Type"),
			Metadata: u.metadata[part.FormName()],
			Content:  part,
		}, nil
	}
}

func (u *multipartUploads) readMetadata(part *multipart.Part) {
	defer part.Close()

	field := part.FormName()
	raw, err := io.ReadAll(io.LimitReader(part, maxMetadataSize+1))
	if err != nil {
		u.logger.Warn("reading metadata field", zap.String("field", field), zap.Error(err))
		return
	}
	if len(raw) > maxMetadataSize {
		u.logger.Warn("metadata field too large, ignoring", zap.String("field", field))
		return
	}

	var md map[string]any
	if err := json.Unmarshal(raw, &md); err != nil {
		u.logger.Debug("form field is not a metadata object, ignoring",
			zap.String("field", field),
			zap.Error(err),
		)
		return
	}
	u.metadata[field] = md
}

func (u *multipartUploads) closeCurrent() {
	if u.current != nil {
		_ = u.current.Close()
		u.current = nil
	}
}

func (u *multipartUploads) Close() {
	u.closeCurrent()
}

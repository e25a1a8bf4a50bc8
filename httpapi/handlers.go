package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/alexjoedt/blobvault"
	"github.com/alexjoedt/blobvault/filter"
)

var errNotMultipart = errors.New("request is not a multipart upload")

type handlers struct {
	svc            *blobvault.Service
	logger         *zap.Logger
	maxUploadBytes int64
}

// errorBody is the JSON error shape returned by every route.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	StatusCode int    `json:"statusCode"`
	Name       string `json:"name"`
	Message    string `json:"message"`
}

// fail reports err. Once a download has started the status can no longer
// change; the response is cut short and the error only logged.
func (h *handlers) fail(c *gin.Context, err error) {
	_ = c.Error(err)

	if c.Writer.Written() {
		h.logger.Error("response aborted after streaming started",
			zap.String("request_id", requestID(c)),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		c.Abort()
		return
	}

	// Drop the headers of a download that failed before its first byte.
	header := c.Writer.Header()
	header.Del("Content-Length")
	header.Del("Content-Disposition")
	header.Del("Content-Type")

	status := blobvault.StatusCode(err)
	c.AbortWithStatusJSON(status, errorBody{Error: errorDetail{
		StatusCode: status,
		Name:       http.StatusText(status),
		Message:    err.Error(),
	}})
}

func (h *handlers) badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: errorDetail{
		StatusCode: http.StatusBadRequest,
		Name:       http.StatusText(http.StatusBadRequest),
		Message:    err.Error(),
	}})
}

// where decodes the where query parameter. Malformed JSON matches
// everything.
func (h *handlers) where(c *gin.Context) filter.Where {
	where, err := filter.ParseWhere(c.Query("where"))
	if err != nil {
		h.logger.Debug("ignoring malformed where parameter",
			zap.String("request_id", requestID(c)),
			zap.String("where", c.Query("where")),
			zap.Error(err),
		)
	}
	return where
}

func inline(c *gin.Context) bool {
	v, _ := strconv.ParseBool(c.Query("inline"))
	return v
}

type countResponse struct {
	Count int64 `json:"count"`
}

// responseSink streams a download into the gin response.
type responseSink struct {
	c *gin.Context
}

func (s responseSink) Write(p []byte) (int, error) {
	return s.c.Writer.Write(p)
}

func (s responseSink) SetHeader(name, value string) {
	s.c.Header(name, value)
}

func (h *handlers) containers(c *gin.Context) {
	names, err := h.svc.Containers(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, names)
}

func (h *handlers) renameContainer(c *gin.Context) {
	n, err := h.svc.RenameContainer(c.Request.Context(), c.Param("container"), c.Query("newName"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, countResponse{Count: n})
}

func (h *handlers) deleteContainer(c *gin.Context) {
	res, err := h.svc.DeleteContainer(c.Request.Context(), c.Param("container"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) containerFiles(c *gin.Context) {
	files, err := h.svc.ContainerFiles(c.Request.Context(), c.Param("container"), h.where(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, files)
}

func (h *handlers) uploadContainerFiles(c *gin.Context) {
	h.upload(c, h.svc.UploadContainerFiles)
}

func (h *handlers) replaceContainerFiles(c *gin.Context) {
	h.upload(c, h.svc.ReplaceContainerFiles)
}

func (h *handlers) countContainerFiles(c *gin.Context) {
	n, err := h.svc.CountContainerFiles(c.Request.Context(), c.Param("container"), h.where(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, countResponse{Count: n})
}

func (h *handlers) downloadContainerFiles(c *gin.Context) {
	err := h.svc.DownloadContainerFiles(c.Request.Context(), c.Param("container"), h.where(c), responseSink{c})
	if err != nil {
		h.fail(c, err)
	}
}

func (h *handlers) downloadContainerFileWhere(c *gin.Context) {
	err := h.svc.DownloadContainerFileWhere(c.Request.Context(),
		c.Param("container"), h.where(c), c.Query("alias"), inline(c), responseSink{c})
	if err != nil {
		h.fail(c, err)
	}
}

func (h *handlers) containerFile(c *gin.Context) {
	f, err := h.svc.ContainerFile(c.Request.Context(), c.Param("container"), c.Param("file"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

func (h *handlers) downloadContainerFile(c *gin.Context) {
	err := h.svc.DownloadContainerFile(c.Request.Context(),
		c.Param("container"), c.Param("file"), c.Query("alias"), inline(c), responseSink{c})
	if err != nil {
		h.fail(c, err)
	}
}

func (h *handlers) deleteContainerFile(c *gin.Context) {
	res, err := h.svc.DeleteContainerFile(c.Request.Context(), c.Param("container"), c.Param("file"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) fileVersions(c *gin.Context) {
	files, err := h.svc.FileVersions(c.Request.Context(), c.Param("container"), c.Param("file"), h.where(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, files)
}

func (h *handlers) countFileVersions(c *gin.Context) {
	n, err := h.svc.CountFileVersions(c.Request.Context(), c.Param("container"), c.Param("file"), h.where(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, countResponse{Count: n})
}

func (h *handlers) downloadFileVersions(c *gin.Context) {
	err := h.svc.DownloadFileVersions(c.Request.Context(),
		c.Param("container"), c.Param("file"), c.Query("alias"), h.where(c), responseSink{c})
	if err != nil {
		h.fail(c, err)
	}
}

func (h *handlers) fileVersion(c *gin.Context) {
	f, err := h.svc.FileVersion(c.Request.Context(), c.Param("container"), c.Param("file"), c.Param("version"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

func (h *handlers) downloadFileVersion(c *gin.Context) {
	err := h.svc.DownloadFileVersion(c.Request.Context(),
		c.Param("container"), c.Param("file"), c.Param("version"), c.Query("alias"), inline(c), responseSink{c})
	if err != nil {
		h.fail(c, err)
	}
}

func (h *handlers) deleteFileVersion(c *gin.Context) {
	res, err := h.svc.DeleteFileVersion(c.Request.Context(), c.Param("container"), c.Param("file"), c.Param("version"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

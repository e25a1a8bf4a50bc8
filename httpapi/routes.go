package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Scope is the access scope a route requires.
type Scope string

const (
	ScopeRead  Scope = "read"
	ScopeWrite Scope = "write"
)

// Route is one entry of the route table.
type Route struct {
	Name        string
	Verb        string
	Path        string
	Scope       Scope
	Description string
	Handler     gin.HandlerFunc
}

const (
	containerPath = "/containers/:container"
	filesPath     = containerPath + "/files"
	filePath      = filesPath + "/:file"
	versionsPath  = filePath + "/versions"
	versionPath   = versionsPath + "/:version"
)

// Routes returns the route table of the file API. The table is built once
// and does not change at runtime.
func (s *Server) Routes() []Route {
	return s.routes
}

func (s *Server) buildRoutes() []Route {
	h := &handlers{svc: s.svc, logger: s.logger, maxUploadBytes: s.maxUploadBytes}

	return []Route{
		{
			Name:        "getContainers",
			Verb:        http.MethodGet,
			Path:        "/containers",
			Scope:       ScopeRead,
			Description: "List all storage containers.",
			Handler:     h.containers,
		},
		{
			Name:        "renameContainer",
			Verb:        http.MethodPatch,
			Path:        containerPath,
			Scope:       ScopeWrite,
			Description: "Rename a storage container.",
			Handler:     h.renameContainer,
		},
		{
			Name:        "deleteContainer",
			Verb:        http.MethodDelete,
			Path:        containerPath,
			Scope:       ScopeWrite,
			Description: "Delete a storage container and all files attached to it.",
			Handler:     h.deleteContainer,
		},
		{
			Name:        "getContainerFiles",
			Verb:        http.MethodGet,
			Path:        filesPath,
			Scope:       ScopeRead,
			Description: "List the current version of all files matched by where in a storage container.",
			Handler:     h.containerFiles,
		},
		{
			Name:        "uploadContainerFiles",
			Verb:        http.MethodPost,
			Path:        filesPath,
			Scope:       ScopeWrite,
			Description: "Upload files to a storage container.",
			Handler:     h.uploadContainerFiles,
		},
		{
			Name:        "replaceContainerFiles",
			Verb:        http.MethodPut,
			Path:        filesPath,
			Scope:       ScopeWrite,
			Description: "Upload files to a storage container, deleting all other versions of them.",
			Handler:     h.replaceContainerFiles,
		},
		{
			Name:        "countContainerFiles",
			Verb:        http.MethodGet,
			Path:        filesPath + "/count",
			Scope:       ScopeRead,
			Description: "Count the files matched by where in a storage container.",
			Handler:     h.countContainerFiles,
		},
		{
			Name:        "downloadContainerFiles",
			Verb:        http.MethodGet,
			Path:        filesPath + "/download",
			Scope:       ScopeRead,
			Description: "Download all files matched by where in a storage container as a zip archive.",
			Handler:     h.downloadContainerFiles,
		},
		{
			Name:        "downloadContainerFileWhere",
			Verb:        http.MethodGet,
			Path:        filesPath + "/downloadOne",
			Scope:       ScopeRead,
			Description: "Download the first file matched by where in a storage container.",
			Handler:     h.downloadContainerFileWhere,
		},
		{
			Name:        "getContainerFile",
			Verb:        http.MethodGet,
			Path:        filePath,
			Scope:       ScopeRead,
			Description: "Get the current version of a file.",
			Handler:     h.containerFile,
		},
		{
			Name:        "downloadContainerFile",
			Verb:        http.MethodGet,
			Path:        filePath + "/download",
			Scope:       ScopeRead,
			Description: "Download the current version of a file.",
			Handler:     h.downloadContainerFile,
		},
		{
			Name:        "deleteContainerFile",
			Verb:        http.MethodDelete,
			Path:        filePath,
			Scope:       ScopeWrite,
			Description: "Delete all versions of a file.",
			Handler:     h.deleteContainerFile,
		},
		{
			Name:        "getFileVersions",
			Verb:        http.MethodGet,
			Path:        versionsPath,
			Scope:       ScopeRead,
			Description: "List the versions of a file matched by where, newest first.",
			Handler:     h.fileVersions,
		},
		{
			Name:        "countFileVersions",
			Verb:        http.MethodGet,
			Path:        versionsPath + "/count",
			Scope:       ScopeRead,
			Description: "Count the versions of a file matched by where.",
			Handler:     h.countFileVersions,
		},
		{
			Name:        "downloadFileVersions",
			Verb:        http.MethodGet,
			Path:        versionsPath + "/download",
			Scope:       ScopeRead,
			Description: "Download the versions of a file matched by where as a zip archive.",
			Handler:     h.downloadFileVersions,
		},
		{
			Name:        "getFileVersion",
			Verb:        http.MethodGet,
			Path:        versionPath,
			Scope:       ScopeRead,
			Description: "Get one version of a file.",
			Handler:     h.fileVersion,
		},
		{
			Name:        "downloadFileVersion",
			Verb:        http.MethodGet,
			Path:        versionPath + "/download",
			Scope:       ScopeRead,
			Description: "Download one version of a file.",
			Handler:     h.downloadFileVersion,
		},
		{
			Name:        "deleteFileVersion",
			Verb:        http.MethodDelete,
			Path:        versionPath,
			Scope:       ScopeWrite,
			Description: "Delete one version of a file.",
			Handler:     h.deleteFileVersion,
		},
	}
}

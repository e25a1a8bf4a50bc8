// Package blobvault provides a versioned file store organized in containers.
//
// Every upload creates a new immutable version of a (container, filename)
// pair. Content lives in a chunked blob backend (package chunkstore), the
// version records in a SQL metadata backend (package versionstore).
// Containers and logical files are never stored; they are derived from the
// version records.
//
// # Design
//
// The current version of a file is the first one in the order
// upload date descending, object id descending. Operations that take a
// filter expression accept the JSON-shaped mapping understood by package
// filter, scoped to the container (and file) named by the call.
//
// Downloads write directly into a Sink. Headers are set before the first
// byte is written; once content is flowing an error can no longer change the
// response status, so callers should check Sink state before reporting it.
//
// # Usage
//
//	db, err := versionstore.Open("/data/meta.db", logger)
//	if err != nil {
//		return err
//	}
//	content, err := chunkstore.NewStorage("/data/content")
//	if err != nil {
//		return err
//	}
//	store, err := versionstore.New(db, content)
//	if err != nil {
//		return err
//	}
//	svc := blobvault.New(store, blobvault.WithLogger(logger))
//
//	// Store a new version
//	v, err := svc.Upload(ctx, "invoices", blobvault.FileUpload{
//		Filename: "2024-11.pdf",
//		Content:  reader,
//	})
//
//	// Stream every current file of a container as one zip archive
//	err = svc.DownloadContainerFiles(ctx, "invoices", nil, sink)
//
// # Concurrency
//
// A Service is safe for concurrent use. There is no locking across
// requests: a replace racing a concurrent upload of the same file may prune
// the newer version.
//
// # Error Handling
//
// Errors wrap the sentinels of this package and of versionstore; use
// errors.Is, or StatusCode to map them to an HTTP status.
package blobvault

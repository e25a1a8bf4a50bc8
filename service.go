package blobvault

import (
	"context"

	"github.com/klauspost/compress/flate"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/alexjoedt/blobvault/archive"
	"github.com/alexjoedt/blobvault/filter"
	"github.com/alexjoedt/blobvault/objectid"
	"github.com/alexjoedt/blobvault/versionstore"
)

type (
	FileVersion  = versionstore.FileVersion
	Metadata     = versionstore.Metadata
	DeleteResult = versionstore.DeleteResult
	Where        = filter.Where
)

type Option func(*Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRegisterer registers the service metrics on reg. By default they are
// kept in a private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Service) {
		if reg != nil {
			s.registerer = reg
		}
	}
}

// WithArchiveLevel sets the deflate level of zip downloads.
func WithArchiveLevel(level int) Option {
	return func(s *Service) {
		s.archiveLevel = level
	}
}

// Service is the container and file facade over a version store.
type Service struct {
	store        *versionstore.Store
	archiver     *archive.Streamer
	metrics      *metrics
	logger       *zap.Logger
	registerer   prometheus.Registerer
	archiveLevel int
}

// New creates a service on store. It panics if the metrics cannot be
// registered, like prometheus.MustRegister.
func New(store *versionstore.Store, opts ...Option) *Service {
	s := &Service{
		store:        store,
		logger:       zap.NewNop(),
		registerer:   prometheus.NewRegistry(),
		archiveLevel: flate.BestCompression,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.With(zap.String("component", "blobvault"))
	s.metrics = newMetrics(s.registerer)
	s.archiver = archive.New(store.Content(),
		archive.WithLevel(s.archiveLevel),
		archive.WithLogger(s.logger),
	)
	return s
}

// Store returns the underlying version store.
func (s *Service) Store() *versionstore.Store {
	return s.store
}

// Ping checks that the metadata backend is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Find(ctx context.Context, where any) ([]FileVersion, error) {
	files, err := s.store.Find(ctx, where)
	return files, s.metrics.fail("find", err)
}

func (s *Service) FindOne(ctx context.Context, where any) (FileVersion, error) {
	f, err := s.store.FindOne(ctx, where)
	return f, s.metrics.fail("find_one", err)
}

// Count returns the number of distinct filenames matching where.
func (s *Service) Count(ctx context.Context, where any) (int64, error) {
	n, err := s.store.Count(ctx, where)
	return n, s.metrics.fail("count", err)
}

func (s *Service) CountVersions(ctx context.Context, where any) (int64, error) {
	n, err := s.store.CountVersions(ctx, where)
	return n, s.metrics.fail("count_versions", err)
}

// Delete removes every version matching where.
func (s *Service) Delete(ctx context.Context, where any, countFiles bool) (DeleteResult, error) {
	res, err := s.store.Delete(ctx, where, countFiles)
	s.metrics.versionsDeleted.Add(float64(res.VersionsDeleted))
	return res, s.metrics.fail("delete", err)
}

func (s *Service) DeleteByIDs(ctx context.Context, ids []objectid.ID) (int64, error) {
	n, err := s.store.DeleteByIDs(ctx, ids)
	s.metrics.versionsDeleted.Add(float64(n))
	return n, s.metrics.fail("delete", err)
}

// Orphans reports content without metadata and metadata without content.
// Nothing is repaired.
func (s *Service) Orphans(ctx context.Context) (versionstore.OrphanReport, error) {
	report, err := s.store.Orphans(ctx)
	return report, s.metrics.fail("orphans", err)
}

// inContainer scopes where to container and, optionally, to one filename.
func inContainer(container string, filename string, where any) Where {
	scope := Where{"metadata.container": container}
	if filename != "" {
		scope["filename"] = filename
	}
	return Where{"and": []any{scope, where}}
}

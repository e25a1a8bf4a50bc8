// Package versionstore keeps one metadata record per stored file version and
// ties it to the content held in a chunkstore.ContentStore.
//
// A logical file is a (container, filename) pair; its versions are ordered by
// upload date, newest first, with the object id as tie breaker. The first
// version in that order is the current one. Nothing marks it explicitly.
package versionstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/alexjoedt/blobvault/chunkstore"
	"github.com/alexjoedt/blobvault/filter"
)

// Store is the version store. It is safe for concurrent use.
type Store struct {
	db         *gorm.DB
	content    chunkstore.ContentStore
	translator *filter.Translator
	logger     *zap.Logger
	policy     DeletePolicy
}

type Option func(*Store)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDeletePolicy sets how content and metadata deletes are ordered.
// Default is DeleteContentFirst.
func WithDeletePolicy(policy DeletePolicy) Option {
	return func(s *Store) {
		s.policy = policy
	}
}

// WithTranslator replaces the filter translator built from FileSchema.
func WithTranslator(t *filter.Translator) Option {
	return func(s *Store) {
		s.translator = t
	}
}

// New creates a store on db and migrates the metadata table.
func New(db *gorm.DB, content chunkstore.ContentStore, opts ...Option) (*Store, error) {
	s := &Store{
		db:      db,
		content: content,
		logger:  zap.NewNop(),
		policy:  DeleteContentFirst,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.With(zap.String("component", "versionstore"))
	if s.translator == nil {
		s.translator = filter.NewTranslator(FileSchema(), s.logger)
	}

	if err := db.AutoMigrate(&fileRecord{}); err != nil {
		return nil, backendError("migrating metadata", err)
	}

	return s, nil
}

// Content returns the content store behind s.
func (s *Store) Content() chunkstore.ContentStore {
	return s.content
}

// Ping checks the metadata database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return backendError("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return backendError("ping", err)
	}
	return nil
}

// Filter translates a filter expression with the store's schema.
func (s *Store) Filter(where any) filter.Query {
	return s.translator.Translate(where)
}

func (s *Store) files(ctx context.Context, where any) *gorm.DB {
	return s.db.WithContext(ctx).Model(&fileRecord{}).Scopes(s.Filter(where).Scope)
}

// newestFirst is the total version order.
func newestFirst(db *gorm.DB) *gorm.DB {
	return db.Order("upload_date DESC").Order("id DESC")
}

// Find returns every matching version, newest first.
func (s *Store) Find(ctx context.Context, where any) ([]FileVersion, error) {
	var records []fileRecord
	if err := s.files(ctx, where).Scopes(newestFirst).Find(&records).Error; err != nil {
		return nil, backendError("find files", err)
	}
	return versions(records)
}

// FindOne returns the newest matching version.
func (s *Store) FindOne(ctx context.Context, where any) (FileVersion, error) {
	var records []fileRecord
	if err := s.files(ctx, where).Scopes(newestFirst).Limit(1).Find(&records).Error; err != nil {
		return FileVersion{}, backendError("find file", err)
	}
	if len(records) == 0 {
		return FileVersion{}, ErrNotFound
	}
	return records[0].version()
}

// FindCurrent returns the current version of every logical file among the
// matching versions, newest first.
func (s *Store) FindCurrent(ctx context.Context, where any) ([]FileVersion, error) {
	ranked := s.files(ctx, where).Select(
		"*, ROW_NUMBER() OVER (PARTITION BY container, filename ORDER BY upload_date DESC, id DESC) AS version_rank",
	)

	var records []fileRecord
	err := s.db.WithContext(ctx).
		Table("(?) AS ranked", ranked).
		Where("version_rank = 1").
		Scopes(newestFirst).
		Find(&records).Error
	if err != nil {
		return nil, backendError("find current files", err)
	}
	return versions(records)
}

// Count returns the number of distinct filenames among the matching
// versions.
func (s *Store) Count(ctx context.Context, where any) (int64, error) {
	var n int64
	if err := s.files(ctx, where).Distinct("filename").Count(&n).Error; err != nil {
		return 0, backendError("count files", err)
	}
	return n, nil
}

// CountVersions returns the number of matching versions.
func (s *Store) CountVersions(ctx context.Context, where any) (int64, error) {
	var n int64
	if err := s.files(ctx, where).Count(&n).Error; err != nil {
		return 0, backendError("count versions", err)
	}
	return n, nil
}

// GetCurrent returns the current version of a logical file.
func (s *Store) GetCurrent(ctx context.Context, container, filename string) (FileVersion, error) {
	var records []fileRecord
	err := s.db.WithContext(ctx).
		Where("container = ? AND filename = ?", container, filename).
		Scopes(newestFirst).
		Limit(1).
		Find(&records).Error
	if err != nil {
		return FileVersion{}, backendError("get current file", err)
	}
	if len(records) == 0 {
		return FileVersion{}, fmt.Errorf("%s/%s: %w", container, filename, ErrNotFound)
	}
	return records[0].version()
}

// Containers returns the distinct container names, sorted.
func (s *Store) Containers(ctx context.Context) ([]string, error) {
	names := []string{}
	err := s.db.WithContext(ctx).
		Model(&fileRecord{}).
		Distinct().
		Order("container").
		Pluck("container", &names).Error
	if err != nil {
		return nil, backendError("list containers", err)
	}
	return names, nil
}

// RenameContainer moves every version of container to newName and returns
// the number of distinct filenames moved. Content is not touched.
func (s *Store) RenameContainer(ctx context.Context, container, newName string) (int64, error) {
	n, err := s.Count(ctx, filter.Where{"metadata.container": container})
	if err != nil {
		return 0, err
	}

	err = s.db.WithContext(ctx).
		Model(&fileRecord{}).
		Where("container = ?", container).
		Update("container", newName).Error
	if err != nil {
		return 0, backendError("rename container", err)
	}

	s.logger.Info("container renamed",
		zap.String("container", container),
		zap.String("new_name", newName),
		zap.Int64("files", n),
	)
	return n, nil
}

// Upload describes content to store as a new version.
type Upload struct {
	Filename string
	Metadata Metadata
	Content  io.Reader
}

// Create streams an upload into the content store and records it. If the
// metadata insert fails the written content is removed again.
func (s *Store) Create(ctx context.Context, upload Upload) (FileVersion, error) {
	w, err := s.content.NewWriter(ctx, upload.Filename, map[string]string{
		"container": upload.Metadata.Container,
		"mimetype":  upload.Metadata.Mimetype,
	})
	if err != nil {
		return FileVersion{}, fmt.Errorf("opening content writer: %w", err)
	}
	defer w.Discard()

	if _, err := io.Copy(w, upload.Content); err != nil {
		return FileVersion{}, fmt.Errorf("writing content of %q: %w", upload.Filename, err)
	}

	meta, err := w.Commit()
	if err != nil {
		return FileVersion{}, fmt.Errorf("committing content of %q: %w", upload.Filename, err)
	}

	md := upload.Metadata
	if md.Mimetype == "" {
		md.Mimetype = meta.ContentType
	}

	version := FileVersion{
		ID:          meta.ID,
		Filename:    upload.Filename,
		Length:      meta.Length,
		ChunkSize:   meta.ChunkSize,
		UploadDate:  meta.CreatedAt.UTC().Truncate(time.Millisecond),
		ContentHash: meta.Sha256,
		Metadata:    md,
	}

	if err := s.insert(ctx, version); err != nil {
		if _, cleanupErr := s.content.Delete(context.WithoutCancel(ctx), meta.ID); cleanupErr != nil {
			s.logger.Error("removing content of failed upload",
				zap.Stringer("id", meta.ID),
				zap.Error(cleanupErr),
			)
		}
		return FileVersion{}, err
	}

	s.logger.Debug("file version created",
		zap.Stringer("id", version.ID),
		zap.String("container", md.Container),
		zap.String("filename", version.Filename),
		zap.Int64("length", version.Length),
	)
	return version, nil
}

func (s *Store) insert(ctx context.Context, v FileVersion) error {
	record, err := newRecord(v)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return backendError("insert file version", err)
	}
	return nil
}

// ReplaceCurrent deletes, for every filename among uploaded, all other
// versions of that file in container. Files are pruned concurrently; the
// first failure is returned and completed prunes are kept.
func (s *Store) ReplaceCurrent(ctx context.Context, container string, uploaded []FileVersion) ([]FileVersion, error) {
	keep := make(map[string][]any)
	var order []string
	for _, v := range uploaded {
		if v.ID.IsZero() {
			continue
		}
		if _, ok := keep[v.Filename]; !ok {
			order = append(order, v.Filename)
		}
		keep[v.Filename] = append(keep[v.Filename], v.ID.Hex())
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, filename := range order {
		ids := keep[filename]
		g.Go(func() error {
			_, err := s.Delete(gctx, filter.Where{
				"metadata.container": container,
				"filename":           filename,
				"_id":                filter.Where{"nin": ids},
			}, false)
			if err != nil {
				return fmt.Errorf("pruning versions of %q: %w", filename, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return uploaded, nil
}

// IsNotFound reports whether err is a not-found condition of this store or
// of its content store.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, chunkstore.ErrNotFound)
}

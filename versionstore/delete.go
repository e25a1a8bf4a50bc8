package versionstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/alexjoedt/blobvault/objectid"
)

// DeletePolicy orders the two halves of a version delete.
type DeletePolicy uint8

const (
	// DeleteContentFirst removes content, then metadata. A failed delete
	// leaves metadata pointing at missing content, and retrying the delete
	// completes it because missing content is not an error.
	DeleteContentFirst DeletePolicy = iota

	// DeleteConcurrent issues both deletes at once. Either store may be left
	// with orphans on a one-sided failure.
	DeleteConcurrent
)

func (p DeletePolicy) String() string {
	switch p {
	case DeleteContentFirst:
		return "content-first"
	case DeleteConcurrent:
		return "concurrent"
	default:
		return fmt.Sprintf("DeletePolicy(%d)", p)
	}
}

// ParseDeletePolicy parses the name produced by DeletePolicy.String.
func ParseDeletePolicy(name string) (DeletePolicy, error) {
	switch name {
	case "content-first", "":
		return DeleteContentFirst, nil
	case "concurrent":
		return DeleteConcurrent, nil
	default:
		return 0, fmt.Errorf("unknown delete policy %q", name)
	}
}

// deleteBatchSize keeps IN lists below SQLite's bound parameter limit.
const deleteBatchSize = 500

// DeleteResult counts what a delete removed. FilesDeleted is only set when
// requested.
type DeleteResult struct {
	FilesDeleted    *int64 `json:"filesDeleted,omitempty"`
	VersionsDeleted int64  `json:"versionsDeleted"`
}

// Delete removes every matching version, content and metadata. With
// countFiles the result also reports the number of distinct filenames among
// the matched versions. Matching nothing is not an error.
func (s *Store) Delete(ctx context.Context, where any, countFiles bool) (DeleteResult, error) {
	var matched []fileRecord
	if err := s.files(ctx, where).Select("id", "filename").Find(&matched).Error; err != nil {
		return DeleteResult{}, backendError("find files to delete", err)
	}

	var result DeleteResult
	if countFiles {
		result.FilesDeleted = new(int64)
	}
	if len(matched) == 0 {
		return result, nil
	}

	ids := make([]objectid.ID, 0, len(matched))
	filenames := make(map[string]struct{})
	for _, r := range matched {
		id, err := objectid.Parse(r.ID)
		if err != nil {
			return DeleteResult{}, fmt.Errorf("record %q: %w", r.ID, err)
		}
		ids = append(ids, id)
		filenames[r.Filename] = struct{}{}
	}

	n, err := s.DeleteByIDs(ctx, ids)
	if err != nil {
		return DeleteResult{}, err
	}

	result.VersionsDeleted = n
	if countFiles {
		*result.FilesDeleted = int64(len(filenames))
	}
	return result, nil
}

// DeleteByIDs removes the content and metadata of the given versions and
// returns the number of metadata records removed. Once issued the deletes run
// to completion even if ctx is cancelled.
func (s *Store) DeleteByIDs(ctx context.Context, ids []objectid.ID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ctx = context.WithoutCancel(ctx)

	var (
		removed     int64
		contentErr  error
		metadataErr error
	)

	switch s.policy {
	case DeleteConcurrent:
		var wg sync.WaitGroup
		wg.Go(func() {
			_, contentErr = s.content.Delete(ctx, ids...)
		})
		wg.Go(func() {
			removed, metadataErr = s.deleteRecords(ctx, ids)
		})
		wg.Wait()

	default:
		if _, contentErr = s.content.Delete(ctx, ids...); contentErr == nil {
			removed, metadataErr = s.deleteRecords(ctx, ids)
		}
	}

	switch {
	case contentErr == nil && metadataErr == nil:
		s.logger.Debug("file versions deleted",
			zap.Int("requested", len(ids)),
			zap.Int64("removed", removed),
		)
		return removed, nil

	case contentErr != nil && metadataErr != nil:
		return 0, fmt.Errorf("deleting %d version(s): %w", len(ids), errors.Join(contentErr, metadataErr))
	}

	perr := &PartialDeleteError{
		IDs:         ids,
		ContentErr:  contentErr,
		MetadataErr: metadataErr,
		Removed:     removed,
	}
	s.logger.Error("partial delete, orphans left in place",
		zap.Stringer("policy", s.policy),
		zap.Int("versions", len(ids)),
		zap.Error(perr),
	)
	return removed, perr
}

func (s *Store) deleteRecords(ctx context.Context, ids []objectid.ID) (int64, error) {
	var removed int64

	for start := 0; start < len(ids); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(ids))

		batch := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			batch = append(batch, id.Hex())
		}

		res := s.db.WithContext(ctx).Where("id IN ?", batch).Delete(&fileRecord{})
		if res.Error != nil {
			return removed, backendError("delete file versions", res.Error)
		}
		removed += res.RowsAffected
	}

	return removed, nil
}

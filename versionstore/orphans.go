package versionstore

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/alexjoedt/blobvault/objectid"
)

// OrphanReport lists the inconsistencies between the metadata and content
// stores. Uploads in flight show up as content without metadata until
// their record is inserted.
type OrphanReport struct {
	// ContentOnly are content objects no metadata record refers to.
	ContentOnly []objectid.ID `json:"contentOnly"`

	// MetadataOnly are versions whose content is missing.
	MetadataOnly []FileVersion `json:"metadataOnly"`
}

// Orphans compares both stores. Nothing is repaired.
func (s *Store) Orphans(ctx context.Context) (OrphanReport, error) {
	var recorded []string
	if err := s.db.WithContext(ctx).Model(&fileRecord{}).Pluck("id", &recorded).Error; err != nil {
		return OrphanReport{}, backendError("list file versions", err)
	}

	stored := make(map[string]struct{})
	report := OrphanReport{
		ContentOnly:  []objectid.ID{},
		MetadataOnly: []FileVersion{},
	}

	iter := s.content.List(ctx)
	defer iter.Close()

	known := make(map[string]struct{}, len(recorded))
	for _, id := range recorded {
		known[id] = struct{}{}
	}

	for iter.Next() {
		id := iter.Meta().ID
		stored[id.Hex()] = struct{}{}
		if _, ok := known[id.Hex()]; !ok {
			report.ContentOnly = append(report.ContentOnly, id)
		}
	}
	if err := iter.Err(); err != nil {
		return OrphanReport{}, fmt.Errorf("listing content: %w", err)
	}

	var missing []string
	for _, id := range recorded {
		if _, ok := stored[id]; !ok {
			missing = append(missing, id)
		}
	}

	for batch := range slices.Chunk(missing, deleteBatchSize) {
		var records []fileRecord
		if err := s.db.WithContext(ctx).Where("id IN ?", batch).Scopes(newestFirst).Find(&records).Error; err != nil {
			return OrphanReport{}, backendError("load orphaned versions", err)
		}
		found, err := versions(records)
		if err != nil {
			return OrphanReport{}, err
		}
		report.MetadataOnly = append(report.MetadataOnly, found...)
	}

	slices.SortFunc(report.ContentOnly, objectid.ID.Compare)

	if len(report.ContentOnly) > 0 || len(report.MetadataOnly) > 0 {
		s.logger.Warn("orphans found",
			zap.Int("content_only", len(report.ContentOnly)),
			zap.Int("metadata_only", len(report.MetadataOnly)),
		)
	}
	return report, nil
}

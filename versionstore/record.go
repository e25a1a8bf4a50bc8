package versionstore

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/alexjoedt/blobvault/filter"
	"github.com/alexjoedt/blobvault/objectid"
)

// FileVersion is one stored blob plus its metadata. Versions are never
// mutated in place except for renames of their container.
type FileVersion struct {
	ID          objectid.ID `json:"_id"`
	Filename    string      `json:"filename"`
	Length      int64       `json:"length"`
	ChunkSize   int         `json:"chunkSize"`
	UploadDate  time.Time   `json:"uploadDate"`
	ContentHash string      `json:"contentHash,omitempty"`
	Metadata    Metadata    `json:"metadata"`
}

// Metadata holds the derived keys and caller-supplied custom fields of a
// version. On the wire it is one flat object; derived keys win over custom
// keys of the same name.
type Metadata struct {
	Container string
	Mimetype  string
	Extension string
	Custom    map[string]any
}

var derivedKeys = []string{"container", "mimetype", "extension"}

func (m Metadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Map())
}

func (m *Metadata) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*m = Metadata{}
	m.Container, _ = raw["container"].(string)
	m.Mimetype, _ = raw["mimetype"].(string)
	m.Extension, _ = raw["extension"].(string)

	for _, k := range derivedKeys {
		delete(raw, k)
	}
	if len(raw) > 0 {
		m.Custom = raw
	}
	return nil
}

// Map returns the flat form of the metadata.
func (m Metadata) Map() map[string]any {
	out := make(map[string]any, len(m.Custom)+len(derivedKeys))
	maps.Copy(out, m.Custom)
	out["container"] = m.Container
	out["mimetype"] = m.Mimetype
	out["extension"] = m.Extension
	return out
}

// Fields exposes the version as nested maps keyed by the JSON field names,
// for name pattern rendering.
func (f FileVersion) Fields() map[string]any {
	fields := map[string]any{
		"_id":        f.ID.Hex(),
		"filename":   f.Filename,
		"length":     f.Length,
		"chunkSize":  f.ChunkSize,
		"uploadDate": f.UploadDate.UTC().Format(time.RFC3339Nano),
		"metadata":   f.Metadata.Map(),
	}
	if f.ContentHash != "" {
		fields["contentHash"] = f.ContentHash
	}
	return fields
}

// fileRecord is the metadata row of one version.
type fileRecord struct {
	ID          string    `gorm:"column:id;primaryKey;type:text"`
	Container   string    `gorm:"column:container;not null;index:idx_files_container_filename,priority:1"`
	Filename    string    `gorm:"column:filename;not null;index:idx_files_container_filename,priority:2"`
	Length      int64     `gorm:"column:length;not null"`
	ChunkSize   int       `gorm:"column:chunk_size;not null"`
	UploadDate  time.Time `gorm:"column:upload_date;not null;index"`
	ContentHash string    `gorm:"column:content_hash"`
	Mimetype    string    `gorm:"column:mimetype"`
	Extension   string    `gorm:"column:extension"`
	Metadata    string    `gorm:"column:metadata;type:text;not null;default:'{}'"`
}

func (fileRecord) TableName() string {
	return "files"
}

func newRecord(v FileVersion) (fileRecord, error) {
	custom := make(map[string]any, len(v.Metadata.Custom))
	maps.Copy(custom, v.Metadata.Custom)
	for _, k := range derivedKeys {
		delete(custom, k)
	}

	encoded, err := json.Marshal(custom)
	if err != nil {
		return fileRecord{}, fmt.Errorf("encoding custom metadata: %w", err)
	}

	return fileRecord{
		ID:          v.ID.Hex(),
		Container:   v.Metadata.Container,
		Filename:    v.Filename,
		Length:      v.Length,
		ChunkSize:   v.ChunkSize,
		UploadDate:  v.UploadDate.UTC(),
		ContentHash: v.ContentHash,
		Mimetype:    v.Metadata.Mimetype,
		Extension:   v.Metadata.Extension,
		Metadata:    string(encoded),
	}, nil
}

func (r fileRecord) version() (FileVersion, error) {
	id, err := objectid.Parse(r.ID)
	if err != nil {
		return FileVersion{}, fmt.Errorf("record %q: %w", r.ID, err)
	}

	var custom map[string]any
	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &custom); err != nil {
			return FileVersion{}, fmt.Errorf("record %s: decoding custom metadata: %w", r.ID, err)
		}
	}
	if len(custom) == 0 {
		custom = nil
	}

	return FileVersion{
		ID:          id,
		Filename:    r.Filename,
		Length:      r.Length,
		ChunkSize:   r.ChunkSize,
		UploadDate:  r.UploadDate.UTC(),
		ContentHash: r.ContentHash,
		Metadata: Metadata{
			Container: r.Container,
			Mimetype:  r.Mimetype,
			Extension: r.Extension,
			Custom:    custom,
		},
	}, nil
}

func versions(records []fileRecord) ([]FileVersion, error) {
	out := make([]FileVersion, 0, len(records))
	for _, r := range records {
		v, err := r.version()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// FileSchema describes the filterable fields of a version. Build it once and
// pass it to filter.NewTranslator.
func FileSchema() *filter.Schema {
	return &filter.Schema{
		IDField: "_id",
		Fields: map[string]filter.Field{
			"_id":                {Column: "id", Kind: filter.KindObjectID},
			"filename":           {Column: "filename"},
			"length":             {Column: "length"},
			"chunkSize":          {Column: "chunk_size"},
			"uploadDate":         {Column: "upload_date", Kind: filter.KindDate},
			"contentHash":        {Column: "content_hash"},
			"metadata.container": {Column: "container"},
			"metadata.mimetype":  {Column: "mimetype"},
			"metadata.extension": {Column: "extension"},
		},
		JSONPrefix: "metadata.",
		JSONColumn: "metadata",
	}
}

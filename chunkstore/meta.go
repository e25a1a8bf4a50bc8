package chunkstore

import (
	"time"

	"github.com/alexjoedt/blobvault/objectid"
)

// Meta describes a stored object. It lives next to the chunk files so the
// object can be described without reading its content.
type Meta struct {
	ID          objectid.ID       `json:"id"`
	Filename    string            `json:"filename"`
	Length      int64             `json:"length"`
	ChunkSize   int               `json:"chunkSize"`
	Sha256      string            `json:"sha256"`
	ContentType string            `json:"contentType"` // sniffed from the first 512 bytes
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	Chunks      []ChunkMeta       `json:"chunks"`
}

// ChunkMeta records one chunk file. Size is the decoded length, Stored the
// on-disk length.
type ChunkMeta struct {
	Size   int   `json:"size"`
	Stored int   `json:"stored"`
	Codec  Codec `json:"codec"`
}

// StoredBytes is the on-disk footprint of all chunks.
func (m *Meta) StoredBytes() int64 {
	var n int64
	for _, c := range m.Chunks {
		n += int64(c.Stored)
	}
	return n
}

package document

import "fmt"

// Document is a unit of maintenance knowledge before chunking.
type Document struct {
	ID       string            `json:"id"`
	Title    string            `json:"title,omitempty"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	out := d
	if d.Metadata != nil {
		out.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Chunk is a contiguous slice of a document's content. Ordinal is the
// zero-based position of the chunk within its source document.
type Chunk struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	Ordinal    int               `json:"ordinal"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the chunk.
func (c Chunk) Clone() Chunk {
	out := c
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// ChunkID derives a chunk identifier from its document and position.
// Identifiers are stable across re-indexing runs so that upserting the
// same corpus twice does not duplicate entries.
func ChunkID(documentID string, ordinal int) string {
	return fmt.Sprintf("%s#%d", documentID, ordinal)
}

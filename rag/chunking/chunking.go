package chunking

import (
	"strings"

	"github.com/fleetsense/fleetsense/rag/document"
)

// Chunker splits documents into retrievable pieces.
type Chunker interface {
	Chunk(doc document.Document) []document.Chunk
}

// SimpleChunker splits on a separator first, then packs segments into
// chunks of at most ChunkSize characters with Overlap characters of
// carry-over between adjacent chunks.
type SimpleChunker struct {
	ChunkSize int
	Overlap   int
	Separator string
}

// NewSimpleChunker returns a chunker with defaults suited to short
// maintenance guidance documents.
func NewSimpleChunker() *SimpleChunker {
	return &SimpleChunker{
		ChunkSize: 800,
		Overlap:   120,
		Separator: "\n\n",
	}
}

func (c *SimpleChunker) Chunk(doc document.Document) []document.Chunk {
	content := strings.TrimSpace(doc.Content)
	if content == "" {
		return nil
	}

	size := c.ChunkSize
	if size <= 0 {
		size = 800
	}
	overlap := c.Overlap
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	sep := c.Separator
	if sep == "" {
		sep = "\n\n"
	}

	var pieces []string
	for _, seg := range strings.Split(content, sep) {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		if len(seg) <= size {
			pieces = append(pieces, seg)
			continue
		}
		for start := 0; start < len(seg); {
			end := start + size
			if end > len(seg) {
				end = len(seg)
			}
			pieces = append(pieces, seg[start:end])
			if end == len(seg) {
				break
			}
			start = end - overlap
		}
	}

	chunks := make([]document.Chunk, 0, len(pieces))
	for i, p := range pieces {
		chunks = append(chunks, document.Chunk{
			ID:         document.ChunkID(doc.ID, i),
			DocumentID: doc.ID,
			Ordinal:    i,
			Content:    p,
			Metadata:   doc.Clone().Metadata,
		})
	}
	return chunks
}

package vector

import (
	"context"
	"math"
)

// Embedding pairs a chunk of text with its vector representation.
// DocumentID and Ordinal identify where the chunk came from so that
// retrieval results can be deduplicated and ordered deterministically.
type Embedding struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	Ordinal    int               `json:"ordinal"`
	Vector     []float64         `json:"vector"`
	Text       string            `json:"text"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the embedding.
func (e Embedding) Clone() Embedding {
	out := e
	out.Vector = make([]float64, len(e.Vector))
	copy(out.Vector, e.Vector)
	if e.Metadata != nil {
		out.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Store is the persistence interface for embeddings. Upsert semantics:
// storing an embedding whose ID already exists replaces it.
type Store interface {
	// Store persists embeddings, replacing any with the same ID.
	Store(ctx context.Context, embeddings []Embedding) error

	// Search returns up to limit embeddings most similar to the query
	// vector, best first.
	Search(ctx context.Context, query []float64, limit int) ([]Embedding, error)

	// Delete removes embeddings by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// Count reports how many embeddings the store holds.
	Count(ctx context.Context) (int, error)
}

// CosineSimilarity computes the cosine similarity of two vectors.
// Mismatched lengths or zero vectors yield 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA)*math.Sqrt(normB) + 1e-8)
}

// Normalize scales a vector to unit length in place and returns it.
func Normalize(v []float64) []float64 {
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	for i := range v {
		v[i] /= norm
	}
	return v
}

package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/fleetsense/fleetsense/vector"
)

// Store is an in-memory vector store keyed by embedding ID. Storing an
// embedding under an existing ID replaces it, so re-indexing the same
// corpus is idempotent.
type Store struct {
	mu         sync.RWMutex
	embeddings map[string]vector.Embedding
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{embeddings: make(map[string]vector.Embedding)}
}

func (s *Store) Store(ctx context.Context, embeddings []vector.Embedding) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range embeddings {
		s.embeddings[e.ID] = e.Clone()
	}
	return nil
}

func (s *Store) Search(ctx context.Context, query []float64, limit int) ([]vector.Embedding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	type scored struct {
		emb   vector.Embedding
		score float64
	}

	s.mu.RLock()
	candidates := make([]scored, 0, len(s.embeddings))
	for _, e := range s.embeddings {
		candidates = append(candidates, scored{emb: e.Clone(), score: vector.CosineSimilarity(query, e.Vector)})
	}
	s.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if candidates[i].emb.Ordinal != candidates[j].emb.Ordinal {
			return candidates[i].emb.Ordinal < candidates[j].emb.Ordinal
		}
		return candidates[i].emb.ID < candidates[j].emb.ID
	})

	if limit > len(candidates) {
		limit = len(candidates)
	}
	out := make([]vector.Embedding, 0, limit)
	for _, c := range candidates[:limit] {
		out = append(out, c.emb)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.embeddings, id)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.embeddings), nil
}

var _ vector.Store = (*Store)(nil)

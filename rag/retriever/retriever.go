package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	ferrors "github.com/fleetsense/fleetsense/errors"
	"github.com/fleetsense/fleetsense/pkg/logging"
	"github.com/fleetsense/fleetsense/rag/chunking"
	"github.com/fleetsense/fleetsense/rag/document"
	"github.com/fleetsense/fleetsense/rag/embedder"
	"github.com/fleetsense/fleetsense/vector"
)

// Result is one retrieved chunk with its relevance to the query.
type Result struct {
	Chunk document.Chunk
	Score float64
}

// Config tunes retrieval behaviour.
type Config struct {
	// TopK caps the number of results per query.
	TopK int

	// RelevanceFloor drops results whose cosine similarity falls below
	// the threshold.
	RelevanceFloor float64

	// Attempts and Backoff bound retries against the vector backend.
	// Backoff doubles between attempts.
	Attempts int
	Backoff  time.Duration

	// SearchMultiplier widens the candidate pool fetched from the store
	// before deduplication, so dedup does not starve the result set.
	SearchMultiplier int
}

func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 100 * time.Millisecond
	}
	if c.SearchMultiplier <= 0 {
		c.SearchMultiplier = 4
	}
	return c
}

// Retriever indexes guideline documents and answers similarity queries
// over them.
type Retriever struct {
	embedder embedder.Embedder
	store    vector.Store
	chunker  chunking.Chunker
	cfg      Config
	logger   *slog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithChunker overrides the default chunking policy.
func WithChunker(c chunking.Chunker) Option {
	return func(r *Retriever) { r.chunker = c }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Retriever) { r.logger = l }
}

// New builds a retriever over the given embedder and vector store.
func New(emb embedder.Embedder, store vector.Store, cfg Config, opts ...Option) *Retriever {
	r := &Retriever{
		embedder: emb,
		store:    store,
		chunker:  chunking.NewSimpleChunker(),
		cfg:      cfg.withDefaults(),
		logger:   logging.WithComponent("retriever"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Index chunks, embeds, and stores the documents. Chunk identifiers are
// derived from document ID and ordinal, so indexing the same documents
// again overwrites in place rather than duplicating.
func (r *Retriever) Index(ctx context.Context, docs []document.Document) (int, error) {
	var chunks []document.Chunk
	for _, doc := range docs {
		if doc.ID == "" {
			return 0, fmt.Errorf("%w: document with empty ID", ferrors.ErrMalformedInput)
		}
		chunks = append(chunks, r.chunker.Chunk(doc)...)
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed corpus: %w", err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	embeddings := make([]vector.Embedding, len(chunks))
	for i, c := range chunks {
		embeddings[i] = vector.Embedding{
			ID:         c.ID,
			DocumentID: c.DocumentID,
			Ordinal:    c.Ordinal,
			Vector:     vectors[i],
			Text:       c.Content,
			Metadata:   c.Metadata,
		}
	}

	if err := r.withRetry(ctx, func() error {
		return r.store.Store(ctx, embeddings)
	}); err != nil {
		return 0, err
	}
	r.logger.Info("indexed corpus", "documents", len(docs), "chunks", len(chunks))
	return len(chunks), nil
}

// Query embeds the query text and returns up to topK chunks above the
// relevance floor, deduplicated by document ID (highest score wins),
// ordered by score descending with deterministic tie-breaking.
func (r *Retriever) Query(ctx context.Context, query string, topK int) ([]Result, error) {
	if topK < 1 {
		return nil, fmt.Errorf("%w: topK must be >= 1, got %d", ferrors.ErrMalformedInput, topK)
	}
	if topK > r.cfg.TopK {
		topK = r.cfg.TopK
	}

	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil || len(vecs) != 1 {
		return nil, fmt.Errorf("%w: embed query: %v", ferrors.ErrRetrievalUnavailable, err)
	}
	qv := vecs[0]

	var candidates []vector.Embedding
	if err := r.withRetry(ctx, func() error {
		var serr error
		candidates, serr = r.store.Search(ctx, qv, topK*r.cfg.SearchMultiplier)
		return serr
	}); err != nil {
		return nil, err
	}

	// Dedup by document, keeping the best-scoring chunk per document.
	best := make(map[string]Result, len(candidates))
	for _, cand := range candidates {
		score := vector.CosineSimilarity(qv, cand.Vector)
		if score < r.cfg.RelevanceFloor {
			continue
		}
		res := Result{
			Chunk: document.Chunk{
				ID:         cand.ID,
				DocumentID: cand.DocumentID,
				Ordinal:    cand.Ordinal,
				Content:    cand.Text,
				Metadata:   cand.Metadata,
			},
			Score: score,
		}
		if prev, ok := best[cand.DocumentID]; !ok || res.Score > prev.Score {
			best[cand.DocumentID] = res
		}
	}

	results := make([]Result, 0, len(best))
	for _, res := range best {
		results = append(results, res)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Chunk.Ordinal != results[j].Chunk.Ordinal {
			return results[i].Chunk.Ordinal < results[j].Chunk.Ordinal
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// withRetry runs op with bounded exponential backoff, mapping final
// failure to ErrRetrievalUnavailable.
func (r *Retriever) withRetry(ctx context.Context, op func() error) error {
	delay := r.cfg.Backoff
	var lastErr error
	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if attempt == r.cfg.Attempts {
			break
		}
		r.logger.Warn("vector backend error, retrying",
			"attempt", attempt, "delay", delay, "error", lastErr)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ferrors.ErrRetrievalUnavailable, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("%w: after %d attempts: %v", ferrors.ErrRetrievalUnavailable, r.cfg.Attempts, lastErr)
}

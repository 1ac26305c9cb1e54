package retriever

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	ferrors "github.com/fleetsense/fleetsense/errors"
	"github.com/fleetsense/fleetsense/contrib/vector/inmemory"
	"github.com/fleetsense/fleetsense/rag/document"
	"github.com/fleetsense/fleetsense/vector"
)

// keywordEmbedder produces deterministic vectors from a fixed keyword
// vocabulary, good enough to steer similarity in tests.
type keywordEmbedder struct {
	keywords []string
}

func newKeywordEmbedder() *keywordEmbedder {
	return &keywordEmbedder{keywords: []string{"brake", "battery", "tire", "oil", "coolant"}}
}

func (e *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v := make([]float64, len(e.keywords))
		lower := strings.ToLower(t)
		for j, kw := range e.keywords {
			v[j] = float64(strings.Count(lower, kw))
		}
		out[i] = vector.Normalize(v)
	}
	return out, nil
}

func (e *keywordEmbedder) Dimensions() int { return len(e.keywords) }

// flakyStore fails the first n calls to Search.
type flakyStore struct {
	inner    vector.Store
	failures int
}

func (s *flakyStore) Store(ctx context.Context, embeddings []vector.Embedding) error {
	return s.inner.Store(ctx, embeddings)
}

func (s *flakyStore) Delete(ctx context.Context, ids []string) error {
	return s.inner.Delete(ctx, ids)
}

func (s *flakyStore) Count(ctx context.Context) (int, error) {
	return s.inner.Count(ctx)
}

func (s *flakyStore) Search(ctx context.Context, q []float64, limit int) ([]vector.Embedding, error) {
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("backend unavailable")
	}
	return s.inner.Search(ctx, q, limit)
}

func testDocs() []document.Document {
	return []document.Document{
		{ID: "brakes", Content: "Brake pads typically need replacement every 40,000 to 70,000 km. Worn brake condition is a critical safety concern."},
		{ID: "battery", Content: "Battery life averages 3-5 years. Weak battery status strongly indicates maintenance need."},
		{ID: "tires", Content: "Tire pressure should be checked monthly to avoid uneven tire wear."},
	}
}

func TestQueryReturnsMostRelevantDocument(t *testing.T) {
	ctx := context.Background()
	r := New(newKeywordEmbedder(), inmemory.New(), Config{TopK: 5})

	if _, err := r.Index(ctx, testDocs()); err != nil {
		t.Fatalf("index: %v", err)
	}

	results, err := r.Query(ctx, "worn brake pads grinding", 3)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}
	if results[0].Chunk.DocumentID != "brakes" {
		t.Errorf("expected brakes first, got %s", results[0].Chunk.DocumentID)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not ordered by score at %d", i)
		}
	}
}

func TestQueryRejectsNonPositiveTopK(t *testing.T) {
	r := New(newKeywordEmbedder(), inmemory.New(), Config{})
	_, err := r.Query(context.Background(), "brake", 0)
	if !errors.Is(err, ferrors.ErrMalformedInput) {
		t.Errorf("expected ErrMalformedInput, got %v", err)
	}
}

func TestQueryAppliesRelevanceFloor(t *testing.T) {
	ctx := context.Background()
	r := New(newKeywordEmbedder(), inmemory.New(), Config{TopK: 5, RelevanceFloor: 0.5})

	if _, err := r.Index(ctx, testDocs()); err != nil {
		t.Fatalf("index: %v", err)
	}

	// "coolant" appears in no document, so every similarity is zero.
	results, err := r.Query(ctx, "coolant flush", 5)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results below floor, got %d", len(results))
	}
}

func TestQueryDeduplicatesByDocument(t *testing.T) {
	ctx := context.Background()
	r := New(newKeywordEmbedder(), inmemory.New(), Config{TopK: 10})

	// Multiple paragraphs of the same document chunk separately.
	doc := document.Document{
		ID:      "brakes",
		Content: "Brake pads wear out with use.\n\nBrake fluid and brake discs also require brake inspection.",
	}
	if _, err := r.Index(ctx, []document.Document{doc}); err != nil {
		t.Fatalf("index: %v", err)
	}

	results, err := r.Query(ctx, "brake", 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result after dedup, got %d", len(results))
	}
}

func TestReindexIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := inmemory.New()
	r := New(newKeywordEmbedder(), store, Config{TopK: 5})

	docs := testDocs()
	if _, err := r.Index(ctx, docs); err != nil {
		t.Fatalf("first index: %v", err)
	}
	before, err := r.Query(ctx, "weak battery", 3)
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	if _, err := r.Index(ctx, docs); err != nil {
		t.Fatalf("second index: %v", err)
	}
	after, err := r.Query(ctx, "weak battery", 3)
	if err != nil {
		t.Fatalf("query after reindex: %v", err)
	}

	if len(before) != len(after) {
		t.Fatalf("result count changed after reindex: %d vs %d", len(before), len(after))
	}
	for i := range before {
		if before[i].Chunk.ID != after[i].Chunk.ID {
			t.Errorf("position %d: %s vs %s", i, before[i].Chunk.ID, after[i].Chunk.ID)
		}
	}
}

func TestQueryRetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	inner := inmemory.New()
	store := &flakyStore{inner: inner, failures: 2}
	r := New(newKeywordEmbedder(), store, Config{TopK: 5, Attempts: 3, Backoff: time.Millisecond})

	if _, err := r.Index(ctx, testDocs()); err != nil {
		t.Fatalf("index: %v", err)
	}
	if _, err := r.Query(ctx, "brake", 3); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
}

func TestQueryExhaustsRetries(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{inner: inmemory.New(), failures: 100}
	r := New(newKeywordEmbedder(), store, Config{TopK: 5, Attempts: 3, Backoff: time.Millisecond})

	_, err := r.Query(ctx, "brake", 3)
	if !errors.Is(err, ferrors.ErrRetrievalUnavailable) {
		t.Errorf("expected ErrRetrievalUnavailable, got %v", err)
	}
}

func TestEmptyCorpusReturnsEmptyResult(t *testing.T) {
	r := New(newKeywordEmbedder(), inmemory.New(), Config{TopK: 5})
	results, err := r.Query(context.Background(), "brake", 3)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty result, got %d", len(results))
	}
}

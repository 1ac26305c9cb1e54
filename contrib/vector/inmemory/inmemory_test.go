package inmemory

import (
	"context"
	"testing"

	"github.com/fleetsense/fleetsense/vector"
)

func TestStoreUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()

	batch := []vector.Embedding{
		{ID: "doc-1#0", DocumentID: "doc-1", Ordinal: 0, Vector: []float64{1, 0}, Text: "brake pads"},
		{ID: "doc-1#1", DocumentID: "doc-1", Ordinal: 1, Vector: []float64{0, 1}, Text: "battery health"},
	}
	if err := s.Store(ctx, batch); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := s.Store(ctx, batch); err != nil {
		t.Fatalf("second store: %v", err)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 embeddings after re-store, got %d", n)
	}
}

func TestSearchOrdersBySimilarity(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := s.Store(ctx, []vector.Embedding{
		{ID: "a#0", DocumentID: "a", Ordinal: 0, Vector: []float64{1, 0, 0}},
		{ID: "b#0", DocumentID: "b", Ordinal: 0, Vector: []float64{0.9, 0.1, 0}},
		{ID: "c#0", DocumentID: "c", Ordinal: 0, Vector: []float64{0, 1, 0}},
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	results, err := s.Search(ctx, []float64{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "a#0" {
		t.Errorf("expected a#0 first, got %s", results[0].ID)
	}
	if results[1].ID != "b#0" {
		t.Errorf("expected b#0 second, got %s", results[1].ID)
	}
}

func TestSearchTieBreaksDeterministically(t *testing.T) {
	ctx := context.Background()
	s := New()

	// Identical vectors, so similarity ties; ordinal then ID decide.
	err := s.Store(ctx, []vector.Embedding{
		{ID: "z#1", DocumentID: "z", Ordinal: 1, Vector: []float64{1, 0}},
		{ID: "z#0", DocumentID: "z", Ordinal: 0, Vector: []float64{1, 0}},
		{ID: "a#1", DocumentID: "a", Ordinal: 1, Vector: []float64{1, 0}},
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	results, err := s.Search(ctx, []float64{1, 0}, 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	want := []string{"z#0", "a#1", "z#1"}
	for i, id := range want {
		if results[i].ID != id {
			t.Errorf("position %d: want %s, got %s", i, id, results[i].ID)
		}
	}
}

func TestDeleteIgnoresUnknownIDs(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.Store(ctx, []vector.Embedding{{ID: "x#0", Vector: []float64{1}}}); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := s.Delete(ctx, []string{"x#0", "missing"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	n, _ := s.Count(ctx)
	if n != 0 {
		t.Errorf("expected empty store, got %d", n)
	}
}

func TestSearchCopiesResults(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.Store(ctx, []vector.Embedding{{ID: "x#0", Vector: []float64{1, 0}, Text: "orig"}}); err != nil {
		t.Fatalf("store: %v", err)
	}
	results, err := s.Search(ctx, []float64{1, 0}, 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	results[0].Vector[0] = 99

	again, _ := s.Search(ctx, []float64{1, 0}, 1)
	if again[0].Vector[0] != 1 {
		t.Error("mutating a search result leaked into the store")
	}
}

package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"

	"github.com/fleetsense/fleetsense/vector"
)

// Store persists embeddings in PostgreSQL using the pgvector extension.
// Nearest-neighbour search is delegated to the database via the cosine
// distance operator.
type Store struct {
	db         *sql.DB
	table      string
	dimensions int
}

// Option configures the store.
type Option func(*Store)

// WithTable overrides the default table name.
func WithTable(name string) Option {
	return func(s *Store) { s.table = name }
}

// New connects to PostgreSQL and ensures the embeddings table exists.
// dimensions must match the embedder in use.
func New(ctx context.Context, dsn string, dimensions int, opts ...Option) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgvector: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgvector: ping: %w", err)
	}

	s := &Store{db: db, table: "fleetsense_embeddings", dimensions: dimensions}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.ensureTable(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureTable(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL
		)`, s.table, s.dimensions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_document_idx ON %s (document_id)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("pgvector: ensure table: %w", err)
		}
	}
	return nil
}

func (s *Store) Store(ctx context.Context, embeddings []vector.Embedding) error {
	if len(embeddings) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pgvector: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, document_id, ordinal, content, embedding)
		 VALUES ($1, $2, $3, $4, $5::vector)
		 ON CONFLICT (id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			ordinal = EXCLUDED.ordinal,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding`, s.table))
	if err != nil {
		return fmt.Errorf("pgvector: prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range embeddings {
		if _, err := stmt.ExecContext(ctx, e.ID, e.DocumentID, e.Ordinal, e.Text, vectorToString(e.Vector)); err != nil {
			return fmt.Errorf("pgvector: upsert %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) Search(ctx context.Context, query []float64, limit int) ([]vector.Embedding, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, document_id, ordinal, content, embedding::text
		 FROM %s
		 ORDER BY embedding <=> $1::vector, ordinal, id
		 LIMIT $2`, s.table), vectorToString(query), limit)
	if err != nil {
		return nil, fmt.Errorf("pgvector: search: %w", err)
	}
	defer rows.Close()

	var out []vector.Embedding
	for rows.Next() {
		var e vector.Embedding
		var raw string
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.Ordinal, &e.Text, &raw); err != nil {
			return nil, fmt.Errorf("pgvector: scan: %w", err)
		}
		e.Vector, err = stringToVector(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "$" + strconv.Itoa(i+1)
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE id IN (%s)`, s.table, strings.Join(placeholders, ", ")), args...)
	if err != nil {
		return fmt.Errorf("pgvector: delete: %w", err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("pgvector: count: %w", err)
	}
	return n, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func vectorToString(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(x, 'f', -1, 64)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func stringToVector(raw string) ([]float64, error) {
	raw = strings.Trim(strings.TrimSpace(raw), "[]")
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("pgvector: parse vector element %q: %w", p, err)
		}
		out[i] = v
	}
	return out, nil
}

var _ vector.Store = (*Store)(nil)

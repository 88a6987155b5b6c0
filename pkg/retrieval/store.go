package retrieval

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Document is a stored, embedded text chunk.
type Document struct {
	ID        string
	Source    string
	Content   string
	Embedding []float64
}

// Match is a scored search result. Score is cosine similarity in [0, 1].
type Match struct {
	Content string
	Source  string
	Score   float64
}

// Store persists embedded document chunks in Postgres with pgvector.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database and verifies the connection.
func NewStore(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect document store: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping document store: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Upsert inserts or replaces document chunks in one batch.
func (s *Store) Upsert(ctx context.Context, docs []Document) error {
	batch := &pgx.Batch{}
	for _, doc := range docs {
		batch.Queue(
			`INSERT INTO documents (id, source, content, embedding)
			 VALUES ($1, $2, $3, $4::vector)
			 ON CONFLICT (id) DO UPDATE
			 SET source = EXCLUDED.source,
			     content = EXCLUDED.content,
			     embedding = EXCLUDED.embedding`,
			doc.ID, doc.Source, doc.Content, vectorLiteral(doc.Embedding),
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range docs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert document: %w", err)
		}
	}
	return nil
}

// Search returns the topK nearest chunks by cosine distance.
func (s *Store) Search(ctx context.Context, embedding []float64, topK int) ([]Match, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT content, source, 1 - (embedding <=> $1::vector) AS score
		 FROM documents
		 ORDER BY embedding <=> $1::vector
		 LIMIT $2`,
		vectorLiteral(embedding), topK,
	)
	if err != nil {
		return nil, fmt.Errorf("query document store: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.Content, &m.Source, &m.Score); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// Count returns the number of stored chunks.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM documents`).Scan(&n)
	return n, err
}

// vectorLiteral renders an embedding as a pgvector input literal.
func vectorLiteral(v []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
	}
	b.WriteByte(']')
	return b.String()
}

// Package retrieval implements the document-retrieval service: embedding-
// based search over a Postgres/pgvector document store. It is best-effort by
// contract; callers treat failures as non-fatal and an empty result as
// "no context".
package retrieval

import "context"

// Searcher returns ranked passage context for a query, or "" when nothing
// relevant is found. Implementations are stateless and safe for concurrent
// use from multiple relays.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// Noop is the searcher used when retrieval is not configured.
type Noop struct{}

func (Noop) Search(context.Context, string) (string, error) {
	return "", nil
}

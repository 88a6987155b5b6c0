package retrieval

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// SearchConfig tunes the vector searcher.
type SearchConfig struct {
	TopK            int     // candidate chunks fetched from the store
	MinScore        float64 // cosine-similarity floor for a chunk to count
	MaxContextChars int     // budget for the joined context
}

// DefaultSearchConfig returns the default search tuning.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		TopK:            10,
		MinScore:        0.20,
		MaxContextChars: 5000,
	}
}

// VectorSearcher embeds the query and ranks stored chunks by cosine
// similarity.
type VectorSearcher struct {
	embedder *Embedder
	store    *Store
	cfg      SearchConfig
}

// NewVectorSearcher creates a searcher over the given store.
func NewVectorSearcher(embedder *Embedder, store *Store, cfg SearchConfig) *VectorSearcher {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultSearchConfig().TopK
	}
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = DefaultSearchConfig().MaxContextChars
	}
	return &VectorSearcher{embedder: embedder, store: store, cfg: cfg}
}

// Search returns the joined context of the best-matching chunks, truncated
// to the context budget. Returns "" when no chunk clears the score floor.
func (s *VectorSearcher) Search(ctx context.Context, query string) (string, error) {
	embeddings, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return "", fmt.Errorf("embed query: %w", err)
	}

	matches, err := s.store.Search(ctx, embeddings[0], s.cfg.TopK)
	if err != nil {
		return "", err
	}

	var contexts []string
	for _, m := range matches {
		if m.Score < s.cfg.MinScore {
			continue
		}
		contexts = append(contexts, m.Content)
	}
	if len(contexts) == 0 {
		log.Printf("[retrieval] no match above score floor for query (%d candidates)", len(matches))
		return "", nil
	}

	return TruncateContext(strings.Join(contexts, "\n\n"), s.cfg.MaxContextChars), nil
}

// TruncateContext cuts the context to at most max characters, preferring a
// sentence or line boundary in the final stretch of the budget.
func TruncateContext(context string, max int) string {
	if len(context) <= max {
		return context
	}

	lastPeriod := strings.LastIndex(context[:max], ".")
	lastNewline := strings.LastIndex(context[:max], "\n")
	cut := lastPeriod
	if lastNewline > cut {
		cut = lastNewline
	}

	// Only use the natural boundary if it does not sacrifice too much.
	if cut > max*7/10 {
		return context[:cut+1]
	}
	return context[:max] + "..."
}

package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/campusvoice/campusvoice/pkg/retrieval"
)

// embedBatchSize bounds the number of chunks embedded per API call.
const embedBatchSize = 64

// Ingestor chunks, embeds and stores source documents.
type Ingestor struct {
	embedder  *retrieval.Embedder
	store     *retrieval.Store
	chunkSize int
}

// NewIngestor creates an ingestor. chunkSize <= 0 selects the default.
func NewIngestor(embedder *retrieval.Embedder, store *retrieval.Store, chunkSize int) *Ingestor {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Ingestor{embedder: embedder, store: store, chunkSize: chunkSize}
}

// IngestDir walks dir and ingests every .txt and .md file. It returns the
// number of chunks stored.
func (in *Ingestor) IngestDir(ctx context.Context, dir string) (int, error) {
	total := 0

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".txt", ".md":
		default:
			return nil
		}

		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = path
		}

		n, err := in.IngestFile(ctx, path, rel)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", rel, err)
		}
		total += n
		return nil
	})

	return total, err
}

// IngestFile ingests a single document under the given source label. Chunk
// IDs are derived from the source and chunk index, so re-ingesting a file
// replaces its previous chunks.
func (in *Ingestor) IngestFile(ctx context.Context, path, source string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	chunks := ChunkText(string(data), in.chunkSize)
	if len(chunks) == 0 {
		log.Printf("[ingest] %s: no content, skipped", source)
		return 0, nil
	}

	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		embeddings, err := in.embedder.Embed(ctx, batch)
		if err != nil {
			return 0, err
		}

		docs := make([]retrieval.Document, len(batch))
		for i, chunk := range batch {
			docs[i] = retrieval.Document{
				ID:        fmt.Sprintf("%s#%04d", source, start+i),
				Source:    source,
				Content:   chunk,
				Embedding: embeddings[i],
			}
		}
		if err := in.store.Upsert(ctx, docs); err != nil {
			return 0, err
		}
	}

	log.Printf("[ingest] %s: %d chunks", source, len(chunks))
	return len(chunks), nil
}

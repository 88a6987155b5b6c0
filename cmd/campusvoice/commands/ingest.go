package commands

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/campusvoice/campusvoice/pkg/config"
	"github.com/campusvoice/campusvoice/pkg/ingest"
	"github.com/campusvoice/campusvoice/pkg/retrieval"
)

var ingestChunkSize int

var ingestCmd = &cobra.Command{
	Use:   "ingest <dir>",
	Short: "Index documents into the knowledge base",
	Long: `Index documents into the knowledge base.

Walks the given directory, chunks every .txt and .md file, embeds the
chunks and upserts them into the document store. Re-running on the same
directory updates existing chunks in place.

Requires OPENAI_API_KEY and DATABASE_URL.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		apiKey := os.Getenv("OPENAI_API_KEY")
		databaseURL := os.Getenv("DATABASE_URL")
		if apiKey == "" || databaseURL == "" {
			return fmt.Errorf("OPENAI_API_KEY and DATABASE_URL are required")
		}

		if err := retrieval.Migrate(databaseURL); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}

		ctx := context.Background()
		store, err := retrieval.NewStore(ctx, databaseURL)
		if err != nil {
			return err
		}
		defer store.Close()

		embedder := retrieval.NewEmbedder(apiKey, config.GetEnv("EMBEDDING_MODEL", "text-embedding-3-small"))
		ingestor := ingest.NewIngestor(embedder, store, ingestChunkSize)

		n, err := ingestor.IngestDir(ctx, args[0])
		if err != nil {
			return err
		}

		total, err := store.Count(ctx)
		if err != nil {
			return err
		}
		log.Printf("[ingest] indexed %d chunks (%d total in store)", n, total)
		return nil
	},
}

func init() {
	ingestCmd.Flags().IntVar(&ingestChunkSize, "chunk-size", ingest.DefaultChunkSize, "target chunk size in characters")
}

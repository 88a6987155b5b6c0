package commands

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/campusvoice/campusvoice/pkg/agent"
	"github.com/campusvoice/campusvoice/pkg/config"
	"github.com/campusvoice/campusvoice/pkg/relay"
	"github.com/campusvoice/campusvoice/pkg/retrieval"
	"github.com/campusvoice/campusvoice/pkg/server"
	"github.com/campusvoice/campusvoice/pkg/session"
	"github.com/campusvoice/campusvoice/pkg/trace"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the realtime voice backend",
	Long: `Run the realtime voice backend.

Serves the client WebSocket endpoint and the JSON API. Requires
OPENAI_API_KEY and ASSISTANT_INSTRUCTIONS; set DATABASE_URL to enable
document search.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx := context.Background()

		if err := trace.Initialize(ctx, trace.Config{
			ServiceName:    "campusvoice",
			ServiceVersion: "1.0.0",
			Environment:    cfg.Environment,
			ExporterType:   cfg.TraceExporter,
			OTLPEndpoint:   cfg.OTLPEndpoint,
		}); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := trace.Shutdown(shutdownCtx); err != nil {
				log.Printf("[serve] trace shutdown: %v", err)
			}
		}()

		retriever, cleanup, err := buildRetriever(ctx, cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		manager := session.NewManager(cfg)
		factory := relay.SessionFactoryFunc(func(ctx context.Context, agentCfg agent.Config) (relay.UpstreamSession, error) {
			client, err := manager.CreateSession(ctx, agentCfg)
			if err != nil {
				return nil, err
			}
			return client, nil
		})

		srv := server.New(&server.Config{
			Addr:            cfg.Addr,
			WSPath:          cfg.WSPath,
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			APIKey:          cfg.OpenAIAPIKey,
			RealtimeModel:   cfg.RealtimeModel,
		}, factory, agent.FromConfig(cfg), retriever, relay.DefaultConfig())

		if err := srv.Start(ctx); err != nil {
			return err
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Printf("[serve] received %s, shutting down", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	},
}

// buildRetriever wires the vector searcher when a database is configured and
// falls back to the no-op searcher otherwise.
func buildRetriever(ctx context.Context, cfg *config.Config) (retrieval.Searcher, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Println("[serve] DATABASE_URL not set, document search disabled")
		return retrieval.Noop{}, func() {}, nil
	}

	store, err := retrieval.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	embedder := retrieval.NewEmbedder(cfg.OpenAIAPIKey, cfg.EmbeddingModel)
	searcher := retrieval.NewVectorSearcher(embedder, store, retrieval.DefaultSearchConfig())
	log.Println("[serve] document search enabled")
	return searcher, store.Close, nil
}

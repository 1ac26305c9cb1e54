package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	openaisdk "github.com/openai/openai-go/v3"

	"github.com/fleetsense/fleetsense/agent"
	"github.com/fleetsense/fleetsense/config"
	openaiembedder "github.com/fleetsense/fleetsense/contrib/embedder/openai"
	"github.com/fleetsense/fleetsense/contrib/provider/claude"
	"github.com/fleetsense/fleetsense/contrib/provider/gemini"
	openaiprovider "github.com/fleetsense/fleetsense/contrib/provider/openai"
	openaisummarizer "github.com/fleetsense/fleetsense/contrib/summarizer/openai"
	"github.com/fleetsense/fleetsense/contrib/tokenizer/tiktoken"
	"github.com/fleetsense/fleetsense/contrib/vector/inmemory"
	"github.com/fleetsense/fleetsense/contrib/vector/pg"
	"github.com/fleetsense/fleetsense/memory"
	"github.com/fleetsense/fleetsense/pkg/logging"
	"github.com/fleetsense/fleetsense/pkg/telemetry"
	"github.com/fleetsense/fleetsense/rag/corpus"
	"github.com/fleetsense/fleetsense/rag/retriever"
	"github.com/fleetsense/fleetsense/report"
	"github.com/fleetsense/fleetsense/risk"
	"github.com/fleetsense/fleetsense/server"
	"github.com/fleetsense/fleetsense/service"
	"github.com/fleetsense/fleetsense/session"
	"github.com/fleetsense/fleetsense/session/store"
	"github.com/fleetsense/fleetsense/vector"
)

const version = "0.1.0"

const embeddingDimensions = 1536

func main() {
	if err := godotenv.Load(); err != nil {
		logging.Logger().Debug("no .env file found, using environment variables")
	}
	logger := logging.WithComponent("main")

	ctx := context.Background()
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "fleetsense",
		ServiceVersion: version,
		Environment:    os.Getenv("FLEETSENSE_ENV"),
		Disable:        os.Getenv("FLEETSENSE_TELEMETRY_DISABLE") == "true",
	})
	if err != nil {
		logger.Error("telemetry init failed", "error", err)
		os.Exit(1)
	}
	defer shutdown(ctx)

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	llm, err := buildProvider(ctx)
	if err != nil {
		logger.Error("provider init failed", "error", err)
		os.Exit(1)
	}

	vectorStore, err := buildVectorStore(ctx)
	if err != nil {
		logger.Error("vector store init failed", "error", err)
		os.Exit(1)
	}

	embedder := openaiembedder.New(
		os.Getenv("OPENAI_API_KEY"),
		os.Getenv("OPENAI_API_BASE_URL"),
		openaisdk.EmbeddingModelTextEmbedding3Small,
		embeddingDimensions,
	)

	ret := retriever.New(embedder, vectorStore, retriever.Config{
		TopK:           cfg.TopK,
		RelevanceFloor: cfg.RelevanceFloor,
		Attempts:       cfg.RetrievalAttempts,
		Backoff:        cfg.RetrievalBackoff,
	})

	if err := bootstrapCorpus(ctx, ret); err != nil {
		logger.Error("corpus bootstrap failed", "error", err)
		os.Exit(1)
	}

	validator, err := report.NewValidator()
	if err != nil {
		logger.Error("validator init failed", "error", err)
		os.Exit(1)
	}

	engineOpts := []agent.Option{}
	if tok, err := tiktoken.New("gpt-4o"); err == nil {
		engineOpts = append(engineOpts, agent.WithTokenizer(tok))
	} else {
		logger.Warn("tiktoken unavailable, falling back to heuristic token counting", "error", err)
	}
	engine := agent.New(llm, ret, validator, cfg, engineOpts...)

	sessionStore, err := buildSessionStore()
	if err != nil {
		logger.Error("session store init failed", "error", err)
		os.Exit(1)
	}

	var summarizer memory.Summarizer
	if os.Getenv("FLEETSENSE_SUMMARIZER") != "off" {
		summarizer = openaisummarizer.New(llm)
	}
	sessions := session.NewManager(sessionStore,
		session.WithSummarizer(summarizer),
		session.WithRetentionWindow(cfg.RetentionWindow),
		session.WithIdleTimeout(cfg.IdleTimeout),
	)
	sessions.StartReaper(ctx, cfg.ReapInterval)

	svc := service.New(risk.NewAdapter(cfg.WeightTolerance), sessions, engine)

	if strings.EqualFold(os.Getenv("FLEETSENSE_MODE"), "mcp") {
		logger.Info("serving MCP tools over stdio")
		if err := server.RunMCP(ctx, svc, version); err != nil {
			logger.Error("mcp server error", "error", err)
			os.Exit(1)
		}
		return
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	logger.Info("starting http server", "port", port)
	if err := server.NewRouter(svc).Run(":" + port); err != nil {
		logger.Error("http server error", "error", err)
		os.Exit(1)
	}
}

// buildProvider selects the generation backend from FLEETSENSE_PROVIDER
// (openai, claude, gemini), defaulting to openai.
func buildProvider(ctx context.Context) (agent.LLMClient, error) {
	switch strings.ToLower(os.Getenv("FLEETSENSE_PROVIDER")) {
	case "claude":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for the claude provider")
		}
		return claude.New(claude.DefaultConfig(apiKey)), nil
	case "gemini":
		apiKey := os.Getenv("GEMINI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for the gemini provider")
		}
		return gemini.New(ctx, gemini.DefaultConfig(apiKey))
	default:
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
		cfg := openaiprovider.DefaultConfig(apiKey).WithBaseURL(os.Getenv("OPENAI_API_BASE_URL"))
		if model := os.Getenv("FLEETSENSE_MODEL"); model != "" {
			cfg = cfg.WithModel(model)
		}
		return openaiprovider.New(cfg), nil
	}
}

// buildVectorStore uses pgvector when FLEETSENSE_PG_DSN is set,
// otherwise the in-process store.
func buildVectorStore(ctx context.Context) (vector.Store, error) {
	if dsn := os.Getenv("FLEETSENSE_PG_DSN"); dsn != "" {
		return pg.New(ctx, dsn, embeddingDimensions)
	}
	return inmemory.New(), nil
}

// buildSessionStore prefers Redis, then MongoDB, then in-process.
func buildSessionStore() (session.Store, error) {
	if addr := os.Getenv("FLEETSENSE_REDIS_ADDR"); addr != "" {
		return store.NewRedisStore(&store.RedisConfig{
			Addr:     addr,
			Password: os.Getenv("FLEETSENSE_REDIS_PASSWORD"),
		}), nil
	}
	if uri := os.Getenv("FLEETSENSE_MONGO_URI"); uri != "" {
		cfg := store.DefaultMongoConfig()
		cfg.URI = uri
		return store.NewMongoStore(cfg)
	}
	return store.NewInMemoryStore(), nil
}

// bootstrapCorpus indexes the builtin knowledge plus any files listed
// in FLEETSENSE_CORPUS (comma-separated .jsonl, .csv, or .html paths).
func bootstrapCorpus(ctx context.Context, ret *retriever.Retriever) error {
	docs := corpus.Builtin()
	if paths := os.Getenv("FLEETSENSE_CORPUS"); paths != "" {
		for _, path := range strings.Split(paths, ",") {
			path = strings.TrimSpace(path)
			if path == "" {
				continue
			}
			loaded, err := corpus.LoadFile(path)
			if err != nil {
				return fmt.Errorf("load corpus file %s: %w", path, err)
			}
			docs = append(docs, loaded...)
		}
	}

	chunks, err := ret.Index(ctx, docs)
	if err != nil {
		return err
	}
	logging.WithComponent("main").Info("corpus indexed", "documents", len(docs), "chunks", chunks)
	return nil
}

package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/mnemo-agent/mnemo/internal/config"
	"github.com/mnemo-agent/mnemo/internal/core"
	"github.com/mnemo-agent/mnemo/internal/providers/embed"
	"github.com/mnemo-agent/mnemo/internal/providers/llm"
	"github.com/mnemo-agent/mnemo/internal/service/agent"
	"github.com/mnemo-agent/mnemo/internal/service/conversation"
	"github.com/mnemo-agent/mnemo/internal/service/memory"
	agenttools "github.com/mnemo-agent/mnemo/internal/service/tools"
	"github.com/mnemo-agent/mnemo/internal/service/window"
	"github.com/mnemo-agent/mnemo/internal/service/worker"
	"github.com/mnemo-agent/mnemo/internal/storage/sqlite"
	"github.com/mnemo-agent/mnemo/internal/vector/chromemdb"
	"github.com/mnemo-agent/mnemo/internal/vector/pgvec"
	"github.com/mnemo-agent/mnemo/pkg/log"
	"github.com/mnemo-agent/mnemo/pkg/srv"
)

// maxBackgroundTasks caps concurrently running maintenance tasks (memory
// formation, consolidation) across all users.
const maxBackgroundTasks = 4

// deps is everything the subcommands need, wired once.
type deps struct {
	appCfg   *config.AppConfig
	agent    *agent.Agent
	tools    core.ToolExecutor
	tracker  *conversation.Tracker
	pool     *worker.Pool
	cleanups []srv.Service
}

func buildDeps(ctx context.Context) *deps {
	logger := log.FromCtx(ctx)

	if err := initEnv(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to init env")
	}

	// Configuration
	appCfg := config.NewAppConfig(ctx)
	ctxCfg := config.NewContextConfig(ctx)
	memCfg := config.NewMemoryConfig(ctx)
	vecCfg := config.NewVectorConfig(ctx)
	llmCfg := config.NewLLMConfig(ctx)

	var cleanups []srv.Service

	// Relational storage
	db, err := sqlite.NewDB(ctx, appCfg.GetDatabasePath())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage")
	}
	cleanups = append(cleanups, srv.NewCleanup(db.Close))

	messagesRepo := sqlite.NewMessagesRepo(db)
	entitiesRepo := sqlite.NewEntitiesRepo(db)
	trackerRepo := sqlite.NewTrackerRepo(db)

	// Vector backend
	var vectors core.VectorStore
	switch vecCfg.Backend {
	case config.VectorBackendPostgres:
		store, err := pgvec.New(ctx, vecCfg.PostgresURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize pgvector store")
		}
		cleanups = append(cleanups, srv.NewCleanup(func() error {
			store.Close()
			return nil
		}))
		vectors = store
	case config.VectorBackendChromem:
		path := vecCfg.ChromemPath
		if path == "" {
			path = filepath.Join(appCfg.RuntimePath, "chromem")
		}
		store, err := chromemdb.NewPersistent(path)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize chromem store")
		}
		vectors = store
	default:
		vectors = sqlite.NewVecStore(db)
	}
	logger.Info().Str("backend", vecCfg.Backend).Msg("vector store ready")

	// Providers
	chat := llm.NewClient(llmCfg)
	embedder := embed.NewClient(llmCfg)

	// Memory repository
	cache, err := memory.NewEmbedCache()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize embedding cache")
	}
	repo := memory.NewRepository(memCfg, entitiesRepo, vectors, messagesRepo, embedder, chat, cache)

	// Context window
	counter, err := window.NewTokenCounter(llmCfg.TokenizerModel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize tokenizer")
	}
	win := window.New(ctxCfg, messagesRepo, trackerRepo, chat, repo, counter, loadPersona(ctx, appCfg))

	// Agent
	pool := worker.NewPool(maxBackgroundTasks)
	registry := agenttools.NewRegistry(repo)
	ag := agent.New(win, repo, chat, registry, pool)

	return &deps{
		appCfg:   appCfg,
		agent:    ag,
		tools:    registry,
		tracker:  conversation.NewTracker(messagesRepo),
		pool:     pool,
		cleanups: cleanups,
	}
}

func loadPersona(ctx context.Context, cfg *config.AppConfig) string {
	data, err := os.ReadFile(cfg.GetPersonaPath())
	if err != nil {
		if !os.IsNotExist(err) {
			log.FromCtx(ctx).Warn().Err(err).Msg("failed to read persona file")
		}
		return ""
	}
	return string(data)
}

func initEnv(ctx context.Context) error {
	logger := log.FromCtx(ctx)
	envFile := filepath.Join(os.Getenv("MNEMO_RUNTIME_PATH"), ".env")
	if os.Getenv("MNEMO_RUNTIME_PATH") == "" {
		envFile = filepath.Join(".mnemo", ".env")
	}

	if _, err := os.Stat(envFile); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if err := godotenv.Load(envFile); err != nil {
		logger.Warn().Err(err).Str("path", envFile).Msg("failed to load .env file")
		return err
	}

	logger.Debug().Str("path", envFile).Msg("loaded .env file")
	return nil
}

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Harshitk-cp/mnemo/internal/api/handlers"
	mw "github.com/Harshitk-cp/mnemo/internal/api/middleware"
	"github.com/Harshitk-cp/mnemo/internal/authdata"
	"github.com/Harshitk-cp/mnemo/internal/config"
	"github.com/Harshitk-cp/mnemo/internal/domain"
	"github.com/Harshitk-cp/mnemo/internal/embedding"
	"github.com/Harshitk-cp/mnemo/internal/llm"
	"github.com/Harshitk-cp/mnemo/internal/service"
	"github.com/Harshitk-cp/mnemo/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// App holds the router and background services for lifecycle management.
type App struct {
	Router *chi.Mux
	Miner  *service.MinerWorker
}

func NewApp(db *pgxpool.Pool, logger *zap.Logger) (*App, error) {
	// Stores
	aliasStore := store.NewAliasStore(db)
	entityStore := store.NewEntityStore(db)
	memoryStore := store.NewMemoryStore(db)
	patternStore := store.NewPatternStore(db)
	usageLogStore := store.NewUsageLogStore(db)

	// Business data lives in the same database but is read-only to this
	// service.
	authData := authdata.NewClient(db)

	// External clients via provider factory
	var embeddingClient domain.EmbeddingClient
	var llmClient domain.LLMClient

	llmProvider := config.LLMProvider()
	embeddingProvider := config.EmbeddingProvider()

	var err error
	llmClient, err = llm.NewClient(llmProvider, config.LLMAPIKey())
	if err != nil {
		logger.Warn("LLM client initialization failed", zap.String("provider", llmProvider), zap.Error(err))
	} else {
		logger.Info("LLM client initialized", zap.String("provider", llmProvider))
	}

	embeddingClient, err = embedding.NewClient(embeddingProvider, config.EmbeddingAPIKey(), config.EmbeddingModel())
	if err != nil {
		logger.Warn("Embedding client initialization failed", zap.String("provider", embeddingProvider), zap.Error(err))
	} else {
		logger.Info("Embedding client initialized", zap.String("provider", embeddingProvider))
	}

	// Services
	resolverSvc := service.NewResolverService(aliasStore, entityStore, authData, llmClient, logger)
	resolverSvc.FuzzyThreshold = config.FuzzyThreshold()

	lifecycleSvc := service.NewMemoryLifecycleService(memoryStore, embeddingClient, logger)

	weights := service.ScoreWeights{
		Semantic:      config.ScoreWeightSemantic(),
		EntityOverlap: config.ScoreWeightEntityOverlap(),
		Temporal:      config.ScoreWeightTemporal(),
		Importance:    config.ScoreWeightImportance(),
		Reinforcement: config.ScoreWeightReinforcement(),
	}
	scorer, err := service.NewRetrievalScorer(weights)
	if err != nil {
		return nil, err
	}

	minerSvc := service.NewPatternMinerService(usageLogStore, patternStore, embeddingClient, logger)

	querySvc, err := service.NewQueryService(
		resolverSvc, lifecycleSvc, scorer, minerSvc,
		authData, llmClient, embeddingClient, usageLogStore, logger,
	)
	if err != nil {
		return nil, err
	}

	minerWorker := service.NewMinerWorker(minerSvc, usageLogStore, logger)

	// Handlers
	queryHandler := handlers.NewQueryHandler(querySvc)
	memoryHandler := handlers.NewMemoryHandler(lifecycleSvc, scorer, memoryStore, embeddingClient)
	entityHandler := handlers.NewEntityHandler(resolverSvc)
	patternHandler := handlers.NewPatternHandler(minerSvc, embeddingClient)

	r := chi.NewRouter()

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst()))
	r.Use(middleware.Timeout(60 * time.Second))

	// Health (no auth)
	r.Get("/health", healthHandler(db))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/query", queryHandler.Answer)

		r.Route("/entities", func(r chi.Router) {
			r.Post("/resolve", entityHandler.Resolve)
		})

		r.Route("/memories", func(r chi.Router) {
			r.Post("/", memoryHandler.Remember)
			r.Post("/recall", memoryHandler.Recall)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", memoryHandler.GetByID)
				r.Post("/reinforce", memoryHandler.Reinforce)
				r.Post("/invalidate", memoryHandler.Invalidate)
			})
		})

		r.Route("/patterns", func(r chi.Router) {
			r.Post("/mine", patternHandler.Mine)
			r.Post("/match", patternHandler.Match)
		})
	})

	return &App{Router: r, Miner: minerWorker}, nil
}

func healthHandler(db *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

// Ensure stores and clients satisfy interfaces at compile time.
var (
	_ domain.AliasStore        = (*store.AliasStore)(nil)
	_ domain.EntityStore       = (*store.EntityStore)(nil)
	_ domain.MemoryStore       = (*store.MemoryStore)(nil)
	_ domain.PatternStore      = (*store.PatternStore)(nil)
	_ domain.UsageLogStore     = (*store.UsageLogStore)(nil)
	_ domain.AuthoritativeData = (*authdata.Client)(nil)
	_ domain.EmbeddingClient   = (*embedding.OpenAIClient)(nil)
	_ domain.EmbeddingClient   = (*embedding.MockClient)(nil)
	_ domain.LLMClient         = (*llm.OpenAIClient)(nil)
	_ domain.LLMClient         = (*llm.AnthropicClient)(nil)
	_ domain.LLMClient         = (*llm.MockClient)(nil)
)

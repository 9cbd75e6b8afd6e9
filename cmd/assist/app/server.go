package app

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/kart-io/assist-x/internal/catalog"
	"github.com/kart-io/assist-x/internal/embedclient"
	"github.com/kart-io/assist-x/internal/gateway"
	"github.com/kart-io/assist-x/internal/index"
	"github.com/kart-io/assist-x/internal/intent"
	"github.com/kart-io/assist-x/internal/llmclient"
	"github.com/kart-io/assist-x/internal/metrics"
	"github.com/kart-io/assist-x/internal/orchestrator"
	"github.com/kart-io/assist-x/internal/refine"
	"github.com/kart-io/assist-x/internal/retriever"
	"github.com/kart-io/assist-x/internal/session"
	syncengine "github.com/kart-io/assist-x/internal/sync"
	"github.com/kart-io/assist-x/internal/validate"
	"github.com/kart-io/assist-x/pkg/config"
	"github.com/kart-io/assist-x/pkg/klog"
)

// Deps is every wired component, assembled once at startup (Design
// Notes: "one initialization point").
type Deps struct {
	Config *config.Config

	DB    *gorm.DB
	Redis *redis.Client
	Asynq *asynq.Client

	Embedder embedclient.Client
	LLM      llmclient.Client
	Catalog  *catalog.HTTPClient

	IndexStore index.Store
	Sessions   session.Store
	Metrics    *metrics.Aggregator
	SyncEngine *syncengine.Engine

	Retriever  retriever.Retriever
	Classifier intent.Classifier
	Validator  *validate.Validator
	Refiner    *refine.Agent

	Orchestrator *orchestrator.Orchestrator
	Gateway      *gateway.Gateway
}

// Build assembles every component from cfg.
func Build(cfg *config.Config) (*Deps, error) {
	if err := klog.Init(klog.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.StoreDSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}

	var rdb *redis.Client
	var asynqClient *asynq.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(opt)
		asynqClient = asynq.NewClient(asynq.RedisClientOpt{Addr: opt.Addr, Password: opt.Password, DB: opt.DB})
	}

	embedder := embedclient.New(embedclient.Config{
		BaseURL: cfg.EmbeddingBaseURL, APIKey: cfg.EmbeddingAPIKey, Model: cfg.EmbeddingModel,
	})

	llm := llmclient.New(llmclient.Config{
		BaseURL: cfg.LLMBaseURL, APIKey: cfg.LLMAPIKey,
		Models: map[llmclient.Tier]string{
			llmclient.TierCheap:    cfg.LLMCheap,
			llmclient.TierStandard: cfg.LLMStandard,
			llmclient.TierStrong:   cfg.LLMStrong,
		},
	})

	catalogClient, err := catalog.New(catalog.Config{
		BaseURL: cfg.CatalogBaseURL, APIKey: cfg.CatalogAPIKey, Concurrency: cfg.CatalogConcurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("build catalog client: %w", err)
	}

	indexStore := index.NewPostgresStore(db)
	sessionStore := session.New(db, cfg.IdleThreshold)
	metricsAggregator := metrics.New(db)
	syncEngine := syncengine.New(catalogClient, indexStore, embedder, db, rdb, asynqClient)

	hybridRetriever := retriever.New(indexStore, embedder, retriever.Config{
		K: cfg.RRFK, VectorWeight: cfg.RRFVectorWeight, TextWeight: cfg.RRFTextWeight,
	})
	classifier := intent.NewLLMClassifier(llm, cfg.EscalationPhrases)
	validator := validate.New(validate.Config{RefineThreshold: cfg.RefineThreshold})
	refiner := refine.New(llm)

	orch := orchestrator.New(classifier, hybridRetriever, validator, refiner, sessionStore, llm, nil)

	webhookKey := []byte(cfg.WebhookSecret)
	healthChecks := map[string]gateway.HealthChecker{
		"database": func() bool {
			sqlDB, err := db.DB()
			return err == nil && sqlDB.Ping() == nil
		},
	}
	gw := gateway.New(orch, sessionStore, syncEngine, webhookKey, healthChecks)

	return &Deps{
		Config: cfg, DB: db, Redis: rdb, Asynq: asynqClient,
		Embedder: embedder, LLM: llm, Catalog: catalogClient,
		IndexStore: indexStore, Sessions: sessionStore, Metrics: metricsAggregator, SyncEngine: syncEngine,
		Retriever: hybridRetriever, Classifier: classifier, Validator: validator, Refiner: refiner,
		Orchestrator: orch, Gateway: gw,
	}, nil
}

// AutoMigrate creates every table owned by this service.
func (d *Deps) AutoMigrate(ctx context.Context) error {
	if ps, ok := d.IndexStore.(*index.PostgresStore); ok {
		if err := ps.AutoMigrate(ctx); err != nil {
			return err
		}
	}
	if ss, ok := d.Sessions.(*session.GormStore); ok {
		if err := ss.AutoMigrate(ctx); err != nil {
			return err
		}
	}
	return d.Metrics.AutoMigrate(ctx)
}

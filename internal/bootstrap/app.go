package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/gin-gonic/gin"

	"rca-backend/internal/incident"
	"rca-backend/internal/incidents"
	"rca-backend/internal/llm"
	"rca-backend/internal/queue"
	"rca-backend/internal/retrieval"
	"rca-backend/internal/scenarios"
	"rca-backend/internal/services/health"
	"rca-backend/internal/shared/config"
	"rca-backend/internal/shared/server"
	"rca-backend/internal/shared/storage/object"
	"rca-backend/internal/shared/telemetry"
	"rca-backend/internal/workerproc"
)

// App holds shared dependencies.
type App struct {
	Config           config.Config
	Router           *gin.Engine
	DB               *sql.DB
	Store            object.ObjectStore
	Queue            queue.Client
	LLM              llm.Client
	Runner           *incident.Runner
	Corpora          []*retrieval.Lazy
	IncidentsRepo    incidents.Repo
	IncidentsService *incidents.Service
	IncidentsHandler *incidents.Handler
	Health           *health.Service

	// RunProcessor overrides queued run processing, for tests.
	RunProcessor workerproc.Processor

	shutdownTracing func(context.Context) error
}

// Build prepares shared dependencies and the HTTP router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	ctx := context.Background()
	telemetry.SetLevel(cfg.LogLevel)

	shutdown, err := telemetry.SetupTracing(ctx, telemetry.TracingOptions{
		ServiceName:  "rca-backend",
		Environment:  cfg.Env,
		Exporter:     cfg.TracesExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := BuildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	queueClient, err := buildQueue(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client, err := BuildLLM(cfg)
	if err != nil {
		return nil, err
	}

	runner, corpora, err := BuildRunner(cfg, store, client)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:          cfg,
		DB:              sqlDB,
		Store:           store,
		Queue:           queueClient,
		LLM:             client,
		Runner:          runner,
		Corpora:         corpora,
		shutdownTracing: shutdown,
	}
	buildServices(app)

	app.Router = server.NewRouter(server.RouterDeps{
		Config:    app.Config,
		Health:    app.Health,
		Incidents: app.IncidentsHandler,
	})

	return app, nil
}

func buildServices(app *App) {
	if app.DB != nil {
		app.IncidentsRepo = &incidents.PGRepo{DB: app.DB}
	} else {
		app.IncidentsRepo = incidents.NewMemoryRepo()
	}

	var runner incidents.Runner
	if app.Runner != nil {
		runner = app.Runner
	}
	app.IncidentsService = &incidents.Service{
		Repo:      app.IncidentsRepo,
		Runner:    runner,
		Scenarios: &scenarios.Loader{Store: app.Store},
		Store:     app.Store,
		Queue:     app.Queue,
	}
	app.IncidentsHandler = incidents.NewHandler(app.IncidentsService)

	tracked := make([]health.Corpus, 0, len(app.Corpora))
	for _, c := range app.Corpora {
		tracked = append(tracked, c)
	}
	app.Health = health.NewService(app.DB, tracked...)
}

// Processor returns what the workers use to process queued runs.
func (a *App) Processor() workerproc.Processor {
	if a.RunProcessor != nil {
		return a.RunProcessor
	}
	return a.IncidentsService
}

// Warm loads every lazily built corpus. Failures are logged and retried on first use.
func (a *App) Warm(ctx context.Context) {
	for _, c := range a.Corpora {
		if err := c.Warm(ctx); err != nil {
			telemetry.Warn("corpus.warm_failed", map[string]any{
				"corpus": c.Corpus(),
				"error":  err.Error(),
			})
		}
	}
}

// Close flushes traces and closes the database pool.
func (a *App) Close(ctx context.Context) {
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			log.Printf("bootstrap: tracing shutdown: %v", err)
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			log.Printf("bootstrap: close database: %v", err)
		}
	}
}

func requireDevLike(cfg config.Config, what string, err error) error {
	if cfg.DevLike() {
		log.Printf("bootstrap: %s: %v", what, err)
		return nil
	}
	return fmt.Errorf("%s: %w", what, err)
}

package admin

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	sdk "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
	"github.com/tessellate-ai/querymesh/internal/api/handlers"
	"github.com/tessellate-ai/querymesh/internal/config"
	"github.com/tessellate-ai/querymesh/internal/database"
	"github.com/tessellate-ai/querymesh/internal/domain"
	"github.com/tessellate-ai/querymesh/internal/jobs"
	"github.com/tessellate-ai/querymesh/internal/openai"
	"github.com/tessellate-ai/querymesh/internal/repository"
	"github.com/tessellate-ai/querymesh/internal/server"
	"github.com/tessellate-ai/querymesh/internal/service"
	"github.com/tessellate-ai/querymesh/internal/telemetry"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the querymesh API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if !cfg.HasOpenAI() {
		return fmt.Errorf("QUERYMESH_OPENAI_API_KEY is required: embedding and synthesis have no local fallback")
	}

	if cfg.SentryDSN != "" {
		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			TracesSampleRate: cfg.SentryTracesSampleRate,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	pool, err := database.NewPool(ctx, database.Config{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DatabaseMaxConns,
		MinConns: cfg.DatabaseMinConns,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("connected to database")

	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	partitionRepo := repository.NewPartitionRepository(pool)
	chunkRepo := repository.NewChunkRepository(pool)
	queryRepo := repository.NewQueryRepository(pool)
	citationRepo := repository.NewCitationRepository(pool)
	conversationRepo := repository.NewConversationRepository(pool)
	apiKeyRepo := repository.NewAPIKeyRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	if cfg.InitTenantID != "" {
		if err := bootstrapGlobalPartition(ctx, cfg, partitionRepo); err != nil {
			return fmt.Errorf("failed to bootstrap global partition: %w", err)
		}
	}

	aiClient := openai.NewClientWithConfig(openai.Config{
		APIKey:         cfg.OpenAIAPIKey,
		EmbeddingModel: sdk.EmbeddingModel(cfg.EmbeddingModel),
		SynthesisModel: cfg.SynthesisModel,
	})

	uuidGen := &service.DefaultUUIDGenerator{}

	scope := service.NewScopeResolver(partitionRepo)
	fanout := service.NewFanoutCoordinatorWithConfig(chunkRepo, partitionRepo, service.FanoutConfig{
		Concurrency:       cfg.FanoutConcurrency,
		PartitionTimeout:  cfg.PartitionTimeout,
		PerPartitionLimit: cfg.PerPartitionLimit,
	})
	ranker := service.NewRankerWithLimits(cfg.DefaultResultLimit, 0)
	synthesizer := service.NewSynthesizer(aiClient)

	querySvc := service.NewQueryServiceWithConfig(
		queryRepo, citationRepo, conversationRepo, txRunner,
		scope, fanout, ranker, synthesizer, aiClient,
		service.QueryServiceConfig{
			OverallTimeout:  cfg.QueryTimeout,
			ContextMaxTurns: cfg.ContextMaxTurns,
		},
	)
	conversationSvc := service.NewConversationService(conversationRepo)
	registrySvc := service.NewRegistryService(partitionRepo)
	authSvc := service.NewAuthService(apiKeyRepo, uuidGen)

	healthProcessor := jobs.NewHealthWorker(partitionRepo, chunkRepo)
	healthWorker := jobs.NewWorker(healthProcessor, cfg.HealthCheckInterval)
	go healthWorker.Start(ctx)
	log.Println("partition health worker started")

	routerCfg := server.RouterConfig{
		AuthValidator:       authSvc,
		QueryHandler:        handlers.NewQueryHandler(querySvc),
		ConversationHandler: handlers.NewConversationHandler(conversationSvc),
		PartitionHandler:    handlers.NewPartitionHandler(registrySvc),
	}

	router := server.NewRouter(routerCfg)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	healthWorker.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

// bootstrapGlobalPartition ensures the tenant-wide knowledge base partition
// exists so global-scope queries work out of the box.
func bootstrapGlobalPartition(ctx context.Context, cfg *config.Config, partitionRepo *repository.PartitionRepository) error {
	key := domain.PartitionKey{Kind: domain.PartitionKindGlobal, OwnerID: cfg.InitTenantID}

	existing, err := partitionRepo.GetByKey(ctx, key)
	if err != nil && err != domain.ErrPartitionNotFound {
		return fmt.Errorf("failed to check existing partition: %w", err)
	}
	if existing != nil {
		log.Printf("bootstrap: global partition for tenant %s already exists", cfg.InitTenantID)
		return nil
	}

	registrySvc := service.NewRegistryService(partitionRepo)

	name := cfg.InitTenantName
	if name == "" {
		name = key.String()
	}

	partition, err := registrySvc.CreatePartition(ctx, service.CreatePartitionInput{
		Kind:           domain.PartitionKindGlobal,
		OwnerID:        cfg.InitTenantID,
		TenantID:       cfg.InitTenantID,
		Name:           name,
		EmbeddingModel: cfg.EmbeddingModel,
	})
	if err != nil {
		return fmt.Errorf("failed to create global partition: %w", err)
	}

	log.Printf("bootstrap: created global partition %s (index: %s)", partition.Key, partition.IndexName)
	return nil
}

func runMigrations(databaseURL string) error {
	// golang-migrate needs a database/sql handle, not the pgx pool
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else if err == migrate.ErrNoChange {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}

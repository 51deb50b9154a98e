package main

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/evalforge/evalforge/api/internal/config"
	"github.com/evalforge/evalforge/api/internal/handler"
	"github.com/evalforge/evalforge/api/internal/pkg/database"
	pgrepo "github.com/evalforge/evalforge/api/internal/repository/postgres"
	"github.com/evalforge/evalforge/api/internal/service"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	Logger *zap.Logger

	// Database connections
	Postgres *database.PostgresDB
	Redis    *database.RedisDB
	Minio    *minio.Client

	// Repositories
	DatasetRepo    *pgrepo.DatasetRepository
	ExperimentRepo *pgrepo.ExperimentRepository
	RevisionLog    *pgrepo.RevisionLog

	// Services
	DatasetService    *service.DatasetService
	ExperimentService *service.ExperimentService

	// Handlers
	HealthHandler      *handler.HealthHandler
	DatasetsHandler    *handler.DatasetsHandler
	ExperimentsHandler *handler.ExperimentsHandler

	// Asynq client
	AsynqClient *asynq.Client
}

// initDependencies initializes all dependencies
func initDependencies(cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	ctx := context.Background()

	// Initialize PostgreSQL
	pgDB, err := database.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	deps.Postgres = pgDB

	// Initialize Redis
	redisDB, err := database.NewRedis(ctx, cfg.Redis)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}
	deps.Redis = redisDB

	// Initialize MinIO (optional, exports are unavailable without it)
	minioClient, err := initMinio(cfg)
	if err != nil {
		logger.Warn("failed to initialize MinIO, exports will be unavailable", zap.Error(err))
	}
	deps.Minio = minioClient

	// Initialize Asynq client
	deps.AsynqClient = asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Initialize repositories
	deps.DatasetRepo = pgrepo.NewDatasetRepository(pgDB)
	deps.ExperimentRepo = pgrepo.NewExperimentRepository(pgDB)
	deps.RevisionLog = pgrepo.NewRevisionLog(pgDB)

	// Initialize services
	deps.DatasetService = service.NewDatasetService(
		pgDB,
		deps.DatasetRepo,
		deps.RevisionLog,
		deps.AsynqClient,
		redisDB,
	)
	deps.ExperimentService = service.NewExperimentService(
		pgDB,
		deps.ExperimentRepo,
		deps.DatasetRepo,
		deps.RevisionLog,
	)

	// Initialize handlers
	deps.HealthHandler = handler.NewHealthHandler(
		pgDB.Pool,
		redisDB.Client,
		appVersion,
	)
	deps.DatasetsHandler = handler.NewDatasetsHandler(
		deps.DatasetService,
		logger,
	)
	deps.ExperimentsHandler = handler.NewExperimentsHandler(
		deps.ExperimentService,
		deps.AsynqClient,
		logger,
	)

	return deps, nil
}

// Close closes all dependencies
func (d *Dependencies) Close() {
	if d.Postgres != nil {
		d.Postgres.Close()
	}
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
	if d.AsynqClient != nil {
		d.AsynqClient.Close()
	}
}

// initMinio initializes the MinIO client and ensures the export bucket
// exists
func initMinio(cfg *config.Config) (*minio.Client, error) {
	if cfg.MinIO.Endpoint == "" {
		return nil, nil // MinIO not configured
	}

	client, err := minio.New(cfg.MinIO.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, ""),
		Secure: cfg.MinIO.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.MinIO.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinIO.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return client, nil
}

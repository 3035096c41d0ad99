package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/leadforge/leadforge/config"
	"github.com/leadforge/leadforge/internal/adapters/pipelinerunner"
	"github.com/leadforge/leadforge/internal/data"
	"github.com/leadforge/leadforge/internal/pipeline"
	"github.com/leadforge/leadforge/internal/service"
	"github.com/leadforge/leadforge/internal/storage"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Jobs   *service.JobService
	Worker *pipelinerunner.Runner
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	JobRepo       *data.JobRepo
	CacheRepo     *data.RedisCacheRepo
	FormatTracker *data.RedisFormatTracker
	Store         *storage.FileStore
}

// NewServices builds the application services from shared infrastructure.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service dependencies are required")
	}

	repos, err := buildRepositories(deps)
	if err != nil {
		return ServiceContainer{}, err
	}

	jobs := service.MustNewJobService(service.JobServiceOptions{
		Repo:   repos.JobRepo,
		Store:  repos.Store,
		Logger: deps.Logger,
	})

	container := ServiceContainer{Jobs: jobs}

	if deps.Config.IsWorkerEnabled() {
		worker, workerErr := buildWorker(deps, repos, jobs)
		if workerErr != nil {
			return ServiceContainer{}, workerErr
		}
		container.Worker = worker
	}

	return container, nil
}

// buildRepositories builds repositories backing service ports; no business rules here.
func buildRepositories(deps *ServiceDeps) (*serviceRepositories, error) {
	store, err := storage.NewFileStore(deps.Config.Storage.Root)
	if err != nil {
		return nil, fmt.Errorf("init file store: %w", err)
	}

	return &serviceRepositories{
		JobRepo: data.NewJobRepo(deps.DB, data.RepoConfig{
			RetryDelaySeconds: int(deps.Config.Worker.RetryDelay / time.Second),
			Logger:            deps.Logger,
		}),
		CacheRepo:     data.NewRedisCacheRepo(deps.RedisClient),
		FormatTracker: data.NewRedisFormatTracker(deps.RedisClient),
		Store:         store,
	}, nil
}

// buildWorker assembles the pipeline and its job runner.
func buildWorker(
	deps *ServiceDeps,
	repos *serviceRepositories,
	jobs *service.JobService,
) (*pipelinerunner.Runner, error) {
	cfg := deps.Config

	formats, err := pipeline.LoadEmailFormats(cfg.Pipeline.EmailFormatsPath)
	if err != nil {
		return nil, fmt.Errorf("load email formats: %w", err)
	}
	badEmails, err := pipeline.LoadBadEmails(cfg.Pipeline.BadEmailsPath)
	if err != nil {
		return nil, fmt.Errorf("load bad emails: %w", err)
	}

	cleaner := pipeline.NewCleaner(formats, badEmails, deps.Logger)

	provider, err := buildVerifierProvider(cfg.Verifier, repos, deps.Logger)
	if err != nil {
		return nil, err
	}

	verifier := pipeline.NewVerifier(
		provider,
		formats,
		repos.FormatTracker,
		deps.Logger,
		pipeline.WithParallelism(cfg.Verifier.Parallelism),
	)

	runner := pipeline.NewRunner(repos.Store, cleaner, verifier, deps.Logger)

	return pipelinerunner.NewRunner(pipelinerunner.RunnerOptions{
		Jobs:         jobs,
		Pipeline:     runner,
		Logger:       deps.Logger,
		Lease:        cfg.Worker.JobLease,
		PollInterval: cfg.Worker.PollInterval,
		Concurrency:  cfg.Worker.Concurrency,
	})
}

// buildVerifierProvider wires the HTTP verification provider with Redis
// result caching.
func buildVerifierProvider(
	cfg config.VerifierConfig,
	repos *serviceRepositories,
	logger *slog.Logger,
) (pipeline.Provider, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("verifier base URL is required when the worker is enabled (set VERIFIER_BASE_URL)")
	}

	provider, err := pipeline.NewHTTPProvider(pipeline.HTTPProviderConfig{
		BaseURL:       cfg.BaseURL,
		APIKey:        cfg.APIKey,
		CodeExpr:      cfg.CodeExpr,
		SubResultExpr: cfg.SubResultExpr,
		Retries:       cfg.Retries,
		Timeout:       cfg.Timeout,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init verifier provider: %w", err)
	}

	return pipeline.NewCachingProvider(provider, repos.CacheRepo, cfg.CacheTTL), nil
}

// ServiceOrchestrationConfig groups everything needed to run the enabled
// services until shutdown.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// RunServicesWithShutdown starts the enabled services and blocks until a
// shutdown signal arrives or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("service orchestration config is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var httpServer *http.Server
	if cfg.Config.IsHTTPServerEnabled() {
		httpServer = StartHTTPServer(&HTTPServerConfig{
			Config:   cfg.Config,
			Services: cfg.Services,
			Logger:   logger,
		})
	}

	errCh := make(chan error, 1)
	workerDone := make(chan struct{})
	if cfg.Services.Worker != nil {
		go func() {
			defer close(workerDone)
			logger.Info("starting pipeline worker")
			if err := cfg.Services.Worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				select {
				case errCh <- fmt.Errorf("pipeline worker: %w", err):
				default:
				}
			}
		}()
	} else {
		close(workerDone)
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-errCh:
		logger.Error("service failed", "error", runErr)
	}
	stop()

	if err := ShutdownHTTPServer(ShutdownConfig{
		Context: context.Background(),
		Server:  httpServer,
		Logger:  logger,
	}); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("shutdown HTTP server: %w", err))
	}

	// Wait for the worker to drain its in-flight job.
	select {
	case <-workerDone:
	case <-time.After(30 * time.Second):
		logger.Warn("pipeline worker did not stop in time")
	}

	return runErr
}

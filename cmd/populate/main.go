package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/car-rental/populate/internal/di"
	"github.com/car-rental/populate/internal/platform/config"
	pfirestore "github.com/car-rental/populate/internal/platform/firestore"
	"github.com/car-rental/populate/internal/platform/jobs"
	"github.com/car-rental/populate/internal/platform/observability"
	"github.com/car-rental/populate/internal/platform/secrets"
	platformstorage "github.com/car-rental/populate/internal/platform/storage"
	"github.com/car-rental/populate/internal/repositories"
	firestoreRepo "github.com/car-rental/populate/internal/repositories/firestore"
	"github.com/car-rental/populate/internal/services"
)

const (
	defaultSecretFallbackFile = ".secrets.local"
	secretHealthReference     = "secret://system/healthz?version=latest"
	shutdownTimeout           = 5 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		return 1
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("populate")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Error("failed to read environment values", zap.Error(err))
		return 1
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Error("failed to initialise secret fetcher", zap.Error(err))
		return 1
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var validationErr *config.ValidationError
		if errors.As(err, &validationErr) {
			logger.Error("invalid configuration", zap.Strings("fields", validationErr.Fields()))
			return 1
		}
		logger.Error("failed to load configuration", zap.Error(err))
		return 1
	}

	clientOpts := googleClientOptions(cfg)
	checks := make([]repositories.DependencyCheck, 0, 3)
	var containerOpts []di.Option
	containerOpts = append(containerOpts, di.WithLogger(logger))

	if topicID := strings.TrimSpace(cfg.Events.Topic); topicID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.Events.ProjectID, clientOpts...)
		if err != nil {
			logger.Error("failed to initialise pubsub client", zap.Error(err))
			return 1
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub client close error", zap.Error(err))
			}
		}()
		topic := pubsubClient.Topic(topicID)
		topic.EnableMessageOrdering = true
		publisher, err := jobs.NewPubSubRentalEventPublisher(topic)
		if err != nil {
			logger.Error("failed to initialise rental event publisher", zap.Error(err))
			return 1
		}
		defer publisher.Stop()
		containerOpts = append(containerOpts, di.WithRentalEventPublisher(publisher))
		checks = append(checks, repositories.DependencyCheck{
			Name:     "pubsub",
			Timeout:  time.Second,
			Optional: true,
			Check: func(ctx context.Context) error {
				exists, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !exists {
					return fmt.Errorf("topic %s not found", topicID)
				}
				return nil
			},
		})
	}

	if bucket := strings.TrimSpace(cfg.Export.Bucket); bucket != "" {
		storageClient, err := cloudstorage.NewClient(ctx, clientOpts...)
		if err != nil {
			logger.Error("failed to initialise storage client", zap.Error(err))
			return 1
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage client close error", zap.Error(err))
			}
		}()
		exporter, err := platformstorage.NewReportExporter(storageClient, bucket, cfg.Export.Prefix)
		if err != nil {
			logger.Error("failed to initialise report exporter", zap.Error(err))
			return 1
		}
		containerOpts = append(containerOpts, di.WithReportExporter(exporter))
		checks = append(checks, repositories.DependencyCheck{
			Name:     "storage",
			Timeout:  time.Second,
			Optional: true,
			Check: func(ctx context.Context) error {
				_, err := storageClient.Bucket(bucket).Attrs(ctx)
				return err
			},
		})
	}

	if strings.TrimSpace(cfg.Secrets.ProjectID) != "" {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "secretManager",
			Timeout:  time.Second,
			Optional: true,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil || status.Code(err) == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}

	provider := pfirestore.NewProvider(cfg.Firestore)
	registry, err := firestoreRepo.NewRegistry(provider, cfg.Database, checks...)
	if err != nil {
		logger.Error("failed to initialise repositories", zap.Error(err))
		return 1
	}

	container, err := di.NewContainer(ctx, cfg, registry, containerOpts...)
	if err != nil {
		logger.Error("failed to initialise services", zap.Error(err))
		_ = registry.Close(context.Background())
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, cfg.Population.RunTimeout)
	defer cancel()

	logger.Info("population run starting",
		zap.String("database", cfg.Database.ID),
		zap.String("firestoreProject", cfg.Firestore.ProjectID),
		zap.String("environment", cfg.Secrets.Environment),
		zap.Bool("teardown", cfg.Population.Teardown),
		zap.Duration("timeout", cfg.Population.RunTimeout),
	)

	report, runErr := container.Services.Population.Run(runCtx)
	logReport(logger, report)
	if runErr != nil {
		logger.Error("population run failed", zap.String("runId", report.RunID), zap.Error(runErr))
		return 1
	}
	logger.Info("population run completed", zap.String("runId", report.RunID))
	return 0
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	projectID := lookup("RENTAL_SECRETS_PROJECT_ID")
	if projectID == "" {
		projectID = lookup("RENTAL_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookup("RENTAL_SECRETS_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = defaultSecretFallbackFile
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projectID != "" {
		opts = append(opts, secrets.WithProject(projectID))
	}
	if credentials := lookup("RENTAL_FIRESTORE_CREDENTIALS_JSON"); credentials != "" && !strings.HasPrefix(credentials, "secret://") {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsJSON([]byte(credentials))))
	}
	return secrets.NewFetcher(ctx, opts...)
}

func googleClientOptions(cfg config.Config) []option.ClientOption {
	if credentials := strings.TrimSpace(cfg.Firestore.CredentialsJSON); credentials != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(credentials))}
	}
	return nil
}

func logReport(logger *zap.Logger, report services.PopulationReport) {
	if report.RunID == "" {
		return
	}
	logger.Info("population report",
		zap.String("runId", report.RunID),
		zap.Int("steps", len(report.Steps)),
		zap.Reflect("report", report),
	)
}

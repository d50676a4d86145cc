package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/hanko-field/checkout/internal/commerce"
	"github.com/hanko-field/checkout/internal/handlers"
	"github.com/hanko-field/checkout/internal/platform/config"
	"github.com/hanko-field/checkout/internal/platform/events"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/platform/observability"
	"github.com/hanko-field/checkout/internal/platform/secrets"
	"github.com/hanko-field/checkout/internal/repositories"
	firestoreRepo "github.com/hanko-field/checkout/internal/repositories/firestore"
	"github.com/hanko-field/checkout/internal/repositories/memory"
	"github.com/hanko-field/checkout/internal/services"
)

const sessionSweepInterval = time.Minute

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	lookup, err := config.Lookup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}
	level, _ := lookup("LOG_LEVEL")

	baseLogger, err := observability.NewLogger(level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("checkout")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger, lookup)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	commerceClient, err := commerce.NewClient(cfg.Commerce.BaseURL,
		commerce.WithAPIToken(cfg.Commerce.APIToken),
		commerce.WithTimeout(cfg.Commerce.Timeout),
	)
	if err != nil {
		logger.Fatal("failed to initialise commerce client", zap.Error(err))
	}
	if commerceClient.Fake() {
		logger.Warn("commerce base url not configured; serving the in-process fake backend")
	}

	build := buildInfo(lookup, cfg, startedAt)
	healthOpts := []handlers.HealthOption{
		handlers.WithHealthBuildInfo(build),
	}

	var snapshots repositories.CartSnapshotRepository
	switch cfg.Cart.SnapshotStore {
	case config.SnapshotStoreFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore,
			pfirestore.WithDialTimeout(cfg.Firestore.DialTimeout),
			pfirestore.WithClientOptions(option.WithUserAgent("hanko-field-checkout/"+build.Version)),
		)
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Close(closeCtx); err != nil {
				logger.Warn("firestore close error", zap.Error(err))
			}
		}()
		repo, err := firestoreRepo.NewCartSnapshotRepository(provider)
		if err != nil {
			logger.Fatal("failed to initialise cart snapshot repository", zap.Error(err))
		}
		snapshots = repo
		healthOpts = append(healthOpts, handlers.WithReadinessCheck("firestore", firestoreCheck(provider)))
	default:
		snapshots = memory.NewCartSnapshotRepository()
	}

	serviceLogger := observability.EventLogger(logger.Named("services"))

	var publisher services.OrderEventPublisher
	if cfg.Events.Enabled() {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		topic := pubsubClient.Topic(cfg.Events.Topic)
		defer func() {
			topic.Stop()
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		orderPublisher, err := events.NewPubSubOrderPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise order publisher", zap.Error(err))
		}
		publisher = orderPublisher
	}

	registry, err := services.NewSessionRegistry(services.SessionRegistryDeps{
		CartSource:          commerceClient,
		Snapshots:           snapshots,
		SnapshotKey:         cfg.Cart.SnapshotKey,
		Checkout:            commerceClient,
		Regions:             commerceClient,
		Countries:           commerceClient,
		Events:              publisher,
		Clock:               time.Now,
		Logger:              serviceLogger,
		RegionTimeout:       cfg.Regions.Timeout,
		SubmissionTimeout:   cfg.Submission.Timeout,
		IdleTTL:             cfg.Server.SessionIdleTTL,
		GenericErrorMessage: cfg.Submission.GenericErrorMessage,
	})
	if err != nil {
		logger.Fatal("failed to initialise session registry", zap.Error(err))
	}

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	var sweepWG sync.WaitGroup
	sweepTicker := time.NewTicker(sessionSweepInterval)
	sweepWG.Add(1)
	go func() {
		defer sweepWG.Done()
		sweepLogger := logger.Named("sessions")
		for {
			select {
			case <-sweepTicker.C:
				if removed := registry.Sweep(sweepCtx, time.Now()); removed > 0 {
					sweepLogger.Info("idle checkout sessions closed", zap.Int("count", removed))
				}
			case <-sweepCtx.Done():
				return
			}
		}
	}()

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(cfg.Firestore.ProjectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(cfg.Firestore.ProjectID),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithCheckoutRoutes(handlers.NewCheckoutSessionHandlers(registry).Routes),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("checkout server starting", zap.String("addr", srv.Addr), zap.Bool("fakeCommerce", commerceClient.Fake()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("shutdown signal received")

	sweepTicker.Stop()
	sweepCancel()
	sweepWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	registry.CloseAll()

	logger.Info("checkout server stopped")
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, lookup func(string) (string, bool)) (*secrets.Fetcher, error) {
	get := func(key string) string {
		value, _ := lookup(key)
		return strings.TrimSpace(value)
	}

	defaultProject := get("SECRETS_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = get("FIRESTORE_PROJECT_ID")
	}
	fallbackPath := get("SECRETS_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	env := strings.ToLower(get("SECRETS_ENVIRONMENT"))
	if env == "" || env == "local" {
		opts = append(opts, secrets.WithLocalOnly())
	}
	return secrets.NewFetcher(ctx, opts...)
}

func buildInfo(lookup func(string) (string, bool), cfg config.Config, started time.Time) handlers.BuildInfo {
	version, _ := lookup("BUILD_VERSION")
	version = strings.TrimSpace(version)
	if version == "" {
		version = "dev"
	}
	commit, _ := lookup("BUILD_COMMIT_SHA")
	commit = strings.TrimSpace(commit)
	if commit == "" {
		commit = "unknown"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Secrets.Environment,
		StartedAt:   started,
	}
}

func firestoreCheck(provider *pfirestore.Provider) handlers.ReadinessCheck {
	return func(ctx context.Context) error {
		client, err := provider.Client(ctx)
		if err != nil {
			return err
		}
		_, err = client.Collections(ctx).Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		return err
	}
}

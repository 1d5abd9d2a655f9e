// Package router initializes and runs the blob routing service. It wires
// the storage accounts, the ledger database, the verification pipeline
// and the polling loop, and handles graceful shutdown.
package router

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/blobrouter/internal/logging"
	"github.com/dmitrijs2005/blobrouter/internal/router/config"
	"github.com/dmitrijs2005/blobrouter/internal/router/repositories/repomanager"
	"github.com/dmitrijs2005/blobrouter/internal/router/services"
	"github.com/dmitrijs2005/blobrouter/internal/router/storage"
	"github.com/dmitrijs2005/blobrouter/internal/router/verify"
	_ "github.com/jackc/pgx/v5/stdlib"
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	db        *sql.DB
	processor *services.ContainerProcessor
	cleaner   *services.RejectedCleaner
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {

	logger := logging.NewJSON(os.Stdout, "blob-router")

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	repos := repomanager.NewPostgresRepositoryManager()
	if err := repos.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("db migration error: %w", err)
	}

	sourceS3, err := storage.NewS3Client(ctx, cfg.StorageEndpoint, cfg.StorageRegion, cfg.StorageAccessKey, cfg.StorageSecretKey)
	if err != nil {
		return nil, fmt.Errorf("source storage init error: %w", err)
	}
	sourceClient := storage.NewClient(sourceS3, logger)

	crimeS3, err := storage.NewS3Client(ctx, cfg.CrimeEndpoint, cfg.CrimeRegion, cfg.CrimeAccessKey, cfg.CrimeSecretKey)
	if err != nil {
		return nil, fmt.Errorf("crime storage init error: %w", err)
	}
	crimeClient := storage.NewClient(crimeS3, logger)

	issuer := storage.NewHTTPTokenIssuer(cfg.TokenIssuerURL, cfg.TokenIssuerSecret, 10*time.Second)
	tokenCache := storage.NewSasTokenCache(issuer, cfg.TokenRefreshMargin, nil, logger)

	httpClient := &http.Client{}
	targets := map[config.TargetAccount]storage.TargetClient{
		config.TargetCFT:   storage.NewSasTarget(cfg.CFTUploadEndpoint, string(config.TargetCFT), tokenCache, httpClient),
		config.TargetPCQ:   storage.NewSasTarget(cfg.PCQUploadEndpoint, string(config.TargetPCQ), tokenCache, httpClient),
		config.TargetCrime: storage.NewTrustedTarget(crimeClient),
	}

	dispatcher := storage.NewDispatcher(targets, cfg.UploadTimeout, logger)
	leases := storage.NewLeaseCoordinator(sourceClient, cfg.LeaseDuration, nil, logger)
	mover := storage.NewMover(sourceClient, nil, logger)

	envelopeService := services.NewEnvelopeService(db, repos, nil, logger)
	blobProcessor := services.NewBlobProcessor(
		sourceClient, leases, verify.NewVerifier(), dispatcher, mover, envelopeService,
		cfg.SignatureAlgorithm, nil, logger,
	)
	finder := services.NewDuplicateFinder(sourceClient, envelopeService)
	containerProcessor := services.NewContainerProcessor(
		sourceClient, finder, blobProcessor, leases, mover, envelopeService, logger,
	)
	cleaner := services.NewRejectedCleaner(sourceClient, envelopeService, cfg.RejectedRetention, nil, logger)

	return &App{
		config:    cfg,
		logger:    logger,
		db:        db,
		processor: containerProcessor,
		cleaner:   cleaner,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// runCycle processes every configured source container once, then sweeps
// their rejected counterparts for expired artifacts.
func (app *App) runCycle(ctx context.Context) {
	for _, source := range app.config.SourceContainers {
		app.processor.Process(ctx, source)
		if ctx.Err() != nil {
			return
		}
	}
	for _, source := range app.config.SourceContainers {
		if !source.Enabled {
			continue
		}
		app.cleaner.Clean(ctx, source.Name)
		if ctx.Err() != nil {
			return
		}
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting blob router",
		"containers", len(app.config.SourceContainers), "poll_interval", app.config.PollInterval.String())

	app.initSignalHandler(cancelFunc)

	ticker := time.NewTicker(app.config.PollInterval)
	defer ticker.Stop()

	app.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			app.logger.Info(ctx, "shutting down")
			if err := app.db.Close(); err != nil {
				app.logger.Warn(ctx, "db close error", "error", err.Error())
			}
			return
		case <-ticker.C:
			app.runCycle(ctx)
		}
	}
}

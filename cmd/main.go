package main

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"educore_devlab/internal/config"
	"educore_devlab/internal/dispatch"
	"educore_devlab/internal/infrastructure"
	"educore_devlab/internal/interfaces"
	"educore_devlab/internal/interfaces/http"
	"educore_devlab/internal/repository"
	"educore_devlab/internal/signature"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := infrastructure.NewLogger(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("gateway exited")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mode, err := signature.ParseMode(cfg.Canonicalization)
	if err != nil {
		return err
	}
	codec := signature.NewCodec(mode)

	identity, err := signature.NewIdentity(cfg.ServiceName, cfg.ServicePrivateKey)
	if err != nil {
		return fmt.Errorf("load service key: %w", err)
	}
	if !identity.CanSign() {
		log.Warn().Msg("SERVICE_PRIVATE_KEY not set: responses and forwarded requests cannot be signed")
	}
	if cfg.CoordinatorPublicKey != "" {
		if err := identity.AddPeer(cfg.CoordinatorServiceName, cfg.CoordinatorPublicKey); err != nil {
			return fmt.Errorf("load coordinator key: %w", err)
		}
	} else if cfg.IsProduction() {
		log.Warn().Msg("COORDINATOR_PUBLIC_KEY not set: every signed request will be rejected in production")
	}
	if cfg.Permissive() {
		log.Warn().Msg("signature verification disabled (development only)")
	}

	store, closeStore, err := openStagingStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.StagingPendingTTL > 0 {
		go purgeStale(ctx, store, cfg.StagingPendingTTL, log)
	}

	var limiter *infrastructure.ServiceRateLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = infrastructure.NewServiceRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		go limiter.Run(ctx, 5*time.Minute)
	}

	ai := infrastructure.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModel)
	coordinator := infrastructure.NewCoordinatorClient(cfg.CoordinatorURL, cfg.CoordinatorServiceName, identity, codec, cfg.CoordinatorTimeout, log)
	if !coordinator.Configured() {
		log.Warn().Msg("COORDINATOR_URL not set: theoretical question requests will fail")
	}

	dispatcher := dispatch.NewDispatcher(dispatch.NewTable(dispatch.NewHandlers(ai, store)), store, log)
	gateway := http.NewGateway(dispatcher, coordinator, store, identity, codec, log)
	middleware := http.NewMiddleware(http.AuthPosture{
		Production:            cfg.IsProduction(),
		SignatureVerification: cfg.SignatureVerification,
	}, identity, codec, limiter, log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	http.SetupRoutes(r, gateway, middleware, cfg.MaxBodyBytes)

	srv := &nethttp.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("service", cfg.ServiceName).
			Str("env", cfg.Env).
			Str("staging", cfg.StagingBackend).
			Str("canonicalization", string(codec.Mode())).
			Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStagingStore returns the configured backend and its teardown.
func openStagingStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (interfaces.StagingStore, func(), error) {
	switch cfg.StagingBackend {
	case "postgres":
		pg, err := infrastructure.NewPostgresClient(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		return repository.NewStagingRepository(pg.Pool), pg.Close, nil
	case "sqlite":
		db, err := infrastructure.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewSQLStagingRepository(db), func() { db.Close() }, nil
	case "redis":
		client, err := infrastructure.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewRedisStagingRepository(client, cfg.StagingPendingTTL), func() { client.Close() }, nil
	default:
		log.Warn().Msg("using in-memory staging store; staged batches are lost on restart")
		return repository.NewMemoryStagingRepository(), func() {}, nil
	}
}

func purgeStale(ctx context.Context, store interfaces.StagingStore, ttl time.Duration, log zerolog.Logger) {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.PurgeStale(ctx, ttl)
			if err != nil {
				log.Error().Err(err).Msg("purge stale staged batches")
				continue
			}
			if n > 0 {
				log.Info().Int64("removed", n).Msg("purged stale staged batches")
			}
		}
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tinoosan/remitledger/internal/address"
	"github.com/tinoosan/remitledger/internal/config"
	"github.com/tinoosan/remitledger/internal/errs"
	"github.com/tinoosan/remitledger/internal/events"
	httpapi "github.com/tinoosan/remitledger/internal/httpapi/v1"
	"github.com/tinoosan/remitledger/internal/idempotency"
	"github.com/tinoosan/remitledger/internal/logging"
	"github.com/tinoosan/remitledger/internal/service/contract"
	"github.com/tinoosan/remitledger/internal/service/migration"
	"github.com/tinoosan/remitledger/internal/service/ratelimit"
	"github.com/tinoosan/remitledger/internal/service/remittance"
	"github.com/tinoosan/remitledger/internal/storage/memory"
	pgstore "github.com/tinoosan/remitledger/internal/storage/postgres"
	redisstore "github.com/tinoosan/remitledger/internal/storage/redis"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (configured from the environment)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := serve(ctx, cfg, logger); err != nil {
				logger.Error("serve failed", "err", err)
				return err
			}
			return nil
		},
	}
}

// deps holds the backends selected from configuration and how to release them.
type deps struct {
	store   contract.Store
	idem    idempotency.Store
	pub     events.Publisher
	ready   []httpapi.ReadyChecker
	closers []func()
}

func (d *deps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func openDeps(ctx context.Context, cfg config.Config, logger *slog.Logger) (*deps, error) {
	d := &deps{}
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return d, fmt.Errorf("connect postgres: %w", err)
		}
		d.closers = append(d.closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			return d, fmt.Errorf("migrate postgres: %w", err)
		}
		d.store = pg
		d.ready = append(d.ready, pg)
		logger.Info("storage backend: postgres")
	} else {
		d.store = memory.New()
		logger.Info("storage backend: memory")
	}

	if cfg.RedisURL != "" {
		rs, err := redisstore.Open(ctx, cfg.RedisURL)
		if err != nil {
			return d, fmt.Errorf("connect redis: %w", err)
		}
		d.closers = append(d.closers, func() { _ = rs.Close() })
		d.idem = rs
		logger.Info("idempotency backend: redis")
	} else {
		d.idem = memory.NewIdempotencyStore()
		logger.Info("idempotency backend: memory")
	}

	pubs := events.Multi{events.NewLogPublisher(logger)}
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return d, fmt.Errorf("kafka publisher: %w", err)
		}
		d.closers = append(d.closers, kp.Close)
		pubs = append(pubs, kp)
		d.ready = append(d.ready, httpapi.ReadyFunc(kp.Ping))
		logger.Info("event publisher: kafka", "topic", cfg.KafkaTopic)
	}
	d.pub = pubs
	return d, nil
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	d, err := openDeps(ctx, cfg, logger)
	defer d.close()
	if err != nil {
		return err
	}

	hasher, err := migration.NewHasher(cfg.MigrationHashAlg)
	if err != nil {
		return err
	}
	svc := contract.New(d.store, contract.Config{
		Remittance: remittance.Config{MaxAmount: cfg.MaxAmount},
		RateLimit: ratelimit.Config{
			Window:       cfg.RateLimitWindow,
			MaxPerWindow: cfg.RateLimitPerWin,
			DailyLimit:   cfg.DailySendLimit,
		},
		Hasher: hasher,
	}, contract.WithPublisher(d.pub))

	if cfg.DevSeed {
		if err := devSeed(ctx, svc, cfg.DevAdmin, logger); err != nil {
			return err
		}
	}

	api := httpapi.New(svc, d.idem, httpapi.Options{
		JWT:            httpapi.JWTConfig{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer, Audience: cfg.JWTAudience},
		ThrottleRPS:    cfg.HTTPThrottleRPS,
		ThrottleBurst:  cfg.HTTPThrottleBurst,
		TrustProxy:     cfg.TrustProxy,
		IdempotencyTTL: cfg.IdempotencyTTL,
		Ready:          d.ready,
	}, logger)
	if cfg.JWTSecret == "" {
		logger.Warn("JWT auth disabled; trusting the " + httpapi.CallerHeader + " header")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("remittance ledger listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "err", err)
			return err
		}
		logger.Info("server stopped")
		return nil
	})
	return g.Wait()
}

// devSeed initializes the ledger with admin for local runs. An already
// initialized ledger is left as it is.
func devSeed(ctx context.Context, svc contract.Service, admin string, logger *slog.Logger) error {
	if admin == "" {
		return errors.New("DEV_SEED requires DEV_ADMIN")
	}
	a := address.Normalize(admin)
	err := svc.Initialize(ctx, a)
	switch {
	case errors.Is(err, errs.ErrAlreadyInitialized):
		logger.Info("DEV seed skipped: ledger already initialized")
		return nil
	case err != nil:
		return fmt.Errorf("dev seed: %w", err)
	}
	logger.Info("DEV seed", "admin", string(a))
	fmt.Println("==================== DEV SEED ====================")
	fmt.Printf("admin: %s\n", a)
	fmt.Println("==================================================")
	return nil
}

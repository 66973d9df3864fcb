package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"whale-relay/internal/alerting"
	"whale-relay/internal/config"
	"whale-relay/internal/dedup"
	"whale-relay/internal/format"
	"whale-relay/internal/normalize"
	"whale-relay/internal/scheduler"
	"whale-relay/internal/security"
	"whale-relay/internal/server"
	"whale-relay/internal/service"
	"whale-relay/internal/storage"
	"whale-relay/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newNotifier() alerting.Notifier {
	cfg := a.Config.Alerting.Telegram
	if cfg.BotToken == "" {
		a.Logger.Warn().Msg("alerting.telegram.bot_token not configured; notifications are logged only")
		return alerting.NewLogNotifier(a.Logger)
	}
	return alerting.NewTelegramNotifier(cfg.BotToken, cfg.APIBase, cfg.Timeout, a.Logger)
}

func (a *App) retryConfig() alerting.RetryConfig {
	r := a.Config.Alerting.Retry
	return alerting.RetryConfig{
		MaxAttempts:    r.MaxAttempts,
		InitialDelay:   r.InitialDelay,
		MaxDelay:       r.MaxDelay,
		BackoffFactor:  r.BackoffFactor,
		AttemptTimeout: a.Config.Alerting.Telegram.Timeout,
	}
}

func (a *App) openPostgres(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, store.Close, nil
}

// openDedupStore returns the configured backend and its closer.
func (a *App) openDedupStore(ctx context.Context) (dedup.Store, func(), error) {
	switch a.Config.Dedup.Backend {
	case config.BackendRedis:
		store, err := dedup.NewRedisStore(ctx, a.Config.Redis.URL, a.Config.Dedup.KeyPrefix)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case config.BackendPostgres:
		store, closer, err := a.openPostgres(ctx)
		if err != nil {
			return nil, nil, err
		}
		if store == nil {
			return nil, nil, errors.New("database.dsn 未配置")
		}
		return store, closer, nil
	default:
		a.Logger.Warn().Msg("in-memory dedup: keys are not shared across instances or restarts")
		return dedup.NewMemoryStore(nil), func() {}, nil
	}
}

func (a *App) newService(store dedup.Store, notifier alerting.Notifier, debugEcho bool) *service.Service {
	resolver := normalize.NewExchangeResolver(nil)
	sec := a.Config.Security
	return service.New(
		security.NewAuthenticator(sec.HMACSecret),
		dedup.New(store, a.Config.Dedup.TTL),
		security.NewAccessControl(sec.DefaultChatID, sec.AllowChatIDs),
		normalize.New(resolver, nil),
		format.New(resolver),
		alerting.NewDispatcher(notifier, a.retryConfig(), a.Logger),
		service.Options{Silent: a.Config.Alerting.Silent, DebugEcho: debugEcho},
		a.Logger,
	)
}

// Serve runs the webhook listener and the dedup sweeper until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openDedupStore(ctx)
	if err != nil {
		return fmt.Errorf("open dedup store: %w", err)
	}
	defer closeStore()

	svc := a.newService(store, a.newNotifier(), a.Config.Alerting.DebugEcho)

	if a.Config.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	var health server.HealthChecker
	if p, ok := store.(dedup.Pinger); ok {
		health = p
	}
	srv := server.New(server.Options{
		Server:          a.Config.Server,
		SignatureHeader: a.Config.Security.SignatureHeader,
	}, svc, health, a.Logger)

	if a.Config.Security.HMACSecret == "" {
		a.Logger.Warn().Msg("security.hmac_secret not configured; signatures are not checked")
	}

	var sweeper *service.Sweeper
	if a.Config.Dedup.SweepInterval > 0 {
		sched, err := scheduler.New(scheduler.Options{
			Interval:     a.Config.Dedup.SweepInterval,
			AlignToStart: true,
		}, a.Logger)
		if err != nil {
			return err
		}
		sweeper = service.NewSweeper(sched, store, a.Config.Dedup.AdvisoryLockKey, a.Logger)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if sweeper != nil {
		g.Go(func() error {
			if err := sweeper.Run(gctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	a.Logger.Info().
		Str("version", version.String()).
		Str("dedup_backend", a.Config.Dedup.Backend).
		Bool("silent", a.Config.Alerting.Silent).
		Msg("starting whale relay")

	if err := g.Wait(); err != nil {
		a.Logger.Error().Err(err).Msg("relay terminated with error")
		return err
	}

	a.Logger.Info().Msg("whale relay stopped")
	return nil
}

// SimulateOptions configure a one-off pipeline run.
type SimulateOptions struct {
	File   string
	ChatID string
	DryRun bool
}

// KeysOptions configure the keys command.
type KeysOptions struct {
	Limit   int
	CSVPath string
}

// ReplayOptions configure a bulk replay of captured payloads.
type ReplayOptions struct {
	Dir     string
	DryRun  bool
	Workers int
}

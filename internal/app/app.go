// Package app assembles the service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/xscopehub/consultd/api"
	"github.com/xscopehub/consultd/internal/audit"
	"github.com/xscopehub/consultd/internal/auth"
	"github.com/xscopehub/consultd/internal/cache"
	"github.com/xscopehub/consultd/internal/config"
	"github.com/xscopehub/consultd/internal/db"
	"github.com/xscopehub/consultd/internal/limiter"
	"github.com/xscopehub/consultd/internal/metrics"
	"github.com/xscopehub/consultd/internal/model"
	"github.com/xscopehub/consultd/internal/notify"
	"github.com/xscopehub/consultd/internal/repository"
	"github.com/xscopehub/consultd/internal/server"
	"github.com/xscopehub/consultd/internal/storage"
	"github.com/xscopehub/consultd/ports"
	"github.com/xscopehub/consultd/services/casework"
)

// App is a wired service ready to Run.
type App struct {
	Server  *server.Server
	Service *casework.Service

	limiter *limiter.Limiter
	logger  *slog.Logger
	closers []closer
}

type closer struct {
	name string
	fn   func(context.Context) error
}

type stores struct {
	cases    ports.CaseRepository
	profiles ports.ProfileRepository
	files    ports.FileRepository
	messages ports.MessageRepository
	ready    func(context.Context) error
}

// Build connects every dependency named by cfg. On error whatever was
// already opened is closed again.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, reg *prometheus.Registry) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	a := &App{logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	st, err := a.openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	profiles, err := cache.NewProfiles(st.profiles, cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}
	a.onClose("cache", func(context.Context) error { profiles.Close(); return nil })

	blobs, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	m := metrics.New(reg)
	sinks, err := a.openSinks(ctx, cfg.Notify)
	if err != nil {
		return nil, err
	}
	dispatcher := notify.NewDispatcher(logger, m, cfg.Notify.Timeout, sinks...)
	a.onClose("notify", dispatcher.Close)

	authn, err := auth.New(ctx, cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("init auth: %w", err)
	}
	if cfg.Auth.Mode == auth.ModeHeader {
		logger.Warn("header auth trusts the caller-supplied user id; run only behind a proxy that sets it", "header", cfg.Auth.Header)
	}

	auditLog, err := audit.Open(cfg.Audit.Enabled, cfg.Audit.Path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	a.onClose("audit", func(context.Context) error { return auditLog.Close() })

	a.limiter = limiter.New(cfg.RateLimiter)
	a.onClose("limiter", func(context.Context) error { return a.limiter.Close() })

	a.Service = casework.New(casework.Deps{
		Cases:        st.cases,
		Profiles:     profiles,
		Files:        st.files,
		Messages:     st.messages,
		Storage:      blobs,
		Notifier:     dispatcher,
		Logger:       logger,
		Metrics:      m,
		SignedURLTTL: cfg.Storage.SignedURLTTL,
	})

	a.Server = server.New(cfg.Server, cfg.Telemetry.ServiceName, logger, reg, st.ready)
	api.RegisterRoutes(a.Server.Engine(), api.NewHandler(a.Service, api.Options{
		Auth:           authn,
		Limiter:        a.limiter,
		Audit:          auditLog,
		Logger:         logger,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	}))
	return a, nil
}

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) openStores(ctx context.Context, cfg config.Config) (stores, error) {
	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Database.MigrateOnStart {
			if err := db.Migrate(cfg.Database.DSN); err != nil {
				return stores{}, err
			}
		}
		pool, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return stores{}, err
		}
		a.onClose("postgres", func(context.Context) error { pool.Close(); return nil })
		pg := repository.NewPgStore(pool)
		return stores{cases: pg, profiles: pg, files: pg, messages: pg, ready: pingPool(pool)}, nil
	case "memory":
		mem := repository.NewMemoryStore()
		for _, seed := range cfg.Store.Profiles {
			p, err := profileFromSeed(seed)
			if err != nil {
				return stores{}, err
			}
			mem.PutProfile(p)
		}
		a.logger.Warn("using in-memory store; data is lost on restart", "profiles", len(cfg.Store.Profiles))
		return stores{cases: mem, profiles: mem, files: mem, messages: mem}, nil
	default:
		return stores{}, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func pingPool(pool *pgxpool.Pool) func(context.Context) error {
	return func(ctx context.Context) error { return pool.Ping(ctx) }
}

func profileFromSeed(seed config.ProfileSeed) (model.Profile, error) {
	id, err := uuid.Parse(seed.ID)
	if err != nil {
		return model.Profile{}, fmt.Errorf("profile seed %q: %w", seed.ID, err)
	}
	role := model.Role(seed.Role)
	if role != model.RoleGP && role != model.RoleSpecialist {
		return model.Profile{}, fmt.Errorf("profile seed %s: unknown role %q", seed.ID, seed.Role)
	}
	return model.Profile{ID: id, Role: role, Specialty: seed.Specialty, FullName: seed.FullName, Email: seed.Email}, nil
}

func openStorage(ctx context.Context, cfg config.StorageConfig) (ports.ObjectStorage, error) {
	switch cfg.Driver {
	case "s3":
		s, err := storage.NewS3(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("init s3: %w", err)
		}
		return s, nil
	case "memory":
		return storage.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// openSinks connects the enabled notification channels. Sinks are closed by
// the dispatcher.
func (a *App) openSinks(ctx context.Context, cfg config.NotifyConfig) ([]notify.Sink, error) {
	var sinks []notify.Sink
	if cfg.NATS.Enabled {
		s, err := notify.NewNATSSink(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		sinks = append(sinks, s)
	}
	if cfg.Kafka.Enabled {
		sinks = append(sinks, notify.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic))
	}
	if cfg.SQS.Enabled {
		s, err := notify.NewSQSSink(ctx, cfg.SQS.QueueURL, cfg.SQS.Region)
		if err != nil {
			closeSinks(sinks)
			return nil, fmt.Errorf("init sqs: %w", err)
		}
		sinks = append(sinks, s)
	}
	if cfg.Telegram.Enabled {
		sinks = append(sinks, notify.NewTelegramSink(cfg.Telegram.BaseURL, cfg.Telegram.Token, cfg.Telegram.ChatID))
	}
	names := make([]string, len(sinks))
	for i, s := range sinks {
		names[i] = s.Name()
	}
	a.logger.Info("notification sinks", "sinks", names)
	return sinks, nil
}

func closeSinks(sinks []notify.Sink) {
	for _, s := range sinks {
		if c, ok := s.(io.Closer); ok {
			_ = c.Close()
		}
	}
}

// Run serves until ctx is done, then gives the remaining dependencies at
// most drain to release, pending notifications included.
func (a *App) Run(ctx context.Context, drain time.Duration) error {
	go a.limiter.Run(ctx)
	runErr := a.Server.Run(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()
	return errors.Join(runErr, a.Close(closeCtx))
}

// Close releases dependencies in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", "component", c.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Command bo-server starts the back-office credential HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/and161185/backoffice/internal/config"
	"github.com/and161185/backoffice/internal/httpapi"
	"github.com/and161185/backoffice/internal/limiter"
	"github.com/and161185/backoffice/internal/mail"
	"github.com/and161185/backoffice/internal/migrate"
	"github.com/and161185/backoffice/internal/obs"
	"github.com/and161185/backoffice/internal/repository"
	"github.com/and161185/backoffice/internal/repository/memory"
	"github.com/and161185/backoffice/internal/repository/mongodb"
	"github.com/and161185/backoffice/internal/repository/postgres"
	"github.com/and161185/backoffice/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, opens the store and serves the HTTP API.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	// Flags override the environment
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	flag.StringVar(&cfg.DSN, "dsn", cfg.DSN, "store DSN (postgres://, mongodb://, memory://)")
	flag.StringVar(&cfg.JWTKey, "jwt-key", cfg.JWTKey, "HS256 signing key (required)")
	flag.DurationVar(&cfg.AccessTTL, "access-ttl", cfg.AccessTTL, "session token TTL")
	flag.StringVar(&cfg.TLSCert, "tls-cert", cfg.TLSCert, "TLS certificate (PEM), optional")
	flag.StringVar(&cfg.TLSKey, "tls-key", cfg.TLSKey, "TLS private key (PEM), optional")
	flag.BoolVar(&cfg.HTTP.TrustProxy, "trust-proxy", cfg.HTTP.TrustProxy, "take client IP from X-Forwarded-For (only behind a proxy)")
	flag.Parse()

	logger := newLogger(cfg.Development())
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
	)

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	accounts, lim, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer closeStore()

	var mailer mail.Sender = mail.Disabled{}
	if cfg.SMTP.Host != "" {
		smtp, err := mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			StartTLS: cfg.SMTP.StartTLS,
			Timeout:  cfg.MailTimeout,
		})
		if err != nil {
			logger.Fatal("smtp", zap.Error(err))
		}
		mailer = smtp
	}

	svc, err := service.New(accounts, lim, mailer, logger, service.Options{
		SignKey:      []byte(cfg.JWTKey),
		AccessTTL:    cfg.AccessTTL,
		ResetTTL:     cfg.ResetTTL,
		ResetURLBase: cfg.ResetURLBase,
		StoreTimeout: cfg.StoreTimeout,
		MailTimeout:  cfg.MailTimeout,
		BcryptCost:   cfg.BcryptCost,
		SuperAdmins:  cfg.SuperAdmins,
	})
	if err != nil {
		logger.Fatal("service", zap.Error(err))
	}

	api := httpapi.New(svc, logger, obs.NewMetrics(version), httpapi.Options{
		CORSOrigins:    cfg.HTTP.CORSOrigins,
		AuthRatePerMin: cfg.HTTP.AuthRatePerMin,
		TrustProxy:     cfg.HTTP.TrustProxy,
	})
	err = httpapi.ListenAndServe(ctx, httpapi.ServeConfig{
		Addr:            cfg.Addr,
		CertFile:        cfg.TLSCert,
		KeyFile:         cfg.TLSKey,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}, api.Router(), logger)
	if err != nil {
		logger.Error("server error", zap.Error(err))
		closeStore()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func newLogger(dev bool) *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	if dev {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// openStore connects the account store selected by the DSN scheme and the
// matching login limiter. A configured Redis takes over limiting.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.AccountRepository, limiter.Limiter, func(), error) {
	policy := limiter.Policy{
		Window:   cfg.Limiter.Window,
		MaxFails: cfg.Limiter.MaxFails,
		BlockFor: cfg.Limiter.BlockFor,
	}
	closers := []func(){}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		closers = nil
	}

	var redisLim limiter.Limiter
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		closers = append(closers, func() { _ = rdb.Close() })
		redisLim = limiter.NewRedis(rdb, "", policy)
	}
	pick := func(fallback limiter.Limiter) limiter.Limiter {
		if redisLim != nil {
			return redisLim
		}
		return fallback
	}

	backend, err := cfg.Backend()
	if err != nil {
		closeAll()
		return nil, nil, nil, err
	}
	switch backend {
	case config.BackendPostgres:
		db, pool, err := postgres.New(ctx, cfg.DSN, cfg.DBMaxConns)
		if err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		closers = append(closers, db.Close)
		if err := migrate.Up(ctx, pool, log); err != nil {
			closeAll()
			return nil, nil, nil, fmt.Errorf("migrate up: %w", err)
		}
		log.Info("store ready", zap.String("backend", backend))
		return postgres.NewAccountRepo(db), pick(limiter.NewPG(pool, policy)), closeAll, nil

	case config.BackendMongo:
		client, err := mongodb.Connect(ctx, cfg.DSN)
		if err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		closers = append(closers, func() {
			dctx, cancel := context.WithTimeout(context.Background(), cfg.StoreTimeout)
			defer cancel()
			_ = client.Disconnect(dctx)
		})
		db := client.Database(cfg.MongoDB)
		if err := mongodb.EnsureIndexes(ctx, db); err != nil {
			closeAll()
			return nil, nil, nil, fmt.Errorf("ensure indexes: %w", err)
		}
		if redisLim == nil {
			log.Warn("mongodb store without REDIS_ADDR; login lockout kept in process memory")
		}
		log.Info("store ready", zap.String("backend", backend))
		return mongodb.NewAccountRepo(db), pick(limiter.NewMemory(policy)), closeAll, nil

	default:
		log.Warn("using in-memory store; data is lost on exit")
		return memory.NewAccountRepo(), pick(limiter.NewMemory(policy)), closeAll, nil
	}
}

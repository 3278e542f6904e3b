// Package runtime wires the recruitment services together and manages the
// process lifecycle: database, stores, services, orchestrator, chat gateway
// and the HTTP server.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/corsairs-gg/quartermaster/internal/app/httpapi"
	"github.com/corsairs-gg/quartermaster/internal/app/metrics"
	"github.com/corsairs-gg/quartermaster/internal/app/services/applications"
	"github.com/corsairs-gg/quartermaster/internal/app/services/audittrail"
	"github.com/corsairs-gg/quartermaster/internal/app/services/cooldowns"
	"github.com/corsairs-gg/quartermaster/internal/app/services/decisions"
	"github.com/corsairs-gg/quartermaster/internal/app/services/erasure"
	"github.com/corsairs-gg/quartermaster/internal/app/services/orchestrator"
	"github.com/corsairs-gg/quartermaster/internal/app/services/vouches"
	"github.com/corsairs-gg/quartermaster/internal/app/storage"
	"github.com/corsairs-gg/quartermaster/internal/app/storage/memory"
	"github.com/corsairs-gg/quartermaster/internal/app/storage/postgres"
	"github.com/corsairs-gg/quartermaster/internal/chat/discord"
	"github.com/corsairs-gg/quartermaster/internal/config"
	"github.com/corsairs-gg/quartermaster/internal/httputil"
	"github.com/corsairs-gg/quartermaster/internal/middleware"
	"github.com/corsairs-gg/quartermaster/pkg/logger"
)

// stores groups the persistence interfaces behind one value so memory and
// postgres backends wire identically.
type stores struct {
	apps      storage.ApplicationStore
	vouches   storage.VouchStore
	cooldowns storage.CooldownStore
	audit     storage.AuditStore
	outbox    storage.OutboxStore
}

// Application wires core dependencies and manages the server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	httpServer *http.Server
	orch       *orchestrator.Service
	gateway    *discord.Gateway
	auditSink  *audittrail.FileSink
	db         *sql.DB
}

// NewApplication constructs a fully wired application.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return newApplication(cfg)
}

func newApplication(cfg *config.Config) (*Application, error) {
	log := logger.New(cfg.Logging)

	st, db, err := buildStores(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	auditSink, err := audittrail.NewFileSink(cfg.Recruitment.AuditLogPath)
	if err != nil {
		return nil, fmt.Errorf("open audit sink: %w", err)
	}
	auditSvc := audittrail.New(st.audit, auditSink, log)

	cooldownSvc := cooldowns.New(st.cooldowns, auditSvc, cfg.Recruitment.CooldownDays, log)
	appSvc := applications.New(st.apps, cooldownSvc, auditSvc, log)
	vouchSvc := vouches.New(st.vouches, st.apps, auditSvc, log)
	decisionSvc := decisions.New(st.apps, st.outbox, cooldownSvc, auditSvc, log)
	erasureSvc := erasure.New(st.apps, st.vouches, st.cooldowns, auditSvc, log)

	var gateway *discord.Gateway
	if cfg.Discord.Token != "" {
		gateway, err = discord.New(cfg.Discord, log)
		if err != nil {
			return nil, fmt.Errorf("discord gateway: %w", err)
		}
		discord.NewCommandHandler(gateway, appSvc, decisionSvc)
	} else {
		log.Warn("discord token not configured, orchestrator will not run; outbox events will accumulate")
	}

	notifier := httputil.NewWebhookClient(httputil.WebhookConfig{URL: cfg.Orchestrator.AlertWebhookURL})
	var chatGateway orchestrator.ChatGateway
	if gateway != nil {
		chatGateway = gateway
	}
	orch := orchestrator.New(st.outbox, st.apps, chatGateway, appSvc, notifier, orchestrator.Config{
		PollInterval:  cfg.Orchestrator.PollInterval(),
		MaxAttempts:   cfg.Orchestrator.MaxAttempts,
		BackoffBase:   cfg.Orchestrator.BackoffBase(),
		SweepSchedule: cfg.Orchestrator.SweepSchedule,
	}, log)

	handler := httpapi.NewHandler(httpapi.Services{
		Applications: appSvc,
		Vouches:      vouchSvc,
		Cooldowns:    cooldownSvc,
		Decisions:    decisionSvc,
		Audit:        auditSvc,
		Outbox:       orch,
		Erasure:      erasureSvc,
	})

	chained := buildMiddleware(cfg, log, handler)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", chained)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}

	return &Application{
		cfg:        cfg,
		log:        log,
		httpServer: srv,
		orch:       orch,
		gateway:    gateway,
		auditSink:  auditSink,
		db:         db,
	}, nil
}

func buildMiddleware(cfg *config.Config, log *logger.Logger, handler http.Handler) http.Handler {
	skipPaths := append([]string{"/healthz", "/metrics"}, cfg.Auth.SkipPaths...)

	var limiter interface {
		Handler(http.Handler) http.Handler
	}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		limiter = middleware.NewRedisLimiter(client, cfg.Recruitment.IntakeRPS, time.Second, log)
	} else {
		rl := middleware.NewRateLimiter(cfg.Recruitment.IntakeRPS, cfg.Recruitment.IntakeBurst, log)
		rl.StartCleanup(10 * time.Minute)
		limiter = rl
	}
	handler = limiter.Handler(handler)

	if cfg.Auth.PublicKeyPath != "" {
		pem, err := os.ReadFile(cfg.Auth.PublicKeyPath)
		if err != nil {
			log.WithError(err).Warn("auth public key unreadable, requests will be rejected")
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
		if err != nil {
			log.WithError(err).Warn("auth public key invalid, requests will be rejected")
		}
		handler = middleware.NewAuthMiddleware(key, log, skipPaths).Handler(handler)
	} else {
		log.Warn("auth public key not configured, API runs unauthenticated")
	}

	handler = middleware.NewCORSMiddleware(cfg.Server.AllowedOrigins).Handler(handler)
	handler = metrics.InstrumentHandler(handler)
	handler = middleware.NewRequestLogger(log).Handler(handler)
	return handler
}

func buildStores(cfg *config.Config, log *logger.Logger) (stores, *sql.DB, error) {
	if cfg.Database.DSN == "" {
		log.Warn("database dsn not configured, using in-memory storage")
		mem := memory.New()
		return stores{apps: mem, vouches: mem, cooldowns: mem, audit: mem, outbox: mem}, nil, nil
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return stores{}, nil, err
	}
	if err := postgres.Migrate(db); err != nil {
		db.Close()
		return stores{}, nil, fmt.Errorf("run migrations: %w", err)
	}

	pg := postgres.New(db)
	return stores{apps: pg, vouches: pg, cooldowns: pg, audit: pg, outbox: pg}, db, nil
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Run starts the HTTP server, the chat gateway and the orchestrator, and
// blocks until the context is cancelled or a component fails.
func (a *Application) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	if a.gateway != nil {
		if err := a.gateway.Open(); err != nil {
			return fmt.Errorf("open chat gateway: %w", err)
		}
	}
	if a.gateway != nil {
		go func() {
			if err := a.orch.Run(ctx); err != nil && err != context.Canceled {
				errCh <- err
			}
		}()
	}

	go func() {
		a.log.Infof("HTTP server listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the server and releases resources.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if a.gateway != nil {
		if err := a.gateway.Close(); err != nil {
			a.log.WithError(err).Warn("error closing chat gateway")
		}
	}
	if a.auditSink != nil {
		if err := a.auditSink.Close(); err != nil {
			a.log.WithError(err).Warn("error closing audit sink")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	return nil
}

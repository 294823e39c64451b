package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rittima/CRM-Team-sub000/internal/domain/auth"
	"github.com/rittima/CRM-Team-sub000/internal/domain/leave"
	"github.com/rittima/CRM-Team-sub000/internal/domain/notifications"
	"github.com/rittima/CRM-Team-sub000/internal/domain/users"
	"github.com/rittima/CRM-Team-sub000/internal/platform/config"
	"github.com/rittima/CRM-Team-sub000/internal/platform/db"
	"github.com/rittima/CRM-Team-sub000/internal/platform/email"
	"github.com/rittima/CRM-Team-sub000/internal/platform/idempotency"
	"github.com/rittima/CRM-Team-sub000/internal/platform/jobs"
	"github.com/rittima/CRM-Team-sub000/internal/platform/metrics"
	"github.com/rittima/CRM-Team-sub000/internal/platform/mongodb"
	"github.com/rittima/CRM-Team-sub000/internal/transport/http/api"
	leavehandler "github.com/rittima/CRM-Team-sub000/internal/transport/http/handlers/leave"
	"github.com/rittima/CRM-Team-sub000/internal/transport/http/middleware"
	"github.com/rittima/CRM-Team-sub000/migrations"
)

type App struct {
	Config  config.Config
	Router  http.Handler
	Jobs    *jobs.Service
	Metrics *metrics.Collector
	Users   users.Store

	stores stores
}

type stores struct {
	leave       leave.Store
	users       users.Store
	idempotency idempotency.Store
	close       func()
}

func openStores(ctx context.Context, cfg config.Config) (stores, error) {
	switch cfg.StoreDriver {
	case config.DriverMongo:
		client, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return stores{}, err
		}
		closeClient := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Close(closeCtx); err != nil {
				slog.Warn("mongodb disconnect failed", "err", err)
			}
		}
		leaveStore, err := leave.NewMongoStore(ctx, client)
		if err != nil {
			closeClient()
			return stores{}, err
		}
		userStore, err := users.NewMongoStore(ctx, client)
		if err != nil {
			closeClient()
			return stores{}, err
		}
		idemStore, err := idempotency.NewMongoStore(ctx, client)
		if err != nil {
			closeClient()
			return stores{}, err
		}
		return stores{leave: leaveStore, users: userStore, idempotency: idemStore, close: closeClient}, nil

	default:
		pool, err := db.Connect(ctx, cfg)
		if err != nil {
			return stores{}, fmt.Errorf("db connect: %w", err)
		}
		if cfg.RunMigrations {
			if err := db.Migrate(cfg.DatabaseURL, migrations.FS); err != nil {
				pool.Close()
				return stores{}, fmt.Errorf("migrations: %w", err)
			}
		}
		return stores{
			leave:       leave.NewPGStore(pool),
			users:       users.NewPGStore(pool),
			idempotency: idempotency.NewPGStore(pool),
			close:       pool.Close,
		}, nil
	}
}

// New connects the configured store driver and assembles the HTTP stack.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.JWTSecret == "" {
		slog.Warn("JWT_SECRET is empty; bearer tokens are signed with an empty key")
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.RunSeed {
		hrID, err := db.Seed(ctx, st.users, cfg)
		if err != nil {
			st.close()
			return nil, fmt.Errorf("seed: %w", err)
		}
		if hrID != "" {
			slog.Info("seeded hr reviewer", "userId", hrID)
		}
	}

	collector := metrics.New()
	service := leave.NewService(st.leave, st.users)
	jobsSvc := jobs.New(service, cfg.ReconcileInterval, collector)
	notify := notifications.New(email.New(cfg), cfg.EmailFrom)

	leaveHandler := leavehandler.NewHandler(service, auth.StaticPermissions{}, notify, jobsSvc, st.idempotency, collector)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.SecureHeaders(cfg.IsProduction()))
	router.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	router.Use(middleware.Logger(collector))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Auth(cfg.JWTSecret))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := st.leave.Ping(ctx); err != nil {
			http.Error(w, "store not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if cfg.MetricsEnabled {
		router.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			api.Success(w, collector.Snapshot(), middleware.GetRequestID(r.Context()))
		})
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(middleware.NewLimiter(cfg.RateLimitPerMinute), cfg.TrustProxyHeaders))
		leaveHandler.RegisterRoutes(r)
		r.With(middleware.RequirePermission(auth.PermLeaveReview, auth.StaticPermissions{})).Get("/jobs", func(w http.ResponseWriter, r *http.Request) {
			api.Success(w, jobsSvc.History(), middleware.GetRequestID(r.Context()))
		})
	})

	return &App{
		Config:  cfg,
		Router:  router,
		Jobs:    jobsSvc,
		Metrics: collector,
		Users:   st.users,
		stores:  st,
	}, nil
}

func (a *App) Close() {
	if a.stores.close != nil {
		a.stores.close()
	}
}

func Run() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := New(ctx, cfg)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer app.Close()

	app.Jobs.Start(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("server shutdown failed", "err", err)
		}
	}()

	slog.Info("leave service listening", "addr", cfg.Addr, "store", cfg.StoreDriver)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server failed: %v", err)
	}
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/palisade-io/palisade/internal/app"
	"github.com/palisade-io/palisade/internal/audit"
	"github.com/palisade-io/palisade/internal/authz"
	"github.com/palisade-io/palisade/internal/delegation"
	"github.com/palisade-io/palisade/internal/emergency"
	"github.com/palisade-io/palisade/internal/observability"
	"github.com/palisade-io/palisade/internal/permissions"
	"github.com/palisade-io/palisade/internal/resources"
	"github.com/palisade-io/palisade/internal/roles"
	"github.com/palisade-io/palisade/internal/tenancy"
	"github.com/palisade-io/palisade/internal/users"
	"github.com/palisade-io/palisade/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := observability.New()
	recorder := audit.NewRecorder(pool)

	tenancyService := tenancy.NewService(tenancy.NewRepository(pool))

	userRepo := users.NewRepository(pool)
	userService := users.NewService(userRepo, tenancyService, recorder)

	permRepo := permissions.NewRepository(pool)
	permService := permissions.NewService(permRepo, tenancyService, recorder)

	roleRepo := roles.NewRepository(pool)
	roleCache := roles.NewCache(redisClient, cfg.GraphCacheTTL)
	roleResolver := roles.NewResolver(roleRepo, roleCache)
	roleService := roles.NewService(roleRepo, tenancyService, userService, roleCache, roleResolver, recorder)

	resourceRepo := resources.NewRepository(pool)
	resourceService := resources.NewService(resourceRepo, tenancyService, recorder)

	delegationRepo := delegation.NewRepository(pool)
	delegationService := delegation.NewService(delegationRepo, userService, permRepo, roleService, jobClient, recorder)

	emergencyRepo := emergency.NewRepository(pool)
	emergencyService := emergency.NewService(emergencyRepo, userService, jobClient, recorder)

	engine := authz.NewEngine(
		userService,
		permRepo,
		roleService,
		delegationService,
		emergencyService,
		resourceRepo,
		recorder,
		metrics,
	)

	auditService := audit.NewService(pool)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Engine:             engine,
		AuthzHandler:       authz.NewHandler(logger, engine),
		UsersHandler:       users.NewHandler(logger, userService),
		RolesHandler:       roles.NewHandler(logger, roleService),
		PermissionsHandler: permissions.NewHandler(logger, permService),
		ResourcesHandler:   resources.NewHandler(logger, resourceService, engine, resourceRepo),
		DelegationHandler:  delegation.NewHandler(logger, delegationService),
		EmergencyHandler:   emergency.NewHandler(logger, emergencyService),
		AuditHandler:       audit.NewHandler(logger, auditService),
		JobHandler:         jobs.NewHandler(asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr}), logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server run", slog.Any("error", err))
			os.Exit(1)
		}
	}
}

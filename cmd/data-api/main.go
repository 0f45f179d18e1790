package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tabular/tabular-backend/internal/accesscontrol"
	"github.com/tabular/tabular-backend/internal/dataapi"
	"github.com/tabular/tabular-backend/internal/dataapi/handler"
	"github.com/tabular/tabular-backend/internal/iam"
	"github.com/tabular/tabular-backend/internal/tenantdb"
	"github.com/tabular/tabular-backend/pkg/config"
	"github.com/tabular/tabular-backend/pkg/database"
	"github.com/tabular/tabular-backend/pkg/httputil"
	"github.com/tabular/tabular-backend/pkg/logger"
	"github.com/tabular/tabular-backend/pkg/messaging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("data-api", cfg.Environment)
	log.Info().Msg("starting Data API")

	// Admin database: provisioning catalog, ownerships, policies, audit
	adminDB, err := database.Connect(cfg.AdminDatabaseURL(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to admin database")
	}
	defer adminDB.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := tenantdb.EnsureAdminSchema(ctx, adminDB, log); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure admin schema")
	}

	// Optional audit fanout; an empty broker URL disables it
	var publisher *messaging.Publisher
	if cfg.RabbitMQ.URL != "" {
		rmq, err := messaging.New(&cfg.RabbitMQ, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer rmq.Close()

		publisher, err = messaging.NewPublisher(rmq, dataapi.AuditEventsExchange, "data-api", log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}
	}

	verifier, err := buildVerifier(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build token verifier")
	}

	// Tenant database plumbing
	resolver := tenantdb.NewConnectionResolver(adminDB, cfg)
	poolCache := tenantdb.NewPoolCache(log)
	defer poolCache.Close()
	pools := dataapi.NewTenantPools(resolver, poolCache)

	ownerships := tenantdb.NewOwnershipStore(adminDB)

	// Access control pipeline
	policyStore := accesscontrol.NewPolicyStore(adminDB)
	decisionAudit := accesscontrol.NewDecisionAuditStore(adminDB)
	aclService := accesscontrol.NewService(policyStore,
		accesscontrol.NewDecisionCache(accesscontrol.DefaultDecisionCacheTTL),
		decisionAudit, log)
	aclFacade := accesscontrol.NewFacade(aclService, policyStore)

	// Data API coordinator
	metadata := dataapi.NewMetadataStore(pools)
	executor := dataapi.NewExecutor(pools)
	auditLog := dataapi.NewAuditLogStore(adminDB)
	fanout := dataapi.NewEventFanout(publisher, log)
	dataService := dataapi.NewService(metadata, executor, aclFacade, auditLog, fanout, log)

	dataHandler := handler.New(dataService, log)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "x-tenant-id", "x-tenant-schema", "x-request-id", "x-subject-owner-id", "x-row-owner-id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  "data-api",
			"database": adminDB.Health(r.Context()),
		})
	})

	r.Route("/api/{version}", func(r chi.Router) {
		r.Use(handler.APIVersion)
		r.Use(handler.Auth(verifier, ownerships, log))
		dataHandler.Register(r)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// buildVerifier wires the token verifier for the configured IAM mode:
// grpc talks to the identity service with caching and a circuit
// breaker, local validates HS256 tokens with a shared secret.
func buildVerifier(cfg *config.Config, log *logger.Logger) (iam.Verifier, error) {
	switch cfg.IAM.Mode {
	case "grpc":
		client, err := iam.NewGRPCClient(&cfg.IAM, log)
		if err != nil {
			return nil, err
		}
		return iam.NewCachedVerifier(client, &cfg.IAM, log), nil
	case "local":
		return iam.NewLocalVerifier(cfg.IAM.LocalJWTSecret, log)
	default:
		return nil, fmt.Errorf("unsupported IAM mode %q", cfg.IAM.Mode)
	}
}

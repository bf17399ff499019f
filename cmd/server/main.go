package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/NicoZweifel/aquila/pkg/audit"
	"github.com/NicoZweifel/aquila/pkg/auth"
	"github.com/NicoZweifel/aquila/pkg/compute"
	"github.com/NicoZweifel/aquila/pkg/compute/batch"
	"github.com/NicoZweifel/aquila/pkg/compute/local"
	"github.com/NicoZweifel/aquila/pkg/config"
	"github.com/NicoZweifel/aquila/pkg/gateway"
	"github.com/NicoZweifel/aquila/pkg/logging"
	"github.com/NicoZweifel/aquila/pkg/service"
	"github.com/NicoZweifel/aquila/pkg/storage"
	"github.com/NicoZweifel/aquila/pkg/token"
	"github.com/NicoZweifel/aquila/pkg/webhook"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()
	fmt.Printf("Starting Aquila gateway on %s...\n", cfg.ServerPort)

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})

	store, err := storage.NewS3Driver(cfg, redisClient, logger)
	if err != nil {
		log.Fatalf("failed to initialize storage driver: %v", err)
	}

	tokens := token.NewService(cfg.JWTSecret)

	var delegate auth.Provider
	if cfg.OAuthClientID != "" {
		delegate = auth.NewOAuthProvider(
			cfg.OAuthClientID,
			cfg.OAuthClientSecret,
			cfg.OAuthAuthURL,
			cfg.OAuthTokenURL,
			cfg.OAuthRedirectURL,
			cfg.OAuthUserInfoURL,
			cfg.TokenDefaultScopes,
		)
	}

	var elevator gateway.Elevator
	if cfg.ElevationPolicyPath != "" {
		policySource, err := os.ReadFile(cfg.ElevationPolicyPath)
		if err != nil {
			log.Fatalf("failed to read elevation policy: %v", err)
		}
		elev, err := gateway.NewPolicyElevator(ctx, string(policySource))
		if err != nil {
			log.Fatalf("failed to compile elevation policy: %v", err)
		}
		elevator = elev
	}

	var backend compute.Backend
	switch cfg.ComputeDriver {
	case "batch":
		b, err := batch.NewBackend(ctx, cfg.LogGroupPrefix)
		if err != nil {
			log.Fatalf("failed to initialize AWS Batch backend: %v", err)
		}
		backend = b
	default:
		localBackend := local.NewBackend(redisClient, logger)
		go func() {
			logger.Info("starting local compute worker")
			localBackend.RunWorker(ctx)
		}()
		backend = localBackend
	}

	hook := webhook.NewService(cfg.WebhookURL, logger)
	auditService := audit.NewService(logger)

	reg := &service.Registry{
		Storage:      store,
		Tokens:       tokens,
		Delegate:     delegate,
		Elevator:     elevator,
		Backend:      backend,
		Webhook:      hook,
		Audit:        auditService,
		Log:          logger,
		CallbackPath: cfg.OAuthCallbackPath,
	}

	router := service.NewRouter(reg)
	handler := service.WithGlobalMiddleware(logger, router)

	logger.Fatal(http.ListenAndServe(cfg.ServerPort, handler))
}

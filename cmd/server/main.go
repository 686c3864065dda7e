package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"seatswap-backend/internal/api"
	"seatswap-backend/internal/auth"
	"seatswap-backend/internal/config"
	"seatswap-backend/internal/escrow"
	"seatswap-backend/internal/repository"
	"seatswap-backend/internal/service"

	"github.com/joho/godotenv"
)

func main() {
	// Load .env before reading the configuration. The app still runs
	// without one when the variables are set in the environment.
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file loaded, using process environment")
	}

	var cfg config.Config
	if err := config.Load(&cfg); err != nil {
		slog.Error("load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelDebug
	if cfg.Environment == "production" {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	initCtx, cancelInit := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelInit()

	store, err := repository.NewPostgresStore(initCtx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect to database", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("connected to PostgreSQL")

	migrationSQL, err := os.ReadFile("./migrations/001_init.sql")
	if err != nil {
		logger.Error("read migration file", "error", err)
		os.Exit(1)
	}
	if err := store.RunMigrations(initCtx, string(migrationSQL)); err != nil {
		logger.Warn("run migrations", "error", err)
	} else {
		logger.Info("database migrations applied")
	}

	tokenService, err := auth.NewTokenService(cfg.JWTSecret)
	if err != nil {
		logger.Error("init token service", "error", err)
		os.Exit(1)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nonces := auth.NewNonceRegistry(time.Duration(cfg.NonceTTLSeconds) * time.Second)
	go nonces.Run(rootCtx, auth.DefaultSweepInterval)

	domains := auth.AllowedDomains(cfg.SiweDomain, cfg.Environment == "production")
	siweVerifier := auth.NewSiweVerifier(nonces, store, domains, cfg.ChainID)

	var bridge service.EscrowBridge
	if cfg.RPCURL != "" {
		client, err := escrow.Dial(cfg.RPCURL)
		if err != nil {
			logger.Error("connect to RPC endpoint", "url", cfg.RPCURL, "error", err)
			os.Exit(1)
		}
		defer client.Close()
		bridge = escrow.NewBridge(client, logger)
		logger.Info("escrow confirmation bridge enabled", "rpc", cfg.RPCURL)
	} else {
		logger.Warn("RPC_URL not set, on-chain escrow checks disabled")
	}

	s3Client, err := service.NewS3Client(initCtx, cfg.AWSRegion, cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey)
	if err != nil {
		logger.Error("init S3 client", "error", err)
		os.Exit(1)
	}
	storage := service.NewS3Service(s3Client, cfg.AWSBucketName, cfg.AWSRegion)

	dealService := service.NewDealService(store, storage, bridge, logger)
	userService := service.NewUserService(store, logger)

	handler := api.NewHandler(dealService, userService, tokenService, nonces, siweVerifier, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      handler.Routes(cfg.AllowedOrigins),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("server listening", "port", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped", "error", err)
			os.Exit(1)
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

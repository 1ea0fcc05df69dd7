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

	challengememory "collie-procedures-backend/pkg/adapters/challenge/memory"
	challengeredis "collie-procedures-backend/pkg/adapters/challenge/redis"
	"collie-procedures-backend/pkg/adapters/filestorage/s3"
	"collie-procedures-backend/pkg/adapters/httpapi"
	"collie-procedures-backend/pkg/adapters/notify"
	"collie-procedures-backend/pkg/adapters/storage/dynamodb"
	"collie-procedures-backend/pkg/config"
	"collie-procedures-backend/pkg/ports"
	"collie-procedures-backend/pkg/services"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := dynamodb.NewClient(ctx)
	if err != nil {
		return err
	}
	procedures := dynamodb.NewProcedureRepository(db, cfg.ProceduresTable)
	observations := dynamodb.NewObservationRepository(db, cfg.ObservationsTable, cfg.ProceduresTable)
	documents := dynamodb.NewDocumentRepository(db, cfg.DocumentsTable)
	workers := dynamodb.NewWorkerDirectory(db, cfg.WorkersTable)

	files, err := s3.NewS3FileStorage(ctx, cfg.DocumentsBucket)
	if err != nil {
		return err
	}

	policy := cfg.Signature.LockoutPolicy()
	var challenges ports.ChallengeStore
	var attempts ports.AttemptLimiter
	switch cfg.ChallengeStore {
	case config.BackendRedis:
		client := challengeredis.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return err
		}
		store := challengeredis.NewStore(client, policy, time.Now)
		challenges, attempts = store, store
	default:
		logger.Warn("using in-memory challenge store, codes are not shared between replicas")
		challenges = challengememory.NewChallengeStore()
		attempts = challengememory.NewAttemptLimiter(policy, time.Now)
	}

	sender := notify.NewLogSender(logger, cfg.Signature.RevealCodes)
	opts := []services.Option{services.WithLogger(logger)}
	sigCfg := services.DefaultSignatureConfig()
	sigCfg.CodeTTL = cfg.Signature.CodeTTL
	sigCfg.CodeLength = cfg.Signature.CodeLength
	sigCfg.RequestEvery = cfg.Signature.RequestEvery
	sigCfg.RequestBurst = cfg.Signature.RequestBurst

	validator, err := httpapi.NewTokenValidator([]byte(cfg.JWTSecret), cfg.JWTIssuer)
	if err != nil {
		return err
	}
	router := httpapi.NewRouter(httpapi.Services{
		Procedures:   services.NewProcedureService(procedures, documents, opts...),
		Signatures:   services.NewSignatureService(procedures, workers, challenges, attempts, sender, sigCfg, opts...),
		Observations: services.NewObservationService(procedures, observations, documents, sender, opts...),
		Documents:    services.NewDocumentService(files, documents, procedures, opts...),
	}, httpapi.Options{
		Validator:  validator,
		Logger:     logger,
		TrustProxy: cfg.TrustProxy,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prepdeck/prepdeck-backend/internal/config"
	"github.com/prepdeck/prepdeck-backend/internal/database"
	"github.com/prepdeck/prepdeck-backend/internal/handler"
	"github.com/prepdeck/prepdeck-backend/internal/logger"
	"github.com/prepdeck/prepdeck-backend/internal/repository"
	"github.com/prepdeck/prepdeck-backend/internal/router"
	"github.com/prepdeck/prepdeck-backend/internal/service"
	"github.com/prepdeck/prepdeck-backend/internal/validator"
	"github.com/prepdeck/prepdeck-backend/internal/worker"
	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}

func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Msg("starting prepdeck api")

	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres unavailable")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("redis unavailable")
	}
	defer rdb.Close()

	userRepo := repository.NewUserRepository(pool)
	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool)
	progressRepo := repository.NewProgressRepository(pool)

	authService := service.NewAuthService(cfg, rdb)
	userService := service.NewUserService(userRepo, authService, log)
	examService := service.NewExamService(examRepo, rdb, log)
	questionService := service.NewQuestionService(questionRepo)
	progressService := service.NewProgressService(progressRepo)
	completionQueue := service.NewRedisCompletionQueue(rdb, log)
	studyService := service.NewStudySessionService(sessionRepo, questionService, examService, log)
	testService := service.NewTestSessionService(sessionRepo, questionService, examService, completionQueue, cfg, log)

	handlers := &router.Handlers{
		Auth:         handler.NewAuthHandler(authService, userService),
		Exam:         handler.NewExamHandler(examService),
		StudySession: handler.NewStudySessionHandler(studyService),
		TestSession:  handler.NewTestSessionHandler(testService),
		Progress:     handler.NewProgressHandler(progressService),
		WS:           handler.NewWSHandler(testService, log, cfg.AllowedOrigins),
	}

	// Workers run on their own context so the HTTP server can stop first
	// and the completion queue still drains.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	go worker.NewProgressWorker(pool, rdb, log).Start(workerCtx)
	go worker.NewExpiryWorker(testService, cfg.ExpirySweepInterval, log).Start(workerCtx)

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router.SetupRouter(authService, handlers, cfg),
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}

	workerCancel()
	time.Sleep(2 * time.Second)

	log.Info().Msg("shutdown complete")
}

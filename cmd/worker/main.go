package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nathanasimon/memoryd/config"
	"github.com/nathanasimon/memoryd/internal/classify"
	"github.com/nathanasimon/memoryd/internal/entitylink"
	"github.com/nathanasimon/memoryd/internal/health"
	"github.com/nathanasimon/memoryd/internal/jobhandler"
	ctxlog "github.com/nathanasimon/memoryd/internal/log"
	"github.com/nathanasimon/memoryd/internal/metrics"
	"github.com/nathanasimon/memoryd/internal/model"
	"github.com/nathanasimon/memoryd/internal/queue"
	"github.com/nathanasimon/memoryd/internal/recorder"
	"github.com/nathanasimon/memoryd/internal/retrieve"
	"github.com/nathanasimon/memoryd/internal/skill"
	"github.com/nathanasimon/memoryd/internal/storage/postgres"
	httptransport "github.com/nathanasimon/memoryd/internal/transport/http"
	"github.com/nathanasimon/memoryd/internal/transport/http/handler"
	"github.com/nathanasimon/memoryd/internal/worker"
)

// worker runs the cold-path job claimers (spec §4.I) plus a metrics
// endpoint and a localhost-only debug/introspection HTTP surface.
// Grounded on the teacher's cmd/scheduler/main.go: config -> logger ->
// pool -> stores -> components -> run.
func main() {
	cfg, err := config.Load(os.Getenv("MEMORYD_CONFIG"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.General.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.General.DatabaseURL)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	logger.Info("db connected")

	metrics.Register()
	checker := health.NewChecker(pool, logger, prometheus.DefaultRegisterer)

	sessions := postgres.NewSessionStore(pool)
	turns := postgres.NewTurnStore(pool)
	projects := postgres.NewProjectStore(pool)
	people := postgres.NewPersonStore(pool)
	tasks := postgres.NewTaskStore(pool)
	commitments := postgres.NewCommitmentStore(pool)
	artifacts := postgres.NewArtifactStore(pool)
	skills := postgres.NewSkillStore(pool)
	jobs := postgres.NewJobStore(pool)

	q := queue.New(jobs)
	rec := recorder.New(sessions, turns, q, logger)
	classifier := classify.New(projects, people)
	linker := entitylink.New(classifier, turns, projects, sessions)
	generator := model.New(cfg.General.ModelBaseURL, cfg.General.ModelAPIKey, logger)
	skillEngine := skill.New(turns, skills, generator, cfg.Skills.BaseDir, cfg.Skills.MinQualityScore, logger)
	retriever := retrieve.New(turns, tasks, commitments, skills, artifacts, projects)

	handlers := jobhandler.New(jobhandler.Deps{
		Sessions:  sessions,
		Turns:     turns,
		Recorder:  rec,
		Linker:    linker,
		Skills:    skillEngine,
		Generator: generator,
		Logger:    logger,
	})

	w := worker.New(q, handlers, cfg.Worker.Claimers, cfg.Worker.PollInterval(), cfg.Worker.Lease(), logger)
	go w.Start(ctx)

	metricsSrv := metrics.NewServer(":" + cfg.General.MetricsPort)
	go func() {
		logger.Info("metrics server started", "port", cfg.General.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	debugRouter := httptransport.NewRouter(logger,
		handler.NewHealthHandler(checker),
		handler.NewJobHandler(jobs),
		handler.NewSkillHandler(skills),
		handler.NewContextHandler(classifier, retriever, cfg.Context.TokenBudget),
	)
	debugSrv := http.Server{Addr: "127.0.0.1:" + cfg.General.DebugPort, Handler: debugRouter}
	go func() {
		logger.Info("debug server started", "port", cfg.General.DebugPort)
		if err := debugSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("debug server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("worker shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
	if err := debugSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("debug server shutdown", "error", err)
	}

	logger.Info("worker shut down")
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}

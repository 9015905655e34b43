package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/letsssgooo/examSession/internal/client"
	"github.com/letsssgooo/examSession/internal/config"
	"github.com/letsssgooo/examSession/internal/console"
	"github.com/letsssgooo/examSession/internal/lib/slogcustom"
	"github.com/letsssgooo/examSession/internal/metrics"
	"github.com/letsssgooo/examSession/internal/session"
	"github.com/letsssgooo/examSession/internal/storage"
	"github.com/letsssgooo/examSession/internal/storage/postgres"
	"github.com/letsssgooo/examSession/internal/submission"
	"github.com/letsssgooo/examSession/internal/tracing"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("exam session failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	fs := pflag.NewFlagSet("examsession", pflag.ContinueOnError)

	cfg, err := config.Load(fs, os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if err = cfg.Validate(); err != nil {
		return err
	}

	log := setupLogger(cfg.Log).With(
		slog.String("run_id", uuid.NewString()),
		slog.String("assessment_id", cfg.AssessmentID),
	)
	slog.SetDefault(log)
	log.Info("starting exam session...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp := tracing.Init()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, reg, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	store, closeStore, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer closeStore()

	api := client.NewHTTPClient(cfg.Backend.BaseURL, cfg.Backend.Token,
		client.WithTimeout(cfg.Backend.Timeout),
		client.WithRateLimit(cfg.Backend.RPS, 1),
	)

	lines := console.ReadLines(os.Stdin)

	ctrl := session.New(cfg.AssessmentID, cfg.UserID,
		session.Deps{
			Permission: console.NewPrompt(os.Stdout, lines),
			Catalog:    api,
			Grading:    api,
		},
		session.WithLogger(log),
		session.WithMetrics(m),
		session.WithRetryLimit(cfg.Retry.ManualLimit),
		session.WithPipelineOptions(submission.WithRetryPolicy(submission.RetryPolicy{
			Attempts:        cfg.Retry.Attempts,
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
		})),
	)

	opts := []console.Option{
		console.WithLogger(log),
		console.WithStorage(store),
		console.WithReportPath(cfg.Report.CSVPath),
	}
	if !cfg.Log.Color {
		opts = append(opts, console.WithoutColor())
	}

	err = console.NewRunner(ctrl, lines, os.Stdout, opts...).Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info("exam session finished", slog.String("state", ctrl.Snapshot().State.String()))

	return nil
}

// setupLogger пишет в stderr или, если задан log.file, в файл с ротацией без цвета.
func setupLogger(cfg config.LogConfig) *slog.Logger {
	level, _ := cfg.SlogLevel()

	var (
		out  io.Writer = os.Stderr
		opts []slogcustom.Option
	)

	if cfg.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}
		opts = append(opts, slogcustom.WithoutColor())
	} else if !cfg.Color {
		opts = append(opts, slogcustom.WithoutColor())
	}

	return slog.New(slogcustom.NewCustomHandler(out, level, opts...))
}

func serveMetrics(addr string, g prometheus.Gatherer, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()

	return srv
}

// openStorage открывает архив результатов. Без DSN результаты хранятся в памяти процесса.
func openStorage(ctx context.Context, cfg config.StorageConfig) (storage.Storage, func(), error) {
	if cfg.DSN == "" {
		return storage.NewMemoryStorage(), func() {}, nil
	}

	pg, err := postgres.NewStorage(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, err
	}

	if err = pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, nil, err
	}

	return pg, pg.Close, nil
}

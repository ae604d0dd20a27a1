// Command pagelens runs the OCR service: "serve" starts the HTTP API and
// "worker" starts the queue consumer. Both share the same configuration.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pagelens/pagelens/internal/api"
	"github.com/pagelens/pagelens/internal/cache"
	"github.com/pagelens/pagelens/internal/config"
	"github.com/pagelens/pagelens/internal/database"
	"github.com/pagelens/pagelens/internal/engine"
	"github.com/pagelens/pagelens/internal/queue"
	"github.com/pagelens/pagelens/internal/repository"
	"github.com/pagelens/pagelens/internal/s3mirror"
	"github.com/pagelens/pagelens/internal/storage"
	"github.com/pagelens/pagelens/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "pagelens: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "pagelens",
		Short:        "PageLens OCR service",
		SilenceUsage: true,
	}
	cmd.AddCommand(newServeCmd(), newWorkerCmd())
	return cmd
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return log
}

func newEngine(cfg *config.Config) (engine.Engine, error) {
	switch cfg.EngineKind {
	case "remote":
		return engine.NewRemote(cfg.SidecarURL, cfg.SidecarToken, cfg.SidecarTimeout), nil
	case "tesseract":
		return engine.NewTesseract(cfg.Languages...), nil
	default:
		return nil, fmt.Errorf("unknown engine kind %q", cfg.EngineKind)
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			pool, err := database.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer pool.Close()
			if err := database.EnsureSchema(ctx, pool); err != nil {
				return fmt.Errorf("ensure schema: %w", err)
			}
			repo := repository.NewTaskRepository(pool)
			files := storage.NewManager(cfg.DataRoot)
			eng, err := newEngine(cfg)
			if err != nil {
				return err
			}
			redisOpt := asynq.RedisClientOpt{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			}
			queueClient := asynq.NewClient(redisOpt)
			defer queueClient.Close()
			statusCache := cache.NewStatusCache(redis.NewClient(&redis.Options{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			}))
			srv := api.New(cfg, repo, files, eng, &queue.PDFEnqueuer{Client: queueClient}, statusCache, log)
			return srv.Run(ctx)
		},
	}
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the PDF OCR worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			pool, err := database.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer pool.Close()
			if err := database.EnsureSchema(ctx, pool); err != nil {
				return fmt.Errorf("ensure schema: %w", err)
			}
			repo := repository.NewTaskRepository(pool)
			files := storage.NewManager(cfg.DataRoot)
			eng, err := newEngine(cfg)
			if err != nil {
				return err
			}
			mirror, err := s3mirror.New(cfg)
			if err != nil {
				return fmt.Errorf("init archive mirror: %w", err)
			}
			if mirror != nil {
				if err := mirror.EnsureBucket(ctx); err != nil {
					return fmt.Errorf("ensure archive bucket: %w", err)
				}
			}
			srv := asynq.NewServer(asynq.RedisClientOpt{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			}, asynq.Config{
				Concurrency: cfg.Concurrency,
				Logger:      log,
			})
			processor := worker.NewProcessor(repo, files, eng, &worker.PopplerSplitter{}, mirror, cfg, log)

			go func() {
				<-ctx.Done()
				srv.Shutdown()
			}()
			log.WithField("concurrency", cfg.Concurrency).Info("worker starting")
			return srv.Run(processor.Handler())
		},
	}
}

package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"exam-session-engine/internal/app"
	"exam-session-engine/internal/config"
	"exam-session-engine/internal/infra/memory"
	pgloader "exam-session-engine/internal/infra/postgres"
	redisstore "exam-session-engine/internal/infra/redis"
	transport "exam-session-engine/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the exam backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	service, cleanup, err := buildService(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()
	wsHandler := transport.NewWSHandler(service, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting exam backend")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildService picks the stores from cfg: Redis when an address is set, memory
// otherwise; exam content from Postgres when a URL is set, the samples otherwise.
func buildService(ctx context.Context, cfg config.Config, log zerolog.Logger) (*app.AttemptService, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, func() { _ = redisClient.Close() })
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 24*time.Hour)

	var loader memory.ExamLoader
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		loader = pgloader.NewExamLoader(pool, log)
	} else {
		payloads, err := samplePayloads(log)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		loader = memory.NewStaticExamLoader(payloads)
	}

	examTTL := config.TTLDuration(cfg.Exam.TTL, 10*time.Minute)
	var exams app.ExamRepository
	var ledger app.LedgerRepository
	if redisClient != nil {
		exams = redisstore.NewExamRepository(redisClient, loader, examTTL, log)
		ledger = redisstore.NewLedger(redisClient, redisTTL)
	} else {
		exams = memory.NewExamRepository(loader, examTTL)
		ledger = memory.NewLedger()
	}

	settings := app.DefaultSettings()
	settings.Grace = config.TTLDuration(cfg.Attempt.Grace, settings.Grace)
	settings.CodeTTL = config.TTLDuration(cfg.Attempt.CodeTTL, settings.CodeTTL)

	service := app.NewAttemptService(ledger, exams, app.LogCodeSender{Log: log}, settings, log)
	return service, cleanup, nil
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/the16thpythonist/lukas-chat-bear-sub001/internal/api"
	"github.com/the16thpythonist/lukas-chat-bear-sub001/internal/cache"
	"github.com/the16thpythonist/lukas-chat-bear-sub001/internal/client"
	"github.com/the16thpythonist/lukas-chat-bear-sub001/internal/config"
	"github.com/the16thpythonist/lukas-chat-bear-sub001/internal/repo"
	"github.com/the16thpythonist/lukas-chat-bear-sub001/internal/service"
	"github.com/the16thpythonist/lukas-chat-bear-sub001/internal/timeparse"
	"github.com/the16thpythonist/lukas-chat-bear-sub001/internal/trigger"
)

func main() {
	_ = godotenv.Load()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg, err := config.LoadAll()
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("pgx", cfg.Database.PostgresURL)
	if err != nil {
		return err
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return err
	}

	if err := repo.Migrate(ctx, db); err != nil {
		return err
	}

	eventRepo := repo.NewPostgresEventRepo(db)
	recurringRepo := repo.NewPostgresRecurringTaskRepo(db)

	resolver, err := timeparse.NewResolver(cfg.Scheduler.Timezone)
	if err != nil {
		return err
	}

	var newReceipts func() cache.ReceiptCache
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		newReceipts = func() cache.ReceiptCache {
			return cache.NewRedisCache(rdb, cfg.Redis.TTL)
		}
	}

	// The executor resolves its store and delivery client per invocation,
	// so a fire never runs against handles captured before a restart.
	executor := service.NewExecutor(service.ExecutorDeps{
		OpenStore: func() (repo.EventRepository, func() error, error) {
			conn, err := sql.Open("pgx", cfg.Database.PostgresURL)
			if err != nil {
				return nil, nil, err
			}
			return repo.NewPostgresEventRepo(conn), conn.Close, nil
		},
		NewDelivery: func() service.DeliveryClient {
			return client.NewChatClient(cfg.Delivery.BaseURL, cfg.Delivery.Token)
		},
		NewReceipts: newReceipts,
	}, log)

	engine, err := trigger.New(trigger.Config{
		Timezone:     cfg.Scheduler.Timezone,
		MisfireGrace: cfg.Scheduler.MisfireGrace,
	}, executor.Handle, log)
	if err != nil {
		return err
	}
	engine.Start()
	defer engine.Stop()

	eventSvc := service.NewEventService(eventRepo, engine, resolver, log)

	restored, missed, err := eventSvc.RestoreTriggers(ctx)
	if err != nil {
		return err
	}
	log.Info("triggers restored", "restored", restored, "missed", missed)

	runner := service.NewRecurringRunner(recurringRepo, recurringActions(log), log)
	if err := runner.Register(engine); err != nil {
		return err
	}
	if err := runner.EnsureSeeded(ctx); err != nil {
		return err
	}

	unifiedSvc := service.NewUnifiedViewService(eventRepo, recurringRepo, engine, log)

	handler := api.NewHandler(eventSvc, unifiedSvc, log)
	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: loggingMiddleware(api.Router(handler)),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func recurringActions(log *slog.Logger) map[string]service.TaskAction {
	if log == nil {
		log = slog.Default()
	}
	action := func(name string) service.TaskAction {
		return func(ctx context.Context) error {
			log.Info("recurring task tick", "task", name)
			return nil
		}
	}
	return map[string]service.TaskAction{
		"random_dm_task":     action("random_dm_task"),
		"daily_checkin_task": action("daily_checkin_task"),
		"weekly_digest_task": action("weekly_digest_task"),
	}
}

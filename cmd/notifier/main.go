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
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/beltoft/restock/internal/api"
	"github.com/beltoft/restock/internal/catalog"
	"github.com/beltoft/restock/internal/circuitbreaker"
	"github.com/beltoft/restock/internal/config"
	"github.com/beltoft/restock/internal/db"
	"github.com/beltoft/restock/internal/email"
	"github.com/beltoft/restock/internal/events"
	"github.com/beltoft/restock/internal/listener"
	"github.com/beltoft/restock/internal/metrics"
	"github.com/beltoft/restock/internal/observ"
	"github.com/beltoft/restock/internal/queue"
	"github.com/beltoft/restock/internal/redis"
	"github.com/beltoft/restock/internal/sender"
	"github.com/beltoft/restock/internal/settings"
	"github.com/beltoft/restock/internal/store"
	"github.com/beltoft/restock/internal/token"
	"github.com/beltoft/restock/internal/validator"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting restock notifier",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("email_driver", cfg.EmailDriver),
	)

	ctx := context.Background()

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.String("database", cfg.DBName),
	)

	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		// Redis backs the job scheduler; without it no notification can be
		// dispatched, so this is fatal unlike a cache outage.
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	provider := settings.Static(settings.Clamp(settings.FromEnv()))

	tokens := token.NewManager(cfg.TokenSecret, cfg.BaseURL)
	subs := store.NewRepository(database, tokens, logger)

	products := catalog.NewRepository(database, logger)
	productCache := catalog.NewCached(products, redis.NewCache(redisClient, 5*time.Minute, logger), logger)

	scheduler := redis.NewScheduler(redisClient, logger)
	jobs := queue.New(scheduler, logger)

	stockListener := listener.New(provider, subs, jobs, productCache, productCache, logger)

	transport, err := newTransport(ctx, cfg, logger)
	if err != nil {
		return err
	}
	transport = email.NewBreakerTransport(transport, circuitbreaker.New(circuitbreaker.DefaultConfig("mail"), logger))

	renderer, err := email.NewRenderer()
	if err != nil {
		return fmt.Errorf("failed to parse email templates: %w", err)
	}

	batchSender := sender.New(subs, productCache, jobs, renderer, transport, tokens, provider, cfg.StoreName, logger)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	dispatcher := redis.NewDispatcher(scheduler, batchSender.Handle, 5*time.Second, logger)
	go dispatcher.Start(workerCtx)
	logger.Info("job dispatcher started")

	// Nightly retention sweep for notified rows.
	sweeper := cron.New()
	if _, err := sweeper.AddFunc("15 3 * * *", func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := batchSender.Cleanup(sweepCtx); err != nil {
			logger.Error("retention sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("failed to register cleanup job: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	var consumer *events.Consumer
	if len(cfg.KafkaBrokers) > 0 {
		consumer = events.New(events.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroupID,
		}, products, stockListener, logger)
		go func() {
			if err := consumer.Run(workerCtx); err != nil {
				logger.Error("product update consumer stopped", zap.Error(err))
			}
		}()
		defer consumer.Close()
		logger.Info("product update consumer started",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic),
		)
	}

	validate := validator.New(provider, subs, logger)
	handler := api.NewHandler(logger, subs, validate, tokens, stockListener, provider)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/subscriptions", handler.CreateSubscription)
		r.Get("/subscriptions", handler.ListSubscriptions)
		r.Post("/subscriptions/bulk-delete", handler.BulkDelete)
		r.Post("/subscriptions/bulk-notify", handler.BulkMarkNotified)

		r.Post("/events/stock", handler.StockEvent)

		r.Get("/stats", handler.Stats)
		r.Get("/stats/products", handler.TopProducts)
	})

	r.Get("/unsubscribe", handler.UnsubscribeForm)
	r.Post("/unsubscribe", handler.Unsubscribe)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		workerCancel()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

func newTransport(ctx context.Context, cfg *config.Config, logger *zap.Logger) (email.Transport, error) {
	switch cfg.EmailDriver {
	case "smtp":
		return email.NewSMTPTransport(email.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}, logger), nil
	case "ses":
		return email.NewSESTransport(ctx, email.SESConfig{
			Region: cfg.AWSRegion,
			From:   cfg.SESFromEmail,
		}, logger)
	default:
		return email.NewLogTransport(logger), nil
	}
}

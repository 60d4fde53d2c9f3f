package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	api "commerce-automation-engine/internal/api"
	"commerce-automation-engine/internal/config"
	"commerce-automation-engine/internal/engine"
	"commerce-automation-engine/internal/mailer"
	"commerce-automation-engine/internal/queue"
	"commerce-automation-engine/internal/ratelimit"
	"commerce-automation-engine/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.WithField("error", err.Error()).Debug("no .env file loaded")
	}
	cfg := config.Load()
	log := newLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.WithField("error", err.Error()).Fatal("connect postgres")
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.WithField("error", err.Error()).Fatal("migrations")
	}

	q := queue.NewRedisQueue(cfg)
	limiterClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.NewShopLimiter(limiterClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	// The sync endpoint runs the same engine the worker does.
	smtpMailer := mailer.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
	dispatcher := engine.NewDispatcher(engine.DispatcherDeps{
		Mailer:        smtpMailer,
		Customers:     st,
		Orders:        st,
		Notifications: st,
		Templates:     st,
		HTTPClient:    &http.Client{Timeout: cfg.WebhookTimeout},
		Logger:        log,
	})
	eng := engine.New(st, st, dispatcher, log)

	server := api.New(cfg, q, eng, st, limiter, log)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.WithField("port", cfg.HTTPPort).Info("api listening")
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithField("error", err.Error()).Fatal("listen")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}

func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	if lvl, err := logrus.ParseLevel(level); err == nil {
		log.SetLevel(lvl)
	}
	return log
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"commerce-automation-engine/internal/config"
	"commerce-automation-engine/internal/engine"
	"commerce-automation-engine/internal/mailer"
	"commerce-automation-engine/internal/queue"
	"commerce-automation-engine/internal/store"
	"commerce-automation-engine/internal/telemetry"
	workerproc "commerce-automation-engine/internal/worker"
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
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
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

	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		if hostname != "" {
			workerID = hostname
		} else {
			workerID = fmt.Sprintf("worker-%d", os.Getpid())
		}
	}

	processor := workerproc.NewProcessor(cfg, q, eng, log, workerID)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.WithField("error", err.Error()).Warn("metrics server stopped")
		}
	}()

	log.WithFields(logrus.Fields{
		"worker_id":       workerID,
		"max_attempts":    cfg.MaxAttempts,
		"backoff_initial": cfg.BackoffInitial.String(),
	}).Info("worker started")
	if err := processor.Run(ctx); err != nil && err != context.Canceled {
		log.WithField("error", err.Error()).Error("worker stopped")
	}
}

func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	if lvl, err := logrus.ParseLevel(level); err == nil {
		log.SetLevel(lvl)
	}
	return log
}

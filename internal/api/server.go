package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"commerce-automation-engine/internal/config"
	"commerce-automation-engine/internal/models"
	"commerce-automation-engine/internal/queue"
	"commerce-automation-engine/internal/ratelimit"
	"commerce-automation-engine/internal/telemetry"
	"commerce-automation-engine/internal/worker"
)

// LogLister reads the audit trail for the operational endpoints.
type LogLister interface {
	ListAutomationLogs(ctx context.Context, shopID string, limit int) ([]models.AutomationLog, error)
}

// Server wires HTTP handlers for event intake and queue operations.
type Server struct {
	cfg     config.Config
	queue   *queue.RedisQueue
	runner  worker.AutomationRunner
	logs    LogLister
	limiter *ratelimit.ShopLimiter
	log     *logrus.Logger
}

// New constructs the API server.
func New(cfg config.Config, q *queue.RedisQueue, runner worker.AutomationRunner, logs LogLister, limiter *ratelimit.ShopLimiter, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.New()
	}
	return &Server{
		cfg:     cfg,
		queue:   q,
		runner:  runner,
		logs:    logs,
		limiter: limiter,
		log:     log,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/events", s.handleEnqueueEvent)
	r.Post("/events/sync", s.handleRunEventSync)
	r.Post("/actions/delayed", s.handleEnqueueDelayedAction)
	r.Get("/queue/stats", s.handleQueueStats)
	r.Get("/queue/jobs", s.handleQueueJobs)
	r.Post("/queue/jobs/{id}/cancel", s.handleCancelJob)
	r.Post("/queue/clean", s.handleCleanQueue)
	r.Get("/shops/{shopID}/logs", s.handleShopLogs)
	return r
}

type eventRequest struct {
	ShopID       string         `json:"shop_id"`
	EventType    string         `json:"event_type"`
	Payload      map[string]any `json:"payload"`
	DelaySeconds int            `json:"delay_seconds"`
}

type delayedActionRequest struct {
	ShopID       string         `json:"shop_id"`
	EventType    string         `json:"event_type"`
	Payload      map[string]any `json:"payload"`
	AutomationID string         `json:"automation_id"`
	ActionIndex  int            `json:"action_index"`
	DelayMs      int64          `json:"delay_ms"`
}

func (s *Server) handleEnqueueEvent(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeEvent(w, r)
	if !ok {
		return
	}
	if !s.allow(w, r, req.ShopID) {
		return
	}

	delay := time.Duration(req.DelaySeconds) * time.Second
	job, err := s.queue.QueueAutomation(r.Context(), req.ShopID, req.EventType, req.Payload, delay)
	if err != nil {
		s.log.WithField("error", err.Error()).Error("enqueue event")
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}
	telemetry.EventsEnqueued.Inc()
	writeJSON(w, http.StatusAccepted, map[string]any{"job": job})
}

func (s *Server) handleRunEventSync(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeEvent(w, r)
	if !ok {
		return
	}
	if !s.allow(w, r, req.ShopID) {
		return
	}

	if err := s.runner.RunAutomationsForEvent(r.Context(), req.ShopID, req.EventType, req.Payload); err != nil {
		s.log.WithField("error", err.Error()).Error("run event sync")
		http.Error(w, "automation run failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

func (s *Server) handleEnqueueDelayedAction(w http.ResponseWriter, r *http.Request) {
	var req delayedActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.ShopID == "" || req.EventType == "" || req.AutomationID == "" {
		http.Error(w, "shop_id, event_type and automation_id are required", http.StatusBadRequest)
		return
	}
	if req.Payload == nil {
		req.Payload = map[string]any{}
	}

	job, err := s.queue.QueueDelayedAction(r.Context(), req.ShopID, req.EventType, req.Payload, req.AutomationID, req.ActionIndex, req.DelayMs)
	if err != nil {
		s.log.WithField("error", err.Error()).Error("enqueue delayed action")
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}
	telemetry.EventsEnqueued.Inc()
	writeJSON(w, http.StatusAccepted, map[string]any{"job": job})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		http.Error(w, "failed to read queue stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleQueueJobs(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = models.JobStatusWaiting
	}
	limit := int64(50)
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			limit = n
		}
	}

	jobs, err := s.queue.JobsByStatus(r.Context(), status, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed, err := s.queue.Cancel(r.Context(), id)
	if err != nil {
		http.Error(w, "failed to cancel job", http.StatusInternalServerError)
		return
	}
	if !removed {
		// Active or unknown jobs cannot be cancelled.
		http.Error(w, "job is not waiting or delayed", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleCleanQueue(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Clean(r.Context()); err != nil {
		http.Error(w, "failed to clean queue", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleaned"})
}

func (s *Server) handleShopLogs(w http.ResponseWriter, r *http.Request) {
	shopID := chi.URLParam(r, "shopID")
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	logs, err := s.logs.ListAutomationLogs(r.Context(), shopID, limit)
	if err != nil {
		http.Error(w, "failed to read logs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (s *Server) decodeEvent(w http.ResponseWriter, r *http.Request) (eventRequest, bool) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return req, false
	}
	if req.ShopID == "" || req.EventType == "" {
		http.Error(w, "shop_id and event_type are required", http.StatusBadRequest)
		return req, false
	}
	if req.Payload == nil {
		req.Payload = map[string]any{}
	}
	return req, true
}

func (s *Server) allow(w http.ResponseWriter, r *http.Request, shopID string) bool {
	if s.limiter == nil {
		return true
	}
	allowed, _, err := s.limiter.Allow(r.Context(), shopID)
	if err != nil {
		http.Error(w, "rate limit error", http.StatusInternalServerError)
		return false
	}
	if !allowed {
		telemetry.RateLimitRejects.Inc()
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

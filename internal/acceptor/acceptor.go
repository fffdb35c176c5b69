// Package acceptor is the thin HTTP surface in front of the render
// pipeline: POST /jobs runs a Job document through the engine
// synchronously, POST /jobs?async=1 enqueues it and returns immediately,
// GET /healthz reports liveness. Everything beyond request decoding and
// auth belongs to the engine.
package acceptor

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/bobarin/reelforge/internal/job"
	"github.com/bobarin/reelforge/internal/pipeline"
	"github.com/bobarin/reelforge/internal/queue"
)

// RouterConfig carries an optional API key and an optional comma-separated
// CORS allow-list, both defaulting to dev-mode-open when left empty.
type RouterConfig struct {
	APIKey             string
	CorsAllowedOrigins string
}

type Handler struct {
	engine *pipeline.Engine
	queue  *queue.Queue // nil when async submission is unavailable
}

func NewHandler(engine *pipeline.Engine, q *queue.Queue) *Handler {
	return &Handler{engine: engine, queue: q}
}

func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	allowedOrigins := []string{"*"}
	if cfg.CorsAllowedOrigins != "" {
		var trimmed []string
		for _, o := range strings.Split(cfg.CorsAllowedOrigins, ",") {
			if s := strings.TrimSpace(o); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			allowedOrigins = trimmed
		}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)

	r.Route("/jobs", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyAuth(cfg.APIKey))
		}
		r.Post("/", h.SubmitJob)
	})

	return r
}

func apiKeyAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				auth := r.Header.Get("Authorization")
				if strings.HasPrefix(auth, "Bearer ") {
					key = strings.TrimPrefix(auth, "Bearer ")
				}
			}
			if key == "" {
				respondError(w, http.StatusUnauthorized, "missing API key")
				return
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
				respondError(w, http.StatusForbidden, "invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SubmitJob accepts a Job document. With ?async=1 and a configured queue it
// enqueues the job and returns its id immediately; otherwise it runs the
// whole pipeline synchronously and returns the upload URL and any warnings.
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var j job.Job
	if err := json.NewDecoder(r.Body).Decode(&j); err != nil {
		respondError(w, http.StatusBadRequest, "invalid job document: "+err.Error())
		return
	}
	if j.ID == "" {
		j.ID = uuid.NewString()
	}

	if r.URL.Query().Get("async") == "1" {
		if h.queue == nil {
			respondError(w, http.StatusServiceUnavailable, "async submission requires a configured queue")
			return
		}
		env := &queue.Envelope{ID: j.ID, Job: j}
		if err := h.queue.Enqueue(r.Context(), env); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to enqueue job: "+err.Error())
			return
		}
		respondJSON(w, http.StatusAccepted, map[string]string{"id": j.ID, "status": "queued"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	result, err := h.engine.RunJob(ctx, &j)
	if err != nil {
		if pe, ok := err.(*job.PipelineError); ok {
			respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"id":       j.ID,
				"status":   "failed",
				"failure":  pe.Summary(),
				"warnings": result.Warnings,
			})
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"id":         j.ID,
		"status":     "completed",
		"upload_url": result.URL,
		"metrics":    result.Metrics,
		"warnings":   result.Warnings,
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

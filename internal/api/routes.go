package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/keagan/reelforge/internal/metrics"
	"github.com/keagan/reelforge/internal/pipeline"
	"github.com/keagan/reelforge/internal/queue"
	"github.com/keagan/reelforge/internal/timeline"
)

// maxBody bounds composition documents
const maxBody = 4 << 20

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))
	r.Handle("/metrics", metrics.Handler())

	r.Post("/compile", compileHandler(cfg))

	r.Route("/renders", func(r chi.Router) {
		r.Post("/", submitHandler(cfg))
		r.Get("/", listRendersHandler(cfg))
		r.Get("/{id}", getRenderHandler(cfg))
		r.Delete("/{id}", cancelRenderHandler(cfg))
		r.Get("/{id}/events", renderEventsHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		resp := HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: uptime,
		}
		if vendor, probed := cfg.Renderer.HWAccel(); probed {
			resp.HWAccel = string(vendor)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func decodeRender(w http.ResponseWriter, r *http.Request) (*RenderRequest, bool) {
	var req RenderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return nil, false
	}
	if req.Composition == nil {
		WriteError(w, http.StatusBadRequest, "composition is required", "BAD_REQUEST")
		return nil, false
	}
	return &req, true
}

// writeSubmitError maps submission failures onto status codes
func writeSubmitError(w http.ResponseWriter, err error) {
	var cfgErr *timeline.ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		WriteError(w, http.StatusUnprocessableEntity, cfgErr.Error(), "INVALID_COMPOSITION")
	case errors.Is(err, queue.ErrDuplicate):
		WriteError(w, http.StatusConflict, err.Error(), "CONFLICT")
	case errors.Is(err, queue.ErrClosed):
		WriteError(w, http.StatusServiceUnavailable, "render queue is shutting down", "UNAVAILABLE")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}

func submitHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeRender(w, r)
		if !ok {
			return
		}

		id, err := cfg.Renderer.Submit(r.Context(), req.Composition, req.Options)
		if err != nil {
			writeSubmitError(w, err)
			return
		}

		w.Header().Set("Location", "/renders/"+id)
		WriteJSON(w, http.StatusAccepted, RenderResponse{JobID: id})
	}
}

func compileHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeRender(w, r)
		if !ok {
			return
		}

		inv, err := cfg.Renderer.Compile(r.Context(), req.Composition, req.Options)
		if err != nil {
			writeSubmitError(w, err)
			return
		}

		WriteJSON(w, http.StatusOK, CompileResponse{
			Args:          inv.Args(),
			FilterComplex: inv.FilterComplex(),
			Duration:      inv.Duration,
			Warnings:      inv.Warnings,
		})
	}
}

func listRendersHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs := cfg.Renderer.Jobs()
		resp := JobsResponse{Jobs: make([]JobResponse, len(jobs))}
		for i, j := range jobs {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getRenderHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := cfg.Renderer.Status(chi.URLParam(r, "id"))
		if !ok {
			WriteError(w, http.StatusNotFound, "render not found", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

func cancelRenderHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, ok := cfg.Renderer.Status(id); !ok {
			WriteError(w, http.StatusNotFound, "render not found", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, CancelResponse{Cancelled: cfg.Renderer.Cancel(id)})
	}
}

// renderEventsHandler streams job snapshots as server-sent events until the
// job finishes or the client goes away. Updates are coalesced: a slow client
// sees the latest state, never a stale one.
func renderEventsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		flusher, ok := w.(http.Flusher)
		if !ok {
			WriteError(w, http.StatusInternalServerError, "streaming unsupported", "INTERNAL_ERROR")
			return
		}

		changed := make(chan struct{}, 1)
		unsubscribe, err := cfg.Renderer.SubscribeProgress(id, func(pipeline.Job) {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
		if err != nil {
			WriteError(w, http.StatusNotFound, "render not found", "NOT_FOUND")
			return
		}
		defer unsubscribe()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		for {
			job, ok := cfg.Renderer.Status(id)
			if !ok {
				return
			}
			if err := writeEvent(w, job); err != nil {
				return
			}
			flusher.Flush()
			if job.Status.Terminal() {
				return
			}

			select {
			case <-r.Context().Done():
				return
			case <-changed:
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, job pipeline.Job) error {
	data, err := json.Marshal(JobToResponse(job))
	if err != nil {
		return err
	}
	event := "progress"
	if job.Status.Terminal() {
		event = "done"
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

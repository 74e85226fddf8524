// Package httpapi exposes the local HTTP surface of supportq: ticket
// submission with offline fallback, queue inspection, manual flush, and
// dead-letter management.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/lotusit/supportq/internal/client"
	"github.com/lotusit/supportq/internal/config"
	"github.com/lotusit/supportq/internal/errors"
	"github.com/lotusit/supportq/internal/logging"
	"github.com/lotusit/supportq/internal/models"
	syncctl "github.com/lotusit/supportq/internal/sync"
	"github.com/lotusit/supportq/internal/uuid"
)

const maxTicketBody = 1 << 20

// Server is the local HTTP server in front of the queue and the portal
// client.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	portal     *client.Client
	controller *syncctl.Controller
	store      syncctl.TicketStore
}

// NewServer wires the HTTP surface. Routes are registered immediately.
func NewServer(cfg *config.Config, portal *client.Client, controller *syncctl.Controller, store syncctl.TicketStore) *Server {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	s := &Server{
		httpServer: &http.Server{
			Addr:         cfg.HTTP.Addr,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		router:     router,
		portal:     portal,
		controller: controller,
		store:      store,
	}
	s.registerRoutes()
	return s
}

// Run starts the server and blocks until shutdown.
func (s *Server) Run() error {
	logging.Info("http server listening", map[string]interface{}{"addr": s.httpServer.Addr})
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.health)
		r.Post("/tickets", s.submitTicket)
		r.Route("/queue", func(r chi.Router) {
			r.Get("/", s.listQueue)
			r.Delete("/", s.clearQueue)
			r.Post("/flush", s.flushQueue)
			r.Get("/dead-letters", s.listDeadLetters)
			r.Delete("/dead-letters/{id}", s.removeDeadLetter)
		})
	})
}

// submitTicket accepts a ticket, tries the portal backend first and falls
// back to the durable queue when the backend is unreachable or failing.
// Payloads the backend would reject are rejected here without queueing;
// retrying an invalid ticket can never succeed.
func (s *Server) submitTicket(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTicketBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.ErrInvalid, "failed to read request body")
		return
	}

	var ticket models.Ticket
	if err := json.Unmarshal(body, &ticket); err != nil {
		writeError(w, http.StatusBadRequest, errors.ErrInvalid, "request body is not valid JSON")
		return
	}
	if !ticket.Valid() {
		writeError(w, http.StatusUnprocessableEntity, errors.ErrValidation,
			"ticket is missing required fields")
		return
	}

	result, err := s.portal.Submit(r.Context(), body)
	if err == nil {
		if result.Delivered {
			writeJSON(w, http.StatusCreated, map[string]interface{}{
				"sharepoint_id": result.RemoteID,
				"queued":        false,
			})
			return
		}
		if result.StatusCode >= 400 && result.StatusCode < 500 {
			writeError(w, http.StatusUnprocessableEntity, errors.ErrValidation,
				"portal backend rejected the ticket")
			return
		}
		// 5xx falls through to the durable queue
	}

	s.store.Init()
	if !s.store.IsAvailable() {
		// Enqueue would be a silent no-op; never tell the producer the
		// ticket was queued when it was dropped.
		writeError(w, http.StatusServiceUnavailable, errors.ErrStorageUnavailable,
			"portal backend unreachable and durable queue unavailable")
		return
	}

	if err := s.controller.Enqueue(r.Context(), body); err != nil {
		writeError(w, http.StatusInternalServerError, errors.ErrDatabase,
			"failed to queue ticket for retry")
		return
	}

	pending, cerr := s.controller.PendingCount(r.Context())
	if cerr != nil {
		pending = 0
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"queued":  true,
		"pending": pending,
	})
}

// health reports local queue state and backend reachability.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	pending, err := s.controller.PendingCount(r.Context())
	if err != nil {
		pending = 0
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"backend_online":  s.portal.Health(r.Context()),
		"store_available": s.store.IsAvailable(),
		"pending":         pending,
	})
}

func (s *Server) listQueue(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, errors.ErrDatabase, "failed to list queue")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(records),
		"tickets": recordsOrEmpty(records),
	})
}

func (s *Server) clearQueue(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Clear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, errors.ErrDatabase, "failed to clear queue")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cleared": true})
}

// flushQueue runs one sync pass on demand.
func (s *Server) flushQueue(w http.ResponseWriter, r *http.Request) {
	result := s.controller.SyncPending(r.Context())
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	records, err := s.controller.DeadLetters(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, errors.ErrDatabase, "failed to list dead letters")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(records),
		"tickets": recordsOrEmpty(records),
	})
}

func (s *Server) removeDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := uuid.Validate(id); err != nil {
		writeError(w, http.StatusBadRequest, errors.ErrInvalid, "invalid ticket id")
		return
	}

	if err := s.store.Remove(r.Context(), models.UUID(id)); err != nil {
		writeError(w, http.StatusInternalServerError, errors.ErrDatabase, "failed to remove record")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"removed": true})
}

// requestLogger logs one line per request through the structured logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Debug("http request", map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}

// recordsOrEmpty keeps list responses as [] instead of null.
func recordsOrEmpty(records []models.QueuedTicket) []models.QueuedTicket {
	if records == nil {
		return []models.QueuedTicket{}
	}
	return records
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error("failed to encode response", err)
	}
}

func writeError(w http.ResponseWriter, status int, code errors.ErrorCode, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error":   string(code),
		"message": message,
	})
}

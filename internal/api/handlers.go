// File: internal/api/handlers.go
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagepilot/internal/agent"
	"github.com/xkilldash9x/pagepilot/internal/engine"
	"github.com/xkilldash9x/pagepilot/internal/planner"
)

// maxBodyBytes bounds request bodies. Plans are small.
const maxBodyBytes = 1 << 20

// Handlers serves the HTTP control routes.
type Handlers struct {
	log   *zap.Logger
	agent *agent.Agent
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(logger *zap.Logger, a *agent.Agent) *Handlers {
	return &Handlers{
		log:   logger.Named("api_handlers"),
		agent: a,
	}
}

// RegisterRoutes mounts the health check and the versioned control routes.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/", h.HandleRoot)
	r.Get("/healthz", h.HandleHealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/instructions", h.HandleInstruction)
		r.Post("/actions", h.HandleActions)
		r.Post("/stop", h.HandleStop)
		r.Get("/state", h.HandleState)
	})
}

// HandleRoot identifies the server.
func (h *Handlers) HandleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pagepilot API server running"))
}

// HandleHealthCheck reports whether the engine still accepts work.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.agent.Engine().Done():
		http.Error(w, "engine stopped", http.StatusServiceUnavailable)
	default:
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}

// HandleInstruction plans an instruction and queues the result.
func (h *Handlers) HandleInstruction(w http.ResponseWriter, r *http.Request) {
	var req InstructionRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	resp, err := h.agent.Handle(r.Context(), req.Instruction)
	if err != nil {
		h.respondWithError(w, statusFor(err), err.Error())
		return
	}
	h.respondWithSuccess(w, http.StatusOK, resp)
}

// HandleActions queues intents without consulting the planner.
func (h *Handlers) HandleActions(w http.ResponseWriter, r *http.Request) {
	var req ActionsRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	intents, err := req.Intents()
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid actions: %v", err))
		return
	}
	if len(intents) == 0 {
		h.respondWithError(w, http.StatusBadRequest, "No actions provided")
		return
	}

	report, err := h.agent.Engine().Enqueue(r.Context(), intents)
	if err != nil {
		h.respondWithError(w, statusFor(err), err.Error())
		return
	}
	h.log.Info("Queued actions.", zap.Int("accepted", report.Accepted), zap.Int("duplicates", report.Duplicates), zap.Int("rejected", len(report.Rejected)))
	h.respondWithSuccess(w, http.StatusOK, report)
}

// HandleStop clears the queue and abandons the in-flight action.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	if err := h.agent.Engine().StopAll(r.Context()); err != nil {
		h.respondWithError(w, statusFor(err), err.Error())
		return
	}
	h.respondWithSuccess(w, http.StatusOK, map[string]string{"message": "stopped"})
}

// HandleState returns a snapshot of the engine.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	state, err := h.agent.Engine().Snapshot(r.Context())
	if err != nil {
		h.respondWithError(w, statusFor(err), err.Error())
		return
	}
	h.respondWithSuccess(w, http.StatusOK, state)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// statusFor maps agent and engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, planner.ErrEmptyInstruction):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrEngineStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondWithError sends a standardized JSON error response.
func (h *Handlers) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	h.respondWithStatus(w, statusCode, CommandResponse{Status: "error", Error: message})
}

// respondWithSuccess sends a standardized JSON success response.
func (h *Handlers) respondWithSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	h.respondWithStatus(w, statusCode, CommandResponse{Status: "success", Data: data})
}

func (h *Handlers) respondWithStatus(w http.ResponseWriter, statusCode int, resp CommandResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}

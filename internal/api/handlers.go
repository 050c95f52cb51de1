package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mattjoyce/autoclient/internal/automation"
	"github.com/mattjoyce/autoclient/internal/eventstore"
)

// handleHealth handles GET /health (no auth).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	status := http.StatusOK
	if s.opts.Health != nil {
		report := s.opts.Health.Check()
		resp.Components = make(map[string]any, len(report.Components))
		for name, st := range report.Components {
			resp.Components[name] = st
		}
		if !report.Up {
			resp.Status = "down"
			status = http.StatusServiceUnavailable
		}
	}
	respondJSON(w, status, resp)
}

// handleCommand handles POST /command.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd automation.Command
	if err := s.decode(w, r, &cmd); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if cmd.Command == "" {
		s.writeError(w, http.StatusBadRequest, "command is required")
		return
	}
	// The invocation identity is assigned here, never by the caller.
	cmd.Context = nil
	if cmd.CorrelationID == "" {
		cmd.CorrelationID = uuid.NewString()
	}

	buf := &Buffer{}
	result := s.pipeline.ProcessCommand(WithBuffer(r.Context(), buf), &cmd, nil)

	status := http.StatusOK
	if result.Code != 0 {
		status = http.StatusInternalServerError
	}
	respondJSON(w, status, CommandResponse{Result: result, Messages: buf.Messages()})
}

// handleEvent handles POST /event.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev automation.Event
	if err := s.decode(w, r, &ev); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if ev.Extensions.OperationName == "" {
		s.writeError(w, http.StatusBadRequest, "extensions.operationName is required")
		return
	}
	ev.Context = nil
	if ev.Extensions.CorrelationID == "" {
		ev.Extensions.CorrelationID = uuid.NewString()
	}

	buf := &Buffer{}
	results := s.pipeline.ProcessEvent(WithBuffer(r.Context(), buf), &ev, nil)

	resp := EventResponse{Success: true, Results: results, Messages: buf.Messages()}
	for _, res := range results {
		if res.Code != 0 {
			resp.Success = false
			break
		}
	}
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusInternalServerError
	}
	respondJSON(w, status, resp)
}

// handleListInvocations handles GET /invocations.
func (s *Server) handleListInvocations(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	invs, err := s.opts.Journal.ListInvocations(r.Context(), r.URL.Query().Get("correlation_id"), limit)
	if err != nil {
		s.logger.Error("failed to list invocations", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list invocations")
		return
	}

	resp := InvocationsResponse{Invocations: make([]InvocationResponse, 0, len(invs))}
	for _, inv := range invs {
		resp.Invocations = append(resp.Invocations, InvocationResponse{
			InvocationID:  inv.InvocationID,
			CorrelationID: inv.CorrelationID,
			WorkspaceID:   inv.WorkspaceID,
			Kind:          inv.Kind,
			Operation:     inv.Operation,
			Status:        inv.Status,
			Code:          inv.Code,
			Message:       inv.Message,
			WorkerID:      inv.WorkerID,
			StartedAt:     inv.StartedAt,
			CompletedAt:   inv.CompletedAt,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleGetMessage handles GET /messages/{messageID}.
func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "messageID")
	rec, err := s.opts.Journal.GetMessage(r.Context(), id)
	if errors.Is(err, eventstore.ErrMessageNotFound) {
		s.writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to read message", "message_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read message")
		return
	}
	respondJSON(w, http.StatusOK, MessageResponse{
		ID:            rec.ID,
		InvocationID:  rec.InvocationID,
		CorrelationID: rec.CorrelationID,
		Kind:          string(rec.Kind),
		Destinations:  rec.Destinations,
		Body:          rec.Body,
		Digest:        rec.Digest,
		CreatedAt:     rec.CreatedAt,
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	return json.NewDecoder(body).Decode(v)
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

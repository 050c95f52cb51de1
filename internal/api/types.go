package api

import (
	"encoding/json"
	"time"

	"github.com/mattjoyce/autoclient/internal/automation"
)

// CommandResponse is returned by POST /command.
type CommandResponse struct {
	Result   automation.HandlerResult      `json:"result"`
	Messages []*automation.OutgoingMessage `json:"messages,omitempty"`
}

// EventResponse is returned by POST /event.
type EventResponse struct {
	Success  bool                          `json:"success"`
	Results  []automation.HandlerResult    `json:"results"`
	Messages []*automation.OutgoingMessage `json:"messages,omitempty"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string         `json:"status"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Components    map[string]any `json:"components,omitempty"`
}

// InvocationResponse is one row of GET /invocations.
type InvocationResponse struct {
	InvocationID  string    `json:"invocation_id"`
	CorrelationID string    `json:"correlation_id"`
	WorkspaceID   string    `json:"workspace_id"`
	Kind          string    `json:"kind"`
	Operation     string    `json:"operation"`
	Status        string    `json:"status"`
	Code          int       `json:"code"`
	Message       string    `json:"message,omitempty"`
	WorkerID      *int      `json:"worker_id,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`
}

// InvocationsResponse is returned by GET /invocations.
type InvocationsResponse struct {
	Invocations []InvocationResponse `json:"invocations"`
}

// MessageResponse is returned by GET /messages/{messageID}.
type MessageResponse struct {
	ID            string          `json:"id"`
	InvocationID  string          `json:"invocation_id"`
	CorrelationID string          `json:"correlation_id"`
	Kind          string          `json:"kind"`
	Destinations  json.RawMessage `json:"destinations,omitempty"`
	Body          json.RawMessage `json:"body,omitempty"`
	Digest        string          `json:"digest"`
	CreatedAt     time.Time       `json:"created_at"`
}

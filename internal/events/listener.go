package events

import (
	"context"

	"github.com/mattjoyce/autoclient/internal/automation"
)

// Invocation is the payload of command and event lifecycle notifications.
type Invocation struct {
	InvocationID  string `json:"invocation_id,omitempty"`
	CorrelationID string `json:"correlation_id"`
	WorkspaceID   string `json:"workspace_id"`
	Operation     string `json:"operation"`
	Code          *int   `json:"code,omitempty"`
}

// Listener publishes runtime lifecycle notifications to a Hub.
type Listener struct {
	automation.NopListener
	hub *Hub
}

func NewListener(hub *Hub) *Listener {
	return &Listener{hub: hub}
}

func (l *Listener) RegistrationSuccessful(_ context.Context, reg *automation.Registration) error {
	l.hub.Publish(TypeRegistered, map[string]string{"name": reg.Name, "version": reg.Version})
	return nil
}

func (l *Listener) StartupSuccessful(context.Context) error {
	l.hub.Publish(TypeStarted, nil)
	return nil
}

func (l *Listener) CommandIncoming(_ context.Context, cmd *automation.Command) error {
	l.hub.Publish(TypeCommandIncoming, Invocation{
		CorrelationID: cmd.CorrelationID,
		WorkspaceID:   cmd.Team.ID,
		Operation:     cmd.Command,
	})
	return nil
}

func (l *Listener) CommandSuccessful(_ context.Context, _ *automation.Command, hc *automation.HandlerContext, result *automation.HandlerResult) error {
	l.hub.Publish(TypeCommandSucceeded, invocation(hc, codeOf(result)))
	return nil
}

func (l *Listener) CommandFailed(_ context.Context, _ *automation.Command, hc *automation.HandlerContext, result *automation.HandlerResult) error {
	l.hub.Publish(TypeCommandFailed, invocation(hc, codeOf(result)))
	return nil
}

func (l *Listener) EventIncoming(_ context.Context, ev *automation.Event) error {
	l.hub.Publish(TypeEventIncoming, Invocation{
		CorrelationID: ev.Extensions.CorrelationID,
		WorkspaceID:   ev.Extensions.TeamID,
		Operation:     ev.Extensions.OperationName,
	})
	return nil
}

func (l *Listener) EventSuccessful(_ context.Context, _ *automation.Event, hc *automation.HandlerContext, _ []automation.HandlerResult) error {
	l.hub.Publish(TypeEventSucceeded, invocation(hc, nil))
	return nil
}

func (l *Listener) EventFailed(_ context.Context, _ *automation.Event, hc *automation.HandlerContext, results []automation.HandlerResult) error {
	var code *int
	for _, r := range results {
		if r.Code != 0 {
			c := r.Code
			code = &c
			break
		}
	}
	l.hub.Publish(TypeEventFailed, invocation(hc, code))
	return nil
}

func (l *Listener) MessageSent(_ context.Context, msg *automation.OutgoingMessage, hc *automation.HandlerContext) error {
	l.hub.Publish(TypeMessageSent, map[string]any{
		"invocation": invocation(hc, nil),
		"kind":       msg.Kind,
	})
	return nil
}

func invocation(hc *automation.HandlerContext, code *int) Invocation {
	if hc == nil || hc.Context == nil {
		return Invocation{Code: code}
	}
	return Invocation{
		InvocationID:  hc.InvocationID,
		CorrelationID: hc.CorrelationID,
		WorkspaceID:   hc.WorkspaceID,
		Operation:     hc.Context.Operation,
		Code:          code,
	}
}

func codeOf(r *automation.HandlerResult) *int {
	if r == nil {
		return nil
	}
	c := r.Code
	return &c
}

package websocket

import (
	"context"
	"fmt"
	"time"

	"github.com/mattjoyce/autoclient/internal/automation"
	"github.com/mattjoyce/autoclient/internal/config"
	"github.com/mattjoyce/autoclient/internal/processor"
)

// MessageFrame is an outgoing handler message as the backend expects it.
type MessageFrame struct {
	APIVersion    string                   `json:"api_version"`
	CorrelationID string                   `json:"correlation_id"`
	Team          automation.Team          `json:"team"`
	Source        *automation.Source       `json:"source,omitempty"`
	Destinations  []automation.Destination `json:"destinations,omitempty"`
	ID            string                   `json:"id,omitempty"`
	Timestamp     int64                    `json:"timestamp"`
	TTL           int64                    `json:"ttl,omitempty"`
	PostMode      string                   `json:"post_mode,omitempty"`
	Thread        string                   `json:"thread,omitempty"`
	ContentType   string                   `json:"content_type,omitempty"`
	Body          any                      `json:"body,omitempty"`
	Delete        bool                     `json:"delete,omitempty"`
}

// BuildMessageFrame renders out for the request it answers. Responses go
// back to where the request came from; sends go to explicit destinations.
func BuildMessageFrame(req processor.Request, ac *automation.AutomationContext, out *automation.OutgoingMessage) *MessageFrame {
	f := &MessageFrame{
		APIVersion:    "1",
		CorrelationID: ac.CorrelationID,
		Team:          automation.Team{ID: ac.WorkspaceID, Name: ac.WorkspaceName},
		Timestamp:     time.Now().UnixMilli(),
		Body:          out.Message,
		Delete:        out.Kind == automation.MessageDelete,
	}
	switch {
	case req.Command != nil:
		f.CorrelationID = req.Command.CorrelationID
		f.Team = req.Command.Team
		f.Source = req.Command.Source
	case req.Event != nil:
		f.CorrelationID = req.Event.Extensions.CorrelationID
	}

	if out.Kind == automation.MessageRespond {
		f.Destinations = processor.Destinations(f.Source, f.Team)
	} else {
		f.Destinations = out.Destinations
	}
	if o := out.Options; o != nil {
		f.ID = o.ID
		f.TTL = o.TTL.Milliseconds()
		f.PostMode = o.PostMode
		f.Thread = o.Thread
	}
	if f.Body != nil {
		if _, ok := f.Body.(string); ok {
			f.ContentType = "text/plain"
		} else {
			f.ContentType = "application/json"
		}
	}
	return f
}

// Transport is the default pipeline transport for invocations received on
// the WebSocket: statuses and messages go back through the lifecycle.
type Transport struct {
	cfg       *config.Store
	lifecycle *Lifecycle
	graphs    automation.GraphClientFactory
}

func NewTransport(cfg *config.Store, lifecycle *Lifecycle, graphs automation.GraphClientFactory) *Transport {
	return &Transport{cfg: cfg, lifecycle: lifecycle, graphs: graphs}
}

func (t *Transport) SendStatusMessage(_ context.Context, status *automation.StatusEnvelope, _ *automation.AutomationContext) error {
	return t.lifecycle.Send(status)
}

func (t *Transport) CreateGraphClient(_ context.Context, ac *automation.AutomationContext) (automation.GraphClient, error) {
	if t.graphs == nil {
		return nil, fmt.Errorf("no graph client factory")
	}
	return t.graphs.Create(ac.WorkspaceID, t.cfg.Get())
}

func (t *Transport) CreateMessageClient(_ context.Context, req processor.Request, ac *automation.AutomationContext) (automation.MessageClient, error) {
	return &messageClient{t: t, req: req, ac: ac}, nil
}

// Deliver writes one outgoing message for req.
func (t *Transport) Deliver(_ context.Context, req processor.Request, ac *automation.AutomationContext, out *automation.OutgoingMessage) error {
	return t.lifecycle.Send(BuildMessageFrame(req, ac, out))
}

// SendBackoff asks the backend to pause sending work.
func (t *Transport) SendBackoff(d time.Duration) error {
	return t.lifecycle.Send(BackoffFrame(d.Milliseconds()))
}

type messageClient struct {
	t   *Transport
	req processor.Request
	ac  *automation.AutomationContext
}

func (m *messageClient) Respond(ctx context.Context, msg any, opts *automation.MessageOptions) error {
	return m.t.Deliver(ctx, m.req, m.ac, &automation.OutgoingMessage{Kind: automation.MessageRespond, Message: msg, Options: opts})
}

func (m *messageClient) Send(ctx context.Context, msg any, dests []automation.Destination, opts *automation.MessageOptions) error {
	return m.t.Deliver(ctx, m.req, m.ac, &automation.OutgoingMessage{Kind: automation.MessageSend, Message: msg, Destinations: dests, Options: opts})
}

func (m *messageClient) Delete(ctx context.Context, dests []automation.Destination, opts *automation.MessageOptions) error {
	return m.t.Deliver(ctx, m.req, m.ac, &automation.OutgoingMessage{Kind: automation.MessageDelete, Destinations: dests, Options: opts})
}

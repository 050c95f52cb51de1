package automation

import (
	"context"
	"time"

	"github.com/mattjoyce/autoclient/internal/config"
)

//go:generate mockgen -destination=mocks/mock_server.go -package=mocks github.com/mattjoyce/autoclient/internal/automation AutomationServer,MessageClient

// AutomationServer runs handlers. It is the boundary of this runtime: the
// pipeline never looks inside.
type AutomationServer interface {
	InvokeCommand(ctx context.Context, cmd *Command, hc *HandlerContext) (*HandlerResult, error)
	OnEvent(ctx context.Context, ev *Event, hc *HandlerContext) ([]HandlerResult, error)
}

// Destination addresses a message.
type Destination struct {
	UserAgent string   `json:"user_agent"`
	Team      string   `json:"team,omitempty"`
	Channels  []string `json:"channels,omitempty"`
	Users     []string `json:"users,omitempty"`
}

// MessageOptions tune message delivery.
type MessageOptions struct {
	ID       string        `json:"id,omitempty"`
	TTL      time.Duration `json:"ttl,omitempty"`
	PostMode string        `json:"post_mode,omitempty"` // always | update_only
	Thread   string        `json:"thread,omitempty"`
}

// MessageClient sends messages on behalf of a handler.
type MessageClient interface {
	Respond(ctx context.Context, msg any, opts *MessageOptions) error
	Send(ctx context.Context, msg any, dests []Destination, opts *MessageOptions) error
	Delete(ctx context.Context, dests []Destination, opts *MessageOptions) error
}

// GraphClient talks to the backend graph.
type GraphClient interface {
	Endpoint() string
	Query(ctx context.Context, query string, vars map[string]any, out any) error
	Mutate(ctx context.Context, mutation string, vars map[string]any, out any) error
}

// GraphClientFactory builds a GraphClient per workspace.
type GraphClientFactory interface {
	Create(workspaceID string, cfg *config.Config) (GraphClient, error)
}

// HandlerContext is everything a handler gets for one invocation.
type HandlerContext struct {
	WorkspaceID   string
	CorrelationID string
	InvocationID  string
	Ts            int64
	Context       *AutomationContext
	MessageClient MessageClient
	GraphClient   GraphClient
	Lifecycle     *Lifecycle
}

package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mattjoyce/autoclient/internal/automation"
	"github.com/mattjoyce/autoclient/internal/config"
	"github.com/mattjoyce/autoclient/internal/processor"
)

// Buffer collects the messages handlers send while an HTTP request is being
// answered.
type Buffer struct {
	mu       sync.Mutex
	messages []*automation.OutgoingMessage
}

func (b *Buffer) add(msg *automation.OutgoingMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msg)
}

// Messages returns what was buffered so far.
func (b *Buffer) Messages() []*automation.OutgoingMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*automation.OutgoingMessage(nil), b.messages...)
}

type bufferKey struct{}

// WithBuffer attaches a response buffer to ctx.
func WithBuffer(ctx context.Context, b *Buffer) context.Context {
	return context.WithValue(ctx, bufferKey{}, b)
}

// BufferFrom returns the response buffer of an HTTP invocation, if any.
func BufferFrom(ctx context.Context) (*Buffer, bool) {
	if ctx == nil {
		return nil, false
	}
	b, ok := ctx.Value(bufferKey{}).(*Buffer)
	return b, ok
}

// Transport is the pipeline transport for invocations received over HTTP.
// There is no status channel back to the caller, so statuses are dropped;
// messages are buffered into the response.
type Transport struct {
	cfg    *config.Store
	graphs automation.GraphClientFactory
	logger *slog.Logger
}

func NewTransport(cfg *config.Store, graphs automation.GraphClientFactory, logger *slog.Logger) *Transport {
	return &Transport{cfg: cfg, graphs: graphs, logger: logger}
}

func (t *Transport) SendStatusMessage(_ context.Context, status *automation.StatusEnvelope, ac *automation.AutomationContext) error {
	t.logger.Debug("status not reported over http", "invocation_id", ac.InvocationID, "code", status.Status.Code)
	return nil
}

func (t *Transport) CreateGraphClient(_ context.Context, ac *automation.AutomationContext) (automation.GraphClient, error) {
	if t.graphs == nil {
		return nil, fmt.Errorf("no graph client factory")
	}
	return t.graphs.Create(ac.WorkspaceID, t.cfg.Get())
}

func (t *Transport) CreateMessageClient(ctx context.Context, _ processor.Request, _ *automation.AutomationContext) (automation.MessageClient, error) {
	b, ok := BufferFrom(ctx)
	if !ok {
		return nil, fmt.Errorf("no response buffer on context")
	}
	return bufferClient{b: b}, nil
}

// Deliver buffers out when ctx belongs to an HTTP invocation.
func (t *Transport) Deliver(ctx context.Context, _ processor.Request, _ *automation.AutomationContext, out *automation.OutgoingMessage) error {
	b, ok := BufferFrom(ctx)
	if !ok {
		return fmt.Errorf("no response buffer on context")
	}
	b.add(out)
	return nil
}

type bufferClient struct {
	b *Buffer
}

func (c bufferClient) Respond(_ context.Context, msg any, opts *automation.MessageOptions) error {
	c.b.add(&automation.OutgoingMessage{Kind: automation.MessageRespond, Message: msg, Options: opts})
	return nil
}

func (c bufferClient) Send(_ context.Context, msg any, dests []automation.Destination, opts *automation.MessageOptions) error {
	c.b.add(&automation.OutgoingMessage{Kind: automation.MessageSend, Message: msg, Destinations: dests, Options: opts})
	return nil
}

func (c bufferClient) Delete(_ context.Context, dests []automation.Destination, opts *automation.MessageOptions) error {
	c.b.add(&automation.OutgoingMessage{Kind: automation.MessageDelete, Destinations: dests, Options: opts})
	return nil
}

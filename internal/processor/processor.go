// Package processor is the transport-independent invocation pipeline: it
// turns an incoming command or event into an invocation, runs it, and
// reports the outcome.
package processor

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/autoclient/internal/automation"
	"github.com/mattjoyce/autoclient/internal/config"
	"github.com/mattjoyce/autoclient/internal/message"
)

// Request is the incoming payload an invocation was built from. Exactly one
// field is set.
type Request struct {
	Command *automation.Command
	Event   *automation.Event
}

// Transport supplies the channel-specific parts of the pipeline.
type Transport interface {
	SendStatusMessage(ctx context.Context, status *automation.StatusEnvelope, ac *automation.AutomationContext) error
	CreateGraphClient(ctx context.Context, ac *automation.AutomationContext) (automation.GraphClient, error)
	CreateMessageClient(ctx context.Context, req Request, ac *automation.AutomationContext) (automation.MessageClient, error)
}

// Invoker runs the handler for an invocation.
type Invoker interface {
	InvokeCommand(ctx context.Context, cmd *automation.Command, hc *automation.HandlerContext) (*automation.HandlerResult, error)
	OnEvent(ctx context.Context, ev *automation.Event, hc *automation.HandlerContext) ([]automation.HandlerResult, error)
}

// Finalizer decides what happens once an invocation has a result.
type Finalizer interface {
	CommandSucceeded(ctx context.Context, cmd *automation.Command, hc *automation.HandlerContext, result *automation.HandlerResult) error
	CommandFailed(ctx context.Context, cmd *automation.Command, hc *automation.HandlerContext, result *automation.HandlerResult) error
	EventSucceeded(ctx context.Context, ev *automation.Event, hc *automation.HandlerContext, results []automation.HandlerResult) error
	EventFailed(ctx context.Context, ev *automation.Event, hc *automation.HandlerContext, results []automation.HandlerResult) error
}

// listenerFinalizer runs the success/failure hooks of the listener chain.
type listenerFinalizer struct {
	listeners automation.EventListener
}

func (f listenerFinalizer) CommandSucceeded(ctx context.Context, cmd *automation.Command, hc *automation.HandlerContext, result *automation.HandlerResult) error {
	return f.listeners.CommandSuccessful(ctx, cmd, hc, result)
}

func (f listenerFinalizer) CommandFailed(ctx context.Context, cmd *automation.Command, hc *automation.HandlerContext, result *automation.HandlerResult) error {
	return f.listeners.CommandFailed(ctx, cmd, hc, result)
}

func (f listenerFinalizer) EventSucceeded(ctx context.Context, ev *automation.Event, hc *automation.HandlerContext, results []automation.HandlerResult) error {
	return f.listeners.EventSuccessful(ctx, ev, hc, results)
}

func (f listenerFinalizer) EventFailed(ctx context.Context, ev *automation.Event, hc *automation.HandlerContext, results []automation.HandlerResult) error {
	return f.listeners.EventFailed(ctx, ev, hc, results)
}

// Processor runs the invocation pipeline for one transport.
type Processor struct {
	cfg       *config.Store
	transport Transport
	invoker   Invoker
	finalizer Finalizer
	listeners automation.Listeners
	recorder  message.Recorder
	logger    *slog.Logger

	newID func() string
	now   func() time.Time
}

type Option func(*Processor)

// WithListeners sets the listener chain.
func WithListeners(listeners ...automation.EventListener) Option {
	return func(p *Processor) { p.listeners = listeners }
}

// WithInvoker replaces how handlers are run.
func WithInvoker(inv Invoker) Option {
	return func(p *Processor) { p.invoker = inv }
}

// WithFinalizer replaces the default listener-chain finalizer.
func WithFinalizer(f Finalizer) Option {
	return func(p *Processor) { p.finalizer = f }
}

// WithRecorder journals every outgoing message.
func WithRecorder(r message.Recorder) Option {
	return func(p *Processor) { p.recorder = r }
}

// New returns a Processor running handlers on server.
func New(cfg *config.Store, server automation.AutomationServer, transport Transport, logger *slog.Logger, opts ...Option) *Processor {
	p := &Processor{
		cfg:       cfg,
		transport: transport,
		invoker:   server,
		logger:    logger,
		newID:     uuid.NewString,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.finalizer == nil {
		p.finalizer = listenerFinalizer{listeners: p.listeners}
	}
	return p
}

// Listeners returns the listener chain.
func (p *Processor) Listeners() automation.Listeners {
	return p.listeners
}

// newContext derives the automation context for an invocation. A context
// carried on the payload is restored as is.
func (p *Processor) newContext(prior *automation.AutomationContext, correlationID, workspaceID, workspaceName, operation string) *automation.AutomationContext {
	if prior != nil && prior.InvocationID != "" {
		ac := *prior
		return &ac
	}
	cfg := p.cfg.Get()
	return &automation.AutomationContext{
		CorrelationID: correlationID,
		WorkspaceID:   workspaceID,
		WorkspaceName: workspaceName,
		Operation:     operation,
		Name:          cfg.Name,
		Version:       cfg.Version,
		InvocationID:  p.newID(),
		Ts:            p.now().UnixMilli(),
	}
}

func (p *Processor) handlerContext(ctx context.Context, req Request, ac *automation.AutomationContext, logger *slog.Logger) *automation.HandlerContext {
	hc := &automation.HandlerContext{
		WorkspaceID:   ac.WorkspaceID,
		CorrelationID: ac.CorrelationID,
		InvocationID:  ac.InvocationID,
		Ts:            ac.Ts,
		Context:       ac,
		Lifecycle:     automation.NewLifecycle(logger),
	}

	gc, err := p.transport.CreateGraphClient(ctx, ac)
	if err != nil {
		logger.Warn("failed to create graph client", "error", err)
	}
	hc.GraphClient = gc

	mc, err := p.transport.CreateMessageClient(ctx, req, ac)
	if err != nil {
		logger.Warn("failed to create message client", "error", err)
	}
	if mc != nil {
		hc.MessageClient = message.New(mc, p.listeners, p.recorder, hc, logger)
	}
	return hc
}

func (p *Processor) invocationLogger(ac *automation.AutomationContext) *slog.Logger {
	return p.logger.With(
		slog.String("correlation_id", ac.CorrelationID),
		slog.String("invocation_id", ac.InvocationID),
		slog.String("operation", ac.Operation),
	)
}

func (p *Processor) dispose(ctx context.Context, hc *automation.HandlerContext, logger *slog.Logger) {
	if err := hc.Lifecycle.Dispose(ctx); err != nil {
		logger.Warn("failed to dispose invocation resources", "error", err)
	}
}

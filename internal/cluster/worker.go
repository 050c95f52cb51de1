package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/autoclient/internal/automation"
	"github.com/mattjoyce/autoclient/internal/config"
	"github.com/mattjoyce/autoclient/internal/poll"
	"github.com/mattjoyce/autoclient/internal/processor"
	"github.com/mattjoyce/autoclient/internal/protocol"
	"github.com/mattjoyce/autoclient/internal/shutdown"
)

// workerGraceExtra is added to the grace period a worker waits for its
// in-flight invocations on a graceful shutdown.
const workerGraceExtra = 2500 * time.Millisecond

// WorkerOptions wires optional collaborators into a Worker.
type WorkerOptions struct {
	Graphs    automation.GraphClientFactory
	Hooks     *shutdown.Registry
	Listeners []automation.EventListener
}

// Worker runs the invocations the master sends it and reports everything
// back over IPC. It never talks to the backend itself.
type Worker struct {
	id     int
	cfg    *config.Store
	graphs automation.GraphClientFactory
	hooks  *shutdown.Registry
	enc    *protocol.Encoder
	dec    *protocol.Decoder
	proc   *processor.Processor
	logger *slog.Logger

	registration atomic.Pointer[automation.Registration]
	inflight     atomic.Int64
}

func NewWorker(id int, cfg *config.Store, server automation.AutomationServer, in io.Reader, out io.Writer, opts WorkerOptions, logger *slog.Logger) *Worker {
	w := &Worker{
		id:     id,
		cfg:    cfg,
		graphs: opts.Graphs,
		hooks:  opts.Hooks,
		enc:    protocol.NewEncoder(out),
		dec:    protocol.NewDecoder(in),
		logger: logger,
	}
	w.proc = processor.New(cfg, server, ipcTransport{w: w}, logger,
		processor.WithListeners(opts.Listeners...),
		processor.WithFinalizer(ipcFinalizer{w: w}),
	)
	return w
}

// Registration returns the registration the master last sent, or nil.
func (w *Worker) Registration() *automation.Registration {
	return w.registration.Load()
}

// InFlight returns the number of running invocations.
func (w *Worker) InFlight() int {
	return int(w.inflight.Load())
}

// Run announces the worker online and serves master messages until the
// master asks it to stop, the channel closes or ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.send(protocol.New(protocol.TypeOnline)); err != nil {
		return fmt.Errorf("announce online: %w", err)
	}
	w.logger.Info("worker online")

	done := make(chan struct{})
	defer close(done)
	msgs := make(chan *protocol.Message)
	readErr := make(chan error, 1)
	go w.read(done, msgs, readErr)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				w.logger.Info("master closed the channel")
				return nil
			}
			return fmt.Errorf("read master channel: %w", err)
		case msg := <-msgs:
			switch msg.Type {
			case protocol.TypeRegistration:
				w.registration.Store(msg.Registration)
				w.logger.Debug("registration received", "url", msg.Registration.URL)
			case protocol.TypeCommand:
				cmd := msg.Command
				w.run(ctx, func(ctx context.Context) { w.proc.ProcessCommand(ctx, cmd, nil) })
			case protocol.TypeEvent:
				ev := msg.Event
				w.run(ctx, func(ctx context.Context) { w.proc.ProcessEvent(ctx, ev, nil) })
			case protocol.TypeShutdown:
				return w.shutdown(ctx, msg.Graceful)
			default:
				w.logger.Warn("unexpected master message", "type", msg.Type)
			}
		}
	}
}

func (w *Worker) read(done <-chan struct{}, msgs chan<- *protocol.Message, errc chan<- error) {
	for {
		msg, err := w.dec.Decode()
		if err != nil {
			var de *protocol.DecodeError
			if errors.As(err, &de) {
				w.logger.Warn("dropping malformed master message", "error", de.Err)
				continue
			}
			errc <- err
			return
		}
		select {
		case msgs <- msg:
		case <-done:
			return
		}
	}
}

func (w *Worker) run(ctx context.Context, fn func(ctx context.Context)) {
	w.inflight.Add(1)
	go func() {
		defer w.inflight.Add(-1)
		fn(context.WithoutCancel(ctx))
	}()
}

// shutdown lets in-flight invocations finish for up to the grace period
// plus 2.5s, then runs the exit hooks. A non-graceful shutdown returns at once.
func (w *Worker) shutdown(ctx context.Context, graceful bool) error {
	if !graceful {
		w.logger.Info("worker shutting down", "in_flight", w.InFlight())
		return nil
	}
	wait := w.cfg.Get().WS.Termination.GracePeriod + workerGraceExtra
	w.logger.Info("worker draining", "in_flight", w.InFlight(), "wait", wait)
	if err := poll.Until(ctx, drainPollInterval, wait, func() bool { return w.inflight.Load() == 0 }); err != nil {
		w.logger.Warn("worker drain incomplete", "in_flight", w.InFlight(), "error", err)
	}
	if w.hooks != nil {
		w.hooks.Run(ctx)
	}
	return nil
}

// RequestShutdown asks the master to shut the whole process down.
func (w *Worker) RequestShutdown() error {
	return w.send(protocol.New(protocol.TypeShutdown))
}

func (w *Worker) send(msg *protocol.Message) error {
	msg.WorkerID = w.id
	return w.enc.Encode(msg)
}

func (w *Worker) sendResult(typ protocol.Type, ac *automation.AutomationContext, results []automation.HandlerResult) error {
	msg := protocol.New(typ)
	msg.Context = ac
	msg.Results = results
	if err := w.send(msg); err != nil {
		msg.Results = processor.SafeResults(results, w.logger.Warn)
		return w.send(msg)
	}
	return nil
}

// ipcTransport sends statuses and messages to the master instead of the
// backend.
type ipcTransport struct {
	w *Worker
}

func (t ipcTransport) SendStatusMessage(_ context.Context, status *automation.StatusEnvelope, ac *automation.AutomationContext) error {
	msg := protocol.New(protocol.TypeStatus)
	msg.Status = status
	msg.Context = ac
	return t.w.send(msg)
}

func (t ipcTransport) CreateGraphClient(_ context.Context, ac *automation.AutomationContext) (automation.GraphClient, error) {
	if t.w.graphs == nil {
		return nil, errors.New("no graph client factory")
	}
	return t.w.graphs.Create(ac.WorkspaceID, t.w.cfg.Get())
}

func (t ipcTransport) CreateMessageClient(_ context.Context, _ processor.Request, ac *automation.AutomationContext) (automation.MessageClient, error) {
	return ipcMessageClient{w: t.w, ac: ac}, nil
}

type ipcMessageClient struct {
	w  *Worker
	ac *automation.AutomationContext
}

func (c ipcMessageClient) Respond(_ context.Context, msg any, opts *automation.MessageOptions) error {
	return c.send(&automation.OutgoingMessage{Kind: automation.MessageRespond, Message: msg, Options: opts})
}

func (c ipcMessageClient) Send(_ context.Context, msg any, dests []automation.Destination, opts *automation.MessageOptions) error {
	return c.send(&automation.OutgoingMessage{Kind: automation.MessageSend, Message: msg, Destinations: dests, Options: opts})
}

func (c ipcMessageClient) Delete(_ context.Context, dests []automation.Destination, opts *automation.MessageOptions) error {
	return c.send(&automation.OutgoingMessage{Kind: automation.MessageDelete, Destinations: dests, Options: opts})
}

func (c ipcMessageClient) send(out *automation.OutgoingMessage) error {
	msg := protocol.New(protocol.TypeMessage)
	msg.Outgoing = out
	msg.Context = c.ac
	return c.w.send(msg)
}

// ipcFinalizer reports results to the master, which runs the listeners.
type ipcFinalizer struct {
	w *Worker
}

func (f ipcFinalizer) CommandSucceeded(_ context.Context, _ *automation.Command, hc *automation.HandlerContext, result *automation.HandlerResult) error {
	return f.w.sendResult(protocol.TypeCommandSuccess, hc.Context, []automation.HandlerResult{*result})
}

func (f ipcFinalizer) CommandFailed(_ context.Context, _ *automation.Command, hc *automation.HandlerContext, result *automation.HandlerResult) error {
	return f.w.sendResult(protocol.TypeCommandFailure, hc.Context, []automation.HandlerResult{*result})
}

func (f ipcFinalizer) EventSucceeded(_ context.Context, _ *automation.Event, hc *automation.HandlerContext, results []automation.HandlerResult) error {
	return f.w.sendResult(protocol.TypeEventSuccess, hc.Context, results)
}

func (f ipcFinalizer) EventFailed(_ context.Context, _ *automation.Event, hc *automation.HandlerContext, results []automation.HandlerResult) error {
	return f.w.sendResult(protocol.TypeEventFailure, hc.Context, results)
}

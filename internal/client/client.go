// Package client is the composition root of the runtime. It wires the
// transports, the cluster master and the ambient services from
// configuration and runs them until shutdown.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/autoclient/internal/api"
	"github.com/mattjoyce/autoclient/internal/automation"
	"github.com/mattjoyce/autoclient/internal/cluster"
	"github.com/mattjoyce/autoclient/internal/config"
	"github.com/mattjoyce/autoclient/internal/events"
	"github.com/mattjoyce/autoclient/internal/eventstore"
	"github.com/mattjoyce/autoclient/internal/graph"
	"github.com/mattjoyce/autoclient/internal/handlers"
	"github.com/mattjoyce/autoclient/internal/health"
	"github.com/mattjoyce/autoclient/internal/lock"
	"github.com/mattjoyce/autoclient/internal/message"
	"github.com/mattjoyce/autoclient/internal/metrics"
	"github.com/mattjoyce/autoclient/internal/processor"
	"github.com/mattjoyce/autoclient/internal/shutdown"
	"github.com/mattjoyce/autoclient/internal/storage"
	"github.com/mattjoyce/autoclient/internal/websocket"
)

// Shutdown hook priorities. Lower runs first.
const (
	hookJournal = 50
	hookLock    = 100
)

// hookTimeout bounds the exit hooks once the components have stopped.
const hookTimeout = 5 * time.Second

// Options configure a Client.
type Options struct {
	// ConfigPath enables live reload of the backoff section. Workers are
	// started with the same path.
	ConfigPath string
	// Listeners are added after the built-in journal, metrics and event
	// hub listeners.
	Listeners []automation.EventListener
	// WorkerPath and WorkerArgs override how worker processes are started.
	// The default is the running executable with "worker --config <path>".
	WorkerPath string
	WorkerArgs []string
	// WorkerStderr receives worker logs; defaults to os.Stderr.
	WorkerStderr io.Writer
}

// Client owns every long-running component of one autoclient process.
type Client struct {
	cfg      *config.Store
	handlers *handlers.Registry
	opts     Options
	logger   *slog.Logger

	hub       *events.Hub
	metrics   *metrics.Metrics
	health    *health.Registry
	hooks     *shutdown.Registry
	graphs    *graph.Factory
	journal   *eventstore.Store
	listeners automation.Listeners

	lifecycle *websocket.Lifecycle
	ws        *websocket.Client
	master    *cluster.Master
	// dispatcher receives WebSocket invocations: the master in cluster
	// mode, else the processor.
	dispatcher websocket.Dispatcher
	api        *api.Server

	stopOnce sync.Once
	stopped  chan struct{}
}

// New builds a Client from the current configuration. Nothing runs until
// Run is called.
func New(cfg *config.Store, server *handlers.Registry, opts Options, logger *slog.Logger) *Client {
	if opts.WorkerStderr == nil {
		opts.WorkerStderr = os.Stderr
	}
	c := &Client{
		cfg:      cfg,
		handlers: server,
		opts:     opts,
		logger:   logger,
		hub:      events.NewHub(256),
		metrics:  metrics.New(),
		health:   health.NewRegistry(),
		hooks:    shutdown.NewRegistry(logger),
		graphs:   graph.NewFactory(&http.Client{Timeout: 30 * time.Second}, logger.With("component", "graph")),
		stopped:  make(chan struct{}),
	}
	c.metrics.TrackDroppedEvents(c.hub.Dropped)
	return c
}

// Hooks returns the exit hook registry so callers can add their own.
func (c *Client) Hooks() *shutdown.Registry { return c.hooks }

// Hub returns the lifecycle event hub.
func (c *Client) Hub() *events.Hub { return c.hub }

// Health returns the health indicator registry.
func (c *Client) Health() *health.Registry { return c.health }

// Stop asks a running client to shut down gracefully.
func (c *Client) Stop() {
	c.stopOnce.Do(func() { close(c.stopped) })
}

// Run starts every configured component and blocks until ctx is done, Stop
// is called or a component fails. A fatal registration rejection is
// returned wrapped around websocket.ErrFatalRegistration.
func (c *Client) Run(ctx context.Context) error {
	cfg := c.cfg.Get()

	if cfg.LockPath != "" {
		l, err := lock.AcquirePIDLock(cfg.LockPath)
		if err != nil {
			return fmt.Errorf("acquire PID lock %s: %w", cfg.LockPath, err)
		}
		c.logger.Info("acquired PID lock", "path", l.Path())
		c.hooks.Register("pid-lock", hookLock, func(context.Context) error { return l.Release() })
	}

	if err := c.wire(ctx, cfg); err != nil {
		c.runHooks()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if c.opts.ConfigPath != "" {
		w, err := config.NewWatcher(c.opts.ConfigPath, c.cfg, c.logger)
		if err != nil {
			c.logger.Warn("config watcher disabled", "error", err)
		} else {
			g.Go(func() error {
				if err := w.Run(gctx); err != nil {
					c.logger.Warn("config watcher stopped", "error", err)
				}
				return nil
			})
		}
	}
	if c.master != nil {
		g.Go(func() error { return c.master.Run(gctx) })
	}
	if c.ws != nil {
		g.Go(func() error { return c.lifecycle.Run(gctx) })
		g.Go(func() error {
			if err := c.ws.Run(gctx); err != nil {
				return fmt.Errorf("websocket: %w", err)
			}
			return nil
		})
	}
	if c.api != nil {
		g.Go(func() error {
			if err := c.api.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
	}

	if err := c.listeners.StartupSuccessful(ctx); err != nil {
		c.logger.Warn("startup listener failed", "error", err)
	}
	c.logger.Info("autoclient started",
		"name", cfg.Name,
		"version", cfg.Version,
		"websocket", cfg.WS.Enabled,
		"http", cfg.HTTP.Enabled,
		"cluster", cfg.Cluster.Enabled,
	)

	g.Go(func() error {
		select {
		case <-ctx.Done():
			c.logger.Info("shutdown signal received")
		case <-c.stopped:
			c.logger.Info("shutdown requested")
		case <-gctx.Done():
		}
		c.drain()
		cancel()
		return nil
	})

	err := g.Wait()
	c.runHooks()
	return err
}

// wire builds the components the configuration enables.
func (c *Client) wire(ctx context.Context, cfg *config.Config) error {
	var recorder message.Recorder
	if cfg.Journal.Path != "" {
		db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		c.hooks.Register("journal", hookJournal, func(context.Context) error { return db.Close() })
		c.journal = eventstore.NewStore(db)
		recorder = c.journal
		c.logger.Info("journal opened", "path", cfg.Journal.Path)
	}

	c.listeners = automation.Listeners{events.NewListener(c.hub), metrics.NewListener(c.metrics)}
	if c.journal != nil {
		c.listeners = append(c.listeners, eventstore.NewListener(c.journal))
	}
	c.listeners = append(c.listeners, c.opts.Listeners...)

	c.lifecycle = websocket.NewLifecycle(c.logger.With("component", "websocket"), c.metrics.WSQueued)
	wsTransport := websocket.NewTransport(c.cfg, c.lifecycle, c.graphs)
	httpTransport := api.NewTransport(c.cfg, c.graphs, c.logger.With("component", "api"))

	var pipeline api.Pipeline
	if cfg.Cluster.Enabled {
		conn := cluster.Connection(offline{})
		if cfg.WS.Enabled {
			conn = connection{c: c}
		}
		up := upstream{http: httpTransport}
		if cfg.WS.Enabled {
			up.ws = wsTransport
		}
		c.master = cluster.NewMaster(c.cfg, c.newPool(), up, cluster.MasterOptions{
			Listeners:         c.listeners,
			Recorder:          recorder,
			Metrics:           c.metrics,
			Hub:               c.hub,
			Connection:        conn,
			OnShutdownRequest: c.Stop,
		}, c.logger.With("component", "cluster"))
		c.dispatcher = c.master
		pipeline = c.master
		c.health.Register("cluster", c.master.Health)
	} else {
		opts := []processor.Option{processor.WithListeners(c.listeners...)}
		if recorder != nil {
			opts = append(opts, processor.WithRecorder(recorder))
		}
		c.dispatcher = processorDispatcher{p: processor.New(c.cfg, c.handlers, wsTransport, c.logger.With("component", "processor"), opts...)}
		pipeline = processor.New(c.cfg, c.handlers, httpTransport, c.logger.With("component", "processor"), opts...)
	}

	if cfg.WS.Enabled {
		wsListeners := c.listeners
		if c.master != nil {
			wsListeners = append(automation.Listeners{registrationForwarder{m: c.master}}, wsListeners...)
		}
		c.ws = websocket.NewClient(c.cfg, c.lifecycle, websocket.ClientOptions{
			Dispatcher:  c,
			Listeners:   wsListeners,
			Descriptors: c.descriptors,
			Metrics:     c.metrics,
		}, c.logger.With("component", "websocket"))
		c.health.Register("websocket", func() health.Status {
			return health.Status{Up: c.ws.Connected() && c.ws.Registered(), Detail: map[string]any{
				"connected":  c.ws.Connected(),
				"registered": c.ws.Registered(),
				"queued":     c.lifecycle.Pending(),
			}}
		})
	}

	if cfg.HTTP.Enabled {
		var journal api.Journal
		if c.journal != nil {
			journal = c.journal
		}
		c.api = api.New(api.Config{
			Listen:      cfg.HTTP.Listen,
			APIKey:      cfg.APIKey,
			Tokens:      cfg.HTTP.Auth.Tokens,
			EventSecret: cfg.HTTP.EventSecret,
		}, pipeline, api.Options{
			Health:  c.health,
			Metrics: c.metrics,
			Hub:     c.hub,
			Journal: journal,
		}, c.logger.With("component", "api"))
	}

	if c.ws == nil && c.api == nil {
		return errors.New("no transport enabled: set ws.enabled or http.enabled")
	}
	return nil
}

func (c *Client) newPool() *cluster.ProcessPool {
	args := c.opts.WorkerArgs
	if args == nil {
		args = []string{"worker"}
		if c.opts.ConfigPath != "" {
			args = append(args, "--config", c.opts.ConfigPath)
		}
	}
	return cluster.NewProcessPool(cluster.ProcessPoolOptions{
		Size:    func() int { return c.cfg.Get().Cluster.Workers },
		Path:    c.opts.WorkerPath,
		Args:    args,
		Stderr:  c.opts.WorkerStderr,
		Metrics: c.metrics,
	}, c.logger.With("component", "pool"))
}

func (c *Client) descriptors() (commands, events any) {
	return c.handlers.Commands(), c.handlers.Events()
}

// DispatchCommand routes a WebSocket command to the active pipeline.
func (c *Client) DispatchCommand(ctx context.Context, cmd *automation.Command) {
	c.dispatcher.DispatchCommand(ctx, cmd)
}

// DispatchEvent routes a WebSocket event to the active pipeline.
func (c *Client) DispatchEvent(ctx context.Context, ev *automation.Event) {
	c.dispatcher.DispatchEvent(ctx, ev)
}

// drain stops intake and waits for in-flight work within the grace period.
func (c *Client) drain() {
	term := c.cfg.Get().WS.Termination
	ctx, cancel := context.WithTimeout(context.Background(), term.GracePeriod+hookTimeout)
	defer cancel()

	if c.master != nil {
		c.master.Shutdown(ctx)
	}
	if c.ws != nil {
		c.ws.Close()
		if term.Graceful {
			wctx, wcancel := context.WithTimeout(ctx, term.GracePeriod)
			if err := c.ws.Wait(wctx); err != nil {
				c.logger.Warn("invocations still running at shutdown", "error", err)
			}
			wcancel()
		}
	}
}

func (c *Client) runHooks() {
	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()
	if failed := c.hooks.Run(ctx); failed > 0 {
		c.logger.Warn("shutdown hooks failed", "count", failed)
	}
}

// processorDispatcher runs WebSocket invocations in process.
type processorDispatcher struct {
	p *processor.Processor
}

func (d processorDispatcher) DispatchCommand(ctx context.Context, cmd *automation.Command) {
	d.p.ProcessCommand(ctx, cmd, nil)
}

func (d processorDispatcher) DispatchEvent(ctx context.Context, ev *automation.Event) {
	d.p.ProcessEvent(ctx, ev, nil)
}

// upstream relays worker output back to where the invocation came from:
// the HTTP response for HTTP invocations, else the WebSocket. ws is nil when
// only HTTP is enabled.
type upstream struct {
	ws   *websocket.Transport
	http *api.Transport
}

var errNoWebSocket = errors.New("websocket transport not enabled")

func (u upstream) SendStatusMessage(ctx context.Context, status *automation.StatusEnvelope, ac *automation.AutomationContext) error {
	if _, ok := api.BufferFrom(ctx); ok || u.ws == nil {
		return u.http.SendStatusMessage(ctx, status, ac)
	}
	return u.ws.SendStatusMessage(ctx, status, ac)
}

func (u upstream) Deliver(ctx context.Context, req processor.Request, ac *automation.AutomationContext, out *automation.OutgoingMessage) error {
	if _, ok := api.BufferFrom(ctx); ok {
		return u.http.Deliver(ctx, req, ac, out)
	}
	if u.ws == nil {
		return errNoWebSocket
	}
	return u.ws.Deliver(ctx, req, ac, out)
}

func (u upstream) SendBackoff(d time.Duration) error {
	if u.ws == nil {
		return nil
	}
	return u.ws.SendBackoff(d)
}

// connection reports the WebSocket state to the master.
type connection struct {
	c *Client
}

func (c connection) Connected() bool  { return c.c.ws.Connected() }
func (c connection) Registered() bool { return c.c.ws.Registered() }

// offline stands in for the backend connection when only HTTP is enabled.
type offline struct{}

func (offline) Connected() bool  { return true }
func (offline) Registered() bool { return true }

// registrationForwarder hands every confirmed registration to the master so
// it reaches the workers.
type registrationForwarder struct {
	automation.NopListener
	m *cluster.Master
}

func (r registrationForwarder) RegistrationSuccessful(ctx context.Context, reg *automation.Registration) error {
	return r.m.RegistrationSuccessful(ctx, reg)
}

package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	gws "github.com/gorilla/websocket"

	"github.com/mattjoyce/autoclient/internal/automation"
	"github.com/mattjoyce/autoclient/internal/config"
	"github.com/mattjoyce/autoclient/internal/metrics"
)

const defaultPingInterval = 10 * time.Second

// ErrFatalRegistration marks a registration rejection that retrying cannot
// fix. The process is expected to exit with status 1.
var ErrFatalRegistration = errors.New("registration rejected")

var errPongTimeout = errors.New("pong not received")

// Dispatcher receives the invocations that arrive on the connection.
type Dispatcher interface {
	DispatchCommand(ctx context.Context, cmd *automation.Command)
	DispatchEvent(ctx context.Context, ev *automation.Event)
}

// RegistrationPayload is posted to the registration endpoint.
type RegistrationPayload struct {
	APIVersion string   `json:"api_version"`
	Name       string   `json:"name"`
	Version    string   `json:"version"`
	Policy     string   `json:"policy"`
	TeamIDs    []string `json:"team_ids"`
	GroupName  string   `json:"group_name,omitempty"`
	Commands   any      `json:"commands"`
	Events     any      `json:"events"`
	Ingesters  []any    `json:"ingesters"`
}

// ClientOptions wires a Client to the rest of the runtime.
type ClientOptions struct {
	Dispatcher Dispatcher
	Listeners  automation.EventListener
	// Descriptors returns the command and event descriptors to register.
	Descriptors func() (commands, events any)
	Metrics     *metrics.Metrics
	HTTPClient  *http.Client
}

// Client registers with the backend and keeps a WebSocket open to it,
// re-registering and reconnecting whenever the connection drops.
type Client struct {
	cfg       *config.Store
	lifecycle *Lifecycle
	opts      ClientOptions
	logger    *slog.Logger

	pingInterval time.Duration

	registration atomic.Pointer[automation.Registration]
	connected    atomic.Bool
	closing      atomic.Bool
	pings        atomic.Int64
	pongs        atomic.Int64

	mu      sync.Mutex
	current *Conn

	// inflightMu orders inflight.Add against Close so Wait never races a
	// new dispatch.
	inflightMu sync.Mutex
	inflight   sync.WaitGroup
}

func NewClient(cfg *config.Store, lifecycle *Lifecycle, opts ClientOptions, logger *slog.Logger) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: cfg.Get().WS.Timeout}
	}
	if opts.Listeners == nil {
		opts.Listeners = automation.NopListener{}
	}
	return &Client{
		cfg:          cfg,
		lifecycle:    lifecycle,
		opts:         opts,
		logger:       logger,
		pingInterval: defaultPingInterval,
	}
}

// Connected reports whether the WebSocket is open.
func (c *Client) Connected() bool { return c.connected.Load() }

// Registered reports whether a registration has been confirmed.
func (c *Client) Registered() bool { return c.registration.Load() != nil }

// Registration returns the current registration, or nil.
func (c *Client) Registration() *automation.Registration { return c.registration.Load() }

// Run registers, connects and serves until ctx is done or registration
// fails for good.
func (c *Client) Run(ctx context.Context) error {
	for {
		reg, err := c.Register(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := c.opts.Listeners.RegistrationSuccessful(ctx, reg); err != nil {
			c.logger.Warn("registration listener failed", "error", err)
		}

		err = c.serve(ctx, reg)
		if ctx.Err() != nil || c.closing.Load() {
			return nil
		}
		c.logger.Warn("websocket closed, reconnecting", "error", err)
		if c.opts.Metrics != nil {
			c.opts.Metrics.WSReconnects.Inc()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.cfg.Get().WS.Retry.MinTimeout):
		}
	}
}

// Register posts the registration payload, retrying with exponential
// backoff. 409 and transport errors are retried; 400, 401, 403 and 500 are
// fatal.
func (c *Client) Register(ctx context.Context) (*automation.Registration, error) {
	cfg := c.cfg.Get()
	body, err := json.Marshal(c.payload(cfg))
	if err != nil {
		return nil, fmt.Errorf("marshal registration: %w", err)
	}

	rc := cfg.WS.Retry
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = rc.MinTimeout
	eb.MaxInterval = rc.MaxTimeout
	eb.Multiplier = rc.Factor
	eb.RandomizationFactor = 0.5
	eb.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(rc.Retries)), ctx)

	var reg *automation.Registration
	attempt := 0
	op := func() error {
		attempt++
		r, err := c.registerOnce(ctx, cfg, body)
		if err != nil {
			c.logger.Warn("registration attempt failed", "attempt", attempt, "error", err)
			return err
		}
		reg = r
		return nil
	}
	if err := backoff.Retry(op, bo); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	c.registration.Store(reg)
	c.logger.Info("registration successful", "url", reg.URL, "attempts", attempt)
	return reg, nil
}

func (c *Client) registerOnce(ctx context.Context, cfg *config.Config, body []byte) (*automation.Registration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoints.API, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build registration request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registration request: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusInternalServerError:
		return nil, backoff.Permanent(fmt.Errorf("%w: status %d: %s", ErrFatalRegistration, resp.StatusCode, bytes.TrimSpace(raw)))
	default:
		return nil, fmt.Errorf("registration returned status %d", resp.StatusCode)
	}

	var reg automation.Registration
	if err := json.Unmarshal(raw, &reg); err != nil {
		return nil, fmt.Errorf("decode registration: %w", err)
	}
	if reg.URL == "" {
		return nil, fmt.Errorf("registration response has no url")
	}
	reg.Name, reg.Version = cfg.Name, cfg.Version
	return &reg, nil
}

func (c *Client) payload(cfg *config.Config) RegistrationPayload {
	p := RegistrationPayload{
		APIVersion: "1",
		Name:       cfg.Name,
		Version:    cfg.Version,
		Policy:     cfg.Policy,
		TeamIDs:    cfg.WorkspaceIDs,
		GroupName:  cfg.GroupID,
		Commands:   []any{},
		Events:     []any{},
		Ingesters:  []any{},
	}
	if c.opts.Descriptors != nil {
		p.Commands, p.Events = c.opts.Descriptors()
	}
	return p
}

// serve dials reg.URL and runs the connection until it closes.
func (c *Client) serve(ctx context.Context, reg *automation.Registration) error {
	cfg := c.cfg.Get()
	dialer := &gws.Dialer{
		HandshakeTimeout: cfg.WS.Timeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+reg.JWT)

	ws, resp, err := dialer.DialContext(ctx, reg.URL, hdr)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}

	conn := NewConn(ws, cfg.WS.Compress)
	c.pings.Store(0)
	c.pongs.Store(0)
	c.setCurrent(conn)
	c.lifecycle.Connect(conn)
	c.setConnected(true)
	c.logger.Info("websocket connected")
	defer func() {
		c.lifecycle.Disconnect(conn)
		c.setConnected(false)
		c.setCurrent(nil)
		_ = conn.Close()
	}()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	readErr := make(chan error, 1)
	go func() { readErr <- c.readLoop(connCtx, ws, conn) }()

	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			<-readErr
			return nil
		case err := <-readErr:
			return err
		case <-ticker.C:
			n := c.pings.Add(1)
			if n-c.pongs.Load() > 1 {
				c.logger.Warn("websocket pong overdue, terminating connection", "ping", n, "last_pong", c.pongs.Load())
				_ = conn.Close()
				<-readErr
				return errPongTimeout
			}
			if err := conn.WriteJSON(PingFrame(n)); err != nil {
				_ = conn.Close()
				<-readErr
				return err
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context, ws *gws.Conn, conn *Conn) error {
	dispatchCtx := context.WithoutCancel(ctx)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("read websocket: %w", err)
		}

		frame, err := DecodeFrame(data)
		if err != nil {
			c.logger.Warn("dropping websocket frame", "error", err, "bytes", len(data))
			continue
		}

		switch frame.Kind {
		case FramePing:
			if err := conn.WriteJSON(PongFrame(frame.Ping)); err != nil {
				return err
			}
		case FramePong:
			c.pongs.Store(frame.Pong)
		case FrameControl:
			c.logger.Info("control frame received", "name", frame.Control.Name, "duration_ms", frame.Control.Duration)
		case FrameCommand:
			if c.opts.Dispatcher == nil || !c.track() {
				continue
			}
			go func(cmd *automation.Command) {
				defer c.inflight.Done()
				c.opts.Dispatcher.DispatchCommand(dispatchCtx, cmd)
			}(frame.Command)
		case FrameEvent:
			if c.opts.Dispatcher == nil || !c.track() {
				continue
			}
			go func(ev *automation.Event) {
				defer c.inflight.Done()
				c.opts.Dispatcher.DispatchEvent(dispatchCtx, ev)
			}(frame.Event)
		}
	}
}

// track counts one dispatch. It refuses once the client is closing.
func (c *Client) track() bool {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	if c.closing.Load() {
		c.logger.Debug("dropping invocation received while closing")
		return false
	}
	c.inflight.Add(1)
	return true
}

// Close stops reconnecting, refuses further dispatches and closes the
// current connection.
func (c *Client) Close() {
	c.inflightMu.Lock()
	c.closing.Store(true)
	c.inflightMu.Unlock()
	c.mu.Lock()
	conn := c.current
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Wait blocks until every dispatched invocation has returned or ctx is done.
// Call it after Close.
func (c *Client) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) setCurrent(conn *Conn) {
	c.mu.Lock()
	c.current = conn
	c.mu.Unlock()
}

func (c *Client) setConnected(v bool) {
	c.connected.Store(v)
	if c.opts.Metrics != nil {
		if v {
			c.opts.Metrics.WSConnected.Set(1)
		} else {
			c.opts.Metrics.WSConnected.Set(0)
		}
	}
}

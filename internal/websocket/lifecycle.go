package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultDrainInterval = time.Second
	defaultWriteTimeout  = 10 * time.Second
)

// frameWriter is the write side of a live connection.
type frameWriter interface {
	WriteFrame(data []byte) error
}

// Conn serializes writes to one gorilla connection.
type Conn struct {
	ws       *gws.Conn
	compress bool

	mu sync.Mutex
}

func NewConn(ws *gws.Conn, compress bool) *Conn {
	return &Conn{ws: ws, compress: compress}
}

// WriteFrame writes one JSON frame, gzipped as a binary message when
// compression is on.
func (c *Conn) WriteFrame(data []byte) error {
	mt := gws.TextMessage
	if c.compress {
		z, err := Gzip(data)
		if err != nil {
			return err
		}
		data, mt = z, gws.BinaryMessage
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.ws.WriteMessage(mt, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// WriteJSON encodes v and writes it.
func (c *Conn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return c.WriteFrame(data)
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.WriteControl(gws.CloseMessage, gws.FormatCloseMessage(gws.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.ws.Close()
}

// Lifecycle delivers outgoing frames in order, at least once: directly while
// connected, otherwise from a queue drained once a connection is back.
type Lifecycle struct {
	logger        *slog.Logger
	queued        prometheus.Gauge
	drainInterval time.Duration

	mu    sync.Mutex
	conn  frameWriter
	queue [][]byte
}

// NewLifecycle returns a disconnected Lifecycle. queued may be nil.
func NewLifecycle(logger *slog.Logger, queued prometheus.Gauge) *Lifecycle {
	return &Lifecycle{
		logger:        logger,
		queued:        queued,
		drainInterval: defaultDrainInterval,
	}
}

// Connected reports whether a connection is attached.
func (l *Lifecycle) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Connect attaches w as the live connection.
func (l *Lifecycle) Connect(w frameWriter) {
	l.mu.Lock()
	l.conn = w
	l.mu.Unlock()
}

// Disconnect detaches w if it is still the live connection.
func (l *Lifecycle) Disconnect(w frameWriter) {
	l.mu.Lock()
	if l.conn == w {
		l.conn = nil
	}
	l.mu.Unlock()
}

// Send encodes v and delivers it, queuing it when there is no connection,
// when earlier frames are still queued, or when the write fails.
func (l *Lifecycle) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil && len(l.queue) == 0 {
		err = l.conn.WriteFrame(data)
		if err == nil {
			return nil
		}
		l.logger.Warn("websocket write failed, queuing frame", "error", err)
	}
	l.queue = append(l.queue, data)
	l.setQueuedLocked()
	return nil
}

// Pending returns the number of queued frames.
func (l *Lifecycle) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Run drains the queue every second until ctx is done.
func (l *Lifecycle) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.drainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.flush()
		}
	}
}

// flush writes queued frames in order, stopping at the first failure.
func (l *Lifecycle) flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil || len(l.queue) == 0 {
		return
	}
	sent := 0
	for _, data := range l.queue {
		if err := l.conn.WriteFrame(data); err != nil {
			l.logger.Warn("websocket drain stopped", "error", err, "remaining", len(l.queue)-sent)
			break
		}
		sent++
	}
	l.queue = l.queue[sent:]
	if len(l.queue) == 0 {
		l.queue = nil
	}
	if sent > 0 {
		l.logger.Debug("drained queued websocket frames", "count", sent)
	}
	l.setQueuedLocked()
}

func (l *Lifecycle) setQueuedLocked() {
	if l.queued != nil {
		l.queued.Set(float64(len(l.queue)))
	}
}

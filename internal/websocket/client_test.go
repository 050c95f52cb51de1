package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/autoclient/internal/automation"
	"github.com/mattjoyce/autoclient/internal/config"
)

func testConfig(apiURL string) *config.Store {
	cfg := config.Defaults()
	cfg.APIKey = "key-1"
	cfg.WorkspaceIDs = []string{"T1"}
	cfg.Endpoints.API = apiURL
	cfg.WS.Timeout = 2 * time.Second
	cfg.WS.Retry.Retries = 3
	cfg.WS.Retry.MinTimeout = time.Millisecond
	cfg.WS.Retry.MaxTimeout = 5 * time.Millisecond
	return config.NewStore(cfg)
}

func TestRegisterRetriesConflict(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		var p RegistrationPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, []string{"T1"}, p.TeamIDs)

		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusConflict)
			return
		}
		_, _ = w.Write([]byte(`{"url":"wss://example/ws","jwt":"tok"}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), NewLifecycle(testLogger(), nil), ClientOptions{}, testLogger())
	reg, err := c.Register(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wss://example/ws", reg.URL)
	assert.Equal(t, "tok", reg.JWT)
	assert.Equal(t, int32(3), calls.Load())
	assert.True(t, c.Registered())
}

func TestRegisterFatalStatuses(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusInternalServerError} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(status)
			}))
			defer srv.Close()

			c := NewClient(testConfig(srv.URL), NewLifecycle(testLogger(), nil), ClientOptions{}, testLogger())
			_, err := c.Register(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrFatalRegistration))
			assert.Equal(t, int32(1), calls.Load())
			assert.False(t, c.Registered())
		})
	}
}

func TestRegisterGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), NewLifecycle(testLogger(), nil), ClientOptions{}, testLogger())
	_, err := c.Register(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrFatalRegistration))
	assert.Equal(t, int32(4), calls.Load(), "one attempt plus three retries")
}

type chanDispatcher struct {
	commands chan *automation.Command
	events   chan *automation.Event
}

func (d *chanDispatcher) DispatchCommand(_ context.Context, cmd *automation.Command) { d.commands <- cmd }
func (d *chanDispatcher) DispatchEvent(_ context.Context, ev *automation.Event)      { d.events <- ev }

type recordingListener struct {
	automation.NopListener
	registered atomic.Bool
}

func (l *recordingListener) RegistrationSuccessful(context.Context, *automation.Registration) error {
	l.registered.Store(true)
	return nil
}

func TestClientRoundTrip(t *testing.T) {
	upgrader := gws.Upgrader{}
	pongs := make(chan string, 4)
	var mu sync.Mutex
	var serverConn *gws.Conn

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"url":"` + wsURL + `","jwt":"tok"}`))
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		serverConn = conn
		mu.Unlock()

		z, _ := Gzip([]byte(`{"command":"Foo","correlation_id":"c1","team":{"id":"T1"}}`))
		_ = conn.WriteMessage(gws.BinaryMessage, z)
		_ = conn.WriteMessage(gws.TextMessage, []byte(`{"ping":42}`))
		_ = conn.WriteMessage(gws.TextMessage, []byte(`{"garbage":true}`))
		_ = conn.WriteMessage(gws.TextMessage, []byte(`{"data":{},"extensions":{"operationName":"OnPush"}}`))

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			pongs <- string(data)
		}
	})

	d := &chanDispatcher{commands: make(chan *automation.Command, 1), events: make(chan *automation.Event, 1)}
	listener := &recordingListener{}
	lifecycle := NewLifecycle(testLogger(), nil)
	c := NewClient(testConfig(srv.URL+"/register"), lifecycle, ClientOptions{Dispatcher: d, Listeners: listener}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case cmd := <-d.commands:
		assert.Equal(t, "Foo", cmd.Command)
	case <-time.After(3 * time.Second):
		t.Fatal("command not dispatched")
	}
	select {
	case ev := <-d.events:
		assert.Equal(t, "OnPush", ev.Extensions.OperationName)
	case <-time.After(3 * time.Second):
		t.Fatal("event not dispatched")
	}
	select {
	case got := <-pongs:
		assert.JSONEq(t, `{"pong":42}`, got)
	case <-time.After(3 * time.Second):
		t.Fatal("pong not received")
	}

	assert.True(t, c.Connected())
	assert.True(t, listener.registered.Load())

	require.NoError(t, lifecycle.Send(map[string]string{"hello": "backend"}))
	select {
	case got := <-pongs:
		assert.JSONEq(t, `{"hello":"backend"}`, got)
	case <-time.After(3 * time.Second):
		t.Fatal("lifecycle frame not received")
	}

	cancel()
	require.NoError(t, <-done)
	assert.False(t, c.Connected())

	mu.Lock()
	if serverConn != nil {
		_ = serverConn.Close()
	}
	mu.Unlock()
	require.NoError(t, c.Wait(context.Background()))
}

func TestClientTerminatesOnMissedPong(t *testing.T) {
	upgrader := gws.Upgrader{}
	var dials atomic.Int32

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"url":"` + wsURL + `","jwt":"tok"}`))
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Never answers pings.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := NewClient(testConfig(srv.URL+"/register"), NewLifecycle(testLogger(), nil), ClientOptions{}, testLogger())
	c.pingInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return dials.Load() >= 2 }, 3*time.Second, 10*time.Millisecond,
		"client should reconnect after the pong deadline")

	cancel()
	require.NoError(t, <-done)
}

func TestCloseRefusesNewDispatches(t *testing.T) {
	c := NewClient(testConfig("http://127.0.0.1:0/register"), NewLifecycle(testLogger(), nil), ClientOptions{}, testLogger())

	require.True(t, c.track())
	c.Close()
	assert.False(t, c.track(), "no dispatch may start once closing")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Wait(ctx), context.DeadlineExceeded, "the tracked dispatch is still running")

	c.inflight.Done()
	require.NoError(t, c.Wait(context.Background()))
}

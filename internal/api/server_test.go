package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/autoclient/internal/auth"
	"github.com/mattjoyce/autoclient/internal/automation"
	"github.com/mattjoyce/autoclient/internal/config"
	"github.com/mattjoyce/autoclient/internal/events"
	"github.com/mattjoyce/autoclient/internal/eventstore"
	"github.com/mattjoyce/autoclient/internal/handlers"
	"github.com/mattjoyce/autoclient/internal/health"
	"github.com/mattjoyce/autoclient/internal/metrics"
	"github.com/mattjoyce/autoclient/internal/processor"
)

const adminKey = "admin-key"

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		Listen: "127.0.0.1:0",
		APIKey: adminKey,
		Tokens: []config.Token{
			{Token: "watcher", Scopes: []string{auth.ScopeEventsRO}},
			{Token: "commands", Scopes: []string{auth.ScopeCommandRW}},
		},
	}
}

// recordingPipeline captures what the server hands to the pipeline.
type recordingPipeline struct {
	mu       sync.Mutex
	commands []*automation.Command
	events   []*automation.Event
	result   automation.HandlerResult
}

func (p *recordingPipeline) ProcessCommand(ctx context.Context, cmd *automation.Command, _ func(automation.HandlerResult)) automation.HandlerResult {
	p.mu.Lock()
	p.commands = append(p.commands, cmd)
	p.mu.Unlock()
	if b, ok := BufferFrom(ctx); ok {
		b.add(&automation.OutgoingMessage{Kind: automation.MessageRespond, Message: "buffered"})
	}
	return p.result
}

func (p *recordingPipeline) ProcessEvent(_ context.Context, ev *automation.Event, _ func([]automation.HandlerResult)) []automation.HandlerResult {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return []automation.HandlerResult{p.result}
}

type fakeJournal struct {
	invocations []eventstore.Invocation
	messages    map[string]*eventstore.MessageRecord
	gotCorr     string
	gotLimit    int
}

func (j *fakeJournal) ListInvocations(_ context.Context, correlationID string, limit int) ([]eventstore.Invocation, error) {
	j.gotCorr, j.gotLimit = correlationID, limit
	return j.invocations, nil
}

func (j *fakeJournal) GetMessage(_ context.Context, id string) (*eventstore.MessageRecord, error) {
	if rec, ok := j.messages[id]; ok {
		return rec, nil
	}
	return nil, eventstore.ErrMessageNotFound
}

func do(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func newProcessorPipeline(t *testing.T) *processor.Processor {
	t.Helper()
	reg := handlers.NewRegistry()
	require.NoError(t, reg.RegisterCommand(handlers.Command{
		Name: "HelloWorld",
		Handler: func(ctx context.Context, cmd *automation.Command, hc *automation.HandlerContext) (*automation.HandlerResult, error) {
			name, _ := cmd.Parameter("name")
			if name == "" {
				return nil, errors.New("name is required")
			}
			if err := hc.MessageClient.Respond(ctx, "hello "+name, nil); err != nil {
				return nil, err
			}
			return nil, nil
		},
	}))
	require.NoError(t, reg.RegisterEvent(handlers.Event{
		Name:         "NotifyPush",
		Subscription: `subscription OnPush { Push { sha } }`,
		Handler: func(ctx context.Context, _ *automation.Event, hc *automation.HandlerContext) (*automation.HandlerResult, error) {
			return &automation.HandlerResult{Code: 0}, hc.MessageClient.Send(ctx, "pushed",
				[]automation.Destination{{UserAgent: "slack", Team: "T1", Channels: []string{"ops"}}}, nil)
		},
	}))

	cfg := config.NewStore(config.Defaults())
	return processor.New(cfg, reg, NewTransport(cfg, nil, testLogger()), testLogger())
}

func TestCommandRoundTrip(t *testing.T) {
	s := New(testConfig(), newProcessorPipeline(t), Options{}, testLogger())
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/command", "commands",
		`{"command":"HelloWorld","team":{"id":"T1"},"parameters":[{"name":"name","value":"ada"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp CommandResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Result.Code)
	assert.NotEmpty(t, resp.Result.CorrelationID)
	assert.NotEmpty(t, resp.Result.InvocationID)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, automation.MessageRespond, resp.Messages[0].Kind)
	assert.Equal(t, "hello ada", resp.Messages[0].Message)
}

func TestCommandHandlerFailure(t *testing.T) {
	s := New(testConfig(), newProcessorPipeline(t), Options{}, testLogger())

	rec := do(t, s.Handler(), http.MethodPost, "/command", adminKey, `{"command":"HelloWorld"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp CommandResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Result.Code)
	assert.Contains(t, resp.Result.Message, "name is required")
	assert.Empty(t, resp.Messages)
}

func TestEventRoundTrip(t *testing.T) {
	s := New(testConfig(), newProcessorPipeline(t), Options{}, testLogger())

	rec := do(t, s.Handler(), http.MethodPost, "/event", adminKey,
		`{"data":{"Push":[{"sha":"abc"}]},"extensions":{"team_id":"T1","operationName":"OnPush","correlation_id":"c-1"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp EventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "c-1", resp.Results[0].CorrelationID)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, automation.MessageSend, resp.Messages[0].Kind)
	assert.Equal(t, []string{"ops"}, resp.Messages[0].Destinations[0].Channels)
}

func TestCommandDropsCallerContext(t *testing.T) {
	p := &recordingPipeline{}
	s := New(testConfig(), p, Options{}, testLogger())

	rec := do(t, s.Handler(), http.MethodPost, "/command", adminKey,
		`{"command":"HelloWorld","__context":{"invocation_id":"forged"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, p.commands, 1)
	assert.Nil(t, p.commands[0].Context)
	assert.NotEmpty(t, p.commands[0].CorrelationID)

	var resp CommandResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "buffered", resp.Messages[0].Message)
}

func TestEventFailureStatus(t *testing.T) {
	p := &recordingPipeline{result: automation.HandlerResult{Code: 3, Message: "boom"}}
	s := New(testConfig(), p, Options{}, testLogger())

	rec := do(t, s.Handler(), http.MethodPost, "/event", adminKey, `{"extensions":{"operationName":"OnPush"}}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp EventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	require.Len(t, p.events, 1)
	assert.NotEmpty(t, p.events[0].Extensions.CorrelationID)
}

func TestRequestValidation(t *testing.T) {
	s := New(testConfig(), &recordingPipeline{}, Options{}, testLogger())
	h := s.Handler()

	tests := []struct {
		name   string
		path   string
		token  string
		body   string
		status int
	}{
		{name: "missing token", path: "/command", body: `{"command":"x"}`, status: http.StatusUnauthorized},
		{name: "unknown token", path: "/command", token: "nope", body: `{"command":"x"}`, status: http.StatusUnauthorized},
		{name: "read-only token", path: "/command", token: "watcher", body: `{"command":"x"}`, status: http.StatusForbidden},
		{name: "command token on events", path: "/event", token: "commands", body: `{"extensions":{"operationName":"x"}}`, status: http.StatusForbidden},
		{name: "invalid json", path: "/command", token: adminKey, body: `{`, status: http.StatusBadRequest},
		{name: "missing command", path: "/command", token: adminKey, body: `{}`, status: http.StatusBadRequest},
		{name: "missing operation", path: "/event", token: adminKey, body: `{"data":{}}`, status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestBodyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBodyBytes = 16
	s := New(cfg, &recordingPipeline{}, Options{}, testLogger())

	rec := do(t, s.Handler(), http.MethodPost, "/command", adminKey,
		`{"command":"`+strings.Repeat("x", 64)+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	var up bool
	var mu sync.Mutex
	reg := health.NewRegistry()
	reg.Register("websocket", func() health.Status {
		mu.Lock()
		defer mu.Unlock()
		return health.Status{Up: up, Detail: "registered"}
	})
	s := New(testConfig(), &recordingPipeline{}, Options{Health: reg}, testLogger())
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "down", resp.Status)
	assert.Contains(t, resp.Components, "websocket")

	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/ready", "", "").Code)

	mu.Lock()
	up = true
	mu.Unlock()

	rec = do(t, h, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/ready", "", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/live", "", "").Code)
}

func TestHealthWithoutRegistry(t *testing.T) {
	s := New(testConfig(), &recordingPipeline{}, Options{}, testLogger())
	h := s.Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/ready", "", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/metrics", "", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/events", adminKey, "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	s := New(testConfig(), &recordingPipeline{}, Options{Metrics: m}, testLogger())

	rec := do(t, s.Handler(), http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "autoclient_")
}

func TestJournalEndpoints(t *testing.T) {
	worker := 2
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	j := &fakeJournal{
		invocations: []eventstore.Invocation{{
			InvocationID:  "inv-1",
			CorrelationID: "c-1",
			Kind:          eventstore.KindCommand,
			Operation:     "HelloWorld",
			Status:        "success",
			WorkerID:      &worker,
			StartedAt:     now,
			CompletedAt:   now,
		}},
		messages: map[string]*eventstore.MessageRecord{
			"m-1": {ID: "m-1", InvocationID: "inv-1", Kind: automation.MessageRespond, Body: json.RawMessage(`"hi"`), Digest: "d"},
		},
	}
	s := New(testConfig(), &recordingPipeline{}, Options{Journal: j}, testLogger())
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/invocations?correlation_id=c-1&limit=5", "commands", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var list InvocationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Invocations, 1)
	assert.Equal(t, "inv-1", list.Invocations[0].InvocationID)
	assert.Equal(t, 2, *list.Invocations[0].WorkerID)
	assert.Equal(t, "c-1", j.gotCorr)
	assert.Equal(t, 5, j.gotLimit)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/invocations?limit=x", adminKey, "").Code)
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodGet, "/invocations", "watcher", "").Code)

	rec = do(t, h, http.MethodGet, "/messages/m-1", adminKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var msg MessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, "respond", msg.Kind)
	assert.JSONEq(t, `"hi"`, string(msg.Body))

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/messages/missing", adminKey, "").Code)
}

func TestEventStream(t *testing.T) {
	hub := events.NewHub(16)
	hub.Publish(events.TypeCommandIncoming, map[string]string{"operation": "HelloWorld"})

	s := New(testConfig(), &recordingPipeline{}, Options{Hub: hub}, testLogger())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer watcher")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	first := readSSE(t, r)
	assert.Contains(t, first, "id: 1\n")
	assert.Contains(t, first, "event: "+events.TypeCommandIncoming+"\n")
	assert.Contains(t, first, `"operation":"HelloWorld"`)

	hub.Publish(events.TypeCommandSucceeded, map[string]int{"code": 0})
	second := readSSE(t, r)
	assert.Contains(t, second, "id: 2\n")
	assert.Contains(t, second, "event: "+events.TypeCommandSucceeded+"\n")
}

func TestEventStreamTypeFilterAndResume(t *testing.T) {
	hub := events.NewHub(16)
	hub.Publish(events.TypeCommandIncoming, nil)
	hub.Publish(events.TypeWorkerExited, map[string]int{"worker": 1})
	hub.Publish(events.TypeBackoff, map[string]bool{"on": true})

	s := New(testConfig(), &recordingPipeline{}, Options{Hub: hub}, testLogger())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events?type=cluster.", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer watcher")
	req.Header.Set("Last-Event-ID", "2")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	r := bufio.NewReader(resp.Body)
	assert.Contains(t, readSSE(t, r), "id: 3\nevent: "+events.TypeBackoff+"\n")

	hub.Publish(events.TypeCommandSucceeded, nil)
	hub.Publish(events.TypeWorkerExited, map[string]int{"worker": 2})
	assert.Contains(t, readSSE(t, r), "id: 5\n", "command events are filtered out")
}

func TestParseTypeFilter(t *testing.T) {
	assert.Nil(t, parseTypeFilter(""))
	assert.Equal(t, []string{"command.", "cluster."}, parseTypeFilter(" command., ,cluster."))
}

// readSSE reads one blank-line terminated SSE frame.
func readSSE(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	var buf bytes.Buffer
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if line == "\n" {
			return buf.String()
		}
		buf.WriteString(line)
	}
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, int64(0), parseLastEventID(""))
	assert.Equal(t, int64(0), parseLastEventID("x"))
	assert.Equal(t, int64(0), parseLastEventID("-4"))
	assert.Equal(t, int64(12), parseLastEventID("12"))
}

func TestTransport(t *testing.T) {
	tr := NewTransport(config.NewStore(config.Defaults()), nil, testLogger())
	ac := &automation.AutomationContext{InvocationID: "inv-1"}
	ctx := context.Background()

	assert.NoError(t, tr.SendStatusMessage(ctx, &automation.StatusEnvelope{}, ac))

	_, err := tr.CreateGraphClient(ctx, ac)
	assert.Error(t, err)

	_, err = tr.CreateMessageClient(ctx, processor.Request{}, ac)
	assert.Error(t, err)
	assert.Error(t, tr.Deliver(ctx, processor.Request{}, ac, &automation.OutgoingMessage{}))

	buf := &Buffer{}
	ctx = WithBuffer(ctx, buf)
	mc, err := tr.CreateMessageClient(ctx, processor.Request{}, ac)
	require.NoError(t, err)
	require.NoError(t, mc.Respond(ctx, "one", nil))
	require.NoError(t, mc.Delete(ctx, nil, &automation.MessageOptions{ID: "m"}))
	require.NoError(t, tr.Deliver(ctx, processor.Request{}, ac, &automation.OutgoingMessage{Kind: automation.MessageSend, Message: "two"}))

	msgs := buf.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, automation.MessageRespond, msgs[0].Kind)
	assert.Equal(t, automation.MessageDelete, msgs[1].Kind)
	assert.Equal(t, "two", msgs[2].Message)
}

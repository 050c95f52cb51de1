package cluster

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/autoclient/internal/automation"
	"github.com/mattjoyce/autoclient/internal/automation/mocks"
	"github.com/mattjoyce/autoclient/internal/config"
	"github.com/mattjoyce/autoclient/internal/protocol"
	"github.com/mattjoyce/autoclient/internal/shutdown"
)

type workerHarness struct {
	w    *Worker
	toW  *protocol.Encoder
	from *protocol.Decoder
	done chan error
}

func startWorker(t *testing.T, server automation.AutomationServer, hooks *shutdown.Registry) *workerHarness {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	t.Cleanup(func() {
		_ = inW.Close()
		_ = outR.Close()
	})

	cfg := config.Defaults()
	cfg.WS.Termination.GracePeriod = 100 * time.Millisecond
	w := NewWorker(7, config.NewStore(cfg), server, inR, outW, WorkerOptions{Hooks: hooks}, testLogger())

	h := &workerHarness{
		w:    w,
		toW:  protocol.NewEncoder(inW),
		from: protocol.NewDecoder(outR),
		done: make(chan error, 1),
	}
	go func() { h.done <- w.Run(context.Background()) }()

	online := h.next(t)
	require.Equal(t, protocol.TypeOnline, online.Type)
	assert.Equal(t, 7, online.WorkerID)
	return h
}

func (h *workerHarness) next(t *testing.T) *protocol.Message {
	t.Helper()
	type res struct {
		msg *protocol.Message
		err error
	}
	ch := make(chan res, 1)
	go func() {
		msg, err := h.from.Decode()
		ch <- res{msg, err}
	}()
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for worker message")
	}
	return nil
}

func (h *workerHarness) stop(t *testing.T, graceful bool) {
	t.Helper()
	msg := protocol.New(protocol.TypeShutdown)
	msg.Graceful = graceful
	require.NoError(t, h.toW.Encode(msg))
	select {
	case err := <-h.done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorkerRunsCommandAndReportsOverIPC(t *testing.T) {
	ctrl := gomock.NewController(t)
	server := mocks.NewMockAutomationServer(ctrl)
	server.EXPECT().InvokeCommand(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, cmd *automation.Command, hc *automation.HandlerContext) (*automation.HandlerResult, error) {
			assert.NoError(t, hc.MessageClient.Respond(ctx, "on it", nil))
			return &automation.HandlerResult{Code: 0, Message: "done"}, nil
		})

	h := startWorker(t, server, nil)

	msg := protocol.New(protocol.TypeCommand)
	msg.Command = &automation.Command{
		Command:       "Foo",
		CorrelationID: "c1",
		Team:          automation.Team{ID: "T1"},
		Source:        &automation.Source{UserAgent: "web"},
		Context: &automation.AutomationContext{
			InvocationID:  "inv-from-master",
			CorrelationID: "c1",
			WorkspaceID:   "T1",
			Operation:     "Foo",
			Ts:            42,
		},
	}
	require.NoError(t, h.toW.Encode(msg))

	out := h.next(t)
	require.Equal(t, protocol.TypeMessage, out.Type)
	assert.Equal(t, "inv-from-master", out.Context.InvocationID)
	assert.Equal(t, automation.MessageRespond, out.Outgoing.Kind)
	assert.Equal(t, "on it", out.Outgoing.Message)

	res := h.next(t)
	require.Equal(t, protocol.TypeCommandSuccess, res.Type)
	assert.Equal(t, "inv-from-master", res.Context.InvocationID)
	assert.Equal(t, int64(42), res.Context.Ts, "the master's context is restored, not replaced")
	require.Len(t, res.Results, 1)
	assert.Equal(t, "done", res.Results[0].Message)

	status := h.next(t)
	require.Equal(t, protocol.TypeStatus, status.Type)
	assert.Equal(t, "c1", status.Status.CorrelationID)
	assert.Equal(t, 0, status.Status.Status.Code)

	h.stop(t, false)
}

func TestWorkerReportsEventFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	server := mocks.NewMockAutomationServer(ctrl)
	server.EXPECT().OnEvent(gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]automation.HandlerResult{{Code: 0}, {Code: 2, Message: "nope"}}, nil)

	h := startWorker(t, server, nil)

	msg := protocol.New(protocol.TypeEvent)
	msg.Event = &automation.Event{
		Data:       []byte(`{"Push":[]}`),
		Extensions: automation.EventExtensions{OperationName: "OnPush", TeamID: "T1"},
		Context:    &automation.AutomationContext{InvocationID: "ev-1", Operation: "OnPush"},
	}
	require.NoError(t, h.toW.Encode(msg))

	res := h.next(t)
	require.Equal(t, protocol.TypeEventFailure, res.Type)
	assert.Equal(t, "ev-1", res.Context.InvocationID)
	assert.Len(t, res.Results, 2)

	h.stop(t, false)
}

func TestWorkerStoresRegistrationAndRequestsShutdown(t *testing.T) {
	h := startWorker(t, mocks.NewMockAutomationServer(gomock.NewController(t)), nil)

	msg := protocol.New(protocol.TypeRegistration)
	msg.Registration = &automation.Registration{URL: "wss://example", JWT: "tok"}
	require.NoError(t, h.toW.Encode(msg))
	require.Eventually(t, func() bool { return h.w.Registration() != nil }, time.Second, time.Millisecond)

	go func() { _ = h.w.RequestShutdown() }()
	req := h.next(t)
	assert.Equal(t, protocol.TypeShutdown, req.Type)

	h.stop(t, false)
}

func TestWorkerGracefulShutdownRunsHooks(t *testing.T) {
	hooks := shutdown.NewRegistry(testLogger())
	ran := make(chan struct{}, 1)
	hooks.Register("flush", 0, func(context.Context) error {
		ran <- struct{}{}
		return nil
	})

	h := startWorker(t, mocks.NewMockAutomationServer(gomock.NewController(t)), hooks)
	h.stop(t, true)

	select {
	case <-ran:
	default:
		t.Fatal("shutdown hooks did not run")
	}
}

package message

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/golang/mock/gomock"

	"github.com/mattjoyce/autoclient/internal/automation"
	"github.com/mattjoyce/autoclient/internal/automation/mocks"
	"github.com/mattjoyce/autoclient/internal/eventstore"
)

type recordingListener struct {
	automation.NopListener
	order *[]string
}

func (l recordingListener) MessageSending(_ context.Context, msg *automation.OutgoingMessage, _ *automation.HandlerContext) (*automation.OutgoingMessage, error) {
	*l.order = append(*l.order, "sending")
	out := *msg
	out.Destinations = []automation.Destination{{UserAgent: "slack", Channels: []string{"rewritten"}}}
	return &out, nil
}

func (l recordingListener) MessageSent(_ context.Context, msg *automation.OutgoingMessage, _ *automation.HandlerContext) error {
	*l.order = append(*l.order, "sent")
	return nil
}

type fakeRecorder struct {
	order *[]string
	got   *automation.OutgoingMessage
	err   error
}

func (r *fakeRecorder) RecordMessage(_ context.Context, _ *automation.AutomationContext, msg *automation.OutgoingMessage) (*eventstore.MessageRecord, error) {
	*r.order = append(*r.order, "record")
	r.got = msg
	return &eventstore.MessageRecord{}, r.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendRunsChainRecordThenTransport(t *testing.T) {
	ctrl := gomock.NewController(t)
	next := mocks.NewMockMessageClient(ctrl)

	var order []string
	rec := &fakeRecorder{order: &order, err: errors.New("disk full")}
	hc := &automation.HandlerContext{Context: &automation.AutomationContext{InvocationID: "i1"}}
	c := New(next, automation.Listeners{recordingListener{order: &order}}, rec, hc, testLogger())

	next.EXPECT().
		Send(gomock.Any(), "hello", []automation.Destination{{UserAgent: "slack", Channels: []string{"rewritten"}}}, gomock.Nil()).
		DoAndReturn(func(context.Context, any, []automation.Destination, *automation.MessageOptions) error {
			order = append(order, "transport")
			return nil
		})

	err := c.Send(context.Background(), "hello", []automation.Destination{{UserAgent: "slack", Channels: []string{"original"}}}, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	want := []string{"sending", "record", "transport", "sent"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if rec.got.Destinations[0].Channels[0] != "rewritten" {
		t.Fatalf("journal saw the unrewritten message")
	}
}

func TestTransportFailureSkipsMessageSent(t *testing.T) {
	ctrl := gomock.NewController(t)
	next := mocks.NewMockMessageClient(ctrl)

	var order []string
	hc := &automation.HandlerContext{Context: &automation.AutomationContext{}}
	c := New(next, automation.Listeners{recordingListener{order: &order}}, nil, hc, testLogger())

	next.EXPECT().Respond(gomock.Any(), "hi", gomock.Nil()).Return(errors.New("closed"))

	if err := c.Respond(context.Background(), "hi", nil); err == nil {
		t.Fatal("expected transport error")
	}
	if len(order) != 1 || order[0] != "sending" {
		t.Fatalf("order = %v", order)
	}
}

func TestDeleteForwardsDestinations(t *testing.T) {
	ctrl := gomock.NewController(t)
	next := mocks.NewMockMessageClient(ctrl)
	hc := &automation.HandlerContext{Context: &automation.AutomationContext{}}
	c := New(next, automation.Listeners{}, nil, hc, testLogger())

	opts := &automation.MessageOptions{ID: "m1"}
	next.EXPECT().Delete(gomock.Any(), gomock.Len(0), opts).Return(nil)

	if err := c.Delete(context.Background(), nil, opts); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/mattjoyce/autoclient/internal/automation"
)

func TestEncode(t *testing.T) {
	ac := &automation.AutomationContext{InvocationID: "inv-1", CorrelationID: "c1"}

	tests := []struct {
		name    string
		msg     *Message
		wantErr bool
		checkFn func(t *testing.T, output string)
	}{
		{
			name: "command carries hidden context",
			msg: &Message{
				Type:    TypeCommand,
				Command: &automation.Command{Command: "Foo", CorrelationID: "c1", Context: ac},
			},
			checkFn: func(t *testing.T, output string) {
				if !strings.Contains(output, `"type":"atomist:command"`) {
					t.Error("missing type field")
				}
				if !strings.Contains(output, `"__context":{`) {
					t.Error("missing __context field")
				}
				if !strings.HasSuffix(output, "\n") {
					t.Error("message not newline terminated")
				}
			},
		},
		{
			name: "online needs no payload",
			msg:  &Message{Type: TypeOnline, WorkerID: 3},
		},
		{
			name:    "command without context",
			msg:     &Message{Type: TypeCommand, Command: &automation.Command{Command: "Foo"}},
			wantErr: true,
		},
		{
			name:    "result without invocation id",
			msg:     &Message{Type: TypeCommandSuccess, Context: &automation.AutomationContext{}},
			wantErr: true,
		},
		{
			name:    "unknown type",
			msg:     &Message{Type: "atomist:bogus"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := NewEncoder(&buf).Encode(tt.msg)

			if (err != nil) != tt.wantErr {
				t.Errorf("Encode() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && tt.checkFn != nil {
				tt.checkFn(t, buf.String())
			}
		})
	}
}

func TestRoundTripTypedMessages(t *testing.T) {
	ac := &automation.AutomationContext{InvocationID: "inv-9", CorrelationID: "c9", Ts: 1700000000000}
	msgs := []*Message{
		{Type: TypeRegistration, Registration: &automation.Registration{URL: "wss://x", JWT: "t"}},
		{Type: TypeEvent, Event: &automation.Event{Data: []byte(`{"a":1}`), Context: ac}},
		{Type: TypeStatus, Context: ac, Status: &automation.StatusEnvelope{CorrelationID: "c9", Status: automation.Status{Code: 0, Reason: "ok"}}},
		{Type: TypeMessage, Context: ac, Outgoing: &automation.OutgoingMessage{Kind: automation.MessageRespond, Message: "hello"}},
		{Type: TypeEventFailure, Context: ac, Results: []automation.HandlerResult{{Code: 2, Message: "bad"}}},
		{Type: TypeShutdown, Graceful: true},
	}

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, m := range msgs {
		if err := enc.Encode(m); err != nil {
			t.Fatalf("Encode(%s): %v", m.Type, err)
		}
	}

	dec := NewDecoder(&buf)
	for _, want := range msgs {
		got, err := dec.Decode()
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got.Type != want.Type {
			t.Fatalf("type = %s, want %s", got.Type, want.Type)
		}
		if want.Context != nil && got.AutomationContext().InvocationID != "inv-9" {
			t.Errorf("%s: context lost", got.Type)
		}
	}
	if _, err := dec.Decode(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestDecodeSkipsBadLines(t *testing.T) {
	input := "\nnot json\n{\"type\":\"atomist:online\",\"worker_id\":2}\n"
	dec := NewDecoder(strings.NewReader(input))

	_, err := dec.Decode()
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if string(de.Raw) != "not json" {
		t.Errorf("raw = %q", de.Raw)
	}

	msg, err := dec.Decode()
	if err != nil {
		t.Fatalf("Decode after bad line: %v", err)
	}
	if msg.Type != TypeOnline || msg.WorkerID != 2 {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestDecodeLastLineWithoutNewline(t *testing.T) {
	dec := NewDecoder(strings.NewReader(`{"type":"atomist:shutdown"}`))
	msg, err := dec.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Type != TypeShutdown {
		t.Errorf("type = %s", msg.Type)
	}
}

func TestMessageHelpers(t *testing.T) {
	ac := &automation.AutomationContext{InvocationID: "x"}
	m := &Message{Type: TypeCommandSuccess, Context: ac}
	if !m.IsResult() || !m.Succeeded() {
		t.Error("command_success should be a successful result")
	}
	f := &Message{Type: TypeEventFailure, Context: ac}
	if !f.IsResult() || f.Succeeded() {
		t.Error("event_failure should be a failed result")
	}
	if (&Message{Type: TypeStatus}).IsResult() {
		t.Error("status is not a result")
	}
}

// Package protocol defines the messages exchanged between the cluster master
// and its worker processes.
package protocol

import (
	"fmt"
	"time"

	"github.com/mattjoyce/autoclient/internal/automation"
)

// Type discriminates IPC messages.
type Type string

// Master to worker.
const (
	TypeRegistration Type = "atomist:registration"
	TypeCommand      Type = "atomist:command"
	TypeEvent        Type = "atomist:event"
	TypeShutdown     Type = "atomist:shutdown"
)

// Worker to master. TypeShutdown is also sent by a worker to ask the master
// to stop the whole process.
const (
	TypeOnline         Type = "atomist:online"
	TypeStatus         Type = "atomist:status"
	TypeMessage        Type = "atomist:message"
	TypeCommandSuccess Type = "atomist:command_success"
	TypeCommandFailure Type = "atomist:command_failure"
	TypeEventSuccess   Type = "atomist:event_success"
	TypeEventFailure   Type = "atomist:event_failure"
)

// Message is the single IPC envelope. Which payload fields are set depends on
// Type; Validate checks the combination.
type Message struct {
	Type     Type  `json:"type"`
	WorkerID int   `json:"worker_id,omitempty"`
	Ts       int64 `json:"ts"`

	Registration *automation.Registration      `json:"registration,omitempty"`
	Command      *automation.Command           `json:"command,omitempty"`
	Event        *automation.Event             `json:"event,omitempty"`
	Context      *automation.AutomationContext `json:"context,omitempty"`
	Status       *automation.StatusEnvelope    `json:"status,omitempty"`
	Outgoing     *automation.OutgoingMessage   `json:"message,omitempty"`
	Results      []automation.HandlerResult    `json:"results,omitempty"`
	Graceful     bool                          `json:"graceful,omitempty"`
}

// New returns a message of type t stamped with the current time.
func New(t Type) *Message {
	return &Message{Type: t, Ts: time.Now().UnixMilli()}
}

// AutomationContext returns the invocation context the message refers to:
// the explicit Context, else the one carried on the command or event.
func (m *Message) AutomationContext() *automation.AutomationContext {
	switch {
	case m == nil:
		return nil
	case m.Context != nil:
		return m.Context
	case m.Command != nil && m.Command.Context != nil:
		return m.Command.Context
	case m.Event != nil && m.Event.Context != nil:
		return m.Event.Context
	}
	return nil
}

// IsResult reports whether m completes an invocation.
func (m *Message) IsResult() bool {
	switch m.Type {
	case TypeCommandSuccess, TypeCommandFailure, TypeEventSuccess, TypeEventFailure:
		return true
	}
	return false
}

// Succeeded reports whether m is a success result.
func (m *Message) Succeeded() bool {
	return m.Type == TypeCommandSuccess || m.Type == TypeEventSuccess
}

// Validate checks that the payload required by Type is present.
func (m *Message) Validate() error {
	switch m.Type {
	case TypeRegistration:
		if m.Registration == nil {
			return fmt.Errorf("%s: missing registration", m.Type)
		}
	case TypeCommand:
		if m.Command == nil || m.Command.Context == nil {
			return fmt.Errorf("%s: missing command or context", m.Type)
		}
	case TypeEvent:
		if m.Event == nil || m.Event.Context == nil {
			return fmt.Errorf("%s: missing event or context", m.Type)
		}
	case TypeStatus:
		if m.Status == nil || m.Context == nil {
			return fmt.Errorf("%s: missing status or context", m.Type)
		}
	case TypeMessage:
		if m.Outgoing == nil || m.Context == nil {
			return fmt.Errorf("%s: missing message or context", m.Type)
		}
	case TypeCommandSuccess, TypeCommandFailure, TypeEventSuccess, TypeEventFailure:
		if m.Context == nil || m.Context.InvocationID == "" {
			return fmt.Errorf("%s: missing invocation context", m.Type)
		}
	case TypeOnline, TypeShutdown:
	default:
		return fmt.Errorf("unknown message type: %q", m.Type)
	}
	return nil
}

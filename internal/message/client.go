// Package message wraps a transport MessageClient so every outgoing message
// passes through the listener chain and the journal.
package message

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/autoclient/internal/automation"
	"github.com/mattjoyce/autoclient/internal/eventstore"
)

// Recorder journals outgoing messages.
type Recorder interface {
	RecordMessage(ctx context.Context, ac *automation.AutomationContext, msg *automation.OutgoingMessage) (*eventstore.MessageRecord, error)
}

// Client is the listener-aware MessageClient handed to handlers.
type Client struct {
	next      automation.MessageClient
	listeners automation.EventListener
	recorder  Recorder
	hc        *automation.HandlerContext
	logger    *slog.Logger
}

// New wraps next. recorder may be nil when no journal is configured.
func New(next automation.MessageClient, listeners automation.EventListener, recorder Recorder, hc *automation.HandlerContext, logger *slog.Logger) *Client {
	return &Client{
		next:      next,
		listeners: listeners,
		recorder:  recorder,
		hc:        hc,
		logger:    logger,
	}
}

func (c *Client) Respond(ctx context.Context, msg any, opts *automation.MessageOptions) error {
	return c.deliver(ctx, &automation.OutgoingMessage{Kind: automation.MessageRespond, Message: msg, Options: opts})
}

func (c *Client) Send(ctx context.Context, msg any, dests []automation.Destination, opts *automation.MessageOptions) error {
	return c.deliver(ctx, &automation.OutgoingMessage{Kind: automation.MessageSend, Message: msg, Destinations: dests, Options: opts})
}

func (c *Client) Delete(ctx context.Context, dests []automation.Destination, opts *automation.MessageOptions) error {
	return c.deliver(ctx, &automation.OutgoingMessage{Kind: automation.MessageDelete, Destinations: dests, Options: opts})
}

func (c *Client) deliver(ctx context.Context, msg *automation.OutgoingMessage) error {
	out, err := c.listeners.MessageSending(ctx, msg, c.hc)
	if err != nil {
		c.logger.Warn("message listener failed", "error", err)
	}
	if out == nil {
		out = msg
	}

	if c.recorder != nil {
		if _, err := c.recorder.RecordMessage(ctx, c.hc.Context, out); err != nil {
			c.logger.Warn("failed to journal message", "error", err)
		}
	}

	switch out.Kind {
	case automation.MessageRespond:
		err = c.next.Respond(ctx, out.Message, out.Options)
	case automation.MessageSend:
		err = c.next.Send(ctx, out.Message, out.Destinations, out.Options)
	case automation.MessageDelete:
		err = c.next.Delete(ctx, out.Destinations, out.Options)
	default:
		err = fmt.Errorf("unknown message kind %q", out.Kind)
	}
	if err != nil {
		return fmt.Errorf("%s message: %w", out.Kind, err)
	}

	if err := c.listeners.MessageSent(ctx, out, c.hc); err != nil {
		c.logger.Warn("message listener failed", "error", err)
	}
	return nil
}

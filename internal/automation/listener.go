package automation

import (
	"context"
	"errors"
)

// MessageKind distinguishes the MessageClient operation being performed.
type MessageKind string

const (
	MessageRespond MessageKind = "respond"
	MessageSend    MessageKind = "send"
	MessageDelete  MessageKind = "delete"
)

// OutgoingMessage is a message on its way out. MessageSending listeners may
// return a rewritten copy.
type OutgoingMessage struct {
	Kind         MessageKind     `json:"kind"`
	Message      any             `json:"message,omitempty"`
	Destinations []Destination   `json:"destinations,omitempty"`
	Options      *MessageOptions `json:"options,omitempty"`
}

// EventListener observes every stage of the runtime.
type EventListener interface {
	RegistrationSuccessful(ctx context.Context, reg *Registration) error
	StartupSuccessful(ctx context.Context) error

	CommandIncoming(ctx context.Context, cmd *Command) error
	CommandStarting(ctx context.Context, cmd *Command, hc *HandlerContext) error
	CommandSuccessful(ctx context.Context, cmd *Command, hc *HandlerContext, result *HandlerResult) error
	CommandFailed(ctx context.Context, cmd *Command, hc *HandlerContext, result *HandlerResult) error

	EventIncoming(ctx context.Context, ev *Event) error
	EventStarting(ctx context.Context, ev *Event, hc *HandlerContext) error
	EventSuccessful(ctx context.Context, ev *Event, hc *HandlerContext, results []HandlerResult) error
	EventFailed(ctx context.Context, ev *Event, hc *HandlerContext, results []HandlerResult) error

	ContextCreated(ctx context.Context, hc *HandlerContext) error
	MessageSending(ctx context.Context, msg *OutgoingMessage, hc *HandlerContext) (*OutgoingMessage, error)
	MessageSent(ctx context.Context, msg *OutgoingMessage, hc *HandlerContext) error
}

// NopListener implements EventListener with no-ops. Embed it to override
// only the hooks you need.
type NopListener struct{}

func (NopListener) RegistrationSuccessful(context.Context, *Registration) error { return nil }
func (NopListener) StartupSuccessful(context.Context) error                    { return nil }
func (NopListener) CommandIncoming(context.Context, *Command) error            { return nil }
func (NopListener) CommandStarting(context.Context, *Command, *HandlerContext) error {
	return nil
}
func (NopListener) CommandSuccessful(context.Context, *Command, *HandlerContext, *HandlerResult) error {
	return nil
}
func (NopListener) CommandFailed(context.Context, *Command, *HandlerContext, *HandlerResult) error {
	return nil
}
func (NopListener) EventIncoming(context.Context, *Event) error                 { return nil }
func (NopListener) EventStarting(context.Context, *Event, *HandlerContext) error { return nil }
func (NopListener) EventSuccessful(context.Context, *Event, *HandlerContext, []HandlerResult) error {
	return nil
}
func (NopListener) EventFailed(context.Context, *Event, *HandlerContext, []HandlerResult) error {
	return nil
}
func (NopListener) ContextCreated(context.Context, *HandlerContext) error { return nil }
func (NopListener) MessageSending(_ context.Context, msg *OutgoingMessage, _ *HandlerContext) (*OutgoingMessage, error) {
	return msg, nil
}
func (NopListener) MessageSent(context.Context, *OutgoingMessage, *HandlerContext) error {
	return nil
}

// Listeners runs a hook across every listener in order, each completing
// before the next starts. Every listener runs; errors are joined.
type Listeners []EventListener

func (ls Listeners) each(fn func(l EventListener) error) error {
	var errs []error
	for _, l := range ls {
		if err := fn(l); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (ls Listeners) RegistrationSuccessful(ctx context.Context, reg *Registration) error {
	return ls.each(func(l EventListener) error { return l.RegistrationSuccessful(ctx, reg) })
}

func (ls Listeners) StartupSuccessful(ctx context.Context) error {
	return ls.each(func(l EventListener) error { return l.StartupSuccessful(ctx) })
}

func (ls Listeners) CommandIncoming(ctx context.Context, cmd *Command) error {
	return ls.each(func(l EventListener) error { return l.CommandIncoming(ctx, cmd) })
}

func (ls Listeners) CommandStarting(ctx context.Context, cmd *Command, hc *HandlerContext) error {
	return ls.each(func(l EventListener) error { return l.CommandStarting(ctx, cmd, hc) })
}

func (ls Listeners) CommandSuccessful(ctx context.Context, cmd *Command, hc *HandlerContext, result *HandlerResult) error {
	return ls.each(func(l EventListener) error { return l.CommandSuccessful(ctx, cmd, hc, result) })
}

func (ls Listeners) CommandFailed(ctx context.Context, cmd *Command, hc *HandlerContext, result *HandlerResult) error {
	return ls.each(func(l EventListener) error { return l.CommandFailed(ctx, cmd, hc, result) })
}

func (ls Listeners) EventIncoming(ctx context.Context, ev *Event) error {
	return ls.each(func(l EventListener) error { return l.EventIncoming(ctx, ev) })
}

func (ls Listeners) EventStarting(ctx context.Context, ev *Event, hc *HandlerContext) error {
	return ls.each(func(l EventListener) error { return l.EventStarting(ctx, ev, hc) })
}

func (ls Listeners) EventSuccessful(ctx context.Context, ev *Event, hc *HandlerContext, results []HandlerResult) error {
	return ls.each(func(l EventListener) error { return l.EventSuccessful(ctx, ev, hc, results) })
}

func (ls Listeners) EventFailed(ctx context.Context, ev *Event, hc *HandlerContext, results []HandlerResult) error {
	return ls.each(func(l EventListener) error { return l.EventFailed(ctx, ev, hc, results) })
}

func (ls Listeners) ContextCreated(ctx context.Context, hc *HandlerContext) error {
	return ls.each(func(l EventListener) error { return l.ContextCreated(ctx, hc) })
}

// MessageSending threads msg through every listener; each sees the previous
// listener's rewrite. A failing listener leaves the message unchanged.
func (ls Listeners) MessageSending(ctx context.Context, msg *OutgoingMessage, hc *HandlerContext) (*OutgoingMessage, error) {
	var errs []error
	current := msg
	for _, l := range ls {
		next, err := l.MessageSending(ctx, current, hc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if next != nil {
			current = next
		}
	}
	return current, errors.Join(errs...)
}

func (ls Listeners) MessageSent(ctx context.Context, msg *OutgoingMessage, hc *HandlerContext) error {
	return ls.each(func(l EventListener) error { return l.MessageSent(ctx, msg, hc) })
}

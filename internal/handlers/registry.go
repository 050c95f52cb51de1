// Package handlers is the in-process AutomationServer: a registry of named
// command handlers and event subscribers.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/mattjoyce/autoclient/internal/automation"
	"github.com/mattjoyce/autoclient/internal/graph"
)

var (
	ErrUnknownCommand = errors.New("no handler registered for command")
	ErrUnknownEvent   = errors.New("no subscriber registered for event")
)

type CommandHandler func(ctx context.Context, cmd *automation.Command, hc *automation.HandlerContext) (*automation.HandlerResult, error)

type EventHandler func(ctx context.Context, ev *automation.Event, hc *automation.HandlerContext) (*automation.HandlerResult, error)

// Parameter describes one command parameter.
type Parameter struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
	Pattern     string `json:"pattern,omitempty"`

	re *regexp.Regexp
}

// Command describes a command handler. Everything but Handler is sent to
// the backend at registration.
type Command struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Intents     []string       `json:"intent,omitempty"`
	Parameters  []Parameter    `json:"parameters,omitempty"`
	Handler     CommandHandler `json:"-"`
}

// Event describes an event subscriber. Subscription is a GraphQL
// subscription document; its operation name is what incoming events carry.
type Event struct {
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	Subscription string       `json:"subscription"`
	Handler      EventHandler `json:"-"`

	operation string
}

// Registry implements automation.AutomationServer.
type Registry struct {
	mu          sync.RWMutex
	commands    map[string]*Command
	events      map[string]*Event
	subscribers map[string][]*Event // by subscription operation name
}

func NewRegistry() *Registry {
	return &Registry{
		commands:    map[string]*Command{},
		events:      map[string]*Event{},
		subscribers: map[string][]*Event{},
	}
}

// RegisterCommand adds c. Names are unique; patterns must compile.
func (r *Registry) RegisterCommand(c Command) error {
	if c.Name == "" {
		return fmt.Errorf("command name is empty")
	}
	if c.Handler == nil {
		return fmt.Errorf("command %q has no handler", c.Name)
	}
	for i := range c.Parameters {
		p := &c.Parameters[i]
		if p.Pattern == "" {
			continue
		}
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return fmt.Errorf("command %q parameter %q: %w", c.Name, p.Name, err)
		}
		p.re = re
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.commands[c.Name]; dup {
		return fmt.Errorf("command %q already registered", c.Name)
	}
	r.commands[c.Name] = &c
	return nil
}

// RegisterEvent adds e after validating its subscription document. When
// the subscription is unnamed, e.Name is used as the operation name.
func (r *Registry) RegisterEvent(e Event) error {
	if e.Name == "" {
		return fmt.Errorf("event name is empty")
	}
	if e.Handler == nil {
		return fmt.Errorf("event %q has no handler", e.Name)
	}
	e.operation = e.Name
	if e.Subscription != "" {
		name, err := graph.Validate(e.Subscription, ast.Subscription)
		if err != nil {
			return fmt.Errorf("event %q: %w", e.Name, err)
		}
		if name != "" {
			e.operation = name
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.events[e.Name]; dup {
		return fmt.Errorf("event %q already registered", e.Name)
	}
	r.events[e.Name] = &e
	r.subscribers[e.operation] = append(r.subscribers[e.operation], &e)
	return nil
}

// Commands returns the registered commands sorted by name.
func (r *Registry) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Events returns the registered event subscribers sorted by name.
func (r *Registry) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Event, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) InvokeCommand(ctx context.Context, cmd *automation.Command, hc *automation.HandlerContext) (*automation.HandlerResult, error) {
	r.mu.RLock()
	c, ok := r.commands[cmd.Command]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Command)
	}

	for _, p := range c.Parameters {
		v, present := cmd.Parameter(p.Name)
		if !present || v == "" {
			if p.Required {
				return &automation.HandlerResult{Code: 1, Message: fmt.Sprintf("Missing required parameter '%s'", p.Name)}, nil
			}
			continue
		}
		if p.re != nil && !p.re.MatchString(v) {
			return &automation.HandlerResult{Code: 1, Message: fmt.Sprintf("Parameter '%s' does not match %s", p.Name, p.Pattern)}, nil
		}
	}

	return c.Handler(ctx, cmd, hc)
}

// OnEvent runs every subscriber for the event's operation in registration
// order. A failing subscriber yields a failure result; the rest still run.
func (r *Registry) OnEvent(ctx context.Context, ev *automation.Event, hc *automation.HandlerContext) ([]automation.HandlerResult, error) {
	r.mu.RLock()
	subs := append([]*Event(nil), r.subscribers[ev.Extensions.OperationName]...)
	r.mu.RUnlock()
	if len(subs) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Extensions.OperationName)
	}

	results := make([]automation.HandlerResult, 0, len(subs))
	for _, s := range subs {
		res, err := s.Handler(ctx, ev, hc)
		if err != nil {
			results = append(results, automation.Failure(hc.Context, err))
			continue
		}
		results = append(results, automation.Backfill(res, hc.Context))
	}
	return results, nil
}

package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/mattjoyce/autoclient/internal/automation"
)

// ProcessEvent runs ev through the pipeline. Every subscriber's result is
// reported; the event succeeded iff no result has a nonzero code.
func (p *Processor) ProcessEvent(ctx context.Context, ev *automation.Event, callback func([]automation.HandlerResult)) []automation.HandlerResult {
	ext := ev.Extensions
	ac := p.newContext(ev.Context, ext.CorrelationID, ext.TeamID, ext.TeamName, ext.OperationName)
	ctx = automation.WithContext(ctx, ac)
	logger := p.invocationLogger(ac)
	start := time.Now()

	logger.Debug("processing event", "event", ev.Redacted())
	if err := p.listeners.EventIncoming(ctx, ev); err != nil {
		logger.Warn("event listener failed", "hook", "EventIncoming", "error", err)
	}

	hc := p.handlerContext(ctx, Request{Event: ev}, ac, logger)

	results, err := p.runEvent(ctx, ev, hc)
	if err != nil {
		logger.Error("event failed", "error", err)
		r := automation.Failure(ac, err)
		var pe *panicError
		if errors.As(err, &pe) {
			r.Stack = pe.stack
		}
		results = []automation.HandlerResult{r}
	} else {
		for i := range results {
			results[i] = automation.Backfill(&results[i], ac)
		}
	}
	p.dispose(ctx, hc, logger)

	if automation.Succeeded(results) {
		err = p.finalizer.EventSucceeded(ctx, ev, hc, results)
	} else {
		err = p.finalizer.EventFailed(ctx, ev, hc, results)
	}
	if err != nil {
		logger.Warn("event finalizer failed", "error", err)
	}

	results = SafeResults(results, logger.Warn)
	if err := p.sendEventStatus(ctx, ev, ac, results); err != nil {
		logger.Warn("failed to send event status", "error", err)
	}

	logger.Info("event completed",
		"results", len(results),
		"success", automation.Succeeded(results),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if callback != nil {
		callback(results)
	}
	return results
}

func (p *Processor) runEvent(ctx context.Context, ev *automation.Event, hc *automation.HandlerContext) (results []automation.HandlerResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: string(debug.Stack())}
		}
	}()

	if err := p.listeners.ContextCreated(ctx, hc); err != nil {
		return nil, fmt.Errorf("context created listener: %w", err)
	}
	if err := p.listeners.EventStarting(ctx, ev, hc); err != nil {
		return nil, fmt.Errorf("event starting listener: %w", err)
	}

	results, err = p.invoker.OnEvent(ctx, ev, hc)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		results = []automation.HandlerResult{automation.Success(hc.Context)}
	}
	return results, nil
}

func (p *Processor) sendEventStatus(ctx context.Context, ev *automation.Event, ac *automation.AutomationContext, results []automation.HandlerResult) error {
	status := EventStatus(results)
	if status.Code == automation.SuppressStatus {
		return nil
	}
	env := &automation.StatusEnvelope{
		APIVersion:    automation.StatusAPIVersion,
		CorrelationID: ev.Extensions.CorrelationID,
		Team:          automation.Team{ID: ev.Extensions.TeamID, Name: ev.Extensions.TeamName},
		Event:         ev.Extensions.OperationName,
		Status:        status,
	}
	return p.transport.SendStatusMessage(ctx, env, ac)
}

// EventStatus folds subscriber results into one status: the first nonzero
// code wins and the reasons are joined.
func EventStatus(results []automation.HandlerResult) automation.Status {
	var (
		code    int
		reasons []string
	)
	for _, r := range results {
		if r.Code != 0 && code == 0 {
			code = r.Code
		}
		if r.Message != "" {
			reasons = append(reasons, r.Message)
		}
	}
	return automation.Status{Code: code, Reason: strings.Join(reasons, "; ")}
}

// SafeResults returns results unchanged if they encode as JSON, otherwise
// degraded to their code and message. warn receives the encoding error.
func SafeResults(results []automation.HandlerResult, warn func(msg string, args ...any)) []automation.HandlerResult {
	_, err := json.Marshal(results)
	if err == nil {
		return results
	}
	if warn != nil {
		warn("event results are not serializable, degrading", "error", err)
	}
	out := make([]automation.HandlerResult, len(results))
	for i, r := range results {
		out[i] = automation.HandlerResult{Code: r.Code, Message: r.Message}
	}
	return out
}

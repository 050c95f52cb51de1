package processor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/mattjoyce/autoclient/internal/automation"
)

// ProcessCommand runs cmd through the pipeline. The result is reported to
// the transport, passed to callback (if non-nil) and returned. It never
// fails: every error becomes a failure result.
func (p *Processor) ProcessCommand(ctx context.Context, cmd *automation.Command, callback func(automation.HandlerResult)) automation.HandlerResult {
	ac := p.newContext(cmd.Context, cmd.CorrelationID, cmd.Team.ID, cmd.Team.Name, cmd.Command)
	ctx = automation.WithContext(ctx, ac)
	logger := p.invocationLogger(ac)
	start := time.Now()

	logger.Debug("processing command", "command", cmd.Redacted())
	if err := p.listeners.CommandIncoming(ctx, cmd); err != nil {
		logger.Warn("command listener failed", "hook", "CommandIncoming", "error", err)
	}

	hc := p.handlerContext(ctx, Request{Command: cmd}, ac, logger)

	result, err := p.runCommand(ctx, cmd, hc)
	if err != nil {
		logger.Error("command failed", "error", err)
		result = automation.Failure(ac, err)
		var pe *panicError
		if errors.As(err, &pe) {
			result.Stack = pe.stack
		}
	} else {
		result = automation.Backfill(&result, ac)
	}
	p.dispose(ctx, hc, logger)

	if result.Code == 0 {
		err = p.finalizer.CommandSucceeded(ctx, cmd, hc, &result)
	} else {
		err = p.finalizer.CommandFailed(ctx, cmd, hc, &result)
	}
	if err != nil {
		logger.Warn("command finalizer failed", "error", err)
	}

	if err := p.sendCommandStatus(ctx, cmd, ac, result); err != nil {
		logger.Warn("failed to send command status", "error", err)
	}

	logger.Info("command completed",
		"code", result.Code,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if callback != nil {
		callback(result)
	}
	return result
}

// runCommand covers the steps whose failure turns into a failure result.
func (p *Processor) runCommand(ctx context.Context, cmd *automation.Command, hc *automation.HandlerContext) (result automation.HandlerResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: string(debug.Stack())}
		}
	}()

	if err := p.listeners.ContextCreated(ctx, hc); err != nil {
		return automation.HandlerResult{}, fmt.Errorf("context created listener: %w", err)
	}
	if err := p.listeners.CommandStarting(ctx, cmd, hc); err != nil {
		return automation.HandlerResult{}, fmt.Errorf("command starting listener: %w", err)
	}

	res, err := p.invoker.InvokeCommand(ctx, cmd, hc)
	if err != nil {
		return automation.HandlerResult{}, err
	}
	if res == nil {
		return automation.Success(hc.Context), nil
	}
	return *res, nil
}

func (p *Processor) sendCommandStatus(ctx context.Context, cmd *automation.Command, ac *automation.AutomationContext, result automation.HandlerResult) error {
	if result.Code == automation.SuppressStatus {
		return nil
	}
	env := &automation.StatusEnvelope{
		APIVersion:    automation.StatusAPIVersion,
		CorrelationID: cmd.CorrelationID,
		Team:          cmd.Team,
		Command:       cmd.Command,
		Source:        stripIdentity(cmd.Source),
		Destinations:  Destinations(cmd.Source, cmd.Team),
		Status:        automation.Status{Code: result.Code, Reason: result.Message},
	}
	return p.transport.SendStatusMessage(ctx, env, ac)
}

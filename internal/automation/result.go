package automation

import "fmt"

// HandlerResult is the outcome of a command or one event subscriber.
type HandlerResult struct {
	Code          int    `json:"code"`
	Message       string `json:"message,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	InvocationID  string `json:"invocation_id,omitempty"`
	Stack         string `json:"stack,omitempty"`

	// Data is optional handler output returned to synchronous transports.
	Data any `json:"data,omitempty"`
}

// SuppressStatus as a result code disables status reporting for that result.
const SuppressStatus = -1

// Success returns the default success result for ac.
func Success(ac *AutomationContext) HandlerResult {
	return HandlerResult{
		Code:          0,
		Message:       fmt.Sprintf("Command '%s' completed successfully", ac.Operation),
		CorrelationID: ac.CorrelationID,
		InvocationID:  ac.InvocationID,
	}
}

// Failure returns the default error result for ac, carrying err's message.
func Failure(ac *AutomationContext, err error) HandlerResult {
	msg := fmt.Sprintf("Command '%s' failed", ac.Operation)
	if err != nil {
		msg = fmt.Sprintf("Command '%s' failed: %s", ac.Operation, err.Error())
	}
	return HandlerResult{
		Code:          1,
		Message:       msg,
		CorrelationID: ac.CorrelationID,
		InvocationID:  ac.InvocationID,
	}
}

// Backfill fills the fields the handler left empty from the defaults for ac.
// A nil result becomes the default success result.
func Backfill(r *HandlerResult, ac *AutomationContext) HandlerResult {
	if r == nil {
		return Success(ac)
	}
	out := *r
	var def HandlerResult
	if out.Code == 0 {
		def = Success(ac)
	} else {
		def = Failure(ac, nil)
	}
	if out.Message == "" {
		out.Message = def.Message
	}
	if out.CorrelationID == "" {
		out.CorrelationID = def.CorrelationID
	}
	if out.InvocationID == "" {
		out.InvocationID = def.InvocationID
	}
	return out
}

// Succeeded reports whether no result carries a nonzero code.
func Succeeded(results []HandlerResult) bool {
	for _, r := range results {
		if r.Code != 0 {
			return false
		}
	}
	return true
}

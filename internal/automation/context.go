package automation

import (
	"context"
	"time"
)

// AutomationContext identifies one invocation. It travels with the Go
// context for the duration of the invocation and across the master/worker
// boundary on the payload.
type AutomationContext struct {
	CorrelationID string `json:"correlation_id"`
	WorkspaceID   string `json:"workspace_id"`
	WorkspaceName string `json:"workspace_name,omitempty"`
	Operation     string `json:"operation"`
	Name          string `json:"name"`
	Version       string `json:"version"`
	InvocationID  string `json:"invocation_id"`
	Ts            int64  `json:"ts"`
}

// StartedAt returns Ts as a time.
func (ac *AutomationContext) StartedAt() time.Time {
	return time.UnixMilli(ac.Ts)
}

type automationContextKey struct{}

// WithContext returns a child of ctx carrying a copy of ac. The copy means no
// later change by the caller can be observed by the invocation.
func WithContext(ctx context.Context, ac *AutomationContext) context.Context {
	cp := *ac
	return context.WithValue(ctx, automationContextKey{}, &cp)
}

// FromContext returns the AutomationContext set by WithContext.
func FromContext(ctx context.Context) (*AutomationContext, bool) {
	ac, ok := ctx.Value(automationContextKey{}).(*AutomationContext)
	return ac, ok
}

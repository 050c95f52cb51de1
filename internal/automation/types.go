package automation

import (
	"encoding/json"
	"slices"
)

// Arg is a name/value pair carried by a command.
type Arg struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Secret is a secret reference resolved by the backend.
type Secret struct {
	URI   string `json:"uri"`
	Value string `json:"value"`
}

// Team identifies the workspace an invocation runs for.
type Team struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Source describes the channel that produced a command.
type Source struct {
	UserAgent string       `json:"user_agent"`
	Slack     *SlackSource `json:"slack,omitempty"`
	Web       *WebSource   `json:"web,omitempty"`
}

type SlackSource struct {
	Team    SlackTeam     `json:"team"`
	Channel *SlackChannel `json:"channel,omitempty"`
	User    *SlackUser    `json:"user,omitempty"`
}

type SlackTeam struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type SlackChannel struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type SlackUser struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type WebSource struct {
	Identity *WebIdentity `json:"identity,omitempty"`
}

type WebIdentity struct {
	Sub string `json:"sub,omitempty"`
	PID string `json:"pid,omitempty"`
}

// Command is an incoming command invocation. Treat as immutable; use Clone
// before changing anything.
type Command struct {
	APIVersion       string   `json:"api_version,omitempty"`
	CorrelationID    string   `json:"correlation_id"`
	Team             Team     `json:"team"`
	Command          string   `json:"command"`
	Parameters       []Arg    `json:"parameters,omitempty"`
	MappedParameters []Arg    `json:"mapped_parameters,omitempty"`
	Secrets          []Secret `json:"secrets,omitempty"`
	Source           *Source  `json:"source,omitempty"`

	// Context is set by the cluster master so a worker can restore the
	// invocation identity it assigned.
	Context *AutomationContext `json:"__context,omitempty"`
}

// Parameter returns the value of the named parameter.
func (c *Command) Parameter(name string) (string, bool) {
	for _, p := range c.Parameters {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// Clone returns a deep copy of c.
func (c *Command) Clone() *Command {
	if c == nil {
		return nil
	}
	out := *c
	out.Parameters = slices.Clone(c.Parameters)
	out.MappedParameters = slices.Clone(c.MappedParameters)
	out.Secrets = slices.Clone(c.Secrets)
	out.Source = c.Source.Clone()
	if c.Context != nil {
		ac := *c.Context
		out.Context = &ac
	}
	return &out
}

// Redacted returns a clone safe to log: secret values are masked.
func (c *Command) Redacted() *Command {
	out := c.Clone()
	if out == nil {
		return nil
	}
	for i := range out.Secrets {
		out.Secrets[i].Value = redacted
	}
	return out
}

// Clone returns a deep copy of s.
func (s *Source) Clone() *Source {
	if s == nil {
		return nil
	}
	out := *s
	if s.Slack != nil {
		slack := *s.Slack
		if s.Slack.Channel != nil {
			ch := *s.Slack.Channel
			slack.Channel = &ch
		}
		if s.Slack.User != nil {
			u := *s.Slack.User
			slack.User = &u
		}
		out.Slack = &slack
	}
	if s.Web != nil {
		web := *s.Web
		if s.Web.Identity != nil {
			id := *s.Web.Identity
			web.Identity = &id
		}
		out.Web = &web
	}
	return &out
}

// EventExtensions is the metadata attached to an incoming event.
type EventExtensions struct {
	TeamID        string `json:"team_id"`
	TeamName      string `json:"team_name,omitempty"`
	OperationName string `json:"operationName"`
	CorrelationID string `json:"correlation_id"`
}

// Event is an incoming subscription event.
type Event struct {
	Data       json.RawMessage    `json:"data"`
	Extensions EventExtensions    `json:"extensions"`
	Secrets    []Secret           `json:"secrets,omitempty"`
	Context    *AutomationContext `json:"__context,omitempty"`
}

// Clone returns a deep copy of e.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	out := *e
	out.Data = slices.Clone(e.Data)
	out.Secrets = slices.Clone(e.Secrets)
	if e.Context != nil {
		ac := *e.Context
		out.Context = &ac
	}
	return &out
}

// Redacted returns a clone safe to log: secret values are masked.
func (e *Event) Redacted() *Event {
	out := e.Clone()
	if out == nil {
		return nil
	}
	for i := range out.Secrets {
		out.Secrets[i].Value = redacted
	}
	return out
}

const redacted = "[REDACTED]"

// Registration is the backend's confirmation of a registration.
type Registration struct {
	URL     string `json:"url"`
	JWT     string `json:"jwt"`
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

package processor

import (
	"fmt"

	"github.com/mattjoyce/autoclient/internal/automation"
)

// Destinations derives where replies to a request from src should go.
func Destinations(src *automation.Source, team automation.Team) []automation.Destination {
	if src == nil {
		return nil
	}
	switch {
	case src.Slack != nil:
		d := automation.Destination{UserAgent: "slack", Team: src.Slack.Team.ID}
		if d.Team == "" {
			d.Team = team.ID
		}
		if src.Slack.Channel != nil {
			d.Channels = []string{src.Slack.Channel.Name}
			if src.Slack.Channel.Name == "" {
				d.Channels = []string{src.Slack.Channel.ID}
			}
		}
		return []automation.Destination{d}
	case src.Web != nil:
		return []automation.Destination{{UserAgent: "web", Team: team.ID}}
	case src.UserAgent != "":
		return []automation.Destination{{UserAgent: src.UserAgent, Team: team.ID}}
	}
	return nil
}

// stripIdentity returns a copy of src without the end user's identity.
func stripIdentity(src *automation.Source) *automation.Source {
	out := src.Clone()
	if out == nil {
		return nil
	}
	if out.Slack != nil {
		out.Slack.User = nil
	}
	if out.Web != nil {
		out.Web.Identity = nil
	}
	return out
}

type panicError struct {
	value any
	stack string
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

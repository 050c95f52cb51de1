package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mattjoyce/autoclient/internal/automation"
	"github.com/mattjoyce/autoclient/internal/handlers"
)

// builtinHandlers returns the handlers this binary registers. The master
// and every worker build the same registry so registration and dispatch
// agree on names.
func builtinHandlers() (*handlers.Registry, error) {
	reg := handlers.NewRegistry()
	if err := reg.RegisterCommand(handlers.Command{
		Name:        "HelloWorld",
		Description: "Greets the caller",
		Intents:     []string{"hello"},
		Parameters: []handlers.Parameter{
			{Name: "name", Description: "who to greet", Required: true, Pattern: `^\S+$`},
		},
		Handler: helloWorld,
	}); err != nil {
		return nil, err
	}
	if err := reg.RegisterEvent(handlers.Event{
		Name:         "NotifyPush",
		Description:  "Announces pushes in the team channel",
		Subscription: `subscription OnPush { Push { sha branch repo { name owner channels { name } } } }`,
		Handler:      notifyPush,
	}); err != nil {
		return nil, err
	}
	return reg, nil
}

func helloWorld(ctx context.Context, cmd *automation.Command, hc *automation.HandlerContext) (*automation.HandlerResult, error) {
	name, _ := cmd.Parameter("name")
	msg := fmt.Sprintf("Hello, %s!", name)
	if err := hc.MessageClient.Respond(ctx, msg, nil); err != nil {
		return nil, err
	}
	return &automation.HandlerResult{Code: 0, Message: msg}, nil
}

type pushData struct {
	Push []struct {
		Sha    string `json:"sha"`
		Branch string `json:"branch"`
		Repo   struct {
			Name     string `json:"name"`
			Owner    string `json:"owner"`
			Channels []struct {
				Name string `json:"name"`
			} `json:"channels"`
		} `json:"repo"`
	} `json:"Push"`
}

func notifyPush(ctx context.Context, ev *automation.Event, hc *automation.HandlerContext) (*automation.HandlerResult, error) {
	var data pushData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return nil, fmt.Errorf("decode push: %w", err)
	}

	sent := 0
	for _, p := range data.Push {
		var channels []string
		for _, ch := range p.Repo.Channels {
			channels = append(channels, ch.Name)
		}
		if len(channels) == 0 {
			continue
		}
		msg := fmt.Sprintf("%s/%s@%s pushed %s", p.Repo.Owner, p.Repo.Name, p.Branch, shortSha(p.Sha))
		dests := []automation.Destination{{
			UserAgent: "slack",
			Team:      ev.Extensions.TeamID,
			Channels:  channels,
		}}
		if err := hc.MessageClient.Send(ctx, msg, dests, nil); err != nil {
			return nil, err
		}
		sent++
	}
	return &automation.HandlerResult{Code: 0, Message: fmt.Sprintf("%d notifications sent", sent)}, nil
}

func shortSha(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

// Package graph is a small GraphQL-over-HTTP client for the backend graph.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/mattjoyce/autoclient/internal/automation"
	"github.com/mattjoyce/autoclient/internal/config"
)

const maxResponseBytes = 10 << 20

// Client posts validated GraphQL documents to one workspace endpoint.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	logger   *slog.Logger
}

func NewClient(endpoint, apiKey string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{endpoint: endpoint, apiKey: apiKey, http: httpClient, logger: logger}
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

func (c *Client) Query(ctx context.Context, query string, vars map[string]any, out any) error {
	return c.do(ctx, ast.Query, query, vars, out)
}

func (c *Client) Mutate(ctx context.Context, mutation string, vars map[string]any, out any) error {
	return c.do(ctx, ast.Mutation, mutation, vars, out)
}

type request struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
}

type response struct {
	Data   json.RawMessage `json:"data"`
	Errors gqlerror.List   `json:"errors"`
}

// Validate parses document and checks that it holds exactly one operation of
// the wanted kind. It returns the operation name, which may be empty.
func Validate(document string, want ast.Operation) (string, error) {
	doc, perr := parser.ParseQuery(&ast.Source{Name: "document", Input: document})
	if perr != nil {
		return "", fmt.Errorf("invalid graphql document: %w", perr)
	}
	if len(doc.Operations) != 1 {
		return "", fmt.Errorf("graphql document must contain exactly one operation, got %d", len(doc.Operations))
	}
	op := doc.Operations[0]
	if op.Operation != want {
		return "", fmt.Errorf("graphql document is a %s, expected a %s", op.Operation, want)
	}
	return op.Name, nil
}

func (c *Client) do(ctx context.Context, kind ast.Operation, document string, vars map[string]any, out any) error {
	name, err := Validate(document, kind)
	if err != nil {
		return err
	}

	body, err := json.Marshal(request{Query: document, Variables: vars, OperationName: name})
	if err != nil {
		return fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build graphql request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if ac, ok := automation.FromContext(ctx); ok {
		req.Header.Set("X-Correlation-Id", ac.CorrelationID)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("graphql request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read graphql response: %w", err)
	}
	c.logger.Debug("graphql request completed",
		"operation", name,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("graphql request failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var gr response
	if err := json.Unmarshal(raw, &gr); err != nil {
		return fmt.Errorf("decode graphql response: %w", err)
	}
	if len(gr.Errors) > 0 {
		return fmt.Errorf("graphql errors: %w", gr.Errors)
	}
	if out != nil && len(gr.Data) > 0 {
		if err := json.Unmarshal(gr.Data, out); err != nil {
			return fmt.Errorf("decode graphql data: %w", err)
		}
	}
	return nil
}

// Factory builds one Client per workspace endpoint and reuses it.
type Factory struct {
	http   *http.Client
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

func NewFactory(httpClient *http.Client, logger *slog.Logger) *Factory {
	return &Factory{http: httpClient, logger: logger, clients: map[string]*Client{}}
}

// Create returns the client for workspaceID.
func (f *Factory) Create(workspaceID string, cfg *config.Config) (automation.GraphClient, error) {
	if cfg.Endpoints.GraphQL == "" {
		return nil, fmt.Errorf("graphql endpoint is not configured")
	}
	endpoint := strings.ReplaceAll(cfg.Endpoints.GraphQL, "{workspace}", workspaceID)

	f.mu.Lock()
	defer f.mu.Unlock()
	key := endpoint + "\x00" + cfg.APIKey
	if c, ok := f.clients[key]; ok {
		return c, nil
	}
	c := NewClient(endpoint, cfg.APIKey, f.http, f.logger.With("workspace_id", workspaceID))
	f.clients[key] = c
	return c, nil
}

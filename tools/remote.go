package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RemoteTool proxies execution to an HTTP endpoint. The endpoint receives
// the raw arguments as a JSON POST body and its response body becomes the
// tool output. The schema is supplied at registration time rather than
// derived from a struct.
type RemoteTool struct {
	name        string
	description string
	endpoint    string
	schema      map[string]any
	client      *http.Client
}

// NewRemoteTool creates a tool backed by an HTTP endpoint
func NewRemoteTool(name, description, endpoint string, schema map[string]any) Tool {
	return &RemoteTool{
		name:        name,
		description: description,
		endpoint:    endpoint,
		schema:      schema,
		client:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *RemoteTool) Name() string {
	return t.name
}

func (t *RemoteTool) Description() string {
	return t.description
}

// Parameters is unused for remote tools; the schema comes from
// ParametersSchema.
func (t *RemoteTool) Parameters() interface{} {
	return nil
}

// ParametersSchema returns the schema supplied at registration.
func (t *RemoteTool) ParametersSchema() map[string]any {
	return t.schema
}

// Execute POSTs the arguments to the endpoint and returns its body
func (t *RemoteTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(params))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", NewToolError("REMOTE_UNREACHABLE", "Remote tool endpoint unreachable").
			WithDetail("error", err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", NewToolError("REMOTE_ERROR", "Remote tool returned an error").
			WithDetail("status", resp.StatusCode).
			WithDetail("body", string(body))
	}

	return string(body), nil
}

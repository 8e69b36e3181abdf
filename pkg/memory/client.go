// Package memory implements the JSON-RPC 2.0 client for the Graphiti-style
// memory backend (component K). No JSON-RPC library appears anywhere in
// the reference corpus, so this is hand-written net/http + jsoniter,
// grounded on original_source's graphiti.py for the wire shape; the
// client struct and method style otherwise follow the teacher's
// http.Client-per-collaborator convention (see llm/ollama/client.go).
package memory

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/google/uuid"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client talks MCP-flavored JSON-RPC 2.0 to a Graphiti memory backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a Client bound to baseURL (e.g. the GRAPHITI_URL setting).
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type rpcRequest struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      string     `json:"id"`
	Method  string     `json:"method"`
	Params  callParams `json:"params"`
}

type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type rpcResponse struct {
	Result jsoniter.RawMessage `json:"result"`
	Error  *rpcError           `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type toolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// HealthCheck reports whether the memory backend is reachable, per
// GET /health.
func (c *Client) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Call issues one tools/call request for name with arguments and returns
// the response's content[0].text verbatim, which is the convention every
// handler in this package expects (a JSON-encoded array or object as a
// plain string, ready to pass straight back to the LLM).
func (c *Client) Call(ctx context.Context, name string, arguments map[string]any) (string, error) {
	body := rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  "tools/call",
		Params:  callParams{Name: name, Arguments: arguments},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal mcp request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mcp/", strings.NewReader(string(payload)))
	if err != nil {
		return "", fmt.Errorf("failed to build mcp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("mcp call %s failed: %w", name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read mcp response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("mcp call %s returned status %d: %s", name, resp.StatusCode, string(raw))
	}

	var rpc rpcResponse
	if err := json.Unmarshal(raw, &rpc); err != nil {
		return "", fmt.Errorf("failed to parse mcp response: %w", err)
	}
	if rpc.Error != nil {
		return "", fmt.Errorf("mcp call %s error: %s", name, rpc.Error.Message)
	}

	var result toolResult
	if err := json.Unmarshal(rpc.Result, &result); err == nil && len(result.Content) > 0 {
		return result.Content[0].Text, nil
	}

	return string(rpc.Result), nil
}

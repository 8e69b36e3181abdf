// Package cliagent implements the subprocess backend shape (Shape 2): a
// driver that spawns a Claude Code CLI binary per batch instead of calling
// a chat-completions HTTP API, letting the subprocess run its own agentic
// loop against an MCP server rather than our tool registry. Grounded on
// original_source's buddy_bot/executor.py (ClaudeExecutor) and
// buddy_bot/progress.py.
package cliagent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"keeper/pkg/config"
	"keeper/pkg/llm"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ResumeNudge is the prompt sent to --resume when the first run produced no
// text, asking the same session to repeat or finish its answer.
const ResumeNudge = "Continue. If you already answered, repeat your final response."

// BackendTimeout is returned (wrapped) when a subprocess call is killed
// after exceeding its configured timeout.
type BackendTimeout struct {
	Seconds int
}

func (e *BackendTimeout) Error() string {
	return fmt.Sprintf("claude CLI timed out after %ds", e.Seconds)
}

// Client drives the `claude -p` subprocess. Unlike the HTTP-backed
// providers it carries no conversation state between calls: the CLI
// process manages its own session via --resume, and every message list it
// receives is collapsed to the single combined prompt text that
// pkg/prompt already assembles into one user message.
type Client struct {
	bin           string
	model         string
	mcpConfigPath string
	allowedTools  string
	timeout       time.Duration
	sysConfig     *config.SystemConfig

	// execCommand builds the *exec.Cmd for one invocation; overridden in
	// tests to exercise the JSONL parsing without a real binary.
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// Options configures a Client.
type Options struct {
	Bin           string // defaults to "claude"
	Model         string
	MCPConfigPath string
	AllowedTools  string        // defaults to "mcp__*"
	Timeout       time.Duration // defaults to 120s
	SystemConfig  *config.SystemConfig
}

// New returns a ready-to-use Client.
func New(opts Options) *Client {
	bin := opts.Bin
	if bin == "" {
		bin = "claude"
	}
	allowedTools := opts.AllowedTools
	if allowedTools == "" {
		allowedTools = "mcp__*"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &Client{
		bin:           bin,
		model:         opts.Model,
		mcpConfigPath: opts.MCPConfigPath,
		allowedTools:  allowedTools,
		timeout:       timeout,
		sysConfig:     opts.SystemConfig,
		execCommand:   exec.CommandContext,
	}
}

// Provider identifies this backend in logs and debug dumps.
func (c *Client) Provider() string { return "cliagent" }

// IsTransientError reports whether err is worth retrying at the
// FallbackClient layer. A *BackendTimeout is not transient (retrying the
// same prompt against a process that just timed out rarely helps); a
// non-zero exit is treated as transient since the CLI occasionally fails
// on a cold start.
func (c *Client) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	var timeoutErr *BackendTimeout
	if errors.As(err, &timeoutErr) {
		return false
	}
	return strings.Contains(err.Error(), "exited with code")
}

// StreamChat spawns one `claude -p` subprocess per call, parses its
// stream-json stdout into a single StreamChunk, and performs the one-shot
// empty-result --resume nudge before giving up. It never returns
// ToolCalls: the subprocess dispatches its own tools against the MCP
// server directly, so RunToolLoop sees a single, final round.
func (c *Client) StreamChat(ctx context.Context, messages []llm.Message, _ []llm.Tool) (<-chan llm.StreamChunk, error) {
	prompt := lastPromptText(messages)

	text, sessionID, err := c.runClaude(ctx, prompt)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(text) == "" && sessionID != "" {
		slog.WarnContext(ctx, "cliagent: empty result, resuming session", "session_id", sessionID)
		resumed, resumeErr := c.resumeSession(ctx, sessionID)
		if resumeErr == nil {
			text = resumed
		}
	}
	if strings.TrimSpace(text) == "" {
		text = "(no response)"
	}

	ch := make(chan llm.StreamChunk, 2)
	ch <- llm.NewTextChunk(text)
	ch <- llm.NewFinalChunk(llm.StopReasonStop, nil)
	close(ch)
	return ch, nil
}

func lastPromptText(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if text := messages[i].GetTextContent(); text != "" {
			return text
		}
	}
	return ""
}

// runClaude runs the full `claude -p ... --output-format stream-json`
// invocation, killing it if it outruns c.timeout.
func (c *Client) runClaude(ctx context.Context, prompt string) (string, string, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := c.execCommand(runCtx, c.bin, c.buildArgs(prompt)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", "", fmt.Errorf("failed to open claude stdout: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", "", fmt.Errorf("failed to start claude CLI: %w", err)
	}

	debugger := llm.NewStreamDebugger(ctx, c.Provider(), c.sysConfig)
	defer debugger.Close()

	text, sessionID := readJSONLStream(stdout, debugger)

	waitErr := cmd.Wait()
	if runCtx.Err() == context.DeadlineExceeded {
		return "", "", &BackendTimeout{Seconds: int(c.timeout.Seconds())}
	}
	if waitErr != nil {
		msg := stderr.String()
		if len(msg) > 500 {
			msg = msg[:500]
		}
		return "", "", fmt.Errorf("claude CLI exited with code %v: %s", waitErr, msg)
	}

	return text, sessionID, nil
}

// readJSONLStream scans stdout line by line, tracking the session id from
// the "system" event and the final text from the "result" event, logging
// a progress message for every tool_use block seen in "assistant" events.
// Every raw line is mirrored to debugger so a DEBUG_CHUNKS run captures the
// subprocess's wire traffic the same way the HTTP-backed providers do.
func readJSONLStream(r io.Reader, debugger *llm.StreamDebugger) (text string, sessionID string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		debugger.WriteString(line)

		var msg struct {
			Type      string `json:"type"`
			SessionID string `json:"session_id"`
			Result    string `json:"result"`
			Message   struct {
				Content []struct {
					Type string `json:"type"`
					Name string `json:"name"`
				} `json:"content"`
			} `json:"message"`
		}
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			slog.Debug("cliagent: non-JSON line from claude", "line", truncate(line, 200))
			continue
		}

		switch msg.Type {
		case "system":
			if msg.SessionID != "" {
				sessionID = msg.SessionID
			}
		case "assistant":
			for _, block := range msg.Message.Content {
				if block.Type != "tool_use" {
					continue
				}
				if progress, ok := FormatToolProgress(block.Name); ok {
					slog.Info("cliagent: tool progress", "tool", block.Name, "message", progress)
				}
			}
		case "result":
			text = msg.Result
			if sessionID == "" && msg.SessionID != "" {
				sessionID = msg.SessionID
			}
		}
	}

	return text, sessionID
}

// resumeSession re-invokes claude against an existing session with the
// nudge prompt, using plain json output instead of stream-json since
// there is no tool-use progress worth tracking on a resume.
func (c *Client) resumeSession(ctx context.Context, sessionID string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := []string{
		"-p", ResumeNudge,
		"--output-format", "json",
		"--resume", sessionID,
		"--model", c.model,
	}

	cmd := c.execCommand(runCtx, c.bin, args...)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("claude resume failed: %w", err)
	}

	var result struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(out, &result); err != nil {
		return strings.TrimSpace(string(out)), nil
	}
	return result.Result, nil
}

// buildArgs mirrors original_source's _build_command: stream-json output,
// verbose, restricted to MCP tools only (no file/bash access).
func (c *Client) buildArgs(prompt string) []string {
	return []string{
		"-p", prompt,
		"--output-format", "stream-json",
		"--verbose",
		"--model", c.model,
		"--mcp-config", c.mcpConfigPath,
		"--allowedTools", c.allowedTools,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

package cliagent

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"keeper/pkg/llm"
)

// shCommand builds an exec.CommandContext against /bin/sh -c so tests can
// fake claude's stdout/stderr/exit code without spawning the real binary.
func shCommand(script string) func(ctx context.Context, name string, args ...string) *exec.Cmd {
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "/bin/sh", "-c", script)
	}
}

func newTestClient(exec func(ctx context.Context, name string, args ...string) *exec.Cmd) *Client {
	c := New(Options{Model: "test-model", MCPConfigPath: "/tmp/mcp.json", Timeout: 5 * time.Second})
	c.execCommand = exec
	return c
}

func TestStreamChat_HappyPath(t *testing.T) {
	script := `cat <<'EOF'
{"type":"system","session_id":"sess-123"}
{"type":"assistant","message":{"content":[{"type":"text","text":"thinking"}]}}
{"type":"result","result":"Hi Alex! How are you?"}
EOF`
	client := newTestClient(shCommand(script))

	ch, err := client.StreamChat(context.Background(), []llm.Message{llm.NewUserMessage("hello")}, nil)
	if err != nil {
		t.Fatalf("StreamChat returned error: %v", err)
	}

	var text string
	for chunk := range ch {
		for _, b := range chunk.ContentBlocks {
			text += b.Text
		}
	}
	if !strings.Contains(text, "Hi Alex") {
		t.Fatalf("expected response to contain %q, got %q", "Hi Alex", text)
	}
}

func TestStreamChat_ToolUseProgressDoesNotBreakParsing(t *testing.T) {
	script := `cat <<'EOF'
{"type":"system","session_id":"sess-456"}
{"type":"assistant","message":{"content":[{"type":"tool_use","name":"mcp__buddy-bot-tools__get_current_time","id":"t1"}]}}
{"type":"result","result":"It's 2:30 PM!"}
EOF`
	client := newTestClient(shCommand(script))

	ch, err := client.StreamChat(context.Background(), []llm.Message{llm.NewUserMessage("what time is it?")}, nil)
	if err != nil {
		t.Fatalf("StreamChat returned error: %v", err)
	}

	var text string
	for chunk := range ch {
		for _, b := range chunk.ContentBlocks {
			text += b.Text
		}
	}
	if !strings.Contains(text, "2:30 PM") {
		t.Fatalf("expected response to contain the result text, got %q", text)
	}
}

func TestStreamChat_EmptyResultTriggersResume(t *testing.T) {
	calls := 0
	execFn := func(ctx context.Context, name string, args ...string) *exec.Cmd {
		calls++
		resume := false
		for _, a := range args {
			if a == "--resume" {
				resume = true
			}
		}
		if resume {
			return exec.CommandContext(ctx, "/bin/sh", "-c", `echo '{"result":"Here is my response!","session_id":"sess-789"}'`)
		}
		return exec.CommandContext(ctx, "/bin/sh", "-c", `cat <<'EOF'
{"type":"system","session_id":"sess-789"}
{"type":"result","result":""}
EOF`)
	}
	client := newTestClient(execFn)

	ch, err := client.StreamChat(context.Background(), []llm.Message{llm.NewUserMessage("test")}, nil)
	if err != nil {
		t.Fatalf("StreamChat returned error: %v", err)
	}

	var text string
	for chunk := range ch {
		for _, b := range chunk.ContentBlocks {
			text += b.Text
		}
	}
	if !strings.Contains(text, "Here is my response") {
		t.Fatalf("expected resumed response text, got %q", text)
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 subprocess invocations (initial + resume), got %d", calls)
	}
}

func TestRunClaude_NonZeroExitReturnsStderr(t *testing.T) {
	script := `echo "CLI error" 1>&2; exit 1`
	client := newTestClient(shCommand(script))

	_, _, err := client.runClaude(context.Background(), "test fallback")
	if err == nil {
		t.Fatal("expected an error for a non-zero exit")
	}
	if !strings.Contains(err.Error(), "CLI error") {
		t.Fatalf("expected error to carry stderr output, got %v", err)
	}
}

func TestRunClaude_TimeoutKillsProcess(t *testing.T) {
	client := newTestClient(shCommand(`sleep 2`))
	client.timeout = 50 * time.Millisecond

	_, _, err := client.runClaude(context.Background(), "slow")
	var timeoutErr *BackendTimeout
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected a *BackendTimeout, got %v (%T)", err, err)
	}
}

func TestIsTransientError(t *testing.T) {
	client := newTestClient(shCommand(""))

	if client.IsTransientError(nil) {
		t.Error("nil error must not be transient")
	}
	if client.IsTransientError(&BackendTimeout{Seconds: 5}) {
		t.Error("a timeout should not be retried against the same prompt")
	}
	if !client.IsTransientError(errors.New("claude CLI exited with code 1: boom")) {
		t.Error("a non-zero exit should be classified as transient")
	}
}

func TestFormatToolProgress(t *testing.T) {
	msg, ok := FormatToolProgress("todo_add")
	if !ok || msg != "Adding task..." {
		t.Fatalf("expected mapped progress message, got %q, %v", msg, ok)
	}

	msg, ok = FormatToolProgress("mcp__buddy-bot-tools__get_current_time")
	if !ok || msg != "Checking the time..." {
		t.Fatalf("expected prefix-stripped lookup to match, got %q, %v", msg, ok)
	}

	if _, ok := FormatToolProgress("unknown_tool"); ok {
		t.Fatal("unmapped tool name should report ok=false")
	}
}

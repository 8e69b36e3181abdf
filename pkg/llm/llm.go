package llm

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// json is used throughout package llm; jsoniter is the canonical JSON
// library across this codebase.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Usage is a provider-agnostic token accounting record.
type Usage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	ThoughtsTokens   int    `json:"thoughts_tokens,omitempty"`
	CachedTokens     int    `json:"cached_tokens,omitempty"`
	PromptDetail     string `json:"prompt_detail,omitempty"`
	CompletionDetail string `json:"completion_detail,omitempty"`
	StopReason       string `json:"stop_reason,omitempty"`
}

// LLMUsage is an alias kept for call sites ported from the teacher codebase.
type LLMUsage = Usage

// LogUsage prints a compact usage summary for the given model.
func LogUsage(model string, usage *Usage) {
	if usage == nil {
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "\nusage (%s): prompt=%d(%s) completion=%d(%s) total=%d thoughts=%d",
		model, usage.PromptTokens, usage.PromptDetail, usage.CompletionTokens,
		usage.CompletionDetail, usage.TotalTokens, usage.ThoughtsTokens)
	if usage.StopReason != "" {
		fmt.Fprintf(&sb, " stop_reason=%s", usage.StopReason)
	}
	if usage.CachedTokens > 0 {
		fmt.Fprintf(&sb, " cached=%d", usage.CachedTokens)
	}
	log.Println(sb.String())
}

// Client is the one capability interface both backend shapes implement:
// send a message list plus a tool catalog, get back a stream of chunks.
// Reconciles the teacher's drifted LLMClient interface (which lacked a
// tools parameter and a Provider method even though its concrete ollama
// client implemented both) into a single consistent signature.
// LLMClient is an alias kept for the provider-loading machinery (registry,
// loader, per-provider factories) that predates the Client rename.
type LLMClient = Client

type Client interface {
	// StreamChat streams a response for messages, advertising tools as the
	// backend's tool catalog for this call.
	StreamChat(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamChunk, error)

	// IsTransientError classifies an error returned from StreamChat as
	// retriable (rate limit, transient server error, overload) or not.
	IsTransientError(err error) bool

	// Provider returns a short identifier used in logs and debug dumps.
	Provider() string
}

// FallbackClient tries each client in order, making up to MaxRetries
// attempts in total per client on transient errors (at least one attempt)
// before falling through to the next one.
type FallbackClient struct {
	Clients    []Client
	MaxRetries int
	RetryDelay time.Duration
}

func (f *FallbackClient) Provider() string { return "fallback" }

func (f *FallbackClient) StreamChat(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamChunk, error) {
	var lastErr error
	for i, client := range f.Clients {
		if i > 0 {
			slog.WarnContext(ctx, "previous provider failed, trying fallback", "provider", client.Provider())
		}

		maxRetries := f.MaxRetries
		if maxRetries <= 0 {
			maxRetries = 1
		}

		for attempt := 1; attempt <= maxRetries; attempt++ {
			if attempt > 1 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(time.Duration(attempt-1) * f.RetryDelay):
				}
			}

			ch, err := client.StreamChat(ctx, messages, tools)
			if err == nil {
				return ch, nil
			}

			lastErr = err
			if client.IsTransientError(err) && attempt < maxRetries {
				slog.WarnContext(ctx, "provider failed with transient error, retrying", "provider", client.Provider(), "error", err)
				continue
			}
			slog.ErrorContext(ctx, "provider failed", "provider", client.Provider(), "error", err)
			break
		}
	}
	return nil, fmt.Errorf("all fallback providers failed: %w", lastErr)
}

// IsTransientError always reports false: a FallbackClient only returns once
// every child has already exhausted its own retry budget.
func (f *FallbackClient) IsTransientError(err error) bool {
	return false
}

package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"keeper/pkg/llm"
	"keeper/pkg/retry"
	"keeper/pkg/tool"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MaxToolRounds bounds the tool-use dialog loop so a misbehaving backend or
// tool can't spin the driver forever.
const MaxToolRounds = 20

// NoResponseText is returned when the backend produces no text at all.
const NoResponseText = "(no response)"

// MaxRoundsText is returned when the loop hits MaxToolRounds without a
// final, tool-free response.
const MaxRoundsText = "(max tool rounds reached)"

// roundResult is the normalized shape of one backend call, independent of
// whether it came back as one chunk or many.
type roundResult struct {
	blocks       []llm.ContentBlock
	toolCalls    []llm.ToolCall
	finishReason string
	usage        *llm.Usage
}

// RunToolLoop drives one full tool-use dialog with client: it calls the
// backend, dispatches any tool-use blocks through registry, appends the
// results, and repeats until the backend stops requesting tools or the
// round limit is reached. Retries around a single backend call are
// delegated to the retry package via client.IsTransientError.
func RunToolLoop(ctx context.Context, client llm.Client, registry *tool.Registry, messages []llm.Message) (string, *llm.Usage, error) {
	tools := llm.ToolsFromDefinitions(registry.Definitions())

	var lastUsage *llm.Usage
	var accumulated strings.Builder

	for round := 0; round < MaxToolRounds; round++ {
		result, err := callOnce(ctx, client, messages, tools)
		if err != nil {
			return "", lastUsage, err
		}
		if result.usage != nil {
			lastUsage = result.usage
		}

		var textParts []string
		for _, block := range result.blocks {
			if block.Type == llm.BlockTypeText && block.Text != "" {
				textParts = append(textParts, block.Text)
			}
		}

		if len(result.toolCalls) == 0 || result.finishReason == llm.StopReasonStop {
			text := strings.Join(textParts, "\n")
			if text == "" {
				if accumulated.Len() > 0 {
					return accumulated.String(), lastUsage, nil
				}
				return NoResponseText, lastUsage, nil
			}
			return text, lastUsage, nil
		}

		if len(textParts) > 0 {
			if accumulated.Len() > 0 {
				accumulated.WriteString("\n")
			}
			accumulated.WriteString(strings.Join(textParts, "\n"))
		}

		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   result.blocks,
			ToolCalls: result.toolCalls,
		})

		for _, tc := range result.toolCalls {
			resultText := dispatchToolCall(ctx, registry, tc)
			messages = append(messages, llm.Message{
				Role:       "tool",
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
				Content:    []llm.ContentBlock{{Type: llm.BlockTypeText, Text: resultText}},
			})
		}
	}

	if accumulated.Len() > 0 {
		return accumulated.String(), lastUsage, nil
	}
	return MaxRoundsText, lastUsage, nil
}

func dispatchToolCall(ctx context.Context, registry *tool.Registry, tc llm.ToolCall) string {
	var args map[string]any
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
		return fmt.Sprintf(`{"error":"Failed to parse arguments for tool %s: %s"}`, tc.Name, err.Error())
	}
	return registry.Dispatch(ctx, strings.TrimPrefix(tc.Name, "functions."), args)
}

// callOnce streams a single backend round to completion and folds it into
// one roundResult, retrying transient failures via the retry package.
func callOnce(ctx context.Context, client llm.Client, messages []llm.Message, tools []llm.Tool) (roundResult, error) {
	opts := retry.Options{
		MaxRetries: 3,
		Base:       time.Second,
		Cap:        30 * time.Second,
		Retriable:  client.IsTransientError,
	}

	return retry.Do(ctx, opts, func(ctx context.Context) (roundResult, error) {
		chunkCh, err := client.StreamChat(ctx, messages, tools)
		if err != nil {
			return roundResult{}, err
		}

		var result roundResult
		for chunk := range chunkCh {
			result.blocks = append(result.blocks, chunk.ContentBlocks...)
			result.toolCalls = append(result.toolCalls, chunk.ToolCalls...)
			if chunk.FinishReason != "" {
				result.finishReason = chunk.FinishReason
			}
			if chunk.Usage != nil {
				result.usage = chunk.Usage
			}
			if chunk.FinishReason == "error" {
				for _, b := range chunk.ContentBlocks {
					if b.Type == llm.BlockTypeError {
						return result, fmt.Errorf("%s", b.Text)
					}
				}
			}
		}
		return result, nil
	})
}

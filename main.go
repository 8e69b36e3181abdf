package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"keeper/pkg/builtin"
	"keeper/pkg/channels"
	"keeper/pkg/channels/telegram"
	"keeper/pkg/config"
	"keeper/pkg/llm"
	_ "keeper/pkg/llm/cliagent"
	_ "keeper/pkg/llm/gemini"
	_ "keeper/pkg/llm/ollama"
	_ "keeper/pkg/llm/openailm"
	"keeper/pkg/memory"
	"keeper/pkg/monitor"
	"keeper/pkg/orchestrator"
	"keeper/pkg/store"
	"keeper/pkg/tool"
	"keeper/pkg/voice"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	settings, err := config.LoadSettings()
	if err != nil {
		monitor.Startup("info")
		slog.Error("failed to load settings", "error", err)
		return
	}

	monitor.SetupEnvironment(settings.LogLevel)

	sysCfg := config.LoadSystemConfig("system.json")
	sysCfg.MaxRetries = settings.MaxRetries
	sysCfg.RetryDelayMs = settings.RetryBackoffBaseSeconds * 1000
	sysCfg.LogLevel = settings.LogLevel

	reloadCh := config.WatchConfig(ctx, "system.json")
	go func() {
		for range reloadCh {
			slog.Info("system.json changed, reloading tunables")
			fresh := config.LoadSystemConfig("system.json")
			fresh.MaxRetries = settings.MaxRetries
			fresh.RetryDelayMs = settings.RetryBackoffBaseSeconds * 1000
			fresh.LogLevel = settings.LogLevel
			*sysCfg = *fresh
		}
	}()

	if err := run(ctx, settings, sysCfg); err != nil {
		slog.Error("fatal error", "error", err)
	}
}

func run(ctx context.Context, settings *config.Settings, sysCfg *config.SystemConfig) error {
	st, err := store.Open(settings.HistoryDB)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	client, err := llm.NewFromConfig(buildLLMConfig(settings), sysCfg)
	if err != nil {
		return fmt.Errorf("failed to init LLM client: %w", err)
	}

	registry := tool.NewRegistry()
	if err := builtin.RegisterTodoTools(registry, st); err != nil {
		return fmt.Errorf("failed to register todo tools: %w", err)
	}
	if err := builtin.RegisterTimeTool(registry, settings.UserTimezone); err != nil {
		return fmt.Errorf("failed to register time tool: %w", err)
	}
	if settings.GraphitiURL != "" {
		memClient := memory.New(settings.GraphitiURL)
		if err := builtin.RegisterMemoryTools(registry, memClient); err != nil {
			return fmt.Errorf("failed to register memory tools: %w", err)
		}
	}

	telegramFactory := &telegram.TelegramFactory{}
	if settings.SpeechkitAPIKey != "" && settings.YandexFolderID != "" {
		telegramFactory.Transcriber = voice.New(settings.SpeechkitAPIKey, settings.YandexFolderID, settings.SpeechkitLang)
	}
	channels.RegisterChannel("telegram", telegramFactory)

	source := channels.NewSource(map[string]jsoniter.RawMessage{
		"telegram": buildTelegramConfig(settings),
	}, sysCfg)
	active := source.Load()
	if len(active) == 0 {
		return fmt.Errorf("no channels could be started")
	}

	// Only one channel (telegram) drives the orchestrator's transport for
	// now; a second channel registered concurrently would need a
	// multiplexing Transport, out of scope until the web channel returns.
	primary := active[0]

	orch := orchestrator.New(ctx, st, registry, client, primary, settings.HistoryTurns, settings.UserTimezone, settings.DebounceDelay)

	ingressCtx, cancelIngress := context.WithCancel(ctx)
	if err := primary.Start(ingressCtx, orch.HandleEvent); err != nil {
		cancelIngress()
		return fmt.Errorf("failed to start channel %s: %w", primary.ID(), err)
	}

	<-ctx.Done()
	slog.Info("shutting down")

	cancelIngress()
	for _, ch := range active {
		if err := ch.Stop(); err != nil {
			slog.Warn("error stopping channel", "channel", ch.ID(), "error", err)
		}
	}

	if err := orch.Wait(); err != nil {
		slog.Warn("orchestrator exited with error", "error", err)
	}

	return nil
}

func buildTelegramConfig(settings *config.Settings) jsoniter.RawMessage {
	raw, _ := json.Marshal(telegram.TelegramConfig{
		Token:            settings.TelegramToken,
		AllowedChatIDs:   settings.TelegramAllowedChatIDs,
		MaxVoiceDuration: settings.MaxVoiceDuration,
	})
	return raw
}

// buildLLMConfig assembles the provider-group list NewFromConfig expects
// from the flat env-var Settings. ollama/gemini/openai (Shape 1) and
// cliagent (Shape 2) have registered ProviderFactorys in this tree;
// ANTHROPIC_API_KEY is accepted (per the external interface contract) but
// produces no group since no Anthropic Go SDK appears anywhere in the
// reference corpus.
func buildLLMConfig(settings *config.Settings) jsoniter.RawMessage {
	var groups []llm.ProviderGroupConfig

	options := map[string]any{
		"temperature": settings.Temperature,
		"max_tokens":  settings.MaxTokens,
	}

	if settings.OllamaBaseURL != "" {
		groups = append(groups, llm.ProviderGroupConfig{
			Type:    "ollama",
			BaseURL: settings.OllamaBaseURL,
			Models:  []string{settings.Model},
			Options: options,
		})
	}
	if settings.OpenAIAPIKey != "" {
		groups = append(groups, llm.ProviderGroupConfig{
			Type:    "openai",
			APIKeys: []string{settings.OpenAIAPIKey},
			Models:  []string{settings.Model},
			Options: options,
		})
	}
	if settings.GeminiAPIKey != "" {
		groups = append(groups, llm.ProviderGroupConfig{
			Type:    "gemini",
			APIKeys: []string{settings.GeminiAPIKey},
			Models:  []string{settings.Model},
			Options: options,
		})
	}
	if settings.AnthropicAPIKey != "" {
		slog.Warn("ANTHROPIC_API_KEY set but no Anthropic provider factory is registered in this build")
	}

	// Shape 2 (subprocess) is appended last: Shape 1's structured APIs are
	// preferred, and the CLI backend only becomes available once an MCP
	// config path is supplied.
	if settings.MCPConfigPath != "" {
		groups = append(groups, llm.ProviderGroupConfig{
			Type:   "cliagent",
			Models: []string{settings.Model},
			Options: map[string]any{
				"mcp_config_path":        settings.MCPConfigPath,
				"claude_timeout_seconds": settings.ClaudeTimeout.Seconds(),
			},
		})
	}

	raw, _ := json.Marshal(groups)
	return raw
}

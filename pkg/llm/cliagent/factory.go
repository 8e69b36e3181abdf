package cliagent

import (
	"time"

	"keeper/pkg/config"
	"keeper/pkg/llm"
)

// Factory builds one Client per configured model, reading the subprocess
// binary path, MCP config path, allowed-tools filter, and per-call timeout
// out of ProviderGroupConfig.Options so the group config format stays
// identical across every registered provider.
type Factory struct{}

func (f *Factory) Create(cfg llm.ProviderGroupConfig, sysConfig *config.SystemConfig) ([]llm.LLMClient, error) {
	bin, _ := cfg.Options["bin"].(string)
	mcpConfigPath, _ := cfg.Options["mcp_config_path"].(string)
	allowedTools, _ := cfg.Options["allowed_tools"].(string)

	timeout := 120 * time.Second
	if secs, ok := cfg.Options["claude_timeout_seconds"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	models := cfg.Models
	if len(models) == 0 {
		models = []string{""}
	}

	clients := make([]llm.LLMClient, 0, len(models))
	for _, model := range models {
		clients = append(clients, New(Options{
			Bin:           bin,
			Model:         model,
			MCPConfigPath: mcpConfigPath,
			AllowedTools:  allowedTools,
			Timeout:       timeout,
			SystemConfig:  sysConfig,
		}))
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("cliagent", &Factory{})
}

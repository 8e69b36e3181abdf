package telegram

import (
	"fmt"

	"keeper/pkg/channels"
	"keeper/pkg/config"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TelegramFactory implements channels.ChannelFactory for Telegram.
type TelegramFactory struct {
	// Transcriber is injected by bootstrap when voice transcription is
	// configured; nil disables voice handling.
	Transcriber VoiceTranscriber
}

// Create parses the channel-specific configuration and builds a
// TelegramChannel using the shared system-level download timeout.
func (f *TelegramFactory) Create(rawConfig jsoniter.RawMessage, system *config.SystemConfig) (channels.Channel, error) {
	var tgCfg TelegramConfig
	if err := json.Unmarshal(rawConfig, &tgCfg); err != nil {
		return nil, fmt.Errorf("failed to parse telegram config: %w", err)
	}
	if tgCfg.Token == "" {
		return nil, fmt.Errorf("missing telegram token")
	}

	return NewTelegramChannel(tgCfg, f.Transcriber, system.DownloadTimeoutMs)
}

func init() {
	channels.RegisterChannel("telegram", &TelegramFactory{})
}

package channels

import (
	"log/slog"

	"keeper/pkg/config"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Source holds the raw per-channel configuration blobs read from Config
// and the shared system tunables every factory needs.
type Source struct {
	configs map[string]jsoniter.RawMessage
	system  *config.SystemConfig
}

// NewSource creates a Source from the channel config map and system config.
func NewSource(configs map[string]jsoniter.RawMessage, system *config.SystemConfig) *Source {
	return &Source{configs: configs, system: system}
}

// Load instantiates every configured channel, skipping ones with unknown
// types or that fail to construct (logged, not fatal).
func (s *Source) Load() []Channel {
	var result []Channel
	for name, rawConfig := range s.configs {
		factory, ok := GetChannelFactory(name)
		if !ok {
			slog.Warn("unknown channel type", "name", name)
			continue
		}

		channel, err := factory.Create(rawConfig, s.system)
		if err != nil {
			slog.Error("failed to create channel", "name", name, "error", err)
			continue
		}
		if channel == nil {
			continue
		}

		result = append(result, channel)
		slog.Info("channel created", "name", name)
	}
	return result
}

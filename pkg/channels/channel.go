// Package channels hosts the registry of ingress/egress adapters
// (component H) and the common Channel interface every adapter
// implements, generalizing the teacher's gateway.Channel/api.Channel
// split into the event.Event/orchestrator.Transport shape.
package channels

import (
	"context"

	"keeper/pkg/config"
	"keeper/pkg/event"
	"keeper/pkg/orchestrator"

	jsoniter "github.com/json-iterator/go"
)

// Channel is both an ingress adapter (normalizes transport updates into
// event.Event) and an egress adapter (orchestrator.Transport), so one
// value wires into the orchestrator as its transport and feeds it events.
type Channel interface {
	orchestrator.Transport

	// ID identifies this channel in logs ("telegram", "web").
	ID() string

	// Start begins accepting inbound updates in the background and calls
	// handle for each normalized event. Returns once the adapter is
	// listening; does not block.
	Start(ctx context.Context, handle func(event.Event)) error

	// Stop halts ingestion and releases any held resources.
	Stop() error
}

// ChannelFactory builds a Channel from its raw JSON configuration.
type ChannelFactory interface {
	Create(rawConfig jsoniter.RawMessage, system *config.SystemConfig) (Channel, error)
}

var channelRegistry = make(map[string]ChannelFactory)

// RegisterChannel adds a ChannelFactory to the global registry, normally
// called from a channel package's init().
func RegisterChannel(name string, factory ChannelFactory) {
	channelRegistry[name] = factory
}

// GetChannelFactory retrieves a registered ChannelFactory by name.
func GetChannelFactory(name string) (ChannelFactory, bool) {
	f, ok := channelRegistry[name]
	return f, ok
}

// Package bus provides event bus implementations for claimguard.
package bus

import (
	"fmt"

	"github.com/opensource-finance/claimguard/internal/domain"
)

// New creates a new event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// ReplyTopic returns the topic a request message expects its reply on,
// or "" for plain events.
func ReplyTopic(msg *domain.Message) string {
	if msg == nil || msg.Metadata == nil {
		return ""
	}
	return msg.Metadata[domain.MetadataReplyTo]
}

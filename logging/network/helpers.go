package network

import (
	"context"

	"arena-shooter/server/logging"
)

const (
	// EventCommandDropped is emitted when a client command is rejected before reaching the simulation.
	EventCommandDropped logging.EventType = "network.command_dropped"
	// EventMalformedMessage is emitted when a client frame cannot be decoded.
	EventMalformedMessage logging.EventType = "network.malformed_message"
)

// CommandDroppedPayload captures why a command never reached the engine.
type CommandDroppedPayload struct {
	Reason      string `json:"reason"`
	CommandType string `json:"commandType,omitempty"`
}

// MalformedMessagePayload records the decoding failure.
type MalformedMessagePayload struct {
	Error string `json:"error"`
	Bytes int    `json:"bytes"`
}

// CommandDropped publishes a warning for a rejected command.
func CommandDropped(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload CommandDroppedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventCommandDropped,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// MalformedMessage publishes a debug event for an undecodable frame.
func MalformedMessage(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload MalformedMessagePayload) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventMalformedMessage,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	}
	pub.Publish(ctx, event)
}

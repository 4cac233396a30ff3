package lifecycle

import (
	"context"

	"arena-shooter/server/logging"
)

const (
	// EventPlayerJoined is emitted when a player joins an instance.
	EventPlayerJoined logging.EventType = "lifecycle.player_joined"
	// EventPlayerDisconnected is emitted when a player leaves an instance.
	EventPlayerDisconnected logging.EventType = "lifecycle.player_disconnected"
	// EventInstanceCreated is emitted when the manager registers a new instance.
	EventInstanceCreated logging.EventType = "lifecycle.instance_created"
	// EventInstanceEvicted is emitted when an idle instance is torn down.
	EventInstanceEvicted logging.EventType = "lifecycle.instance_evicted"
)

// PlayerJoinedPayload captures spawn metadata for a new player.
type PlayerJoinedPayload struct {
	EntityID uint64  `json:"entityId"`
	SpawnX   float64 `json:"spawnX"`
	SpawnY   float64 `json:"spawnY"`
}

// PlayerDisconnectedPayload captures the reason a player left.
type PlayerDisconnectedPayload struct {
	Reason string `json:"reason"`
}

// InstancePayload describes an instance at a lifecycle transition.
type InstancePayload struct {
	Label    string `json:"label,omitempty"`
	Entities int    `json:"entities"`
}

// PlayerJoined publishes a player join event.
func PlayerJoined(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PlayerJoinedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventPlayerJoined,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// PlayerDisconnected publishes a player disconnect event.
func PlayerDisconnected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PlayerDisconnectedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventPlayerDisconnected,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// InstanceCreated publishes an instance creation event.
func InstanceCreated(ctx context.Context, pub logging.Publisher, sessionID string, payload InstancePayload) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventInstanceCreated,
		Actor:    logging.EntityRef{ID: sessionID, Kind: logging.EntityKindInstance},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
	}
	pub.Publish(ctx, event)
}

// InstanceEvicted publishes an eviction event.
func InstanceEvicted(ctx context.Context, pub logging.Publisher, sessionID string, payload InstancePayload) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventInstanceEvicted,
		Actor:    logging.EntityRef{ID: sessionID, Kind: logging.EntityKindInstance},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
	}
	pub.Publish(ctx, event)
}

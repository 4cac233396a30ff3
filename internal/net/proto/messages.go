package proto

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"arena-shooter/server/internal/game"
	"arena-shooter/server/internal/physics"
	"arena-shooter/server/internal/sim"
)

const (
	// Version tracks the wire-protocol revision expected by clients.
	Version = 1

	// Type identifiers for outbound payloads.
	TypeGameState     = "gameState"
	TypeWelcome       = "welcome"
	TypeCommandReject = "commandReject"

	// Type identifiers for client payloads. Heartbeats are echoed back with
	// the same type.
	TypeShoot     = "shoot"
	TypeHeartbeat = "heartbeat"
)

// Encoding selects how outbound frames are serialized for one connection.
type Encoding string

const (
	EncodingJSON    Encoding = "json"
	EncodingMsgpack Encoding = "msgpack"
)

// ParseEncoding maps a query parameter to an Encoding. Empty means JSON.
func ParseEncoding(raw string) (Encoding, error) {
	switch Encoding(raw) {
	case "", EncodingJSON:
		return EncodingJSON, nil
	case EncodingMsgpack:
		return EncodingMsgpack, nil
	default:
		return "", fmt.Errorf("unsupported encoding %q", raw)
	}
}

// Binary reports whether frames must be sent as binary websocket messages.
func (e Encoding) Binary() bool {
	return e == EncodingMsgpack
}

// Marshal serializes msg using the encoding.
func (e Encoding) Marshal(msg any) ([]byte, error) {
	if e == EncodingMsgpack {
		return msgpack.Marshal(msg)
	}
	return json.Marshal(msg)
}

// EntityV1 is the wire form of one snapshot record.
type EntityV1 struct {
	ID       uint64      `json:"id" msgpack:"id"`
	Owner    string      `json:"owner,omitempty" msgpack:"owner,omitempty"`
	Position physics.Vec `json:"position" msgpack:"position"`
	Type     string      `json:"type" msgpack:"type"`
}

// GameStateV1 is pushed to every subscriber of an instance once per tick.
type GameStateV1 struct {
	Ver        int        `json:"ver" msgpack:"ver"`
	Type       string     `json:"type" msgpack:"type"`
	InstanceID string     `json:"instanceId" msgpack:"instanceId"`
	Tick       uint64     `json:"tick" msgpack:"tick"`
	ServerTime int64      `json:"serverTime" msgpack:"serverTime"`
	Entities   []EntityV1 `json:"entities" msgpack:"entities"`
}

// NewGameState projects an engine snapshot onto the wire layout.
func NewGameState(instanceID string, snapshot game.Snapshot, now time.Time) GameStateV1 {
	entities := make([]EntityV1, 0, len(snapshot.Entities))
	for _, ent := range snapshot.Entities {
		entities = append(entities, EntityV1{
			ID:       uint64(ent.ID),
			Owner:    ent.Owner,
			Position: ent.Position,
			Type:     string(ent.Kind),
		})
	}
	return GameStateV1{
		Ver:        Version,
		Type:       TypeGameState,
		InstanceID: instanceID,
		Tick:       snapshot.Tick,
		ServerTime: now.UnixMilli(),
		Entities:   entities,
	}
}

// ArenaV1 tells the client the playfield size.
type ArenaV1 struct {
	Width  float64 `json:"width" msgpack:"width"`
	Height float64 `json:"height" msgpack:"height"`
}

// WelcomeV1 is the first frame a connection receives.
type WelcomeV1 struct {
	Ver          int     `json:"ver" msgpack:"ver"`
	Type         string  `json:"type" msgpack:"type"`
	ConnectionID string  `json:"connectionId" msgpack:"connectionId"`
	InstanceID   string  `json:"instanceId" msgpack:"instanceId"`
	EntityID     uint64  `json:"entityId" msgpack:"entityId"`
	TickRate     int     `json:"tickRate" msgpack:"tickRate"`
	Arena        ArenaV1 `json:"arena" msgpack:"arena"`
}

// CommandRejectV1 notifies the client that a sequenced command was refused.
type CommandRejectV1 struct {
	Ver    int    `json:"ver" msgpack:"ver"`
	Type   string `json:"type" msgpack:"type"`
	Seq    uint64 `json:"seq" msgpack:"seq"`
	Reason string `json:"reason" msgpack:"reason"`
	Retry  bool   `json:"retry,omitempty" msgpack:"retry,omitempty"`
}

// NewCommandReject builds a rejection. Throttled commands may be retried.
func NewCommandReject(seq uint64, reason string) CommandRejectV1 {
	return CommandRejectV1{
		Ver:    Version,
		Type:   TypeCommandReject,
		Seq:    seq,
		Reason: reason,
		Retry:  reason == sim.CommandRejectQueueLimit,
	}
}

// HeartbeatV1 echoes timing metadata back to the client.
type HeartbeatV1 struct {
	Ver        int    `json:"ver" msgpack:"ver"`
	Type       string `json:"type" msgpack:"type"`
	ServerTime int64  `json:"serverTime" msgpack:"serverTime"`
	ClientTime int64  `json:"clientTime" msgpack:"clientTime"`
}

// ClientMessage captures an inbound websocket message from the client.
type ClientMessage struct {
	Ver    int     `json:"ver,omitempty" msgpack:"ver,omitempty"`
	Type   string  `json:"type" msgpack:"type"`
	X      float64 `json:"x" msgpack:"x"`
	Y      float64 `json:"y" msgpack:"y"`
	SentAt int64   `json:"sentAt" msgpack:"sentAt"`
	Seq    uint64  `json:"seq,omitempty" msgpack:"seq,omitempty"`
}

// DecodeClientMessage converts a raw frame into a structured message. Binary
// frames are read as msgpack, text frames as JSON.
func DecodeClientMessage(payload []byte, binary bool) (ClientMessage, error) {
	var msg ClientMessage
	var err error
	if binary {
		err = msgpack.Unmarshal(payload, &msg)
	} else {
		err = json.Unmarshal(payload, &msg)
	}
	if err != nil {
		return msg, err
	}
	if msg.Ver == 0 {
		msg.Ver = Version
	}
	if msg.Ver != Version {
		return msg, fmt.Errorf("unsupported client protocol version %d", msg.Ver)
	}
	if msg.Type == "" {
		return msg, fmt.Errorf("missing message type")
	}
	return msg, nil
}

// ClientCommand converts a message into the simulation command it carries.
// Messages handled outside the simulation report false.
func ClientCommand(msg ClientMessage) (sim.Command, bool) {
	switch msg.Type {
	case TypeShoot:
		return sim.Command{
			Type:     sim.CommandShoot,
			Sequence: msg.Seq,
			Shoot: &sim.ShootCommand{
				Direction: physics.Vec{X: msg.X, Y: msg.Y},
			},
		}, true
	default:
		return sim.Command{}, false
	}
}

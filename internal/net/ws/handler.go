package ws

import (
	"context"
	nethttp "net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"arena-shooter/server/internal/game"
	"arena-shooter/server/internal/instance"
	"arena-shooter/server/internal/net/intake"
	"arena-shooter/server/internal/net/proto"
	"arena-shooter/server/internal/telemetry"
	"arena-shooter/server/logging"
	"arena-shooter/server/logging/network"
)

// Instances is the part of the instance manager the transport needs.
type Instances interface {
	Join(ctx context.Context, sessionID, connID string) (*instance.Instance, game.EntityID, error)
	Leave(sessionID, connID string) bool
}

type HandlerConfig struct {
	Logger       telemetry.Logger
	Publisher    logging.Publisher
	TickRate     int
	WriteTimeout time.Duration
}

// Handler upgrades /ws requests and runs one read loop per connection.
type Handler struct {
	instances Instances
	hub       *Hub
	logger    telemetry.Logger
	publisher logging.Publisher
	tickRate  int
	writeWait time.Duration
	upgrader  websocket.Upgrader
}

func NewHandler(instances Instances, hub *Hub, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}
	return &Handler{
		instances: instances,
		hub:       hub,
		logger:    logger,
		publisher: publisher,
		tickRate:  cfg.TickRate,
		writeWait: cfg.WriteTimeout,
		upgrader:  upgrader,
	}
}

func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	query := r.URL.Query()
	sessionID := query.Get("instanceId")
	if sessionID == "" {
		nethttp.Error(w, "missing instanceId", nethttp.StatusBadRequest)
		return
	}
	encoding, err := proto.ParseEncoding(query.Get("encoding"))
	if err != nil {
		nethttp.Error(w, err.Error(), nethttp.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("[ws] upgrade failed for instance %s: %v", sessionID, err)
		return
	}

	connID := uuid.NewString()
	inst, entityID, err := h.instances.Join(r.Context(), sessionID, connID)
	if err != nil {
		h.logger.Printf("[ws] join failed for instance %s: %v", sessionID, err)
		message := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "instance unavailable")
		conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
		conn.Close()
		return
	}

	sub := h.hub.attach(connID, sessionID, conn, encoding, h.writeWait)
	defer h.disconnect(sub)

	arena := inst.Engine.Config()
	welcome := proto.WelcomeV1{
		Ver:          proto.Version,
		Type:         proto.TypeWelcome,
		ConnectionID: connID,
		InstanceID:   sessionID,
		EntityID:     uint64(entityID),
		TickRate:     h.tickRate,
		Arena:        proto.ArenaV1{Width: arena.Width, Height: arena.Height},
	}
	if err := sub.send(welcome); err != nil {
		return
	}
	h.hub.subscribe(sub)

	h.readLoop(conn, sub, inst)
}

func (h *Handler) readLoop(conn *websocket.Conn, sub *subscriber, inst *instance.Instance) {
	actor := logging.EntityRef{ID: sub.id, Kind: logging.EntityKindPlayer}
	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		msg, err := proto.DecodeClientMessage(payload, messageType == websocket.BinaryMessage)
		if err != nil {
			h.logger.Printf("[ws] discarding malformed message from %s: %v", sub.id, err)
			network.MalformedMessage(context.Background(), h.publisher, actor, network.MalformedMessagePayload{Error: err.Error(), Bytes: len(payload)})
			continue
		}

		switch msg.Type {
		case proto.TypeShoot:
			_, ok, reason := intake.StageClientCommand(intake.CommandContext{
				Loop: inst.Loop,
				Tick: inst.Engine.Tick,
			}, sub.id, msg)
			if ok || msg.Seq == 0 {
				continue
			}
			if err := sub.send(proto.NewCommandReject(msg.Seq, reason)); err != nil {
				return
			}
		case proto.TypeHeartbeat:
			ack := proto.HeartbeatV1{
				Ver:        proto.Version,
				Type:       proto.TypeHeartbeat,
				ServerTime: time.Now().UnixMilli(),
				ClientTime: msg.SentAt,
			}
			if err := sub.send(ack); err != nil {
				return
			}
		default:
			h.logger.Printf("[ws] unknown message type %q from %s", msg.Type, sub.id)
		}
	}
}

// disconnect detaches the connection and removes its player. The instance
// manager schedules the idle check.
func (h *Handler) disconnect(sub *subscriber) {
	h.hub.unsubscribe(sub)
	sub.close()
	h.instances.Leave(sub.sessionID, sub.id)
}

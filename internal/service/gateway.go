package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/neetrino/ilona-chat/internal/dto"
	"github.com/neetrino/ilona-chat/internal/observability"
	"github.com/neetrino/ilona-chat/internal/repository"
)

const gatewaySendBufferSize = 32

// Outbound realtime event names. Clients depend on these staying stable.
const (
	EventConnectionSuccess = "connection:success"
	EventUserOnline        = "user:online"
	EventUserOffline       = "user:offline"
	EventMessageNew        = "message:new"
	EventMessageEdited     = "message:edited"
	EventMessageDeleted    = "message:deleted"
	EventTypingStart       = "typing:start"
	EventTypingStop        = "typing:stop"
	EventChatRead          = "chat:read"
)

// Inbound realtime event names.
const (
	eventMessageSend    = "message:send"
	eventMessageEdit    = "message:edit"
	eventMessageDelete  = "message:delete"
	eventChatRead       = "chat:read"
	eventChatJoin       = "chat:join"
	eventVocabularySend = "vocabulary:send"
)

type wsFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ackPayload struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// ChatGateway accepts persistent client connections, authenticates them,
// tracks presence and turns lifecycle calls into realtime broadcasts.
type ChatGateway interface {
	ServeConnection(conn *websocket.Conn)
}

type chatGateway struct {
	repo      repository.ChatRepository
	access    ChatAccessService
	messages  MessageService
	presence  PresenceTracker
	verifier  TokenVerifier
	validator *validator.Validate
	logger    zerolog.Logger
	hub       *gatewayHub
	nodeID    string
}

// gatewayHub tracks which connections belong to which rooms and fans events
// out to them. A room corresponds 1:1 with a chat.
type gatewayHub struct {
	mu    sync.RWMutex
	rooms map[uint]map[*gatewayClient]struct{}
	log   zerolog.Logger
}

type gatewayClient struct {
	id       string
	conn     *websocket.Conn
	identity Identity
	send     chan []byte
	rooms    map[uint]struct{}
	closed   chan struct{}
	once     sync.Once
	gateway  *chatGateway
	baseCtx  context.Context
}

// NewChatGateway constructs the realtime gateway.
func NewChatGateway(repo repository.ChatRepository, access ChatAccessService, messages MessageService, presence PresenceTracker, verifier TokenVerifier, validate *validator.Validate, logger zerolog.Logger) ChatGateway {
	return &chatGateway{
		repo:      repo,
		access:    access,
		messages:  messages,
		presence:  presence,
		verifier:  verifier,
		validator: validate,
		logger:    logger.With().Str("component", "chat_gateway").Logger(),
		hub: &gatewayHub{
			rooms: make(map[uint]map[*gatewayClient]struct{}),
			log:   logger.With().Str("component", "chat_hub").Logger(),
		},
		nodeID: uuid.NewString(),
	}
}

func (g *chatGateway) ServeConnection(conn *websocket.Conn) {
	token := extractToken(conn)
	identity, err := g.verifier.Verify(token)
	if err != nil {
		// Missing or invalid credential is a transport failure, not an
		// application error: force-close, no error payload.
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusUnauthorized, "authentication required"))
		_ = conn.Close()
		return
	}

	baseCtx, _ := conn.Locals("request_ctx").(context.Context)
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	client := &gatewayClient{
		id:       uuid.NewString(),
		conn:     conn,
		identity: identity,
		send:     make(chan []byte, gatewaySendBufferSize),
		rooms:    make(map[uint]struct{}),
		closed:   make(chan struct{}),
		gateway:  g,
		baseCtx:  baseCtx,
	}

	observability.ChatConnectionsActive().Inc()
	g.logger.Info().Uint("user_id", identity.UserID).Str("conn_id", client.id).Msg("chat connection authenticated")

	g.registerClient(baseCtx, client)

	go client.writer()
	client.reader()
}

// registerClient joins the connection to one room per chat membership,
// records presence and announces the connection to other room members.
func (g *chatGateway) registerClient(ctx context.Context, client *gatewayClient) {
	userID := client.identity.UserID

	chats, err := g.repo.ListChatsForUser(ctx, userID)
	if err != nil {
		g.logger.Error().Err(err).Uint("user_id", userID).Msg("failed to load chat memberships")
		chats = nil
	}

	firstConnection := g.presence.MarkOnline(userID, client.id)
	online := g.presence.OnlineSet()

	type chatSummary struct {
		ID          uint   `json:"id"`
		OnlineUsers []uint `json:"online_users"`
	}
	summaries := make([]chatSummary, 0, len(chats))

	for _, chat := range chats {
		g.hub.join(chat.ID, client)
		if firstConnection {
			g.broadcast(chat.ID, EventUserOnline, fiber.Map{"chat_id": chat.ID, "user_id": userID}, client)
		}
		summaries = append(summaries, chatSummary{
			ID:          chat.ID,
			OnlineUsers: g.access.OnlineParticipants(chat, online),
		})
	}

	client.sendEvent(EventConnectionSuccess, fiber.Map{
		"user_id": userID,
		"chats":   summaries,
	})
}

// unregisterClient runs once per connection close. Only when the user's last
// connection drops is user:offline broadcast to the rooms they were in.
func (g *chatGateway) unregisterClient(client *gatewayClient) {
	userID := client.identity.UserID
	rooms := g.hub.leaveAll(client)

	if g.presence.MarkOffline(userID, client.id) {
		for _, chatID := range rooms {
			g.broadcast(chatID, EventUserOffline, fiber.Map{"chat_id": chatID, "user_id": userID}, nil)
		}
	}

	observability.ChatConnectionsActive().Dec()
	g.logger.Info().Uint("user_id", userID).Str("conn_id", client.id).Msg("chat connection closed")
}

// dispatch handles one inbound frame. Invocations on the same connection are
// serialized by the reader loop; payloads are schema-validated before any
// business call. Failures answer the caller and leave the connection open.
func (g *chatGateway) dispatch(ctx context.Context, client *gatewayClient, frame wsFrame) {
	switch frame.Event {
	case eventMessageSend:
		var payload dto.SendMessageRequest
		if err := g.decode(frame.Data, &payload); err != nil {
			client.ackError(frame.Event, err)
			return
		}
		message, err := g.messages.SendMessage(ctx, client.identity.UserID, client.identity.Role, payload)
		if err != nil {
			client.ackError(frame.Event, err)
			return
		}
		g.broadcast(message.ChatID, EventMessageNew, message, nil)

	case eventMessageEdit:
		var payload dto.EditMessageRequest
		if err := g.decode(frame.Data, &payload); err != nil {
			client.ackError(frame.Event, err)
			return
		}
		message, err := g.messages.EditMessage(ctx, payload.MessageID, client.identity.UserID, payload.Content)
		if err != nil {
			client.ackError(frame.Event, err)
			return
		}
		g.broadcast(message.ChatID, EventMessageEdited, message, nil)

	case eventMessageDelete:
		var payload dto.DeleteMessageRequest
		if err := g.decode(frame.Data, &payload); err != nil {
			client.ackError(frame.Event, err)
			return
		}
		message, err := g.messages.DeleteMessage(ctx, payload.MessageID, client.identity.UserID)
		if err != nil {
			client.ackError(frame.Event, err)
			return
		}
		g.broadcast(message.ChatID, EventMessageDeleted, fiber.Map{"message_id": message.ID, "chat_id": message.ChatID}, nil)

	case EventTypingStart, EventTypingStop:
		// Fire-and-forget: no persistence, no ack, relayed to everyone else
		// in the room.
		var payload dto.ChatRef
		if err := g.decode(frame.Data, &payload); err != nil {
			return
		}
		if !client.inRoom(payload.ChatID) {
			return
		}
		g.broadcast(payload.ChatID, frame.Event, fiber.Map{"chat_id": payload.ChatID, "user_id": client.identity.UserID}, client)

	case eventChatRead:
		var payload dto.ChatRef
		if err := g.decode(frame.Data, &payload); err != nil {
			client.ackError(frame.Event, err)
			return
		}
		result, err := g.messages.MarkAsRead(ctx, payload.ChatID, client.identity.UserID)
		if err != nil {
			client.ackError(frame.Event, err)
			return
		}
		g.broadcast(payload.ChatID, EventChatRead, fiber.Map{
			"chat_id": payload.ChatID,
			"user_id": client.identity.UserID,
			"read_at": result.ReadAt,
		}, client)
		client.ack(frame.Event, result)

	case eventChatJoin:
		var payload dto.ChatRef
		if err := g.decode(frame.Data, &payload); err != nil {
			client.ackError(frame.Event, err)
			return
		}
		chat, err := g.access.ResolveChat(ctx, payload.ChatID, client.identity.UserID, client.identity.Role)
		if err != nil {
			client.ackError(frame.Event, err)
			return
		}
		g.hub.join(chat.ID, client)
		g.broadcast(chat.ID, EventUserOnline, fiber.Map{"chat_id": chat.ID, "user_id": client.identity.UserID}, client)
		client.ack(frame.Event, fiber.Map{
			"chat_id":      chat.ID,
			"online_users": g.access.OnlineParticipants(chat, g.presence.OnlineSet()),
		})

	case eventVocabularySend:
		var payload dto.VocabularyRequest
		if err := g.decode(frame.Data, &payload); err != nil {
			client.ackError(frame.Event, err)
			return
		}
		message, err := g.messages.SendVocabularyMessage(ctx, payload.ChatID, client.identity.UserID, payload.Words)
		if err != nil {
			client.ackError(frame.Event, err)
			return
		}
		g.broadcast(message.ChatID, EventMessageNew, message, nil)

	default:
		client.ackError(frame.Event, errUnknownEvent(frame.Event))
	}
}

func (g *chatGateway) decode(raw json.RawMessage, target interface{}) error {
	if len(raw) == 0 {
		return errEmptyPayload
	}
	decoder := json.NewDecoder(strings.NewReader(string(raw)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return err
	}
	return g.validator.Struct(target)
}

// broadcast fans an event out to a room. Delivery to one stale connection
// must never abort delivery to the rest, so slow clients just drop frames.
func (g *chatGateway) broadcast(chatID uint, event string, data interface{}, except *gatewayClient) {
	payload, err := json.Marshal(wsFrameOut(event, data))
	if err != nil {
		g.logger.Warn().Err(err).Str("event", event).Msg("failed to marshal broadcast frame")
		return
	}

	g.hub.broadcast(chatID, payload, except)
	observability.ChatBroadcasts().WithLabelValues(event).Inc()
}

func wsFrameOut(event string, data interface{}) fiber.Map {
	return fiber.Map{"event": event, "data": data}
}

func extractToken(conn *websocket.Conn) string {
	// Priority order: handshake query param, auth field, Authorization header.
	if token := strings.TrimSpace(conn.Query("token")); token != "" {
		return token
	}
	if token := strings.TrimSpace(conn.Query("auth")); token != "" {
		return token
	}

	authorization := strings.TrimSpace(conn.Headers("Authorization"))
	const bearer = "bearer "
	if len(authorization) > len(bearer) && strings.EqualFold(authorization[:len(bearer)], bearer) {
		return strings.TrimSpace(authorization[len(bearer):])
	}
	return ""
}

func (h *gatewayHub) join(chatID uint, client *gatewayClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.rooms[chatID]; !exists {
		h.rooms[chatID] = make(map[*gatewayClient]struct{})
	}
	h.rooms[chatID][client] = struct{}{}
	client.rooms[chatID] = struct{}{}
	h.log.Debug().Uint("chat_id", chatID).Uint("user_id", client.identity.UserID).Msg("client joined room")
}

func (h *gatewayHub) leaveAll(client *gatewayClient) []uint {
	h.mu.Lock()
	defer h.mu.Unlock()

	rooms := make([]uint, 0, len(client.rooms))
	for chatID := range client.rooms {
		rooms = append(rooms, chatID)
		if members, ok := h.rooms[chatID]; ok {
			delete(members, client)
			if len(members) == 0 {
				delete(h.rooms, chatID)
			}
		}
	}
	client.rooms = make(map[uint]struct{})
	return rooms
}

func (h *gatewayHub) broadcast(chatID uint, payload []byte, except *gatewayClient) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[chatID] {
		if client == except {
			continue
		}
		select {
		case client.send <- payload:
		default:
			h.log.Warn().Uint("chat_id", chatID).Uint("user_id", client.identity.UserID).Msg("dropping frame for slow client")
		}
	}
}

func (c *gatewayClient) inRoom(chatID uint) bool {
	c.gateway.hub.mu.RLock()
	defer c.gateway.hub.mu.RUnlock()

	_, ok := c.rooms[chatID]
	return ok
}

func (c *gatewayClient) sendEvent(event string, data interface{}) {
	payload, err := json.Marshal(wsFrameOut(event, data))
	if err != nil {
		c.gateway.logger.Warn().Err(err).Str("event", event).Msg("failed to marshal frame")
		return
	}

	select {
	case c.send <- payload:
	case <-c.closed:
	default:
		c.gateway.logger.Warn().Uint("user_id", c.identity.UserID).Str("event", event).Msg("send queue full, dropping frame")
	}
}

func (c *gatewayClient) ack(event string, data interface{}) {
	c.sendEvent(event, ackPayload{Success: true, Data: data})
}

func (c *gatewayClient) ackError(event string, err error) {
	observability.ChatRealtimeErrors().WithLabelValues(event).Inc()
	c.sendEvent(event, ackPayload{Success: false, Error: err.Error()})
}

func (c *gatewayClient) reader() {
	defer c.close()

	for {
		var frame wsFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			c.gateway.logger.Debug().Err(err).Str("conn_id", c.id).Msg("read loop ended")
			return
		}

		c.gateway.dispatch(c.baseCtx, c, frame)
	}
}

func (c *gatewayClient) writer() {
	defer c.close()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.gateway.logger.Debug().Err(err).Str("conn_id", c.id).Msg("write loop terminated")
				return
			}
		case <-keepalive.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				c.gateway.logger.Debug().Err(err).Str("conn_id", c.id).Msg("ping failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *gatewayClient) close() {
	c.once.Do(func() {
		close(c.closed)
		c.gateway.unregisterClient(c)
		_ = c.conn.Close()
	})
}

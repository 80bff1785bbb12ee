package handler

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/neetrino/ilona-chat/internal/dto"
	"github.com/neetrino/ilona-chat/internal/middleware"
	"github.com/neetrino/ilona-chat/internal/service"
	"github.com/neetrino/ilona-chat/internal/utils"
)

// ChatHandler wires the chat REST endpoints and the websocket upgrade. Both
// surfaces go through the same access-control and lifecycle services, so a
// client without a live connection sees identical business rules.
type ChatHandler struct {
	messages  service.MessageService
	access    service.ChatAccessService
	gateway   service.ChatGateway
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewChatHandler creates a chat handler instance.
func NewChatHandler(messages service.MessageService, access service.ChatAccessService, gateway service.ChatGateway, validate *validator.Validate, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		messages:  messages,
		access:    access,
		gateway:   gateway,
		validator: validate,
		logger:    logger.With().Str("component", "chat_handler").Logger(),
	}
}

// Register binds the authenticated REST routes under the provided group.
func (h *ChatHandler) Register(router fiber.Router) {
	router.Get("/", h.listChats)
	router.Post("/direct", h.createDirectChat)
	router.Get("/group/:groupId", h.resolveGroupChat)
	router.Put("/messages/:id", h.editMessage)
	router.Delete("/messages/:id", h.deleteMessage)
	router.Get("/:id", h.getChat)
	router.Get("/:id/messages", h.listMessages)
	router.Post("/:id/messages", h.sendMessage)
	router.Post("/:id/read", h.markAsRead)
	router.Post("/:id/vocabulary", h.sendVocabulary)
}

// RegisterWebsocket binds the persistent connection endpoint. The bearer
// credential is carried in the handshake and verified by the gateway itself.
func (h *ChatHandler) RegisterWebsocket(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			ctx := c.UserContext()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
			c.Locals("request_ctx", ctx)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get("/ws", websocket.New(h.gateway.ServeConnection))
}

func (h *ChatHandler) listChats(c *fiber.Ctx) error {
	chats, err := h.messages.ListChats(h.requestCtx(c), userIDFromContext(c), userRoleFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "chats", chats)
}

func (h *ChatHandler) getChat(c *fiber.Ctx) error {
	chatID, err := parseParamUint(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid chat id")
	}

	chat, err := h.messages.GetChat(h.requestCtx(c), chatID, userIDFromContext(c), userRoleFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "chat", chat)
}

func (h *ChatHandler) createDirectChat(c *fiber.Ctx) error {
	var payload dto.CreateDirectChatRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	chat, err := h.access.ResolveOrCreateDirectChat(h.requestCtx(c), payload.ParticipantIDs, userIDFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "direct chat", dto.NewChatResponse(chat))
}

func (h *ChatHandler) resolveGroupChat(c *fiber.Ctx) error {
	groupID, err := parseParamUint(c, "groupId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid group id")
	}

	chat, err := h.access.ResolveOrCreateGroupChat(h.requestCtx(c), groupID, userIDFromContext(c), userRoleFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "group chat", dto.NewChatResponse(chat))
}

func (h *ChatHandler) listMessages(c *fiber.Ctx) error {
	chatID, err := parseParamUint(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid chat id")
	}

	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid before timestamp")
		}
		before = &parsed
	}

	pageSize, err := parseQueryInt(c, "page_size")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid page_size")
	}

	page, err := h.messages.ListMessages(h.requestCtx(c), chatID, userIDFromContext(c), userRoleFromContext(c), before, pageSize)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "messages", page)
}

func (h *ChatHandler) sendMessage(c *fiber.Ctx) error {
	chatID, err := parseParamUint(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid chat id")
	}

	var payload dto.SendMessageRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	payload.ChatID = chatID

	message, err := h.messages.SendMessage(h.requestCtx(c), userIDFromContext(c), userRoleFromContext(c), payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message sent", message)
}

func (h *ChatHandler) editMessage(c *fiber.Ctx) error {
	messageID, err := parseParamUint(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid message id")
	}

	var payload dto.EditMessageRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	payload.MessageID = messageID

	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	message, err := h.messages.EditMessage(h.requestCtx(c), messageID, userIDFromContext(c), payload.Content)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "message edited", message)
}

func (h *ChatHandler) deleteMessage(c *fiber.Ctx) error {
	messageID, err := parseParamUint(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid message id")
	}

	message, err := h.messages.DeleteMessage(h.requestCtx(c), messageID, userIDFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "message deleted", fiber.Map{"message_id": message.ID, "chat_id": message.ChatID})
}

func (h *ChatHandler) markAsRead(c *fiber.Ctx) error {
	chatID, err := parseParamUint(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid chat id")
	}

	result, err := h.messages.MarkAsRead(h.requestCtx(c), chatID, userIDFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "chat read", result)
}

func (h *ChatHandler) sendVocabulary(c *fiber.Ctx) error {
	chatID, err := parseParamUint(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid chat id")
	}

	var payload dto.VocabularyRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	message, err := h.messages.SendVocabularyMessage(h.requestCtx(c), chatID, userIDFromContext(c), payload.Words)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "vocabulary sent", message)
}

func (h *ChatHandler) requestCtx(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/neetrino/ilona-chat/internal/dto"
	"github.com/neetrino/ilona-chat/internal/models"
	"github.com/neetrino/ilona-chat/internal/observability"
	"github.com/neetrino/ilona-chat/internal/repository"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
	lastMessageTTL  = 30 * time.Minute
)

// AttachmentStorage is the external object-store collaborator. Deletion after
// a message removal is best-effort; failures are logged, never propagated.
type AttachmentStorage interface {
	Delete(ctx context.Context, key string) error
}

// MessageService exposes the message lifecycle use-cases shared by the REST
// surface and the realtime gateway.
type MessageService interface {
	ListChats(ctx context.Context, userID uint, role string) ([]dto.ChatResponse, error)
	GetChat(ctx context.Context, chatID, userID uint, role string) (dto.ChatResponse, error)
	ListMessages(ctx context.Context, chatID, userID uint, role string, before *time.Time, pageSize int) (dto.MessageListResponse, error)
	SendMessage(ctx context.Context, senderID uint, role string, payload dto.SendMessageRequest) (dto.MessageResponse, error)
	EditMessage(ctx context.Context, messageID, userID uint, content string) (dto.MessageResponse, error)
	DeleteMessage(ctx context.Context, messageID, userID uint) (dto.MessageResponse, error)
	MarkAsRead(ctx context.Context, chatID, userID uint) (dto.MarkReadResponse, error)
	SendVocabularyMessage(ctx context.Context, chatID, requesterID uint, words []string) (dto.MessageResponse, error)
}

type messageService struct {
	repo        repository.ChatRepository
	access      ChatAccessService
	users       repository.UserDirectory
	storage     AttachmentStorage
	pageSize    int
	redis       *redis.Client
	cachePrefix string
	nats        *nats.Conn
	natsSubject string
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
	sanitizer   *bluemonday.Policy
	now         func() time.Time
}

type messageEvent struct {
	Event     string               `json:"event"`
	ChatID    uint                 `json:"chat_id"`
	MessageID uint                 `json:"message_id"`
	Message   *dto.MessageResponse `json:"message,omitempty"`
	SentAt    time.Time            `json:"sent_at"`
}

// NewMessageService constructs the message lifecycle service. pageSize is the
// default history page; values outside (0, maxPageSize] fall back to 50.
func NewMessageService(repo repository.ChatRepository, access ChatAccessService, users repository.UserDirectory, storage AttachmentStorage, redisClient *redis.Client, natsConn *nats.Conn, channelBase string, pageSize int, validate *validator.Validate, logger zerolog.Logger) MessageService {
	sanitizer := bluemonday.UGCPolicy()
	sanitizer.AllowElements("br")

	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}

	cachePrefix := ""
	natsSubject := ""
	if channelBase != "" {
		cachePrefix = channelBase + ":chat:last"
		natsSubject = strings.ReplaceAll(channelBase, ":", ".") + ".chat.message"
	}

	return &messageService{
		repo:        repo,
		access:      access,
		users:       users,
		storage:     storage,
		pageSize:    pageSize,
		redis:       redisClient,
		cachePrefix: cachePrefix,
		nats:        natsConn,
		natsSubject: natsSubject,
		validator:   validate,
		logger:      logger.With().Str("component", "message_service").Logger(),
		tracer:      otel.Tracer("github.com/neetrino/ilona-chat/internal/service/message"),
		sanitizer:   sanitizer,
		now:         time.Now,
	}
}

func (s *messageService) ListChats(ctx context.Context, userID uint, role string) ([]dto.ChatResponse, error) {
	chats, err := s.repo.ListChatsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]dto.ChatResponse, 0, len(chats))
	for _, chat := range chats {
		out = append(out, s.decorateChat(ctx, chat, userID))
	}
	return out, nil
}

func (s *messageService) GetChat(ctx context.Context, chatID, userID uint, role string) (dto.ChatResponse, error) {
	chat, err := s.access.ResolveChat(ctx, chatID, userID, role)
	if err != nil {
		return dto.ChatResponse{}, err
	}
	return s.decorateChat(ctx, chat, userID), nil
}

func (s *messageService) ListMessages(ctx context.Context, chatID, userID uint, role string, before *time.Time, pageSize int) (dto.MessageListResponse, error) {
	if _, err := s.access.ResolveChat(ctx, chatID, userID, role); err != nil {
		return dto.MessageListResponse{}, err
	}

	if pageSize <= 0 {
		pageSize = s.pageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	cursor := time.Time{}
	if before != nil {
		cursor = *before
	}

	// Fetch one row beyond the page to derive has_more without a count query.
	messages, err := s.repo.ListMessages(ctx, chatID, cursor, pageSize+1)
	if err != nil {
		return dto.MessageListResponse{}, err
	}

	hasMore := len(messages) > pageSize
	if hasMore {
		messages = messages[:pageSize]
	}

	return dto.MessageListResponse{
		Items:   dto.NewMessageResponseSlice(messages),
		HasMore: hasMore,
	}, nil
}

func (s *messageService) SendMessage(ctx context.Context, senderID uint, role string, payload dto.SendMessageRequest) (dto.MessageResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.MessageResponse{}, err
	}

	if _, err := s.access.ResolveChat(ctx, payload.ChatID, senderID, role); err != nil {
		return dto.MessageResponse{}, err
	}

	messageType := payload.Type
	if messageType == "" {
		messageType = models.MessageTypeText
	}

	if payload.Attachment != nil && messageType == models.MessageTypeText {
		return dto.MessageResponse{}, ErrAttachmentNotAllowed
	}

	content := payload.Content
	if messageType == models.MessageTypeText {
		content = strings.TrimSpace(s.sanitizer.Sanitize(content))
		if content == "" {
			return dto.MessageResponse{}, ErrEmptyContent
		}
	}

	spanCtx, span := s.tracer.Start(ctx, "chat.message.send", trace.WithAttributes(
		attribute.Int64("chat.id", int64(payload.ChatID)),
		attribute.Int64("chat.sender_id", int64(senderID)),
		attribute.String("chat.message_type", messageType),
	))
	defer span.End()

	message := models.Message{
		ChatID:   payload.ChatID,
		SenderID: senderID,
		Type:     messageType,
		Content:  content,
		IsSystem: messageType == models.MessageTypeSystem,
	}
	if payload.Attachment != nil {
		message.FileURL = &payload.Attachment.URL
		message.FileName = &payload.Attachment.Name
		if payload.Attachment.Size > 0 {
			size := payload.Attachment.Size
			message.FileSize = &size
		}
		if payload.Attachment.Duration > 0 {
			duration := payload.Attachment.Duration
			message.Duration = &duration
		}
	}
	if len(payload.Metadata) > 0 {
		message.Metadata = datatypes.JSONMap(payload.Metadata)
	}

	if err := s.repo.CreateMessage(spanCtx, &message); err != nil {
		span.RecordError(err)
		return dto.MessageResponse{}, err
	}

	// Denormalized recency bump so chat lists sort without a subquery.
	if err := s.repo.TouchChat(spanCtx, payload.ChatID, s.now()); err != nil {
		s.logger.Warn().Err(err).Uint("chat_id", payload.ChatID).Msg("failed to touch chat recency")
	}

	response := dto.NewMessageResponse(message)
	s.cacheLastMessage(spanCtx, response)
	s.publish(spanCtx, "message.created", &response, message.ChatID, message.ID)
	observability.ChatMessagesSent().WithLabelValues(messageType).Inc()

	return response, nil
}

func (s *messageService) EditMessage(ctx context.Context, messageID, userID uint, content string) (dto.MessageResponse, error) {
	message, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.MessageResponse{}, ErrMessageNotFound
		}
		return dto.MessageResponse{}, err
	}

	if message.SenderID != userID {
		return dto.MessageResponse{}, ErrNotMessageSender
	}

	// Voice, file, vocabulary and system messages are immutable; editing
	// binary or generated content has no meaning.
	if message.Type != models.MessageTypeText {
		return dto.MessageResponse{}, ErrMessageNotEditable
	}

	clean := strings.TrimSpace(s.sanitizer.Sanitize(content))
	if clean == "" {
		return dto.MessageResponse{}, ErrEmptyContent
	}

	spanCtx, span := s.tracer.Start(ctx, "chat.message.edit", trace.WithAttributes(
		attribute.Int64("chat.message_id", int64(messageID)),
	))
	defer span.End()

	editedAt := s.now()
	message.Content = clean
	message.IsEdited = true
	message.EditedAt = &editedAt

	if err := s.repo.UpdateMessage(spanCtx, &message); err != nil {
		span.RecordError(err)
		return dto.MessageResponse{}, err
	}

	response := dto.NewMessageResponse(message)
	s.cacheLastMessage(spanCtx, response)
	s.publish(spanCtx, "message.edited", &response, message.ChatID, message.ID)

	return response, nil
}

func (s *messageService) DeleteMessage(ctx context.Context, messageID, userID uint) (dto.MessageResponse, error) {
	message, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.MessageResponse{}, ErrMessageNotFound
		}
		return dto.MessageResponse{}, err
	}

	if message.SenderID != userID {
		return dto.MessageResponse{}, ErrNotMessageSender
	}

	spanCtx, span := s.tracer.Start(ctx, "chat.message.delete", trace.WithAttributes(
		attribute.Int64("chat.message_id", int64(messageID)),
	))
	defer span.End()

	if err := s.repo.DeleteMessage(spanCtx, messageID); err != nil {
		span.RecordError(err)
		return dto.MessageResponse{}, err
	}

	if message.HasAttachment() {
		s.deleteAttachment(spanCtx, *message.FileURL)
	}

	s.invalidateLastMessage(spanCtx, message.ChatID)
	s.publish(spanCtx, "message.deleted", nil, message.ChatID, message.ID)

	return dto.NewMessageResponse(message), nil
}

func (s *messageService) MarkAsRead(ctx context.Context, chatID, userID uint) (dto.MarkReadResponse, error) {
	readAt := s.now()

	affected, err := s.repo.UpdateLastRead(ctx, chatID, userID, readAt)
	if err != nil {
		return dto.MarkReadResponse{}, err
	}
	if affected == 0 {
		// Already caught up, or no membership row: both are a successful no-op.
		s.logger.Debug().Uint("chat_id", chatID).Uint("user_id", userID).Msg("mark-as-read affected no rows")
	}

	return dto.MarkReadResponse{Success: true, ReadAt: readAt}, nil
}

func (s *messageService) SendVocabularyMessage(ctx context.Context, chatID, requesterID uint, words []string) (dto.MessageResponse, error) {
	if err := s.validator.Struct(dto.VocabularyRequest{ChatID: chatID, Words: words}); err != nil {
		return dto.MessageResponse{}, err
	}

	chat, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.MessageResponse{}, ErrChatNotFound
		}
		return dto.MessageResponse{}, err
	}

	if !chatAdmin(chat, requesterID) {
		return dto.MessageResponse{}, ErrVocabularyForbidden
	}

	var body strings.Builder
	wordList := make([]interface{}, 0, len(words))
	for i, word := range words {
		word = strings.TrimSpace(word)
		fmt.Fprintf(&body, "%d. %s\n", i+1, word)
		wordList = append(wordList, word)
	}

	message := models.Message{
		ChatID:   chatID,
		SenderID: requesterID,
		Type:     models.MessageTypeVocabulary,
		Content:  strings.TrimRight(body.String(), "\n"),
		Metadata: datatypes.JSONMap{
			"is_vocabulary": true,
			"words":         wordList,
		},
	}

	if err := s.repo.CreateMessage(ctx, &message); err != nil {
		return dto.MessageResponse{}, err
	}

	if err := s.repo.TouchChat(ctx, chatID, s.now()); err != nil {
		s.logger.Warn().Err(err).Uint("chat_id", chatID).Msg("failed to touch chat recency")
	}

	response := dto.NewMessageResponse(message)
	s.cacheLastMessage(ctx, response)
	s.publish(ctx, "message.created", &response, chatID, message.ID)
	observability.ChatMessagesSent().WithLabelValues(models.MessageTypeVocabulary).Inc()

	return response, nil
}

func (s *messageService) decorateChat(ctx context.Context, chat models.Chat, userID uint) dto.ChatResponse {
	response := dto.NewChatResponse(chat)

	// Direct chats carry no stored name; derive one from the other side.
	if chat.Type == models.ChatTypeDirect && response.Name == nil {
		if name := s.directChatName(ctx, chat, userID); name != "" {
			response.Name = &name
		}
	}

	var lastRead time.Time
	for _, participant := range chat.Participants {
		if participant.UserID == userID && participant.LastReadAt != nil {
			lastRead = *participant.LastReadAt
		}
	}

	unread, err := s.repo.CountMessagesAfter(ctx, chat.ID, lastRead)
	if err != nil {
		s.logger.Warn().Err(err).Uint("chat_id", chat.ID).Msg("failed to derive unread count")
	} else {
		response.UnreadCount = unread
	}

	if last := s.fetchLastMessage(ctx, chat.ID); last != nil {
		response.LastMessage = last
	}

	return response
}

func (s *messageService) directChatName(ctx context.Context, chat models.Chat, userID uint) string {
	if s.users == nil {
		return ""
	}

	for _, participant := range chat.Participants {
		if participant.UserID == userID || !participant.Active() {
			continue
		}
		user, err := s.users.User(ctx, participant.UserID)
		if err != nil {
			s.logger.Debug().Err(err).Uint("user_id", participant.UserID).Msg("failed to resolve direct chat peer")
			return ""
		}
		return user.Name
	}

	return ""
}

// deleteAttachment parses the storage key out of the attachment URL path and
// issues a best-effort delete. A storage failure never rolls back the
// message deletion.
func (s *messageService) deleteAttachment(ctx context.Context, fileURL string) {
	if s.storage == nil {
		return
	}

	key := storageKeyFromURL(fileURL)
	if key == "" {
		s.logger.Warn().Str("file_url", fileURL).Msg("could not derive storage key from attachment url")
		return
	}

	if err := s.storage.Delete(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("failed to delete attachment from storage")
	}
}

func storageKeyFromURL(fileURL string) string {
	parsed, err := url.Parse(fileURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(parsed.Path, "/")
}

func (s *messageService) cacheLastMessage(ctx context.Context, message dto.MessageResponse) {
	if s.redis == nil || s.cachePrefix == "" {
		return
	}

	payload, err := json.Marshal(message)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to marshal message for cache")
		return
	}

	key := fmt.Sprintf("%s:%d", s.cachePrefix, message.ChatID)
	if err := s.redis.Set(ctx, key, payload, lastMessageTTL).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to cache last message")
	}
}

func (s *messageService) fetchLastMessage(ctx context.Context, chatID uint) *dto.MessageResponse {
	if s.redis == nil || s.cachePrefix == "" {
		return nil
	}

	key := fmt.Sprintf("%s:%d", s.cachePrefix, chatID)
	raw, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		return nil
	}

	var message dto.MessageResponse
	if err := json.Unmarshal([]byte(raw), &message); err != nil {
		s.logger.Warn().Err(err).Msg("failed to unmarshal cached message")
		return nil
	}

	return &message
}

func (s *messageService) invalidateLastMessage(ctx context.Context, chatID uint) {
	if s.redis == nil || s.cachePrefix == "" {
		return
	}

	key := fmt.Sprintf("%s:%d", s.cachePrefix, chatID)
	if err := s.redis.Del(ctx, key).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to invalidate last message cache")
	}
}

func (s *messageService) publish(ctx context.Context, event string, message *dto.MessageResponse, chatID, messageID uint) {
	if s.nats == nil || s.natsSubject == "" {
		return
	}

	payload, err := json.Marshal(messageEvent{
		Event:     event,
		ChatID:    chatID,
		MessageID: messageID,
		Message:   message,
		SentAt:    s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to marshal message event")
		return
	}

	if err := s.nats.Publish(s.natsSubject, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", event).Msg("failed to publish message event")
	}
}

func chatAdmin(chat models.Chat, userID uint) bool {
	for _, participant := range chat.Participants {
		if participant.UserID == userID && participant.Active() && participant.IsAdmin {
			return true
		}
	}
	return false
}

package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/neetrino/ilona-chat/internal/models"
)

// ChatRepository is the durable store for chats, participants and messages.
type ChatRepository interface {
	GetChat(ctx context.Context, chatID uint) (models.Chat, error)
	ListChatsForUser(ctx context.Context, userID uint) ([]models.Chat, error)
	FindDirectChat(ctx context.Context, userA, userB uint) (models.Chat, error)
	FindGroupChat(ctx context.Context, groupID uint) (models.Chat, error)
	CreateChat(ctx context.Context, chat *models.Chat) error
	AddParticipant(ctx context.Context, participant *models.ChatParticipant) error
	RemoveParticipant(ctx context.Context, chatID, userID uint, at time.Time) error
	SetParticipantAdmin(ctx context.Context, chatID, userID uint, isAdmin bool) error

	CreateMessage(ctx context.Context, message *models.Message) error
	GetMessage(ctx context.Context, messageID uint) (models.Message, error)
	UpdateMessage(ctx context.Context, message *models.Message) error
	DeleteMessage(ctx context.Context, messageID uint) error
	// ListMessages returns up to limit rows newest-first, older than before
	// when a cursor is supplied. Callers request one row beyond the page size
	// to derive a has-more flag without a count query.
	ListMessages(ctx context.Context, chatID uint, before time.Time, limit int) ([]models.Message, error)
	CountMessagesAfter(ctx context.Context, chatID uint, after time.Time) (int64, error)
	TouchChat(ctx context.Context, chatID uint, at time.Time) error
	// UpdateLastRead advances the participant's read marker. The affected row
	// count is informational; zero rows is not an error.
	UpdateLastRead(ctx context.Context, chatID, userID uint, at time.Time) (int64, error)
}

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository constructs a chat repository backed by GORM.
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) GetChat(ctx context.Context, chatID uint) (models.Chat, error) {
	var chat models.Chat
	err := r.db.WithContext(ctx).Preload("Participants").First(&chat, chatID).Error
	if err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

func (r *chatRepository) ListChatsForUser(ctx context.Context, userID uint) ([]models.Chat, error) {
	var chats []models.Chat
	err := r.db.WithContext(ctx).
		Joins("JOIN chat_participants ON chat_participants.chat_id = chats.id").
		Where("chat_participants.user_id = ? AND chat_participants.left_at IS NULL", userID).
		Where("chats.is_active = ?", true).
		Preload("Participants").
		Order("chats.updated_at DESC").
		Find(&chats).Error
	if err != nil {
		return nil, err
	}
	return chats, nil
}

func (r *chatRepository) FindDirectChat(ctx context.Context, userA, userB uint) (models.Chat, error) {
	var chat models.Chat
	err := r.db.WithContext(ctx).
		Joins("JOIN chat_participants a ON a.chat_id = chats.id AND a.user_id = ?", userA).
		// The joins must bind two distinct membership rows, otherwise equal
		// user arguments would let one row satisfy both sides.
		Joins("JOIN chat_participants b ON b.chat_id = chats.id AND b.user_id = ? AND b.id <> a.id", userB).
		Where("chats.type = ?", models.ChatTypeDirect).
		Preload("Participants").
		First(&chat).Error
	if err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

func (r *chatRepository) FindGroupChat(ctx context.Context, groupID uint) (models.Chat, error) {
	var chat models.Chat
	err := r.db.WithContext(ctx).
		Where("type = ? AND group_id = ?", models.ChatTypeGroup, groupID).
		Preload("Participants").
		First(&chat).Error
	if err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

func (r *chatRepository) CreateChat(ctx context.Context, chat *models.Chat) error {
	return r.db.WithContext(ctx).Create(chat).Error
}

func (r *chatRepository) AddParticipant(ctx context.Context, participant *models.ChatParticipant) error {
	return r.db.WithContext(ctx).Create(participant).Error
}

func (r *chatRepository) RemoveParticipant(ctx context.Context, chatID, userID uint, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.ChatParticipant{}).
		Where("chat_id = ? AND user_id = ? AND left_at IS NULL", chatID, userID).
		Update("left_at", at).Error
}

func (r *chatRepository) SetParticipantAdmin(ctx context.Context, chatID, userID uint, isAdmin bool) error {
	return r.db.WithContext(ctx).
		Model(&models.ChatParticipant{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Update("is_admin", isAdmin).Error
}

func (r *chatRepository) CreateMessage(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *chatRepository) GetMessage(ctx context.Context, messageID uint) (models.Message, error) {
	var message models.Message
	err := r.db.WithContext(ctx).First(&message, messageID).Error
	if err != nil {
		return models.Message{}, err
	}
	return message, nil
}

func (r *chatRepository) UpdateMessage(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Save(message).Error
}

func (r *chatRepository) DeleteMessage(ctx context.Context, messageID uint) error {
	return r.db.WithContext(ctx).Delete(&models.Message{}, messageID).Error
}

func (r *chatRepository) ListMessages(ctx context.Context, chatID uint, before time.Time, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	query := r.db.WithContext(ctx).Where("chat_id = ?", chatID)
	if !before.IsZero() {
		query = query.Where("created_at < ?", before)
	}

	var messages []models.Message
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, err
	}

	return messages, nil
}

func (r *chatRepository) CountMessagesAfter(ctx context.Context, chatID uint, after time.Time) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&models.Message{}).Where("chat_id = ?", chatID)
	if !after.IsZero() {
		query = query.Where("created_at > ?", after)
	}
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *chatRepository) TouchChat(ctx context.Context, chatID uint, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Chat{}).
		Where("id = ?", chatID).
		Update("updated_at", at).Error
}

func (r *chatRepository) UpdateLastRead(ctx context.Context, chatID, userID uint, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.ChatParticipant{}).
		Where("chat_id = ? AND user_id = ? AND left_at IS NULL", chatID, userID).
		Where("last_read_at IS NULL OR last_read_at < ?", at).
		Update("last_read_at", at)
	return result.RowsAffected, result.Error
}

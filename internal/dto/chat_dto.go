package dto

import (
	"time"

	"github.com/neetrino/ilona-chat/internal/models"
)

// AttachmentPayload describes a stored binary referenced by a voice or file message.
type AttachmentPayload struct {
	URL      string `json:"url" validate:"required,url,max=512"`
	Name     string `json:"name" validate:"required,max=255"`
	Size     int64  `json:"size" validate:"omitempty,min=0"`
	Duration int    `json:"duration" validate:"omitempty,min=0"`
}

// SendMessageRequest is the payload to post a message into a chat.
type SendMessageRequest struct {
	ChatID     uint                   `json:"chat_id" validate:"required"`
	Content    string                 `json:"content" validate:"required_without=Attachment,max=4000"`
	Type       string                 `json:"type" validate:"omitempty,oneof=text voice file system"`
	Attachment *AttachmentPayload     `json:"attachment,omitempty" validate:"omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// EditMessageRequest replaces the content of a text message.
type EditMessageRequest struct {
	MessageID uint   `json:"message_id" validate:"required"`
	Content   string `json:"content" validate:"required,min=1,max=4000"`
}

// DeleteMessageRequest removes a message permanently.
type DeleteMessageRequest struct {
	MessageID uint `json:"message_id" validate:"required"`
}

// ChatRef carries the chat identifier for typing, read and join events.
type ChatRef struct {
	ChatID uint `json:"chat_id" validate:"required"`
}

// VocabularyRequest posts a vocabulary word list into a chat.
type VocabularyRequest struct {
	ChatID uint     `json:"chat_id" validate:"required"`
	Words  []string `json:"words" validate:"required,min=1,max=100,dive,required,max=128"`
}

// CreateDirectChatRequest opens (or returns) a direct chat with another user.
type CreateDirectChatRequest struct {
	ParticipantIDs []uint `json:"participant_ids"`
}

// MessageResponse is the serialized representation of a message.
type MessageResponse struct {
	ID        uint                   `json:"id"`
	ChatID    uint                   `json:"chat_id"`
	SenderID  uint                   `json:"sender_id"`
	Type      string                 `json:"type"`
	Content   string                 `json:"content"`
	FileURL   *string                `json:"file_url,omitempty"`
	FileName  *string                `json:"file_name,omitempty"`
	FileSize  *int64                 `json:"file_size,omitempty"`
	Duration  *int                   `json:"duration,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	IsSystem  bool                   `json:"is_system"`
	IsEdited  bool                   `json:"is_edited"`
	EditedAt  *time.Time             `json:"edited_at,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// NewMessageResponse converts a model into a DTO.
func NewMessageResponse(message models.Message) MessageResponse {
	return MessageResponse{
		ID:        message.ID,
		ChatID:    message.ChatID,
		SenderID:  message.SenderID,
		Type:      message.Type,
		Content:   message.Content,
		FileURL:   message.FileURL,
		FileName:  message.FileName,
		FileSize:  message.FileSize,
		Duration:  message.Duration,
		Metadata:  message.Metadata,
		IsSystem:  message.IsSystem,
		IsEdited:  message.IsEdited,
		EditedAt:  message.EditedAt,
		CreatedAt: message.CreatedAt,
	}
}

// NewMessageResponseSlice converts a slice of models into DTOs.
func NewMessageResponseSlice(messages []models.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(messages))
	for _, message := range messages {
		out = append(out, NewMessageResponse(message))
	}
	return out
}

// MessageListResponse is a single page of message history.
type MessageListResponse struct {
	Items   []MessageResponse `json:"items"`
	HasMore bool              `json:"has_more"`
}

// ParticipantResponse describes a chat membership.
type ParticipantResponse struct {
	UserID     uint       `json:"user_id"`
	IsAdmin    bool       `json:"is_admin"`
	LeftAt     *time.Time `json:"left_at,omitempty"`
	LastReadAt *time.Time `json:"last_read_at,omitempty"`
}

// ChatResponse describes a chat returned to clients.
type ChatResponse struct {
	ID           uint                  `json:"id"`
	Type         string                `json:"type"`
	Name         *string               `json:"name,omitempty"`
	GroupID      *uint                 `json:"group_id,omitempty"`
	IsActive     bool                  `json:"is_active"`
	UnreadCount  int64                 `json:"unread_count"`
	Participants []ParticipantResponse `json:"participants,omitempty"`
	LastMessage  *MessageResponse      `json:"last_message,omitempty"`
	OnlineUsers  []uint                `json:"online_users,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// NewChatResponse converts a chat model into a DTO.
func NewChatResponse(chat models.Chat) ChatResponse {
	response := ChatResponse{
		ID:        chat.ID,
		Type:      chat.Type,
		Name:      chat.Name,
		GroupID:   chat.GroupID,
		IsActive:  chat.IsActive,
		CreatedAt: chat.CreatedAt,
		UpdatedAt: chat.UpdatedAt,
	}
	for _, participant := range chat.Participants {
		response.Participants = append(response.Participants, ParticipantResponse{
			UserID:     participant.UserID,
			IsAdmin:    participant.IsAdmin,
			LeftAt:     participant.LeftAt,
			LastReadAt: participant.LastReadAt,
		})
	}
	return response
}

// MarkReadResponse acknowledges a mark-as-read call.
type MarkReadResponse struct {
	Success bool      `json:"success"`
	ReadAt  time.Time `json:"read_at"`
}

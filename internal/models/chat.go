package models

import (
	"time"

	"gorm.io/datatypes"
)

// Chat type discriminators.
const (
	ChatTypeDirect = "direct"
	ChatTypeGroup  = "group"
)

// Message type discriminators.
const (
	MessageTypeText       = "text"
	MessageTypeVoice      = "voice"
	MessageTypeFile       = "file"
	MessageTypeVocabulary = "vocabulary"
	MessageTypeSystem     = "system"
)

// Chat is a conversation container, either a two-party direct chat or a chat
// backed by an external study group.
type Chat struct {
	ID           uint              `gorm:"primaryKey" json:"id"`
	Type         string            `gorm:"size:16;not null;index:idx_chats_group,unique,where:group_id IS NOT NULL" json:"type"`
	Name         *string           `gorm:"size:255" json:"name,omitempty"`
	GroupID      *uint             `gorm:"index:idx_chats_group,unique,where:group_id IS NOT NULL" json:"group_id,omitempty"`
	IsActive     bool              `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	Participants []ChatParticipant `json:"participants,omitempty"`
}

// ChatParticipant is a user's membership record in a chat. Rows are never
// hard-deleted while the chat exists; leaving sets LeftAt.
type ChatParticipant struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	ChatID     uint       `gorm:"uniqueIndex:idx_chat_participants_pair;not null" json:"chat_id"`
	UserID     uint       `gorm:"uniqueIndex:idx_chat_participants_pair;not null;index" json:"user_id"`
	IsAdmin    bool       `gorm:"not null;default:false" json:"is_admin"`
	LeftAt     *time.Time `json:"left_at,omitempty"`
	LastReadAt *time.Time `json:"last_read_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Active reports whether the participant currently belongs to the chat.
func (p ChatParticipant) Active() bool {
	return p.LeftAt == nil
}

// Message is a single chat message. Attachment columns are populated for
// voice and file messages only; deletion is a hard delete with no tombstone.
type Message struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	ChatID    uint              `gorm:"index;not null" json:"chat_id"`
	SenderID  uint              `gorm:"index;not null" json:"sender_id"`
	Type      string            `gorm:"size:32;not null;default:text" json:"type"`
	Content   string            `gorm:"type:text" json:"content"`
	FileURL   *string           `gorm:"size:512" json:"file_url,omitempty"`
	FileName  *string           `gorm:"size:255" json:"file_name,omitempty"`
	FileSize  *int64            `json:"file_size,omitempty"`
	Duration  *int              `json:"duration,omitempty"`
	Metadata  datatypes.JSONMap `gorm:"type:json" json:"metadata,omitempty"`
	IsSystem  bool              `gorm:"not null;default:false" json:"is_system"`
	IsEdited  bool              `gorm:"not null;default:false" json:"is_edited"`
	EditedAt  *time.Time        `json:"edited_at,omitempty"`
	CreatedAt time.Time         `gorm:"index" json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// HasAttachment reports whether the message references a stored binary.
func (m Message) HasAttachment() bool {
	return m.FileURL != nil && *m.FileURL != ""
}

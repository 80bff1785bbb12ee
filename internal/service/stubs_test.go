package service

import (
	"context"
	"io"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/neetrino/ilona-chat/internal/models"
	"github.com/neetrino/ilona-chat/internal/repository"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// chatRepoStub is an in-memory stand-in for the durable store.
type chatRepoStub struct {
	chats    map[uint]models.Chat
	messages map[uint]models.Message
	nextID   uint

	createChatErr   error
	createChatCalls int
	findGroupMisses int
	createdMessages int
	touchedChats    []uint
	deletedMessages []uint
	lastRead        map[uint]time.Time
}

func newChatRepoStub() *chatRepoStub {
	return &chatRepoStub{
		chats:    make(map[uint]models.Chat),
		messages: make(map[uint]models.Message),
		lastRead: make(map[uint]time.Time),
	}
}

func (s *chatRepoStub) addChat(chat models.Chat) models.Chat {
	if chat.ID == 0 {
		s.nextID++
		chat.ID = s.nextID
	}
	s.chats[chat.ID] = chat
	return chat
}

func (s *chatRepoStub) addMessage(message models.Message) models.Message {
	if message.ID == 0 {
		s.nextID++
		message.ID = s.nextID
	}
	s.messages[message.ID] = message
	return message
}

func (s *chatRepoStub) GetChat(_ context.Context, chatID uint) (models.Chat, error) {
	chat, ok := s.chats[chatID]
	if !ok {
		return models.Chat{}, gorm.ErrRecordNotFound
	}
	return chat, nil
}

func (s *chatRepoStub) ListChatsForUser(_ context.Context, userID uint) ([]models.Chat, error) {
	var out []models.Chat
	for _, chat := range s.chats {
		for _, participant := range chat.Participants {
			if participant.UserID == userID && participant.Active() {
				out = append(out, chat)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *chatRepoStub) FindDirectChat(_ context.Context, userA, userB uint) (models.Chat, error) {
	for _, chat := range s.chats {
		if chat.Type != models.ChatTypeDirect {
			continue
		}
		// Two distinct membership rows, like the SQL double join.
		foundA, foundB := -1, -1
		for i, participant := range chat.Participants {
			if participant.UserID == userA && foundA < 0 {
				foundA = i
			} else if participant.UserID == userB {
				foundB = i
			}
		}
		if foundA >= 0 && foundB >= 0 {
			return chat, nil
		}
	}
	return models.Chat{}, gorm.ErrRecordNotFound
}

func (s *chatRepoStub) FindGroupChat(_ context.Context, groupID uint) (models.Chat, error) {
	if s.findGroupMisses > 0 {
		s.findGroupMisses--
		return models.Chat{}, gorm.ErrRecordNotFound
	}
	for _, chat := range s.chats {
		if chat.Type == models.ChatTypeGroup && chat.GroupID != nil && *chat.GroupID == groupID {
			return chat, nil
		}
	}
	return models.Chat{}, gorm.ErrRecordNotFound
}

func (s *chatRepoStub) CreateChat(_ context.Context, chat *models.Chat) error {
	s.createChatCalls++
	if s.createChatErr != nil {
		return s.createChatErr
	}
	s.nextID++
	chat.ID = s.nextID
	s.chats[chat.ID] = *chat
	return nil
}

func (s *chatRepoStub) AddParticipant(_ context.Context, participant *models.ChatParticipant) error {
	chat, ok := s.chats[participant.ChatID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	chat.Participants = append(chat.Participants, *participant)
	s.chats[chat.ID] = chat
	return nil
}

func (s *chatRepoStub) RemoveParticipant(_ context.Context, chatID, userID uint, at time.Time) error {
	chat, ok := s.chats[chatID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for i, participant := range chat.Participants {
		if participant.UserID == userID && participant.Active() {
			left := at
			chat.Participants[i].LeftAt = &left
		}
	}
	s.chats[chatID] = chat
	return nil
}

func (s *chatRepoStub) SetParticipantAdmin(_ context.Context, chatID, userID uint, isAdmin bool) error {
	chat, ok := s.chats[chatID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for i, participant := range chat.Participants {
		if participant.UserID == userID {
			chat.Participants[i].IsAdmin = isAdmin
		}
	}
	s.chats[chatID] = chat
	return nil
}

func (s *chatRepoStub) CreateMessage(_ context.Context, message *models.Message) error {
	s.createdMessages++
	s.nextID++
	message.ID = s.nextID
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	s.messages[message.ID] = *message
	return nil
}

func (s *chatRepoStub) GetMessage(_ context.Context, messageID uint) (models.Message, error) {
	message, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, gorm.ErrRecordNotFound
	}
	return message, nil
}

func (s *chatRepoStub) UpdateMessage(_ context.Context, message *models.Message) error {
	if _, ok := s.messages[message.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	s.messages[message.ID] = *message
	return nil
}

func (s *chatRepoStub) DeleteMessage(_ context.Context, messageID uint) error {
	s.deletedMessages = append(s.deletedMessages, messageID)
	delete(s.messages, messageID)
	return nil
}

func (s *chatRepoStub) ListMessages(_ context.Context, chatID uint, before time.Time, limit int) ([]models.Message, error) {
	var out []models.Message
	for _, message := range s.messages {
		if message.ChatID != chatID {
			continue
		}
		if !before.IsZero() && !message.CreatedAt.Before(before) {
			continue
		}
		out = append(out, message)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *chatRepoStub) CountMessagesAfter(_ context.Context, chatID uint, after time.Time) (int64, error) {
	var count int64
	for _, message := range s.messages {
		if message.ChatID == chatID && message.CreatedAt.After(after) {
			count++
		}
	}
	return count, nil
}

func (s *chatRepoStub) TouchChat(_ context.Context, chatID uint, at time.Time) error {
	s.touchedChats = append(s.touchedChats, chatID)
	chat, ok := s.chats[chatID]
	if ok {
		chat.UpdatedAt = at
		s.chats[chatID] = chat
	}
	return nil
}

func (s *chatRepoStub) UpdateLastRead(_ context.Context, chatID, userID uint, at time.Time) (int64, error) {
	chat, ok := s.chats[chatID]
	if !ok {
		return 0, nil
	}
	member := false
	for _, participant := range chat.Participants {
		if participant.UserID == userID && participant.Active() {
			member = true
		}
	}
	if !member {
		return 0, nil
	}
	if previous, ok := s.lastRead[userID]; ok && !previous.Before(at) {
		return 0, nil
	}
	s.lastRead[userID] = at
	return 1, nil
}

// groupDirectoryStub serves a fixed set of groups.
type groupDirectoryStub struct {
	groups map[uint]repository.GroupInfo
	err    error
}

func (g *groupDirectoryStub) Group(_ context.Context, groupID uint) (repository.GroupInfo, error) {
	if g.err != nil {
		return repository.GroupInfo{}, g.err
	}
	info, ok := g.groups[groupID]
	if !ok {
		return repository.GroupInfo{}, gorm.ErrRecordNotFound
	}
	return info, nil
}

// userDirectoryStub serves fixed display names.
type userDirectoryStub struct {
	users map[uint]repository.UserInfo
}

func (u *userDirectoryStub) User(_ context.Context, userID uint) (repository.UserInfo, error) {
	info, ok := u.users[userID]
	if !ok {
		return repository.UserInfo{}, gorm.ErrRecordNotFound
	}
	return info, nil
}

// storageStub records attachment deletions.
type storageStub struct {
	keys []string
	err  error
}

func (s *storageStub) Delete(_ context.Context, key string) error {
	s.keys = append(s.keys, key)
	return s.err
}

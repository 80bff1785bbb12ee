package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/neetrino/ilona-chat/internal/models"
	"github.com/neetrino/ilona-chat/internal/repository"
)

// Platform roles. Admin and teacher are elevated and may read any chat for
// oversight; students are always scoped to their own memberships.
const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// ElevatedRole reports whether the role may bypass participant checks on reads.
func ElevatedRole(role string) bool {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case RoleAdmin, RoleTeacher:
		return true
	default:
		return false
	}
}

// ChatAccessService resolves whether a user may see or act on a chat, and
// lazily materializes group and direct chats.
type ChatAccessService interface {
	ResolveChat(ctx context.Context, chatID, userID uint, role string) (models.Chat, error)
	ResolveOrCreateGroupChat(ctx context.Context, groupID, userID uint, role string) (models.Chat, error)
	ResolveOrCreateDirectChat(ctx context.Context, participantIDs []uint, creatorID uint) (models.Chat, error)
	OnlineParticipants(chat models.Chat, online map[uint]struct{}) []uint
}

type chatAccessService struct {
	repo   repository.ChatRepository
	groups repository.GroupDirectory
	logger zerolog.Logger
}

// NewChatAccessService constructs the access control service.
func NewChatAccessService(repo repository.ChatRepository, groups repository.GroupDirectory, logger zerolog.Logger) ChatAccessService {
	return &chatAccessService{
		repo:   repo,
		groups: groups,
		logger: logger.With().Str("component", "chat_access").Logger(),
	}
}

func (s *chatAccessService) ResolveChat(ctx context.Context, chatID, userID uint, role string) (models.Chat, error) {
	chat, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Chat{}, ErrChatNotFound
		}
		return models.Chat{}, err
	}

	if ElevatedRole(role) {
		return chat, nil
	}

	for _, participant := range chat.Participants {
		if participant.UserID == userID && participant.Active() {
			return chat, nil
		}
	}

	return models.Chat{}, ErrChatForbidden
}

func (s *chatAccessService) ResolveOrCreateGroupChat(ctx context.Context, groupID, userID uint, role string) (models.Chat, error) {
	chat, err := s.repo.FindGroupChat(ctx, groupID)
	if err == nil {
		return s.ResolveChat(ctx, chat.ID, userID, role)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Chat{}, err
	}

	group, err := s.groups.Group(ctx, groupID)
	if err != nil {
		return models.Chat{}, fmt.Errorf("group lookup failed: %w", err)
	}

	if !ElevatedRole(role) && !groupContains(group, userID) {
		return models.Chat{}, ErrChatForbidden
	}

	name := group.Name
	chat = models.Chat{
		Type:     models.ChatTypeGroup,
		Name:     &name,
		GroupID:  &group.ID,
		IsActive: true,
	}
	chat.Participants = append(chat.Participants, models.ChatParticipant{UserID: group.TeacherID, IsAdmin: true})
	for _, studentID := range group.StudentIDs {
		chat.Participants = append(chat.Participants, models.ChatParticipant{UserID: studentID})
	}

	if createErr := s.repo.CreateChat(ctx, &chat); createErr != nil {
		// Concurrent first touch: the unique (type, group_id) index rejects
		// the duplicate, so fall back to the row the winner inserted.
		existing, findErr := s.repo.FindGroupChat(ctx, groupID)
		if findErr != nil {
			return models.Chat{}, createErr
		}
		s.logger.Debug().Uint("group_id", groupID).Msg("group chat created concurrently, reusing existing")
		return existing, nil
	}

	s.logger.Info().Uint("group_id", groupID).Uint("chat_id", chat.ID).Msg("group chat materialized")

	return chat, nil
}

func (s *chatAccessService) ResolveOrCreateDirectChat(ctx context.Context, participantIDs []uint, creatorID uint) (models.Chat, error) {
	if len(participantIDs) == 0 {
		return models.Chat{}, ErrParticipantsRequired
	}

	targetID := participantIDs[0]
	if targetID == creatorID {
		return models.Chat{}, ErrSelfChatNotAllowed
	}

	chat, err := s.repo.FindDirectChat(ctx, creatorID, targetID)
	if err == nil {
		return chat, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Chat{}, err
	}

	chat = models.Chat{
		Type:     models.ChatTypeDirect,
		IsActive: true,
		Participants: []models.ChatParticipant{
			{UserID: creatorID},
			{UserID: targetID},
		},
	}

	if err := s.repo.CreateChat(ctx, &chat); err != nil {
		return models.Chat{}, err
	}

	s.logger.Info().Uint("chat_id", chat.ID).Uint("creator_id", creatorID).Uint("target_id", targetID).Msg("direct chat created")

	return chat, nil
}

// OnlineParticipants intersects the chat's active participant ids with the
// supplied globally-online set. The presence tracker owns that set; this
// method stays a pure function over it.
func (s *chatAccessService) OnlineParticipants(chat models.Chat, online map[uint]struct{}) []uint {
	out := make([]uint, 0, len(chat.Participants))
	for _, participant := range chat.Participants {
		if !participant.Active() {
			continue
		}
		if _, ok := online[participant.UserID]; ok {
			out = append(out, participant.UserID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func groupContains(group repository.GroupInfo, userID uint) bool {
	if group.TeacherID == userID {
		return true
	}
	for _, studentID := range group.StudentIDs {
		if studentID == userID {
			return true
		}
	}
	return false
}

package service

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the chat services. Handlers map these onto HTTP
// statuses and realtime error envelopes; Forbidden is never downgraded to
// NotFound because clients render the two cases differently.
var (
	ErrChatNotFound         = errors.New("chat not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrChatForbidden        = errors.New("user is not a participant of this chat")
	ErrNotMessageSender     = errors.New("only the sender may modify this message")
	ErrMessageNotEditable   = errors.New("only text messages can be edited")
	ErrParticipantsRequired = errors.New("participant list must not be empty")
	ErrSelfChatNotAllowed   = errors.New("direct chat requires a different participant")
	ErrVocabularyForbidden  = errors.New("only chat admins may send vocabulary messages")
	ErrAttachmentNotAllowed = errors.New("text messages cannot carry an attachment")
	ErrEmptyContent         = errors.New("message content empty after sanitization")
)

// errEmptyPayload guards inbound realtime frames that carry no body.
var errEmptyPayload = errors.New("event payload required")

func errUnknownEvent(event string) error {
	return fmt.Errorf("unknown event %q", event)
}

// BadRequestError reports whether the error belongs to the structurally
// invalid operation class.
func BadRequestError(err error) bool {
	return errors.Is(err, ErrParticipantsRequired) ||
		errors.Is(err, ErrSelfChatNotAllowed) ||
		errors.Is(err, ErrMessageNotEditable) ||
		errors.Is(err, ErrAttachmentNotAllowed) ||
		errors.Is(err, ErrEmptyContent)
}

// ForbiddenError reports whether the error is an authorization failure.
func ForbiddenError(err error) bool {
	return errors.Is(err, ErrChatForbidden) ||
		errors.Is(err, ErrNotMessageSender) ||
		errors.Is(err, ErrVocabularyForbidden)
}

// NotFoundError reports whether the target entity does not exist.
func NotFoundError(err error) bool {
	return errors.Is(err, ErrChatNotFound) || errors.Is(err, ErrMessageNotFound)
}

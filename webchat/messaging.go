package webchat

import (
	"context"

	"github.com/pkg/errors"
	validator "gopkg.in/go-playground/validator.v9"
)

// ErrInvalidEvent is returned when an event is missing a required field
var ErrInvalidEvent = errors.New("invalid event")

// MessagingHub relays chat events. It holds no state; persistence has already happened by
// the time these are called and delivery problems are never reported back.
type MessagingHub struct {
	router   *Router
	validate *validator.Validate
}

// NewMessagingHub creates a messaging hub delivering through router
func NewMessagingHub(router *Router) *MessagingHub {
	return &MessagingHub{router: router, validate: validator.New()}
}

// NotifyMessageSent broadcasts a new message to everyone
func (m *MessagingHub) NotifyMessageSent(ctx context.Context, msg *Message) error {
	if msg == nil {
		return errors.Wrap(ErrInvalidEvent, "message is required")
	}
	if err := m.check(msg); err != nil {
		return err
	}
	m.router.ToAll(ctx, NewMessageReceived(msg))
	return nil
}

// NotifyMessageEdited broadcasts new content for an existing message
func (m *MessagingHub) NotifyMessageEdited(ctx context.Context, messageID int64, content string) error {
	ev := &MessageEdited{MessageID: messageID, Content: content}
	if err := m.check(ev); err != nil {
		return err
	}
	m.router.ToAll(ctx, newEvent(EventMessageEdited, ev))
	return nil
}

// NotifyMessageDeleted broadcasts the removal of a message
func (m *MessagingHub) NotifyMessageDeleted(ctx context.Context, messageID int64) error {
	ev := &MessageDeleted{MessageID: messageID}
	if err := m.check(ev); err != nil {
		return err
	}
	m.router.ToAll(ctx, newEvent(EventMessageDeleted, ev))
	return nil
}

// NotifyTyping tells every connection except the sending one that senderID is (or stopped)
// typing to receiverID
func (m *MessagingHub) NotifyTyping(ctx context.Context, fromConnID, senderID, receiverID string, isTyping bool) error {
	ev := &TypingIndicator{SenderID: senderID, ReceiverID: receiverID, IsTyping: isTyping}
	if err := m.check(ev); err != nil {
		return err
	}
	m.router.ToOthers(ctx, newEvent(EventTypingIndicator, ev), fromConnID)
	return nil
}

// NotifyUserStatus broadcasts a user's new status text
func (m *MessagingHub) NotifyUserStatus(ctx context.Context, userID, status string) error {
	ev := &UserStatusChanged{UserID: userID, Status: status}
	if err := m.check(ev); err != nil {
		return err
	}
	m.router.ToAll(ctx, newEvent(EventUserStatusChanged, ev))
	return nil
}

func (m *MessagingHub) check(ev interface{}) error {
	if err := m.validate.Struct(ev); err != nil {
		return errors.Wrap(ErrInvalidEvent, err.Error())
	}
	return nil
}

package webchat

import (
	"time"

	"github.com/google/uuid"
)

// names of the events pushed to clients
const (
	EventIdentityAssigned       = "identityAssigned"
	EventPresenceChanged        = "presenceChanged"
	EventConnectionCountChanged = "connectionCountChanged"
	EventMessageReceived        = "messageReceived"
	EventMessageEdited          = "messageEdited"
	EventMessageDeleted         = "messageDeleted"
	EventTypingIndicator        = "typingIndicator"
	EventUserStatusChanged      = "userStatusChanged"
)

// Event is the envelope every outbound event is wrapped in. ID is unique per event so
// clients can drop anything they have already applied.
type Event struct {
	ID   string      `json:"id"`
	Name string      `json:"event"`
	Data interface{} `json:"data"`
}

func newEvent(name string, data interface{}) *Event {
	return &Event{ID: uuid.NewString(), Name: name, Data: data}
}

// IdentityAssigned tells a freshly connected client who the hub thinks it is
type IdentityAssigned struct {
	UserID string `json:"userId"`
}

// PresenceChanged carries the full online set and every known last-seen time
type PresenceChanged struct {
	OnlineUsers []string             `json:"onlineUsers"`
	LastSeen    map[string]time.Time `json:"lastSeenByUser"`
}

// ConnectionCountChanged carries the number of users currently online
type ConnectionCountChanged struct {
	Count int `json:"count"`
}

// Message is a chat message that has already been persisted by the API
type Message struct {
	ID         int64     `json:"id" validate:"required"`
	SenderID   string    `json:"senderId" validate:"required"`
	ReceiverID string    `json:"receiverId" validate:"required"`
	Content    string    `json:"content" validate:"required"`
	Timestamp  time.Time `json:"timestamp"`
}

type MessageEdited struct {
	MessageID int64  `json:"messageId" validate:"required"`
	Content   string `json:"content" validate:"required"`
}

type MessageDeleted struct {
	MessageID int64 `json:"messageId" validate:"required"`
}

// TypingIndicator is advisory only, nothing about it is retained
type TypingIndicator struct {
	SenderID   string `json:"senderId" validate:"required"`
	ReceiverID string `json:"receiverId" validate:"required"`
	IsTyping   bool   `json:"isTyping"`
}

type UserStatusChanged struct {
	UserID string `json:"userId" validate:"required"`
	Status string `json:"status" validate:"required"`
}

func NewIdentityAssigned(userID string) *Event {
	return newEvent(EventIdentityAssigned, &IdentityAssigned{UserID: userID})
}

func NewPresenceChanged(online []string, lastSeen map[string]time.Time) *Event {
	if online == nil {
		online = []string{}
	}
	if lastSeen == nil {
		lastSeen = map[string]time.Time{}
	}
	return newEvent(EventPresenceChanged, &PresenceChanged{OnlineUsers: online, LastSeen: lastSeen})
}

func NewConnectionCountChanged(count int) *Event {
	return newEvent(EventConnectionCountChanged, &ConnectionCountChanged{Count: count})
}

func NewMessageReceived(msg *Message) *Event {
	return newEvent(EventMessageReceived, msg)
}

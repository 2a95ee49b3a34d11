package webchat

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// WSMessage is the envelope clients send, cid is echoed back as rid in the reply
type WSMessage struct {
	CID   int             `json:"cid"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type EditMessageRequest struct {
	MessageID int64  `json:"messageId"`
	Content   string `json:"content"`
}

type DeleteMessageRequest struct {
	MessageID int64 `json:"messageId"`
}

type TypingRequest struct {
	ReceiverID string `json:"receiverId"`
	IsTyping   bool   `json:"isTyping"`
}

type UserStatusRequest struct {
	Status string `json:"status"`
}

func HandleHandshakeMsg(client *Client, msg *WSMessage) error {
	client.reply(msg.CID, map[string]interface{}{
		"id":          client.id,
		"userId":      client.userID,
		"pingTimeout": pongWait.Milliseconds(),
	}, nil)
	return nil
}

func HandleSendMessage(ctx context.Context, client *Client, msg *WSMessage) error {
	reqData := &Message{}
	if err := json.Unmarshal(msg.Data, reqData); err != nil {
		return errors.Wrap(ErrInvalidEvent, err.Error())
	}
	return client.hub.Messaging.NotifyMessageSent(ctx, reqData)
}

func HandleEditMessage(ctx context.Context, client *Client, msg *WSMessage) error {
	reqData := &EditMessageRequest{}
	if err := json.Unmarshal(msg.Data, reqData); err != nil {
		return errors.Wrap(ErrInvalidEvent, err.Error())
	}
	return client.hub.Messaging.NotifyMessageEdited(ctx, reqData.MessageID, reqData.Content)
}

func HandleDeleteMessage(ctx context.Context, client *Client, msg *WSMessage) error {
	reqData := &DeleteMessageRequest{}
	if err := json.Unmarshal(msg.Data, reqData); err != nil {
		return errors.Wrap(ErrInvalidEvent, err.Error())
	}
	return client.hub.Messaging.NotifyMessageDeleted(ctx, reqData.MessageID)
}

// HandleTyping always uses the connection's own identity as the sender
func HandleTyping(ctx context.Context, client *Client, msg *WSMessage) error {
	reqData := &TypingRequest{}
	if err := json.Unmarshal(msg.Data, reqData); err != nil {
		return errors.Wrap(ErrInvalidEvent, err.Error())
	}
	return client.hub.Messaging.NotifyTyping(ctx, client.id, client.userID, reqData.ReceiverID, reqData.IsTyping)
}

func HandleUserStatus(ctx context.Context, client *Client, msg *WSMessage) error {
	reqData := &UserStatusRequest{}
	if err := json.Unmarshal(msg.Data, reqData); err != nil {
		return errors.Wrap(ErrInvalidEvent, err.Error())
	}
	return client.hub.Messaging.NotifyUserStatus(ctx, client.userID, reqData.Status)
}

// HandleWSMessage dispatches one inbound event and replies to the sender when it asked
// for an acknowledgement
func HandleWSMessage(client *Client, msg *WSMessage) error {
	ctx := context.Background()

	var err error
	switch msg.Event {
	case "#handshake":
		return HandleHandshakeMsg(client, msg)
	case "sendMessage":
		err = HandleSendMessage(ctx, client, msg)
	case "editMessage":
		err = HandleEditMessage(ctx, client, msg)
	case "deleteMessage":
		err = HandleDeleteMessage(ctx, client, msg)
	case "sendTypingIndicator":
		err = HandleTyping(ctx, client, msg)
	case "sendUserStatus":
		err = HandleUserStatus(ctx, client, msg)
	default:
		err = errors.Errorf("unknown event '%s'", msg.Event)
	}

	client.reply(msg.CID, nil, err)
	return err
}

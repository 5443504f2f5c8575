package push

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matheus3301/handychat/internal/bus"
	"github.com/matheus3301/handychat/internal/chat"
)

// Notification kinds sent by the server.
const (
	TypeMessage      = "message"
	TypeConversation = "conversation"
)

// Notification is the data payload of a push notification.
type Notification struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id,omitempty"`
	SenderName     string `json:"sender_name,omitempty"`
	Body           string `json:"body,omitempty"`
	Link           string `json:"link,omitempty"`
}

// ParseNotification decodes and validates a notification payload.
func ParseNotification(data []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	if n.Type == "" {
		n.Type = TypeMessage
	}
	if n.ConversationID == "" && n.Link == "" {
		return Notification{}, errors.New("notification has no conversation")
	}
	return n, nil
}

// Route returns where tapping the notification should navigate. An explicit
// link wins over the conversation ID.
func (n Notification) Route() (chat.Route, error) {
	if n.Link != "" {
		return ParseLink(n.Link)
	}
	return chat.Route{ConversationID: n.ConversationID}, nil
}

// Dispatch publishes n so the sync engine refreshes the conversation.
func Dispatch(b *bus.Bus, n Notification) {
	b.Emit(bus.KindPushNotification, n)
}

package bus

import "time"

// Event kinds published by the chat client.
const (
	KindMessagesChanged      = "cache.messages_changed"
	KindConversationsChanged = "cache.conversations_changed"
	KindUnreadChanged        = "cache.unread_changed"
	KindSendState            = "outbox.state_changed"
	KindReadMarked           = "readstate.marked"
	KindPushNotification     = "push.notification"
	KindConfigReloaded       = "config.reloaded"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// ConversationRef is the payload of per-conversation change events.
type ConversationRef struct {
	ConversationID string
}

// UnreadTotal is the payload of KindUnreadChanged.
type UnreadTotal struct {
	ConversationID string
	Count          int
	Total          int
}

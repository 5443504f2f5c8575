package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Status is the delivery status of a message.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// TempIDPrefix marks identifiers generated on the client before the server assigns one.
const TempIDPrefix = "local-"

// NewConversationToken addresses the "new conversation with a recipient" screen.
const NewConversationToken = "new"

// Participant is one side of a conversation.
type Participant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Role      string `json:"role,omitempty"` // homeowner or handyman
}

// Conversation is the list-level summary of a thread.
type Conversation struct {
	ID                 string        `json:"id"`
	JobID              string        `json:"job_id,omitempty"`
	Participants       []Participant `json:"participants"`
	LastMessagePreview string        `json:"last_message_preview"`
	UnreadCount        int           `json:"unread_count"`
	LastActivityAt     time.Time     `json:"last_activity_at"`
}

// Peer returns the first participant that is not selfID.
func (c *Conversation) Peer(selfID string) Participant {
	for _, p := range c.Participants {
		if p.ID != selfID {
			return p
		}
	}
	if len(c.Participants) > 0 {
		return c.Participants[0]
	}
	return Participant{}
}

// Attachment is a file attached to a message. A local attachment has Path set;
// once uploaded it also carries RemoteURL.
type Attachment struct {
	Path          string `json:"-"`
	MIMEType      string `json:"mime_type"`
	Size          int64  `json:"size"`
	ThumbnailPath string `json:"-"`
	Thumbnail     []byte `json:"thumbnail,omitempty"`
	DurationMs    int64  `json:"duration_ms,omitempty"`
	Width         int    `json:"width,omitempty"`
	Height        int    `json:"height,omitempty"`
	RemoteURL     string `json:"url,omitempty"`
}

// Duration returns the media duration of a video attachment.
func (a *Attachment) Duration() time.Duration {
	return time.Duration(a.DurationMs) * time.Millisecond
}

// Uploaded reports whether the attachment has a remote URL.
func (a *Attachment) Uploaded() bool {
	return a.RemoteURL != ""
}

// IsVideo reports whether the attachment is a video.
func (a *Attachment) IsVideo() bool {
	return strings.HasPrefix(a.MIMEType, "video/")
}

// Message is a single chat message.
type Message struct {
	ID             string       `json:"id"`
	ClientID       string       `json:"client_id,omitempty"`
	ConversationID string       `json:"conversation_id"`
	SenderID       string       `json:"sender_id"`
	Body           string       `json:"body,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	Status         Status       `json:"status"`
	Read           bool         `json:"read"`

	// LocalSeq orders messages sent from this client; zero for messages that
	// originated elsewhere.
	LocalSeq uint64 `json:"-"`
	// Error holds the last failure reason for failed messages.
	Error string `json:"-"`
}

// IsTemporary reports whether the message still carries a client-generated ID.
func (m *Message) IsTemporary() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// Preview returns a short single-line summary for conversation lists,
// at most maxLen characters long.
func (m *Message) Preview(maxLen int) string {
	s := strings.Join(strings.Fields(m.Body), " ")
	if s == "" && len(m.Attachments) > 0 {
		if m.Attachments[0].IsVideo() {
			s = "[video]"
		} else {
			s = "[photo]"
		}
	}
	if maxLen > 0 && utf8.RuneCountInString(s) > maxLen {
		return string([]rune(s)[:maxLen])
	}
	return s
}

// Pagination is the meta.pagination block of the API envelope.
type Pagination struct {
	Page       int  `json:"page"`
	HasNext    bool `json:"has_next"`
	TotalCount int  `json:"total_count"`
}

// MessagePage is one page of a conversation's history.
type MessagePage struct {
	Messages   []Message
	Pagination Pagination
}

// ConversationPage is one page of the conversation list.
type ConversationPage struct {
	Conversations []Conversation
	Pagination    Pagination
}

package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/matheus3301/handychat/internal/model"
)

// SendMessageRequest is the body of POST /conversations/{id}/messages.
// Attachments must already carry remote URLs.
type SendMessageRequest struct {
	ClientID    string             `json:"client_id"`
	Body        string             `json:"body,omitempty"`
	Attachments []model.Attachment `json:"attachments,omitempty"`
}

// ListMessages fetches one page of a conversation's history, newest page first.
func (c *Client) ListMessages(ctx context.Context, conversationID string, page int) (*model.MessagePage, error) {
	if page < 1 {
		page = 1
	}
	path := fmt.Sprintf("/conversations/%s/messages?page=%d", url.PathEscape(conversationID), page)
	env, err := c.get(ctx, "/conversations/{id}/messages", path)
	if err != nil {
		return nil, fmt.Errorf("list messages %s: %w", conversationID, err)
	}
	var msgs []model.Message
	if err := decode(env, &msgs); err != nil {
		return nil, fmt.Errorf("list messages %s: %w", conversationID, err)
	}
	for i := range msgs {
		if msgs[i].ConversationID == "" {
			msgs[i].ConversationID = conversationID
		}
		if msgs[i].Status == "" {
			msgs[i].Status = model.StatusSent
		}
	}
	return &model.MessagePage{Messages: msgs, Pagination: pagination(env, page)}, nil
}

// SendMessage submits a message. The returned message carries the server ID
// and echoes ClientID.
func (c *Client) SendMessage(ctx context.Context, conversationID string, req SendMessageRequest) (*model.Message, error) {
	for i, a := range req.Attachments {
		if !a.Uploaded() {
			return nil, fmt.Errorf("send message: attachment %d has no remote url", i)
		}
	}
	path := fmt.Sprintf("/conversations/%s/messages", url.PathEscape(conversationID))
	env, err := c.sendJSON(ctx, http.MethodPost, "/conversations/{id}/messages", path, req)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	var msg model.Message
	if err := decode(env, &msg); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	if msg.ClientID == "" {
		msg.ClientID = req.ClientID
	}
	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}
	msg.Status = model.StatusSent
	return &msg, nil
}

// MarkRead marks every message in the conversation as read for the caller.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	path := fmt.Sprintf("/conversations/%s/read", url.PathEscape(conversationID))
	if _, err := c.sendJSON(ctx, http.MethodPost, "/conversations/{id}/read", path, nil); err != nil {
		return fmt.Errorf("mark read %s: %w", conversationID, err)
	}
	return nil
}

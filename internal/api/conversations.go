package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/matheus3301/handychat/internal/model"
)

// CreateConversationRequest starts a conversation with a recipient.
type CreateConversationRequest struct {
	RecipientID string `json:"recipient_id"`
	JobID       string `json:"job_id,omitempty"`
}

// ListConversations fetches one page of the conversation list.
func (c *Client) ListConversations(ctx context.Context, page int) (*model.ConversationPage, error) {
	if page < 1 {
		page = 1
	}
	env, err := c.get(ctx, "/conversations", fmt.Sprintf("/conversations?page=%d", page))
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	var convs []model.Conversation
	if err := decode(env, &convs); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return &model.ConversationPage{Conversations: convs, Pagination: pagination(env, page)}, nil
}

// CreateConversation creates (or returns the existing) conversation with a recipient.
func (c *Client) CreateConversation(ctx context.Context, req CreateConversationRequest) (*model.Conversation, error) {
	env, err := c.sendJSON(ctx, http.MethodPost, "/conversations", "/conversations", req)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	var conv model.Conversation
	if err := decode(env, &conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return &conv, nil
}

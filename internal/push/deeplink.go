// Package push handles device registration for push notifications, turns
// notification payloads into navigation routes and builds the deep links
// those routes travel in.
package push

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/matheus3301/handychat/internal/chat"
	"github.com/matheus3301/handychat/internal/model"
)

// Scheme is the URL scheme of handychat deep links.
const Scheme = "handychat"

// ErrBadLink is returned for URLs that are not handychat conversation links.
var ErrBadLink = errors.New("not a conversation link")

// BuildLink renders route as handychat://conversation/<id>, or
// handychat://conversation/new?recipient=... for a conversation to start.
func BuildLink(route chat.Route) string {
	u := url.URL{Scheme: Scheme, Host: "conversation"}
	if !route.IsNew() {
		u.Path = "/" + route.ConversationID
		return u.String()
	}
	u.Path = "/" + model.NewConversationToken
	q := url.Values{}
	q.Set("recipient", route.RecipientID)
	if route.RecipientName != "" {
		q.Set("name", route.RecipientName)
	}
	if route.RecipientAvatar != "" {
		q.Set("avatar", route.RecipientAvatar)
	}
	if route.JobID != "" {
		q.Set("job", route.JobID)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ParseLink is the inverse of BuildLink.
func ParseLink(link string) (chat.Route, error) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return chat.Route{}, fmt.Errorf("parse link: %w", err)
	}
	if u.Scheme != Scheme || u.Host != "conversation" {
		return chat.Route{}, fmt.Errorf("%w: %s", ErrBadLink, link)
	}
	id := strings.Trim(u.Path, "/")
	if id == "" || strings.Contains(id, "/") {
		return chat.Route{}, fmt.Errorf("%w: %s", ErrBadLink, link)
	}
	if id != model.NewConversationToken {
		return chat.Route{ConversationID: id}, nil
	}

	q := u.Query()
	route := chat.Route{
		ConversationID:  model.NewConversationToken,
		RecipientID:     q.Get("recipient"),
		RecipientName:   q.Get("name"),
		RecipientAvatar: q.Get("avatar"),
		JobID:           q.Get("job"),
	}
	if route.RecipientID == "" {
		return chat.Route{}, fmt.Errorf("%w: new conversation without recipient", ErrBadLink)
	}
	return route, nil
}

package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// RegisterDeviceRequest is the body of POST /devices.
type RegisterDeviceRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

// RegisterDevice registers a push token for the current user.
func (c *Client) RegisterDevice(ctx context.Context, req RegisterDeviceRequest) error {
	if _, err := c.sendJSON(ctx, http.MethodPost, "/devices", "/devices", req); err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	return nil
}

// UnregisterDevice removes a previously registered push token.
func (c *Client) UnregisterDevice(ctx context.Context, token string) error {
	path := "/devices/" + url.PathEscape(token)
	if _, err := c.sendJSON(ctx, http.MethodDelete, "/devices/{token}", path, nil); err != nil {
		return fmt.Errorf("unregister device: %w", err)
	}
	return nil
}

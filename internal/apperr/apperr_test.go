package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("list messages: %w", NetworkError("dial", errors.New("connection refused")))
	assert.Equal(t, Network, KindOf(err))
	assert.True(t, Is(err, Network))
	assert.False(t, Is(err, Server))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network", NetworkError("timeout", nil), true},
		{"upload", UploadError(0, errors.New("reset")), true},
		{"server 503", ServerError(503, "unavailable"), true},
		{"server 429", ServerError(429, "slow down"), true},
		{"server 422", ServerError(422, "bad body"), false},
		{"validation", ValidationError(1, "too large"), false},
		{"plain", errors.New("x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "file too large", UserMessage(ValidationError(0, "file too large")))
	assert.Contains(t, UserMessage(NetworkError("x", nil)), "connection")
	assert.Equal(t, "Server error (500)", UserMessage(ServerError(500, "")))
	assert.Equal(t, "Something went wrong", UserMessage(errors.New("boom")))
}

func TestErrorString(t *testing.T) {
	err := UploadError(2, errors.New("eof"))
	assert.Equal(t, "UPLOAD: attachment 2 upload failed: eof", err.Error())
	assert.Equal(t, 2, err.Index)
	assert.Equal(t, -1, ServerError(500, "x").Index)
}

package tui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCommand(t *testing.T) {
	cmd := ParseCommand("  NEW  handyman-7 job-3 ")
	assert.Equal(t, "new", cmd.Name)
	assert.Equal(t, "handyman-7", cmd.Arg(0))
	assert.Equal(t, "job-3", cmd.Arg(1))
	assert.Equal(t, "", cmd.Arg(2))

	assert.Equal(t, Command{}, ParseCommand("   "))
}

func TestParseComposer(t *testing.T) {
	tests := []struct {
		in    string
		isCmd bool
		name  string
		rest  string
		body  string
	}{
		{in: "see you at 5", body: "see you at 5"},
		{in: "/attach ~/My Photos/sink.jpg", isCmd: true, name: "attach", rest: "~/My Photos/sink.jpg"},
		{in: "//not a command", body: "/not a command"},
		{in: "/", body: "/"},
		{in: "/retry", isCmd: true, name: "retry"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			cmd, body, isCmd := ParseComposer(tt.in)
			assert.Equal(t, tt.isCmd, isCmd)
			assert.Equal(t, tt.body, body)
			assert.Equal(t, tt.name, cmd.Name)
			assert.Equal(t, tt.rest, cmd.Rest())
		})
	}
}

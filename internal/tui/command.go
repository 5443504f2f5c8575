package tui

import (
	"strings"
)

// Command is a parsed ":name args" or composer "/name args" line.
type Command struct {
	Name string
	Args []string
}

// Arg returns argument i or "".
func (c Command) Arg(i int) string {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return ""
}

// Rest returns every argument joined by one space, for paths with spaces.
func (c Command) Rest() string {
	return strings.Join(c.Args, " ")
}

// ParseCommand parses a command without its leading ':' or '/'.
func ParseCommand(input string) Command {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return Command{}
	}
	return Command{Name: strings.ToLower(fields[0]), Args: fields[1:]}
}

// ParseComposer splits composer input into a command or a message body.
// A leading "//" sends a literal slash.
func ParseComposer(input string) (cmd Command, body string, isCmd bool) {
	input = strings.TrimSpace(input)
	switch {
	case strings.HasPrefix(input, "//"):
		return Command{}, input[1:], false
	case strings.HasPrefix(input, "/") && len(input) > 1:
		return ParseCommand(input[1:]), "", true
	default:
		return Command{}, input, false
	}
}

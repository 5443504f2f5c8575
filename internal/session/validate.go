package session

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidName is wrapped by ValidateName failures.
var ErrInvalidName = errors.New("invalid profile name")

// Profile names become directory names under the handychat home, so they are
// kept to a portable lowercase subset.
var profileName = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName rejects profile names that cannot be used as a profile
// directory.
func ValidateName(name string) error {
	if profileName.MatchString(name) {
		return nil
	}
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	return fmt.Errorf("%w %q: use 1-64 lowercase letters, digits, '-' or '_'", ErrInvalidName, name)
}

package session

import (
	"fmt"
	"regexp"
)

// Session names become directory names under the base dir, so the
// accepted alphabet is deliberately narrow.
var namePattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName rejects names that cannot safely serve as an on-disk
// session identifier.
func ValidateName(name string) error {
	if namePattern.MatchString(name) {
		return nil
	}
	return fmt.Errorf("invalid session name %q: use 1-64 lowercase letters, digits, '-' or '_'", name)
}

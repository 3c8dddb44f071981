package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random 32-character identifier. A non-empty prefix is
// joined with an underscore.
func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// NewUUID returns a canonical dashed UUID, used for user identities.
func NewUUID() string {
	return uuid.NewString()
}

// IsUUID reports whether value parses as a UUID in any accepted form.
func IsUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

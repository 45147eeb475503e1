package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random id, prefixed with "<prefix>_" when prefix is set.
func NewID(prefix string) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return raw
	}
	return prefix + "_" + raw
}

package utils

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateAPIKey returns a new channel API key using a stable odk_ prefix
// followed by the uppercase UUID without dashes. Keys issued during channel
// creation use the same format so rotations stay compatible.
func GenerateAPIKey() string {
	key := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "odk_" + key
}

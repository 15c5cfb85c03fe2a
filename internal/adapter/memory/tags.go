package memory

import (
	"slices"
	"strings"
	"time"

	"reagent/internal/domain"
)

// parseTags splits the comma-separated tags metadata value.
func parseTags(metadata map[string]string) []string {
	raw := metadata[domain.MetaTags]
	if raw == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" && !slices.Contains(tags, t) {
			tags = append(tags, t)
		}
	}
	return tags
}

// expiresAt reads the expires_at metadata value. Missing or malformed values
// never expire.
func expiresAt(metadata map[string]string) (time.Time, bool) {
	raw := metadata[domain.MetaExpiresAt]
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func hasAllTags(have, want []string) bool {
	for _, t := range want {
		if !slices.Contains(have, t) {
			return false
		}
	}
	return true
}

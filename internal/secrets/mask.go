package secrets

import (
	"strings"

	"documerge/internal/models"
)

// MaskAPIKey keeps the first and last four characters. Keys too short to
// keep anything are fully masked.
func MaskAPIKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

// IsMasked reports whether key looks like the output of MaskAPIKey.
func IsMasked(key string) bool {
	return strings.Contains(key, maskedMarker)
}

// MaskConfig returns a copy of cfg that is safe to send to clients.
func MaskConfig(cfg *models.AirtableConfig) *models.AirtableConfig {
	if cfg == nil {
		return nil
	}
	masked := *cfg
	masked.APIKey = MaskAPIKey(cfg.APIKey)
	return &masked
}

// MergeMaskedKey keeps the stored key when the client echoes back the masked
// value it was given.
func MergeMaskedKey(incoming, stored *models.AirtableConfig) {
	if incoming == nil || stored == nil {
		return
	}
	if IsMasked(incoming.APIKey) && incoming.APIKey == MaskAPIKey(stored.APIKey) {
		incoming.APIKey = stored.APIKey
	}
}

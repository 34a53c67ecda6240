package store

import (
	"encoding/json"
	"log/slog"

	"github.com/flowreply/flowreply/internal/models"
)

// encodePayload serializes an outbound payload for the messages table.
// A nil payload stores as the empty string.
func encodePayload(p *models.MessagePayload) string {
	if p == nil {
		return ""
	}
	data, err := json.Marshal(p)
	if err != nil {
		slog.Error("Failed to encode message payload for storage", "error", err)
		return ""
	}
	return string(data)
}

// decodePayload deserializes a stored payload column. Malformed data decodes
// to nil rather than failing the read.
func decodePayload(raw string) *models.MessagePayload {
	if raw == "" {
		return nil
	}
	var p models.MessagePayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		slog.Warn("Stored message payload malformed, treating as absent", "error", err)
		return nil
	}
	return &p
}

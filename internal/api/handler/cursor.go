package handler

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/postflowhq/postflow-be/internal/api/storage"
)

// EncodePostCursor serializes a keyset cursor as URL-safe base64 JSON.
func EncodePostCursor(cursor *storage.PostCursor) (string, error) {
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("failed to encode cursor: %w", err)
	}
	return base64.URLEncoding.EncodeToString(data), nil
}

// DecodePostCursor parses a cursor string; empty input means first page.
func DecodePostCursor(raw string) (*storage.PostCursor, error) {
	if raw == "" {
		return nil, nil
	}

	data, err := base64.URLEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cursor: %w", err)
	}

	var cursor storage.PostCursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, fmt.Errorf("failed to parse cursor: %w", err)
	}

	return &cursor, nil
}

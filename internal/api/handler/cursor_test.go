package handler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postflowhq/postflow-be/internal/api/storage"
)

func TestPostCursor_RoundTrip(t *testing.T) {
	original := &storage.PostCursor{
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		PostID:    "8f14e45f-ea34-4c51-a6bb-7a4f8e21d3c0",
	}

	encoded, err := EncodePostCursor(original)
	require.NoError(t, err)
	require.NotEmpty(t, encoded)

	decoded, err := DecodePostCursor(encoded)
	require.NoError(t, err)
	assert.True(t, original.CreatedAt.Equal(decoded.CreatedAt))
	assert.Equal(t, original.PostID, decoded.PostID)
}

func TestDecodePostCursor(t *testing.T) {
	t.Run("empty cursor means first page", func(t *testing.T) {
		cursor, err := DecodePostCursor("")
		require.NoError(t, err)
		assert.Nil(t, cursor)
	})

	t.Run("invalid base64", func(t *testing.T) {
		_, err := DecodePostCursor("not-base64!!!")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode cursor")
	})

	t.Run("valid base64 but not json", func(t *testing.T) {
		_, err := DecodePostCursor("bm90LWpzb24=")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse cursor")
	})
}

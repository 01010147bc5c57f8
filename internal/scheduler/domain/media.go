package domain

import (
	"net/url"
	"path"
	"strings"
)

// Media types consumed by publishers.
const (
	MediaTypeNone  = "none"
	MediaTypeImage = "image"
	MediaTypeVideo = "video"
	MediaTypeAlbum = "album"
)

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
}

var videoExts = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".webm": true, ".mkv": true,
}

// InferMediaType classifies a post's media from file-extension heuristics
// when the post does not carry an explicit media type. Best-effort: signed
// or extension-less URLs fall back to image for a single attachment and
// album for several.
func InferMediaType(mediaURLs []string) string {
	if len(mediaURLs) == 0 {
		return MediaTypeNone
	}

	if len(mediaURLs) > 1 {
		// A multi-attachment post is an album unless every attachment is
		// clearly the same video type, which providers treat separately.
		allVideo := true
		for _, raw := range mediaURLs {
			if !videoExts[extOf(raw)] {
				allVideo = false
				break
			}
		}
		if allVideo {
			return MediaTypeVideo
		}
		return MediaTypeAlbum
	}

	ext := extOf(mediaURLs[0])
	switch {
	case videoExts[ext]:
		return MediaTypeVideo
	case imageExts[ext]:
		return MediaTypeImage
	default:
		return MediaTypeImage
	}
}

// extOf extracts the lowercase file extension from a URL, ignoring query
// strings and fragments.
func extOf(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		p = u.Path
	}
	return strings.ToLower(path.Ext(p))
}

package videos

import (
	"regexp"
	"strings"
)

// YouTube video identifiers are exactly 11 characters drawn from the
// URL-safe base64 alphabet.
var videoIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`)

var urlPatterns = []*regexp.Regexp{
	// Standard watch URLs: https://www.youtube.com/watch?v=VIDEO_ID&other=params
	regexp.MustCompile(`youtube\.com/watch\?v=([a-zA-Z0-9_-]{11})`),
	// Short URLs: https://youtu.be/VIDEO_ID?other=params
	regexp.MustCompile(`youtu\.be/([a-zA-Z0-9_-]{11})`),
	// Embed URLs: https://www.youtube.com/embed/VIDEO_ID?other=params
	regexp.MustCompile(`youtube\.com/embed/([a-zA-Z0-9_-]{11})`),
	// Mobile URLs: https://m.youtube.com/watch?v=VIDEO_ID&other=params
	regexp.MustCompile(`m\.youtube\.com/watch\?v=([a-zA-Z0-9_-]{11})`),
	// Gaming URLs: https://gaming.youtube.com/watch?v=VIDEO_ID&other=params
	regexp.MustCompile(`gaming\.youtube\.com/watch\?v=([a-zA-Z0-9_-]{11})`),
}

// ExtractVideoID returns the canonical 11-character video identifier embedded
// in a YouTube URL, or false when the URL does not carry one.
func ExtractVideoID(rawURL string) (string, bool) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", false
	}
	for _, pattern := range urlPatterns {
		match := pattern.FindStringSubmatch(trimmed)
		if len(match) == 2 && match[1] != "" {
			return match[1], true
		}
	}
	return "", false
}

// ValidVideoID reports whether the value has the canonical identifier shape.
func ValidVideoID(value string) bool {
	return videoIDPattern.MatchString(value)
}

// CanonicalURL rewrites any recognised YouTube URL to the plain watch form.
// Unrecognised URLs are returned unchanged.
func CanonicalURL(rawURL string) string {
	id, ok := ExtractVideoID(rawURL)
	if !ok {
		return rawURL
	}
	return "https://www.youtube.com/watch?v=" + id
}

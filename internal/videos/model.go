package videos

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidVideoID indicates an identifier that is not the canonical
	// 11-character form.
	ErrInvalidVideoID = errors.New("videos: invalid video id")
	// ErrInvalidURL indicates a URL from which no canonical identifier can
	// be extracted.
	ErrInvalidURL = errors.New("videos: invalid video url")
	// ErrInvalidTimestamp indicates a negative note timestamp.
	ErrInvalidTimestamp = errors.New("videos: invalid note timestamp")
)

// Video is the local representation of a bookmarked video. The identifier is
// always the canonical id extractable from URL; the reconciler enforces that.
type Video struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"createdAt"`
}

// Validate checks the id/url invariant without mutating the video.
func (v Video) Validate() error {
	if !ValidVideoID(v.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidVideoID, v.ID)
	}
	extracted, ok := ExtractVideoID(v.URL)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidURL, v.URL)
	}
	if extracted != v.ID {
		return fmt.Errorf("%w: url resolves to %q", ErrInvalidVideoID, extracted)
	}
	return nil
}

// Note is a timestamped annotation attached to a video. ID is client
// generated and opaque; the backend keys notes by (videoId, client note id).
type Note struct {
	ID           string    `json:"id"`
	VideoID      string    `json:"videoId"`
	TimestampSec int       `json:"timestampSec"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Validate checks the note's structural constraints.
func (n Note) Validate() error {
	if strings.TrimSpace(n.ID) == "" {
		return errors.New("videos: note id is required")
	}
	if n.TimestampSec < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTimestamp, n.TimestampSec)
	}
	return nil
}

// NormalizeTag lowercases and trims a tag; the normalized form is the unique
// key for the tag dictionary.
func NormalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// NormalizeTags normalizes each tag and deduplicates while preserving the
// first-seen order. Empty tags are dropped.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	normalized := make([]string, 0, len(tags))
	for _, tag := range tags {
		cleaned := NormalizeTag(tag)
		if cleaned == "" {
			continue
		}
		if _, ok := seen[cleaned]; ok {
			continue
		}
		seen[cleaned] = struct{}{}
		normalized = append(normalized, cleaned)
	}
	return normalized
}

// MergeTags unions two tag sets, normalizing and keeping first-seen order.
func MergeTags(first, second []string) []string {
	return NormalizeTags(append(append([]string{}, first...), second...))
}

package dataservice

import (
	"fmt"

	"github.com/reelnotes/reelnotes/internal/videos"
)

// CreateVideoInput carries a video create request in local naming.
type CreateVideoInput struct {
	URL   string
	Title string
	Tags  []string
}

// UpdateVideoInput carries a partial video update; nil fields are untouched.
type UpdateVideoInput struct {
	Title *string
	Tags  *[]string
}

// CreateNoteInput carries a note create request. ID may be empty, in which
// case an identifier is generated.
type CreateNoteInput struct {
	ID           string
	TimestampSec int
	Content      string
}

// CreateVideoLocal applies a create directly to the local store. Used both
// for normal offline operation and as the caller-driven fallback after a
// transient backend failure.
func (s *Service) CreateVideoLocal(input CreateVideoInput) (videos.Video, error) {
	videoID, ok := videos.ExtractVideoID(input.URL)
	if !ok {
		return videos.Video{}, fmt.Errorf("%w: %q", ErrInvalidURL, input.URL)
	}

	list, err := s.store.Videos()
	if err != nil {
		return videos.Video{}, err
	}
	for _, existing := range list {
		if existing.ID == videoID {
			return videos.Video{}, fmt.Errorf("%w: %s", ErrVideoExists, videoID)
		}
	}

	video := videos.Video{
		ID:        videoID,
		URL:       videos.CanonicalURL(input.URL),
		Title:     input.Title,
		Tags:      videos.NormalizeTags(input.Tags),
		CreatedAt: s.clock().UTC(),
	}
	if err := s.store.SaveVideos(append(list, video)); err != nil {
		return videos.Video{}, err
	}
	return video, nil
}

// UpdateVideoLocal applies a partial update directly to the local store.
func (s *Service) UpdateVideoLocal(videoID string, input UpdateVideoInput) (videos.Video, error) {
	list, err := s.store.Videos()
	if err != nil {
		return videos.Video{}, err
	}
	for index, existing := range list {
		if existing.ID != videoID {
			continue
		}
		if input.Title != nil {
			existing.Title = *input.Title
		}
		if input.Tags != nil {
			existing.Tags = videos.NormalizeTags(*input.Tags)
		}
		list[index] = existing
		if err := s.store.SaveVideos(list); err != nil {
			return videos.Video{}, err
		}
		return existing, nil
	}
	return videos.Video{}, fmt.Errorf("%w: %s", ErrVideoNotFound, videoID)
}

// DeleteVideoLocal removes a video and cascades to its note namespace.
func (s *Service) DeleteVideoLocal(videoID string) error {
	list, err := s.store.Videos()
	if err != nil {
		return err
	}
	remaining := make([]videos.Video, 0, len(list))
	found := false
	for _, existing := range list {
		if existing.ID == videoID {
			found = true
			continue
		}
		remaining = append(remaining, existing)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrVideoNotFound, videoID)
	}
	if err := s.store.SaveVideos(remaining); err != nil {
		return err
	}
	return s.store.DeleteNotes(videoID)
}

// CreateNoteLocal appends a note to a video's namespace.
func (s *Service) CreateNoteLocal(videoID string, input CreateNoteInput) (videos.Note, error) {
	if _, _, err := s.getVideoLocal(videoID); err != nil {
		return videos.Note{}, err
	}

	noteID := input.ID
	if noteID == "" {
		generated, err := s.idProvider.NewID()
		if err != nil {
			return videos.Note{}, fmt.Errorf("dataservice: generate note id: %w", err)
		}
		noteID = generated
	}

	note := videos.Note{
		ID:           noteID,
		VideoID:      videoID,
		TimestampSec: input.TimestampSec,
		Content:      input.Content,
		CreatedAt:    s.clock().UTC(),
	}
	if err := note.Validate(); err != nil {
		return videos.Note{}, err
	}

	notes, err := s.store.Notes(videoID)
	if err != nil {
		return videos.Note{}, err
	}
	if err := s.store.SaveNotes(videoID, append(notes, note)); err != nil {
		return videos.Note{}, err
	}
	return note, nil
}

// DeleteNoteLocal removes a note from a video's namespace by client id.
func (s *Service) DeleteNoteLocal(videoID, clientNoteID string) error {
	notes, err := s.store.Notes(videoID)
	if err != nil {
		return err
	}
	remaining := make([]videos.Note, 0, len(notes))
	found := false
	for _, note := range notes {
		if note.ID == clientNoteID {
			found = true
			continue
		}
		remaining = append(remaining, note)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNoteNotFound, clientNoteID)
	}
	return s.store.SaveNotes(videoID, remaining)
}

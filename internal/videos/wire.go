package videos

import "time"

// Wire shapes mirror the backend's JSON field naming (snake_case, `timestamp`
// instead of `timestampSec`). All renaming between the local and backend
// representations happens here and nowhere else, in both directions.

// WireVideo is the backend's video resource shape.
type WireVideo struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WireNote is the backend's note resource shape. ID is the server-assigned
// row id; ClientNoteID carries the client-generated identifier used for
// idempotent matching.
type WireNote struct {
	ID           int64     `json:"id"`
	ClientNoteID string    `json:"client_note_id"`
	VideoID      string    `json:"video_id"`
	Timestamp    int       `json:"timestamp"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"created_at"`
}

// WireVideoDetail is the backend's get-video shape with embedded notes.
type WireVideoDetail struct {
	WireVideo
	Notes []WireNote `json:"notes"`
}

// VideoToWire maps a local video to the backend shape.
func VideoToWire(video Video) WireVideo {
	return WireVideo{
		ID:        video.ID,
		URL:       video.URL,
		Title:     video.Title,
		Tags:      NormalizeTags(video.Tags),
		CreatedAt: video.CreatedAt,
	}
}

// VideoFromWire maps a backend video to the local shape.
func VideoFromWire(wire WireVideo) Video {
	return Video{
		ID:        wire.ID,
		URL:       wire.URL,
		Title:     wire.Title,
		Tags:      NormalizeTags(wire.Tags),
		CreatedAt: wire.CreatedAt,
	}
}

// NoteToWire maps a local note to the backend shape. The server row id is
// unknown locally and stays zero.
func NoteToWire(note Note) WireNote {
	return WireNote{
		ClientNoteID: note.ID,
		VideoID:      note.VideoID,
		Timestamp:    note.TimestampSec,
		Content:      note.Content,
		CreatedAt:    note.CreatedAt,
	}
}

// NoteFromWire maps a backend note to the local shape, keyed by the client
// note id so that a round trip preserves local identity.
func NoteFromWire(wire WireNote) Note {
	return Note{
		ID:           wire.ClientNoteID,
		VideoID:      wire.VideoID,
		TimestampSec: wire.Timestamp,
		Content:      wire.Content,
		CreatedAt:    wire.CreatedAt,
	}
}

// ImportRequest is the one-shot migration payload: the client's full local
// data set, in local field naming.
type ImportRequest struct {
	Videos         []Video           `json:"videos"`
	NotesByVideoID map[string][]Note `json:"notesByVideoId"`
}

// ImportStats counts the backend's creates and idempotent updates.
type ImportStats struct {
	VideosCreated int `json:"videos_created"`
	VideosUpdated int `json:"videos_updated"`
	NotesCreated  int `json:"notes_created"`
	NotesUpdated  int `json:"notes_updated"`
	TagsCreated   int `json:"tags_created"`
}

// ImportResponse is the backend's import report. Errors collects per-item
// soft failures that did not abort the import.
type ImportResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Stats   ImportStats `json:"stats"`
	Errors  []string    `json:"errors"`
}

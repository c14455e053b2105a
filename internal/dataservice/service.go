package dataservice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/reelnotes/reelnotes/internal/backend"
	"github.com/reelnotes/reelnotes/internal/localstore"
	"github.com/reelnotes/reelnotes/internal/videos"
	"go.uber.org/zap"
)

var (
	// ErrVideoNotFound indicates the video exists in neither source.
	ErrVideoNotFound = errors.New("dataservice: video not found")
	// ErrNoteNotFound indicates the note does not exist in the targeted source.
	ErrNoteNotFound = errors.New("dataservice: note not found")
	// ErrVideoExists indicates a create for an already-bookmarked video.
	ErrVideoExists = errors.New("dataservice: video already exists")
	// ErrInvalidURL indicates a create with a URL no canonical id can be
	// extracted from.
	ErrInvalidURL = errors.New("dataservice: invalid video url")

	errMissingStore        = errors.New("dataservice: local store is required")
	errMissingAvailability = errors.New("dataservice: availability check is required")

	noOpLogger = zap.NewNop()
)

// Source names which side actually served a call.
type Source string

const (
	// SourceBackend marks a result served by the backend; authoritative.
	SourceBackend Source = "backend"
	// SourceLocal marks a result served by the local store.
	SourceLocal Source = "local"
)

// Backend is the slice of the backend client the router consumes.
type Backend interface {
	ListVideos(ctx context.Context) ([]videos.WireVideo, error)
	GetVideo(ctx context.Context, videoID string) (videos.WireVideoDetail, error)
	CreateVideo(ctx context.Context, request backend.CreateVideoRequest) (videos.WireVideo, error)
	UpdateVideo(ctx context.Context, videoID string, request backend.UpdateVideoRequest) (videos.WireVideo, error)
	DeleteVideo(ctx context.Context, videoID string) error
	CreateNote(ctx context.Context, videoID string, request backend.CreateNoteRequest) (videos.WireNote, error)
	DeleteNote(ctx context.Context, serverNoteID int64) error
}

// IDProvider issues client-side note identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// Config describes the router's dependencies.
type Config struct {
	Store        *localstore.Store
	Backend      Backend
	Availability *Availability
	Clock        func() time.Time
	IDProvider   IDProvider
	Logger       *zap.Logger
}

// Service is the read/write façade the application talks to. Per call it
// targets either the backend or the local store, never both, and reports
// which one served the call.
type Service struct {
	store        *localstore.Store
	backend      Backend
	availability *Availability
	clock        func() time.Time
	idProvider   IDProvider
	logger       *zap.Logger
}

// NewService constructs the router.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Availability == nil {
		return nil, errMissingAvailability
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		store:        cfg.Store,
		backend:      cfg.Backend,
		availability: cfg.Availability,
		clock:        clock,
		idProvider:   idProvider,
		logger:       logger,
	}, nil
}

// VideoDetail is a video joined with its owned notes, in local shape
// regardless of which source served it.
type VideoDetail struct {
	Video videos.Video
	Notes []videos.Note
}

// VideoWrite is the tagged outcome of a video write. Exactly one of the
// three states holds: applied (Err nil, Fallback false), retry-against-local
// (Fallback true), or failed (Err set).
type VideoWrite struct {
	Video    videos.Video
	Source   Source
	Fallback bool
	Err      error
}

// NoteWrite is the tagged outcome of a note write.
type NoteWrite struct {
	Note     videos.Note
	Source   Source
	Fallback bool
	Err      error
}

// DeleteOutcome is the tagged outcome of a delete.
type DeleteOutcome struct {
	Source   Source
	Fallback bool
	Err      error
}

// ListVideos returns every bookmarked video. Backend results are
// authoritative; on transient backend failure the local representation is
// returned instead.
func (s *Service) ListVideos(ctx context.Context) ([]videos.Video, Source, error) {
	if s.backendUsable(ctx) {
		wire, err := s.backend.ListVideos(ctx)
		if err == nil {
			list := make([]videos.Video, 0, len(wire))
			for _, item := range wire {
				list = append(list, videos.VideoFromWire(item))
			}
			return list, SourceBackend, nil
		}
		s.noteBackendFailure("list_videos", err)
		if !readShouldFallBack(err) {
			return nil, SourceBackend, err
		}
	}

	list, err := s.store.Videos()
	if err != nil {
		return nil, SourceLocal, err
	}
	return list, SourceLocal, nil
}

// GetVideo returns one video joined with its notes. A backend 404 falls back
// to the local copy; absence in both sources is ErrVideoNotFound.
func (s *Service) GetVideo(ctx context.Context, videoID string) (VideoDetail, Source, error) {
	if s.backendUsable(ctx) {
		detail, err := s.backend.GetVideo(ctx, videoID)
		if err == nil {
			notes := make([]videos.Note, 0, len(detail.Notes))
			for _, note := range detail.Notes {
				notes = append(notes, videos.NoteFromWire(note))
			}
			return VideoDetail{Video: videos.VideoFromWire(detail.WireVideo), Notes: notes}, SourceBackend, nil
		}
		s.noteBackendFailure("get_video", err)
		if !readShouldFallBack(err) {
			return VideoDetail{}, SourceBackend, err
		}
	}

	return s.getVideoLocal(videoID)
}

// CreateVideo routes a create. When the backend is believed available and the
// call fails transiently, the outcome carries Fallback=true and nothing has
// been written anywhere; the caller decides whether to apply the local write.
func (s *Service) CreateVideo(ctx context.Context, input CreateVideoInput) VideoWrite {
	if s.backendUsable(ctx) {
		wire, err := s.backend.CreateVideo(ctx, backend.CreateVideoRequest{
			URL:   input.URL,
			Title: input.Title,
			Tags:  videos.NormalizeTags(input.Tags),
		})
		if err == nil {
			return VideoWrite{Video: videos.VideoFromWire(wire), Source: SourceBackend}
		}
		s.noteBackendFailure("create_video", err)
		if backend.IsUnreachable(err) {
			return VideoWrite{Source: SourceBackend, Fallback: true, Err: err}
		}
		return VideoWrite{Source: SourceBackend, Err: err}
	}

	video, err := s.CreateVideoLocal(input)
	return VideoWrite{Video: video, Source: SourceLocal, Err: err}
}

// UpdateVideo routes a partial update.
func (s *Service) UpdateVideo(ctx context.Context, videoID string, input UpdateVideoInput) VideoWrite {
	if s.backendUsable(ctx) {
		request := backend.UpdateVideoRequest{Title: input.Title}
		if input.Tags != nil {
			normalized := videos.NormalizeTags(*input.Tags)
			request.Tags = &normalized
		}
		wire, err := s.backend.UpdateVideo(ctx, videoID, request)
		if err == nil {
			return VideoWrite{Video: videos.VideoFromWire(wire), Source: SourceBackend}
		}
		s.noteBackendFailure("update_video", err)
		if backend.IsUnreachable(err) {
			return VideoWrite{Source: SourceBackend, Fallback: true, Err: err}
		}
		if backend.IsNotFound(err) {
			return VideoWrite{Source: SourceBackend, Err: ErrVideoNotFound}
		}
		return VideoWrite{Source: SourceBackend, Err: err}
	}

	video, err := s.UpdateVideoLocal(videoID, input)
	return VideoWrite{Video: video, Source: SourceLocal, Err: err}
}

// DeleteVideo routes a delete; deleting a video owns deleting its notes.
func (s *Service) DeleteVideo(ctx context.Context, videoID string) DeleteOutcome {
	if s.backendUsable(ctx) {
		err := s.backend.DeleteVideo(ctx, videoID)
		if err == nil {
			return DeleteOutcome{Source: SourceBackend}
		}
		s.noteBackendFailure("delete_video", err)
		if backend.IsUnreachable(err) {
			return DeleteOutcome{Source: SourceBackend, Fallback: true, Err: err}
		}
		if backend.IsNotFound(err) {
			return DeleteOutcome{Source: SourceBackend, Err: ErrVideoNotFound}
		}
		return DeleteOutcome{Source: SourceBackend, Err: err}
	}

	return DeleteOutcome{Source: SourceLocal, Err: s.DeleteVideoLocal(videoID)}
}

// CreateNote routes a note create. The note id is client-generated either
// way so the backend can match it idempotently later.
func (s *Service) CreateNote(ctx context.Context, videoID string, input CreateNoteInput) NoteWrite {
	noteID := input.ID
	if noteID == "" {
		generated, err := s.idProvider.NewID()
		if err != nil {
			return NoteWrite{Err: fmt.Errorf("dataservice: generate note id: %w", err)}
		}
		noteID = generated
	}

	if s.backendUsable(ctx) {
		wire, err := s.backend.CreateNote(ctx, videoID, backend.CreateNoteRequest{
			ID:        noteID,
			Timestamp: input.TimestampSec,
			Content:   input.Content,
		})
		if err == nil {
			return NoteWrite{Note: videos.NoteFromWire(wire), Source: SourceBackend}
		}
		s.noteBackendFailure("create_note", err)
		if backend.IsUnreachable(err) {
			return NoteWrite{Source: SourceBackend, Fallback: true, Err: err}
		}
		if backend.IsNotFound(err) {
			return NoteWrite{Source: SourceBackend, Err: ErrVideoNotFound}
		}
		return NoteWrite{Source: SourceBackend, Err: err}
	}

	note, err := s.CreateNoteLocal(videoID, CreateNoteInput{ID: noteID, TimestampSec: input.TimestampSec, Content: input.Content})
	return NoteWrite{Note: note, Source: SourceLocal, Err: err}
}

// DeleteNote routes a note delete. The backend deletes by server id; when
// the caller only knows the client id the server id is resolved through the
// owning video first.
func (s *Service) DeleteNote(ctx context.Context, videoID, clientNoteID string, serverNoteID int64) DeleteOutcome {
	if s.backendUsable(ctx) {
		resolvedID := serverNoteID
		if resolvedID == 0 {
			detail, err := s.backend.GetVideo(ctx, videoID)
			if err != nil {
				s.noteBackendFailure("delete_note", err)
				if backend.IsUnreachable(err) {
					return DeleteOutcome{Source: SourceBackend, Fallback: true, Err: err}
				}
				return DeleteOutcome{Source: SourceBackend, Err: ErrNoteNotFound}
			}
			for _, note := range detail.Notes {
				if note.ClientNoteID == clientNoteID {
					resolvedID = note.ID
					break
				}
			}
			if resolvedID == 0 {
				return DeleteOutcome{Source: SourceBackend, Err: ErrNoteNotFound}
			}
		}

		err := s.backend.DeleteNote(ctx, resolvedID)
		if err == nil {
			return DeleteOutcome{Source: SourceBackend}
		}
		s.noteBackendFailure("delete_note", err)
		if backend.IsUnreachable(err) {
			return DeleteOutcome{Source: SourceBackend, Fallback: true, Err: err}
		}
		if backend.IsNotFound(err) {
			return DeleteOutcome{Source: SourceBackend, Err: ErrNoteNotFound}
		}
		return DeleteOutcome{Source: SourceBackend, Err: err}
	}

	return DeleteOutcome{Source: SourceLocal, Err: s.DeleteNoteLocal(videoID, clientNoteID)}
}

func (s *Service) backendUsable(ctx context.Context) bool {
	if s.backend == nil {
		return false
	}
	return s.availability.Available(ctx)
}

func (s *Service) noteBackendFailure(operation string, err error) {
	if backend.IsUnreachable(err) {
		s.availability.MarkUnavailable()
		s.logger.Warn("backend call failed, routing locally",
			zap.String("operation", operation), zap.Error(err))
		return
	}
	s.logger.Debug("backend call refused",
		zap.String("operation", operation), zap.Error(err))
}

// readShouldFallBack: transport failures and 404s fall back for reads;
// rejections do not.
func readShouldFallBack(err error) bool {
	return backend.IsUnreachable(err) || backend.IsNotFound(err)
}

func (s *Service) getVideoLocal(videoID string) (VideoDetail, Source, error) {
	list, err := s.store.Videos()
	if err != nil {
		return VideoDetail{}, SourceLocal, err
	}
	for _, video := range list {
		if video.ID != videoID {
			continue
		}
		notes, err := s.store.Notes(videoID)
		if err != nil {
			return VideoDetail{}, SourceLocal, err
		}
		return VideoDetail{Video: video, Notes: notes}, SourceLocal, nil
	}
	return VideoDetail{}, SourceLocal, ErrVideoNotFound
}

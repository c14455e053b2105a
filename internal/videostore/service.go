package videostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/reelnotes/reelnotes/internal/videos"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrVideoNotFound indicates the video does not exist for this user.
	ErrVideoNotFound = errors.New("videostore: video not found")
	// ErrNoteNotFound indicates the note does not exist for this user.
	ErrNoteNotFound = errors.New("videostore: note not found")
	// ErrVideoExists indicates a create for an id the user already has.
	ErrVideoExists = errors.New("videostore: video already exists")
	// ErrInvalidURL indicates a URL no canonical id can be extracted from.
	ErrInvalidURL = errors.New("videostore: invalid video url")

	errMissingDatabase = errors.New("database handle is required")
	errMissingUserID   = errors.New("user identifier is required")

	noOpLogger = zap.NewNop()
)

const (
	opServiceNew  = "videostore.service.new"
	opImport      = "videostore.import"
	opListVideos  = "videostore.list_videos"
	opGetVideo    = "videostore.get_video"
	opCreateVideo = "videostore.create_video"
	opUpdateVideo = "videostore.update_video"
	opDeleteVideo = "videostore.delete_video"
	opListNotes   = "videostore.list_notes"
	opCreateNote  = "videostore.create_note"
	opDeleteNote  = "videostore.delete_note"
	opListTags    = "videostore.list_tags"
)

// ServiceError carries a dotted operation code alongside its cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the store's dependencies.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service is the backend's relational video/note/tag store, including the
// idempotent import used by client migration.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Import applies a full client payload idempotently: videos match by id,
// notes by (video id, client note id). Re-submitting the same payload yields
// zero new rows, reported under the updated counters. Individual malformed
// items are collected as soft errors and do not abort the rest.
func (s *Service) Import(ctx context.Context, userID string, request videos.ImportRequest) (videos.ImportResponse, error) {
	if userID == "" {
		return videos.ImportResponse{}, newServiceError(opImport, "missing_user_id", errMissingUserID)
	}

	response := videos.ImportResponse{Errors: []string{}}

	tagsBefore, err := s.countUserTags(ctx, userID)
	if err != nil {
		return videos.ImportResponse{}, newServiceError(opImport, "tag_count_failed", err)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, video := range request.Videos {
			extracted, ok := videos.ExtractVideoID(video.URL)
			if !ok || extracted != video.ID {
				response.Errors = append(response.Errors,
					fmt.Sprintf("invalid video id/url mismatch for %s", video.ID))
				continue
			}

			var existing VideoRecord
			err := tx.Where("user_id = ? AND id = ?", userID, video.ID).Take(&existing).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				createdAt := video.CreatedAt
				if createdAt.IsZero() {
					createdAt = s.clock().UTC()
				}
				record := VideoRecord{
					ID:        video.ID,
					UserID:    userID,
					URL:       videos.CanonicalURL(video.URL),
					Title:     video.Title,
					CreatedAt: createdAt,
				}
				if err := tx.Create(&record).Error; err != nil {
					response.Errors = append(response.Errors,
						fmt.Sprintf("error importing video %s: %v", video.ID, err))
					continue
				}
				response.Stats.VideosCreated++
			case err != nil:
				return err
			default:
				updates := map[string]interface{}{
					"url":   videos.CanonicalURL(video.URL),
					"title": video.Title,
				}
				if err := tx.Model(&VideoRecord{}).
					Where("user_id = ? AND id = ?", userID, video.ID).
					Updates(updates).Error; err != nil {
					response.Errors = append(response.Errors,
						fmt.Sprintf("error importing video %s: %v", video.ID, err))
					continue
				}
				response.Stats.VideosUpdated++
			}

			if err := s.setVideoTags(tx, video.ID, video.Tags); err != nil {
				response.Errors = append(response.Errors,
					fmt.Sprintf("error importing tags for video %s: %v", video.ID, err))
			}
		}

		for videoID, notes := range request.NotesByVideoID {
			var owner VideoRecord
			err := tx.Where("user_id = ? AND id = ?", userID, videoID).Take(&owner).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				response.Errors = append(response.Errors,
					fmt.Sprintf("cannot import notes for non-existent video %s", videoID))
				continue
			}
			if err != nil {
				return err
			}

			for _, note := range notes {
				if note.ID == "" {
					response.Errors = append(response.Errors,
						fmt.Sprintf("note without client id for video %s, skipped", videoID))
					continue
				}
				if note.TimestampSec < 0 {
					response.Errors = append(response.Errors,
						fmt.Sprintf("note %s has negative timestamp, skipped", note.ID))
					continue
				}

				var existing NoteRecord
				err := tx.Where("video_id = ? AND client_note_id = ?", videoID, note.ID).
					Take(&existing).Error
				switch {
				case errors.Is(err, gorm.ErrRecordNotFound):
					createdAt := note.CreatedAt
					if createdAt.IsZero() {
						createdAt = s.clock().UTC()
					}
					record := NoteRecord{
						VideoID:      videoID,
						ClientNoteID: note.ID,
						TimestampSec: note.TimestampSec,
						Content:      note.Content,
						CreatedAt:    createdAt,
					}
					if err := tx.Create(&record).Error; err != nil {
						response.Errors = append(response.Errors,
							fmt.Sprintf("error importing note %s for video %s: %v", note.ID, videoID, err))
						continue
					}
					response.Stats.NotesCreated++
				case err != nil:
					return err
				default:
					if err := tx.Model(&NoteRecord{}).
						Where("id = ?", existing.ID).
						Updates(map[string]interface{}{
							"timestamp_sec": note.TimestampSec,
							"content":       note.Content,
						}).Error; err != nil {
						response.Errors = append(response.Errors,
							fmt.Sprintf("error importing note %s for video %s: %v", note.ID, videoID, err))
						continue
					}
					response.Stats.NotesUpdated++
				}
			}
		}
		return nil
	})
	if txErr != nil {
		s.logError(opImport, "transaction_failed", txErr, zap.String("user_id", userID))
		return videos.ImportResponse{}, newServiceError(opImport, "transaction_failed", txErr)
	}

	tagsAfter, err := s.countUserTags(ctx, userID)
	if err == nil && tagsAfter > tagsBefore {
		response.Stats.TagsCreated = tagsAfter - tagsBefore
	}

	response.Success = len(response.Errors) == 0
	if response.Success {
		response.Message = "import completed successfully"
	} else {
		response.Message = fmt.Sprintf("import completed with %d errors", len(response.Errors))
	}
	return response, nil
}

// Page bounds a listing. Zero values mean no offset and no cap.
type Page struct {
	Skip  int
	Limit int
}

// ListVideos returns a page of the user's videos in wire shape, newest first.
func (s *Service) ListVideos(ctx context.Context, userID string, page Page) ([]videos.WireVideo, error) {
	if userID == "" {
		return nil, newServiceError(opListVideos, "missing_user_id", errMissingUserID)
	}
	query := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC")
	if page.Skip > 0 {
		query = query.Offset(page.Skip)
	}
	if page.Limit > 0 {
		query = query.Limit(page.Limit)
	}
	var records []VideoRecord
	if err := query.Find(&records).Error; err != nil {
		s.logError(opListVideos, "query_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opListVideos, "query_failed", err)
	}

	result := make([]videos.WireVideo, 0, len(records))
	for _, record := range records {
		tags, err := s.videoTags(ctx, record.ID)
		if err != nil {
			return nil, newServiceError(opListVideos, "tag_query_failed", err)
		}
		result = append(result, wireVideo(record, tags))
	}
	return result, nil
}

// GetVideo returns one video with its notes embedded.
func (s *Service) GetVideo(ctx context.Context, userID, videoID string) (videos.WireVideoDetail, error) {
	record, err := s.ownedVideo(ctx, opGetVideo, userID, videoID)
	if err != nil {
		return videos.WireVideoDetail{}, err
	}

	tags, err := s.videoTags(ctx, videoID)
	if err != nil {
		return videos.WireVideoDetail{}, newServiceError(opGetVideo, "tag_query_failed", err)
	}

	var notes []NoteRecord
	if err := s.db.WithContext(ctx).
		Where("video_id = ?", videoID).
		Order("timestamp_sec ASC").
		Find(&notes).Error; err != nil {
		s.logError(opGetVideo, "note_query_failed", err, zap.String("video_id", videoID))
		return videos.WireVideoDetail{}, newServiceError(opGetVideo, "note_query_failed", err)
	}

	detail := videos.WireVideoDetail{WireVideo: wireVideo(record, tags)}
	detail.Notes = make([]videos.WireNote, 0, len(notes))
	for _, note := range notes {
		detail.Notes = append(detail.Notes, wireNote(note))
	}
	return detail, nil
}

// ListNotes returns a video's notes ordered by timestamp.
func (s *Service) ListNotes(ctx context.Context, userID, videoID string) ([]videos.WireNote, error) {
	if _, err := s.ownedVideo(ctx, opListNotes, userID, videoID); err != nil {
		return nil, err
	}

	var records []NoteRecord
	if err := s.db.WithContext(ctx).
		Where("video_id = ?", videoID).
		Order("timestamp_sec ASC").
		Find(&records).Error; err != nil {
		s.logError(opListNotes, "query_failed", err, zap.String("video_id", videoID))
		return nil, newServiceError(opListNotes, "query_failed", err)
	}

	notes := make([]videos.WireNote, 0, len(records))
	for _, record := range records {
		notes = append(notes, wireNote(record))
	}
	return notes, nil
}

// CreateVideoParams is the create input.
type CreateVideoParams struct {
	URL   string
	Title string
	Tags  []string
}

// CreateVideo registers a video for the user; the id comes from the URL.
func (s *Service) CreateVideo(ctx context.Context, userID string, params CreateVideoParams) (videos.WireVideo, error) {
	if userID == "" {
		return videos.WireVideo{}, newServiceError(opCreateVideo, "missing_user_id", errMissingUserID)
	}
	videoID, ok := videos.ExtractVideoID(params.URL)
	if !ok {
		return videos.WireVideo{}, newServiceError(opCreateVideo, "invalid_url", ErrInvalidURL)
	}

	var existing VideoRecord
	err := s.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, videoID).Take(&existing).Error
	if err == nil {
		return videos.WireVideo{}, newServiceError(opCreateVideo, "already_exists", ErrVideoExists)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opCreateVideo, "lookup_failed", err, zap.String("video_id", videoID))
		return videos.WireVideo{}, newServiceError(opCreateVideo, "lookup_failed", err)
	}

	record := VideoRecord{
		ID:        videoID,
		UserID:    userID,
		URL:       videos.CanonicalURL(params.URL),
		Title:     params.Title,
		CreatedAt: s.clock().UTC(),
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		return s.setVideoTags(tx, videoID, params.Tags)
	})
	if txErr != nil {
		s.logError(opCreateVideo, "create_failed", txErr, zap.String("video_id", videoID))
		return videos.WireVideo{}, newServiceError(opCreateVideo, "create_failed", txErr)
	}

	tags, err := s.videoTags(ctx, videoID)
	if err != nil {
		return videos.WireVideo{}, newServiceError(opCreateVideo, "tag_query_failed", err)
	}
	return wireVideo(record, tags), nil
}

// UpdateVideoParams is the partial update input; nil fields are untouched.
type UpdateVideoParams struct {
	Title *string
	Tags  *[]string
}

// UpdateVideo patches a user's video.
func (s *Service) UpdateVideo(ctx context.Context, userID, videoID string, params UpdateVideoParams) (videos.WireVideo, error) {
	record, err := s.ownedVideo(ctx, opUpdateVideo, userID, videoID)
	if err != nil {
		return videos.WireVideo{}, err
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if params.Title != nil {
			if err := tx.Model(&VideoRecord{}).
				Where("user_id = ? AND id = ?", userID, videoID).
				Update("title", *params.Title).Error; err != nil {
				return err
			}
			record.Title = *params.Title
		}
		if params.Tags != nil {
			if err := s.setVideoTags(tx, videoID, *params.Tags); err != nil {
				return err
			}
		}
		return nil
	})
	if txErr != nil {
		s.logError(opUpdateVideo, "update_failed", txErr, zap.String("video_id", videoID))
		return videos.WireVideo{}, newServiceError(opUpdateVideo, "update_failed", txErr)
	}

	tags, err := s.videoTags(ctx, videoID)
	if err != nil {
		return videos.WireVideo{}, newServiceError(opUpdateVideo, "tag_query_failed", err)
	}
	return wireVideo(record, tags), nil
}

// DeleteVideo removes a user's video and cascades to its notes and tag links.
func (s *Service) DeleteVideo(ctx context.Context, userID, videoID string) error {
	if _, err := s.ownedVideo(ctx, opDeleteVideo, userID, videoID); err != nil {
		return err
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("video_id = ?", videoID).Delete(&NoteRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("video_id = ?", videoID).Delete(&VideoTagRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ? AND id = ?", userID, videoID).Delete(&VideoRecord{}).Error
	})
	if txErr != nil {
		s.logError(opDeleteVideo, "delete_failed", txErr, zap.String("video_id", videoID))
		return newServiceError(opDeleteVideo, "delete_failed", txErr)
	}
	return nil
}

// CreateNoteParams is the note create input. ClientNoteID is the
// client-chosen identifier used for idempotent matching.
type CreateNoteParams struct {
	ClientNoteID string
	TimestampSec int
	Content      string
}

// CreateNote attaches a note to a user's video. A note with the same client
// id upserts instead of duplicating.
func (s *Service) CreateNote(ctx context.Context, userID, videoID string, params CreateNoteParams) (videos.WireNote, error) {
	if _, err := s.ownedVideo(ctx, opCreateNote, userID, videoID); err != nil {
		return videos.WireNote{}, err
	}
	if params.TimestampSec < 0 {
		return videos.WireNote{}, newServiceError(opCreateNote, "invalid_timestamp", videos.ErrInvalidTimestamp)
	}

	var record NoteRecord
	err := s.db.WithContext(ctx).
		Where("video_id = ? AND client_note_id = ?", videoID, params.ClientNoteID).
		Take(&record).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		record = NoteRecord{
			VideoID:      videoID,
			ClientNoteID: params.ClientNoteID,
			TimestampSec: params.TimestampSec,
			Content:      params.Content,
			CreatedAt:    s.clock().UTC(),
		}
		if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
			s.logError(opCreateNote, "create_failed", err, zap.String("video_id", videoID))
			return videos.WireNote{}, newServiceError(opCreateNote, "create_failed", err)
		}
	case err != nil:
		s.logError(opCreateNote, "lookup_failed", err, zap.String("video_id", videoID))
		return videos.WireNote{}, newServiceError(opCreateNote, "lookup_failed", err)
	default:
		record.TimestampSec = params.TimestampSec
		record.Content = params.Content
		if err := s.db.WithContext(ctx).Save(&record).Error; err != nil {
			s.logError(opCreateNote, "update_failed", err, zap.String("video_id", videoID))
			return videos.WireNote{}, newServiceError(opCreateNote, "update_failed", err)
		}
	}
	return wireNote(record), nil
}

// DeleteNote removes a note by server id, restricted to the user's videos.
func (s *Service) DeleteNote(ctx context.Context, userID string, noteID int64) error {
	if userID == "" {
		return newServiceError(opDeleteNote, "missing_user_id", errMissingUserID)
	}

	var record NoteRecord
	err := s.db.WithContext(ctx).
		Joins("JOIN videos ON videos.id = notes.video_id").
		Where("notes.id = ? AND videos.user_id = ?", noteID, userID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newServiceError(opDeleteNote, "not_found", ErrNoteNotFound)
	}
	if err != nil {
		s.logError(opDeleteNote, "lookup_failed", err, zap.Int64("note_id", noteID))
		return newServiceError(opDeleteNote, "lookup_failed", err)
	}

	if err := s.db.WithContext(ctx).Delete(&NoteRecord{}, record.ID).Error; err != nil {
		s.logError(opDeleteNote, "delete_failed", err, zap.Int64("note_id", noteID))
		return newServiceError(opDeleteNote, "delete_failed", err)
	}
	return nil
}

// Tag is a dictionary entry in response shape.
type Tag struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ListTags returns the tags attached to any of the user's videos.
func (s *Service) ListTags(ctx context.Context, userID string) ([]Tag, error) {
	if userID == "" {
		return nil, newServiceError(opListTags, "missing_user_id", errMissingUserID)
	}
	var records []TagRecord
	err := s.db.WithContext(ctx).
		Distinct("tags.*").
		Joins("JOIN video_tags ON video_tags.tag_id = tags.id").
		Joins("JOIN videos ON videos.id = video_tags.video_id").
		Where("videos.user_id = ?", userID).
		Order("tags.name").
		Find(&records).Error
	if err != nil {
		s.logError(opListTags, "query_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opListTags, "query_failed", err)
	}

	tags := make([]Tag, 0, len(records))
	for _, record := range records {
		tags = append(tags, Tag{ID: record.ID, Name: record.Name, CreatedAt: record.CreatedAt})
	}
	return tags, nil
}

func (s *Service) ownedVideo(ctx context.Context, operation, userID, videoID string) (VideoRecord, error) {
	if userID == "" {
		return VideoRecord{}, newServiceError(operation, "missing_user_id", errMissingUserID)
	}
	var record VideoRecord
	err := s.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, videoID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return VideoRecord{}, newServiceError(operation, "not_found", ErrVideoNotFound)
	}
	if err != nil {
		s.logError(operation, "lookup_failed", err, zap.String("video_id", videoID))
		return VideoRecord{}, newServiceError(operation, "lookup_failed", err)
	}
	return record, nil
}

// setVideoTags replaces a video's tag links with the normalized set,
// creating dictionary rows as needed.
func (s *Service) setVideoTags(tx *gorm.DB, videoID string, rawTags []string) error {
	normalized := videos.NormalizeTags(rawTags)

	if err := tx.Where("video_id = ?", videoID).Delete(&VideoTagRecord{}).Error; err != nil {
		return err
	}
	for _, name := range normalized {
		var tag TagRecord
		err := tx.Where("name = ?", name).Take(&tag).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			tag = TagRecord{Name: name}
			if err := tx.Create(&tag).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		if err := tx.Create(&VideoTagRecord{VideoID: videoID, TagID: tag.ID}).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) videoTags(ctx context.Context, videoID string) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).
		Model(&TagRecord{}).
		Joins("JOIN video_tags ON video_tags.tag_id = tags.id").
		Where("video_tags.video_id = ?", videoID).
		Order("video_tags.id").
		Pluck("tags.name", &names).Error
	if err != nil {
		return nil, err
	}
	return names, nil
}

func (s *Service) countUserTags(ctx context.Context, userID string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&TagRecord{}).
		Distinct("tags.id").
		Joins("JOIN video_tags ON video_tags.tag_id = tags.id").
		Joins("JOIN videos ON videos.id = video_tags.video_id").
		Where("videos.user_id = ?", userID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("video store error", attrs...)
}

func wireVideo(record VideoRecord, tags []string) videos.WireVideo {
	if tags == nil {
		tags = []string{}
	}
	return videos.WireVideo{
		ID:        record.ID,
		URL:       record.URL,
		Title:     record.Title,
		Tags:      tags,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
}

func wireNote(record NoteRecord) videos.WireNote {
	return videos.WireNote{
		ID:           record.ID,
		ClientNoteID: record.ClientNoteID,
		VideoID:      record.VideoID,
		Timestamp:    record.TimestampSec,
		Content:      record.Content,
		CreatedAt:    record.CreatedAt,
	}
}

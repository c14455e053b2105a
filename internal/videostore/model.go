package videostore

import "time"

// VideoRecord is the relational video row. The primary key is the canonical
// 11-character identifier and is globally unique; access is scoped by user in
// queries.
type VideoRecord struct {
	ID        string    `gorm:"column:id;primaryKey;size:11"`
	UserID    string    `gorm:"column:user_id;size:190;not null;index:idx_videos_user_created,priority:1"`
	URL       string    `gorm:"column:url;size:255;not null"`
	Title     string    `gorm:"column:title;size:500;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_videos_user_created,priority:2"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (VideoRecord) TableName() string {
	return "videos"
}

// TagRecord is a shared dictionary entry; Name is stored normalized
// (lowercase, trimmed) and unique.
type TagRecord struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Name      string    `gorm:"column:name;size:100;not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at;not null;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (TagRecord) TableName() string {
	return "tags"
}

// VideoTagRecord joins videos and tags; the pair is unique.
type VideoTagRecord struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	VideoID   string    `gorm:"column:video_id;size:11;not null;uniqueIndex:idx_video_tags_unique,priority:1"`
	TagID     int64     `gorm:"column:tag_id;not null;uniqueIndex:idx_video_tags_unique,priority:2"`
	CreatedAt time.Time `gorm:"column:created_at;not null;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (VideoTagRecord) TableName() string {
	return "video_tags"
}

// NoteRecord is a timestamped annotation row. ClientNoteID keeps the
// client-generated identifier so repeated imports of the same note match
// instead of duplicating.
type NoteRecord struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	VideoID      string    `gorm:"column:video_id;size:11;not null;uniqueIndex:idx_notes_client_id,priority:1;index:idx_notes_video_timestamp,priority:1"`
	ClientNoteID string    `gorm:"column:client_note_id;size:50;not null;uniqueIndex:idx_notes_client_id,priority:2"`
	TimestampSec int       `gorm:"column:timestamp_sec;not null;default:0;index:idx_notes_video_timestamp,priority:2"`
	Content      string    `gorm:"column:content;type:text;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (NoteRecord) TableName() string {
	return "notes"
}

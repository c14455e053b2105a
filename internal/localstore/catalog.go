package localstore

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/reelnotes/reelnotes/internal/videos"
)

// Persisted namespaces. Everything the client owns lives under one of these
// string keys.
const (
	KeyVideos        = "videos"
	KeyMigrated      = "migrated"
	notesKeyPrefix   = "notes-"
	backupKeyPrefix  = "backup."
	backupDateLayout = "20060102"
)

// NotesKey returns the namespace key holding a video's notes.
func NotesKey(videoID string) string {
	return notesKeyPrefix + videoID
}

// BackupKey returns the full-snapshot key for the given day.
func BackupKey(at time.Time) string {
	return backupKeyPrefix + at.UTC().Format(backupDateLayout)
}

// NamespaceBackupKey returns the per-namespace point-in-time copy key.
func NamespaceBackupKey(original string, at time.Time) string {
	return original + "." + BackupKey(at)
}

// Snapshot is an immutable full copy of the client's data, written before a
// migration attempt and never mutated afterwards.
type Snapshot struct {
	Videos         []videos.Video           `json:"videos"`
	NotesByVideoID map[string][]videos.Note `json:"notesByVideoId"`
	TakenAt        time.Time                `json:"takenAt"`
}

// Videos loads the stored video list. An absent namespace is an empty list.
func (s *Store) Videos() ([]videos.Video, error) {
	raw, ok, err := s.Get(KeyVideos)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []videos.Video{}, nil
	}
	var list []videos.Video
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("localstore: corrupt videos namespace: %w", err)
	}
	return list, nil
}

// SaveVideos writes the full video list.
func (s *Store) SaveVideos(list []videos.Video) error {
	encoded, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("localstore: encode videos: %w", err)
	}
	return s.Set(KeyVideos, string(encoded))
}

// Notes loads the note list for one video. An absent namespace is an empty
// list.
func (s *Store) Notes(videoID string) ([]videos.Note, error) {
	raw, ok, err := s.Get(NotesKey(videoID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return []videos.Note{}, nil
	}
	var list []videos.Note
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("localstore: corrupt notes namespace %q: %w", NotesKey(videoID), err)
	}
	return list, nil
}

// SaveNotes writes the note list for one video.
func (s *Store) SaveNotes(videoID string, list []videos.Note) error {
	encoded, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("localstore: encode notes: %w", err)
	}
	return s.Set(NotesKey(videoID), string(encoded))
}

// DeleteNotes drops a video's note namespace.
func (s *Store) DeleteNotes(videoID string) error {
	return s.Delete(NotesKey(videoID))
}

// NoteVideoIDs lists the video ids that currently own a note namespace,
// whether or not a matching video still exists.
func (s *Store) NoteVideoIDs() ([]string, error) {
	keys, err := s.ListKeys(notesKeyPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		// Namespace backups ("notes-<id>.backup.<date>") share the prefix
		// and are not live note namespaces.
		id := strings.TrimPrefix(key, notesKeyPrefix)
		if strings.Contains(id, "."+backupKeyPrefix) || strings.HasPrefix(id, backupKeyPrefix) {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// MigrationCompleted reports the persisted one-time migration flag.
func (s *Store) MigrationCompleted() (bool, error) {
	raw, ok, err := s.Get(KeyMigrated)
	if err != nil {
		return false, err
	}
	return ok && raw == "true", nil
}

// MarkMigrated persists the migration flag. It is never cleared except by an
// explicit operator action.
func (s *Store) MarkMigrated() error {
	return s.Set(KeyMigrated, "true")
}

// WriteBackup persists the full snapshot under its day key and a
// point-in-time copy of every live namespace. Existing snapshots for the same
// day are left untouched.
func (s *Store) WriteBackup(snapshot Snapshot) (string, error) {
	key := BackupKey(snapshot.TakenAt)
	if _, exists, err := s.Get(key); err != nil {
		return "", err
	} else if exists {
		return key, nil
	}

	encoded, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("localstore: encode snapshot: %w", err)
	}
	if err := s.Set(key, string(encoded)); err != nil {
		return "", err
	}

	if raw, ok, err := s.Get(KeyVideos); err == nil && ok {
		if err := s.Set(NamespaceBackupKey(KeyVideos, snapshot.TakenAt), raw); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}
	for videoID := range snapshot.NotesByVideoID {
		raw, ok, err := s.Get(NotesKey(videoID))
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}
		if err := s.Set(NamespaceBackupKey(NotesKey(videoID), snapshot.TakenAt), raw); err != nil {
			return "", err
		}
	}
	return key, nil
}

// ReadBackup loads a snapshot by its key.
func (s *Store) ReadBackup(key string) (Snapshot, bool, error) {
	raw, ok, err := s.Get(key)
	if err != nil || !ok {
		return Snapshot{}, false, err
	}
	var snapshot Snapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return Snapshot{}, false, fmt.Errorf("localstore: corrupt backup %q: %w", key, err)
	}
	return snapshot, true, nil
}

package reconcile

import (
	"errors"
	"fmt"
	"time"

	"github.com/reelnotes/reelnotes/internal/localstore"
	"github.com/reelnotes/reelnotes/internal/videos"
	"go.uber.org/zap"
)

var (
	errMissingStore = errors.New("reconcile: local store is required")

	noOpLogger = zap.NewNop()
)

// Config describes the reconciler's dependencies.
type Config struct {
	Store  *localstore.Store
	Logger *zap.Logger
}

// Reconciler repairs videos whose stored id has drifted from the id their URL
// canonically resolves to, moves the affected note namespaces, merges
// duplicates, and purges orphaned note namespaces afterwards.
type Reconciler struct {
	store  *localstore.Store
	logger *zap.Logger
}

// Report summarises a reconciliation pass.
type Report struct {
	Videos         []videos.Video
	DriftsRepaired int
	Merged         int
	OrphansPurged  int
	Skipped        []string
}

// New constructs a Reconciler.
func New(cfg Config) (*Reconciler, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Reconciler{store: cfg.Store, logger: logger}, nil
}

// Run executes one full reconciliation pass. A failure to read the store
// returns an empty report and nil error so startup is never blocked; the
// stored data stays untouched.
func (r *Reconciler) Run() Report {
	stored, err := r.store.Videos()
	if err != nil {
		r.logger.Warn("reconciliation skipped, store unreadable", zap.Error(err))
		return Report{}
	}

	report := Report{Videos: stored}

	repaired := make([]videos.Video, 0, len(stored))
	byCanonicalID := make(map[string]int, len(stored))
	changed := false

	for _, video := range stored {
		canonicalID, ok := videos.ExtractVideoID(video.URL)
		if !ok {
			// Unparsable URL: nothing to recompute against, keep as is.
			r.logger.Warn("video url not canonicalizable, left unchanged",
				zap.String("video_id", video.ID), zap.String("url", video.URL))
			repaired = append(repaired, video)
			continue
		}

		if canonicalID != video.ID {
			if err := r.moveNotes(video.ID, canonicalID); err != nil {
				// Copy-then-delete failed before the delete: the old
				// namespace still holds the notes, so skip this video
				// and leave its id alone.
				r.logger.Warn("drift repair skipped",
					zap.String("video_id", video.ID),
					zap.String("canonical_id", canonicalID),
					zap.Error(err))
				report.Skipped = append(report.Skipped, video.ID)
				repaired = append(repaired, video)
				continue
			}
			r.logger.Info("video id drift repaired",
				zap.String("stored_id", video.ID),
				zap.String("canonical_id", canonicalID))
			video.ID = canonicalID
			report.DriftsRepaired++
			changed = true
		}

		if existingIndex, dup := byCanonicalID[canonicalID]; dup {
			// Two videos canonicalize to the same id: merge into the
			// earlier-created one. Tags union, note namespaces already
			// share the canonical key, nothing is dropped.
			merged := mergeVideos(repaired[existingIndex], video)
			repaired[existingIndex] = merged
			report.Merged++
			changed = true
			continue
		}

		repaired = append(repaired, video)
		byCanonicalID[canonicalID] = len(repaired) - 1
	}

	// Orphan cleanup runs only after every repair above has finished, so a
	// namespace that is mid-move is never mistaken for an orphan.
	report.OrphansPurged = r.purgeOrphans(repaired, report.Skipped)

	if changed {
		if err := r.store.SaveVideos(repaired); err != nil {
			r.logger.Warn("failed to persist repaired videos", zap.Error(err))
			return Report{Videos: stored}
		}
	}
	report.Videos = repaired
	return report
}

// moveNotes copies the notes stored under oldID to newID and deletes the old
// namespace only after the copy succeeded.
func (r *Reconciler) moveNotes(oldID, newID string) error {
	notes, err := r.store.Notes(oldID)
	if err != nil {
		return fmt.Errorf("reconcile: read notes for %q: %w", oldID, err)
	}
	if len(notes) == 0 {
		return r.store.DeleteNotes(oldID)
	}

	existing, err := r.store.Notes(newID)
	if err != nil {
		return fmt.Errorf("reconcile: read notes for %q: %w", newID, err)
	}
	moved := make([]videos.Note, 0, len(existing)+len(notes))
	moved = append(moved, existing...)
	for _, note := range notes {
		note.VideoID = newID
		moved = append(moved, note)
	}

	if err := r.store.SaveNotes(newID, moved); err != nil {
		return fmt.Errorf("reconcile: copy notes %q -> %q: %w", oldID, newID, err)
	}
	return r.store.DeleteNotes(oldID)
}

func (r *Reconciler) purgeOrphans(current []videos.Video, skipped []string) int {
	live := make(map[string]struct{}, len(current)+len(skipped))
	for _, video := range current {
		live[video.ID] = struct{}{}
	}
	// A skipped video keeps its old namespace; its notes are not orphans.
	for _, id := range skipped {
		live[id] = struct{}{}
	}

	namespaceIDs, err := r.store.NoteVideoIDs()
	if err != nil {
		r.logger.Warn("orphan scan failed", zap.Error(err))
		return 0
	}

	purged := 0
	for _, id := range namespaceIDs {
		if _, ok := live[id]; ok {
			continue
		}
		if err := r.store.DeleteNotes(id); err != nil {
			r.logger.Warn("orphan purge failed", zap.String("video_id", id), zap.Error(err))
			continue
		}
		r.logger.Info("orphaned note namespace purged", zap.String("video_id", id))
		purged++
	}
	return purged
}

func mergeVideos(first, second videos.Video) videos.Video {
	survivor, other := first, second
	if earlier(second.CreatedAt, first.CreatedAt) {
		survivor, other = second, first
	}
	survivor.Tags = videos.MergeTags(survivor.Tags, other.Tags)
	if survivor.Title == "" {
		survivor.Title = other.Title
	}
	return survivor
}

func earlier(a, b time.Time) bool {
	if a.IsZero() {
		return false
	}
	if b.IsZero() {
		return true
	}
	return a.Before(b)
}

package migrate

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
	// ErrBackendUnavailable indicates the health gate failed; nothing was
	// transferred and the migration can simply be retried.
	ErrBackendUnavailable = errors.New("migrate: backend unavailable")
	// ErrBackendRejected indicates the backend answered and refused the
	// payload; retrying the same payload will not help.
	ErrBackendRejected = errors.New("migrate: backend rejected payload")

	errMissingStore    = errors.New("migrate: local store is required")
	errMissingImporter = errors.New("migrate: importer is required")

	noOpLogger = zap.NewNop()
)

// Importer is the slice of the backend client the engine needs.
type Importer interface {
	Health(ctx context.Context) error
	Import(ctx context.Context, payload videos.ImportRequest) (videos.ImportResponse, error)
}

// Config describes the engine's dependencies.
type Config struct {
	Store    *localstore.Store
	Importer Importer
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Engine moves the local store's data into the backend exactly once, with a
// backup written before any network transfer.
type Engine struct {
	store    *localstore.Store
	importer Importer
	clock    func() time.Time
	logger   *zap.Logger
}

// Status is a read-only snapshot for UI decision making.
type Status struct {
	Completed  bool
	Needed     bool
	VideoCount int
	NoteCount  int
}

// Result reports a single Run attempt.
type Result struct {
	Success   bool
	Stats     videos.ImportStats
	Errors    []string
	BackupKey string
}

// New constructs the migration engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Importer == nil {
		return nil, errMissingImporter
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Engine{
		store:    cfg.Store,
		importer: cfg.Importer,
		clock:    clock,
		logger:   logger,
	}, nil
}

// IsNeeded reports whether a migration should be offered: not yet completed
// and there is local data to move.
func (e *Engine) IsNeeded() (bool, error) {
	completed, err := e.store.MigrationCompleted()
	if err != nil {
		return false, err
	}
	if completed {
		return false, nil
	}
	stored, err := e.store.Videos()
	if err != nil {
		return false, err
	}
	return len(stored) > 0, nil
}

// Status collects the counts the UI needs without mutating anything.
func (e *Engine) Status() (Status, error) {
	completed, err := e.store.MigrationCompleted()
	if err != nil {
		return Status{}, err
	}
	stored, err := e.store.Videos()
	if err != nil {
		return Status{}, err
	}
	noteCount := 0
	for _, video := range stored {
		notes, err := e.store.Notes(video.ID)
		if err != nil {
			return Status{}, err
		}
		noteCount += len(notes)
	}
	return Status{
		Completed:  completed,
		Needed:     !completed && len(stored) > 0,
		VideoCount: len(stored),
		NoteCount:  noteCount,
	}, nil
}

// Run executes the migration protocol: health gate, payload collection,
// backup, import, completion. It leaves the completion flag untouched on any
// failure so the attempt can be retried.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	completed, err := e.store.MigrationCompleted()
	if err != nil {
		return Result{}, err
	}
	if completed {
		e.logger.Info("migration already completed, nothing to do")
		return Result{Success: true}, nil
	}

	if err := e.importer.Health(ctx); err != nil {
		e.logger.Warn("migration aborted, backend unhealthy", zap.Error(err))
		return Result{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	payload, err := e.collectPayload()
	if err != nil {
		return Result{}, err
	}

	if len(payload.Videos) == 0 {
		// An empty store is a valid terminal state; marking it completed
		// also makes a second Run a cheap no-op.
		if err := e.store.MarkMigrated(); err != nil {
			return Result{}, err
		}
		e.logger.Info("nothing to migrate, marked completed")
		return Result{Success: true}, nil
	}

	// Backup before any network call: a failed transfer must leave a
	// locally recoverable copy.
	backupKey, err := e.store.WriteBackup(localstore.Snapshot{
		Videos:         payload.Videos,
		NotesByVideoID: payload.NotesByVideoID,
		TakenAt:        e.clock().UTC(),
	})
	if err != nil {
		return Result{}, err
	}
	e.logger.Info("pre-migration backup written", zap.String("backup_key", backupKey))

	response, err := e.importer.Import(ctx, payload)
	if err != nil {
		if backend.IsRejected(err) {
			return Result{BackupKey: backupKey}, fmt.Errorf("%w: %v", ErrBackendRejected, err)
		}
		return Result{BackupKey: backupKey}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if !response.Success && len(response.Errors) > 0 && response.Stats == (videos.ImportStats{}) {
		// Nothing was imported at all; treat as a rejection so the
		// completion flag stays clear.
		return Result{
			Errors:    response.Errors,
			BackupKey: backupKey,
		}, fmt.Errorf("%w: %s", ErrBackendRejected, response.Message)
	}

	if err := e.store.MarkMigrated(); err != nil {
		return Result{}, err
	}

	e.logger.Info("migration completed",
		zap.Int("videos_created", response.Stats.VideosCreated),
		zap.Int("videos_updated", response.Stats.VideosUpdated),
		zap.Int("notes_created", response.Stats.NotesCreated),
		zap.Int("notes_updated", response.Stats.NotesUpdated),
		zap.Int("soft_errors", len(response.Errors)))

	return Result{
		Success:   true,
		Stats:     response.Stats,
		Errors:    response.Errors,
		BackupKey: backupKey,
	}, nil
}

func (e *Engine) collectPayload() (videos.ImportRequest, error) {
	stored, err := e.store.Videos()
	if err != nil {
		return videos.ImportRequest{}, err
	}
	notesByVideoID := make(map[string][]videos.Note, len(stored))
	for _, video := range stored {
		notes, err := e.store.Notes(video.ID)
		if err != nil {
			return videos.ImportRequest{}, err
		}
		if len(notes) > 0 {
			notesByVideoID[video.ID] = notes
		}
	}
	return videos.ImportRequest{Videos: stored, NotesByVideoID: notesByVideoID}, nil
}

package localstore

import (
	"errors"
	"fmt"
	"strings"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrUnavailable indicates the storage medium itself is broken; callers
	// should degrade rather than crash.
	ErrUnavailable = errors.New("localstore: storage unavailable")

	noOpLogger = zap.NewNop()
)

const selfTestKey = "selftest.sentinel"

type kvRecord struct {
	Key   string `gorm:"column:key;primaryKey;size:190;not null"`
	Value string `gorm:"column:value;type:text;not null"`
}

func (kvRecord) TableName() string {
	return "kv_entries"
}

// Store is durable key-value persistence for the client's working copy.
// Every mutation is written through immediately; a crash after any single
// call leaves at most that call unapplied.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open establishes the SQLite-backed store and migrates its schema. The
// connection pool is pinned to one connection so compound operations are
// serialized without additional locking.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("localstore: store path is required")
	}
	if logger == nil {
		logger = noOpLogger
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&kvRecord{}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	logger.Info("local store opened", zap.String("path", path))
	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return sqlDB.Close()
}

// SelfTest writes, reads and deletes a sentinel key. A failure means the
// medium is unusable and the application should enter degraded mode.
func (s *Store) SelfTest() error {
	const probeValue = "ok"
	if err := s.Set(selfTestKey, probeValue); err != nil {
		return err
	}
	value, ok, err := s.Get(selfTestKey)
	if err != nil {
		return err
	}
	if !ok || value != probeValue {
		return fmt.Errorf("%w: sentinel readback mismatch", ErrUnavailable)
	}
	return s.Delete(selfTestKey)
}

// Get returns the value stored under key, with ok=false when absent.
func (s *Store) Get(key string) (string, bool, error) {
	var record kvRecord
	err := s.db.Where("key = ?", key).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		s.logger.Error("local store read failed", zap.String("key", key), zap.Error(err))
		return "", false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return record.Value, true, nil
}

// Set writes the value under key, replacing any existing value.
func (s *Store) Set(key, value string) error {
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&kvRecord{Key: key, Value: value}).Error
	if err != nil {
		s.logger.Error("local store write failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Delete removes the key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	if err := s.db.Where("key = ?", key).Delete(&kvRecord{}).Error; err != nil {
		s.logger.Error("local store delete failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// ListKeys returns every stored key beginning with prefix.
func (s *Store) ListKeys(prefix string) ([]string, error) {
	var keys []string
	err := s.db.Model(&kvRecord{}).
		Where("key LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%").
		Order("key").
		Pluck("key", &keys).Error
	if err != nil {
		s.logger.Error("local store key scan failed", zap.String("prefix", prefix), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return keys, nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

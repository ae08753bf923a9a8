// Package store persists per-scout settings and window identity in sqlite.
package store

import (
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/gridscout/platform/internal/screen"
)

// ScoutRecord is the cached state of one watched window, keyed by title.
type ScoutRecord struct {
	Key       string `gorm:"column:title;primaryKey"`
	Left      int    `gorm:"column:margin_left"`
	Top       int    `gorm:"column:margin_top"`
	Right     int    `gorm:"column:margin_right"`
	Bottom    int    `gorm:"column:margin_bottom"`
	System    string
	WindowID  uint32
	ProcessID uint32
	UpdatedAt time.Time
}

// Margins returns the stored crop margins.
func (r ScoutRecord) Margins() screen.Margins {
	return screen.Margins{Left: r.Left, Top: r.Top, Right: r.Right, Bottom: r.Bottom}
}

// Store wraps the sqlite connection.
type Store struct {
	db *gorm.DB
}

// Open opens or creates the database at path and migrates the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if err := db.AutoMigrate(&ScoutRecord{}); err != nil {
		return nil, errors.Wrap(err, "failed to migrate database schema")
	}
	return &Store{db: db}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Wrap(err, "failed to get underlying sql.DB")
	}
	return sqlDB.Close()
}

// Get returns the record for key; ok is false when none exists.
func (s *Store) Get(key string) (rec ScoutRecord, ok bool, err error) {
	result := s.db.Limit(1).Find(&rec, "title = ?", key)
	if result.Error != nil {
		return ScoutRecord{}, false, errors.Wrapf(result.Error, "failed to get scout %q", key)
	}
	return rec, result.RowsAffected > 0, nil
}

// List returns all records ordered by key.
func (s *Store) List() ([]ScoutRecord, error) {
	var recs []ScoutRecord
	if err := s.db.Order("title ASC").Find(&recs).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list scouts")
	}
	return recs, nil
}

// SaveMargins upserts the crop margins for key.
func (s *Store) SaveMargins(key string, m screen.Margins) error {
	rec := ScoutRecord{Key: key, Left: m.Left, Top: m.Top, Right: m.Right, Bottom: m.Bottom}
	return s.upsert(rec, "margin_left", "margin_top", "margin_right", "margin_bottom")
}

// SaveWindow upserts the window identity for key.
func (s *Store) SaveWindow(key string, w screen.Window) error {
	rec := ScoutRecord{Key: key, WindowID: w.ID, ProcessID: w.PID}
	return s.upsert(rec, "window_id", "process_id")
}

// SaveSystem upserts the solar system label for key.
func (s *Store) SaveSystem(key, system string) error {
	return s.upsert(ScoutRecord{Key: key, System: system}, "system")
}

// Delete removes the record for key.
func (s *Store) Delete(key string) error {
	if err := s.db.Delete(&ScoutRecord{}, "title = ?", key).Error; err != nil {
		return errors.Wrapf(err, "failed to delete scout %q", key)
	}
	return nil
}

func (s *Store) upsert(rec ScoutRecord, columns ...string) error {
	rec.UpdatedAt = time.Now()
	result := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "title"}},
		DoUpdates: clause.AssignmentColumns(append(columns, "updated_at")),
	}).Create(&rec)
	if result.Error != nil {
		return errors.Wrapf(result.Error, "failed to save scout %q", rec.Key)
	}
	return nil
}

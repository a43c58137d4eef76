package dispatch

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/birdnet-edge/internal/errors"
	"github.com/tphakala/birdnet-edge/internal/event"
	"github.com/tphakala/birdnet-edge/internal/logger"
)

// AbandonedEvent is a journal row. Events are kept for inspection only and
// are never replayed.
type AbandonedEvent struct {
	ID          uint      `gorm:"primaryKey"`
	EventID     string    `gorm:"size:128;index"`
	NodeID      string    `gorm:"size:128"`
	CapturedAt  time.Time `gorm:"index"`
	AbandonedAt time.Time `gorm:"index"`
	Reason      string    `gorm:"size:32"`
	Outcome     string    `gorm:"size:32"`
	Attempts    int
	LastError   string
	Payload     []byte
}

// TableName overrides the gorm default
func (AbandonedEvent) TableName() string { return "abandoned_events" }

// GormJournal stores abandoned events in SQLite
type GormJournal struct {
	db *gorm.DB
}

// OpenJournal opens or creates the journal database at path
func OpenJournal(path string) (*GormJournal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, journalError(err, "create_directory")
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(GetLogger(), 200*time.Millisecond),
	})
	if err != nil {
		return nil, journalError(err, "open")
	}
	if err := db.AutoMigrate(&AbandonedEvent{}); err != nil {
		closeDB(db)
		return nil, journalError(err, "migrate")
	}
	return &GormJournal{db: db}, nil
}

// Record implements Journal
func (j *GormJournal) Record(ctx context.Context, ev *event.DetectionEvent, res Result) error {
	payload := res.Payload
	if payload == nil {
		var err error
		if payload, err = json.Marshal(ev); err != nil {
			return journalError(err, "encode")
		}
	}

	row := AbandonedEvent{
		EventID:     ev.EventID,
		NodeID:      ev.NodeID,
		CapturedAt:  ev.TimestampUTC,
		AbandonedAt: time.Now().UTC(),
		Reason:      res.Reason,
		Outcome:     string(res.Outcome),
		Attempts:    res.Attempts,
		Payload:     payload,
	}
	if res.LastError != nil {
		row.LastError = res.LastError.Error()
	}

	if err := j.db.WithContext(ctx).Create(&row).Error; err != nil {
		return journalError(err, "insert")
	}
	return nil
}

// List returns the most recent abandoned events, newest first
func (j *GormJournal) List(ctx context.Context, limit int) ([]AbandonedEvent, error) {
	var rows []AbandonedEvent
	q := j.db.WithContext(ctx).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, journalError(err, "list")
	}
	return rows, nil
}

// Close releases the database handle
func (j *GormJournal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return journalError(err, "close")
	}
	return sqlDB.Close()
}

func journalError(err error, op string) error {
	return errors.New(err).
		Component("dispatch").
		Category(errors.CategoryDatabase).
		Context("operation", op).
		Build()
}

// closeDB releases the pool of a database that could not be set up
func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
